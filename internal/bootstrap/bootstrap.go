// Package bootstrap builds the shared runtime graph used by the server and CLI.
package bootstrap

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"scheduler-service/internal/booking"
	"scheduler-service/internal/calsync"
	"scheduler-service/internal/calsync/google"
	"scheduler-service/internal/calsync/meeting"
	appconfig "scheduler-service/internal/config"
	"scheduler-service/internal/notify"
	"scheduler-service/internal/observability/metrics"
	"scheduler-service/internal/resilience"
	"scheduler-service/internal/store"
	"scheduler-service/pkg/logging"
)

// Runtime is the assembled booking core.
type Runtime struct {
	Store        store.Store
	Orchestrator *booking.Orchestrator
	Bulk         *booking.BulkRescheduler
	Calendar     *google.Adapter
	Metrics      *metrics.BookingMetrics
	Redis        *redis.Client
}

// Close releases clients owned by the runtime after in-flight notifications finish.
func (r *Runtime) Close() {
	r.Orchestrator.Wait()
	if r.Redis != nil {
		_ = r.Redis.Close()
	}
}

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildCalendarAdapter returns the Google Calendar adapter, or nil when the
// OAuth client is not configured.
func BuildCalendarAdapter(cfg *appconfig.Config, creds google.CredentialSource, logger *logging.Logger) *google.Adapter {
	if !cfg.GoogleCalendarEnabled() {
		return nil
	}
	return google.NewAdapter(creds, logger.With("provider", "calendar"))
}

// BuildMeetingClient returns the meeting provider client, or nil when disabled.
func BuildMeetingClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *meeting.Client {
	if !cfg.MeetingEnabled() {
		return nil
	}
	return meeting.NewClient(ctx, meeting.Config{
		BaseURL:      cfg.MeetingAPIBaseURL,
		TokenURL:     cfg.MeetingTokenURL,
		ClientID:     cfg.MeetingClientID,
		ClientSecret: cfg.MeetingClientSecret,
	}, logger.With("provider", "meeting"))
}

// BuildNotifier fans notifications out to every configured channel. With
// nothing configured it logs instead.
func BuildNotifier(cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) notify.Sender {
	var senders notify.Multi
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		senders = append(senders, sg)
	}
	if redisClient != nil {
		senders = append(senders, notify.NewRedisPublisher(redisClient, cfg.RedisEventsChannel, logger))
	}
	if len(senders) == 0 {
		return notify.NewLogSender(logger)
	}
	return senders
}

// SyncPolicy turns the retry settings into a resilience policy.
func SyncPolicy(cfg *appconfig.Config, logger *logging.Logger) resilience.Policy {
	return resilience.Policy{
		MaxAttempts:    cfg.SyncMaxAttempts,
		BackoffBase:    cfg.SyncBackoffBase,
		AttemptTimeout: cfg.SyncAttemptTimeout,
		Classify:       calsync.IsTransient,
		Logger:         logger,
	}
}

// BuildRuntime assembles adapters, notifier and orchestrator on top of st.
// reg receives the booking metrics; nil skips metrics.
func BuildRuntime(ctx context.Context, cfg *appconfig.Config, st store.Store, reg prometheus.Registerer, logger *logging.Logger) (*Runtime, error) {
	if logger == nil {
		logger = logging.Default()
	}
	rt := &Runtime{Store: st}

	var adapters []calsync.Adapter
	if cal := BuildCalendarAdapter(cfg, st, logger); cal != nil {
		rt.Calendar = cal
		adapters = append(adapters, cal)
	}
	if mc := BuildMeetingClient(ctx, cfg, logger); mc != nil {
		adapters = append(adapters, mc)
	}
	registry, err := calsync.NewRegistry(adapters...)
	if err != nil {
		return nil, err
	}

	rt.Redis = BuildRedisClient(ctx, cfg, logger, true)
	notifier := BuildNotifier(cfg, rt.Redis, logger)

	opts := []booking.Option{
		booking.WithLogger(logger),
		booking.WithPolicy(SyncPolicy(cfg, logger)),
	}
	if reg != nil {
		rt.Metrics = metrics.NewBookingMetrics(reg)
		opts = append(opts, booking.WithMetrics(rt.Metrics))
	}
	if cfg.ExternalBusyCheck {
		if busy, ok := registry.Busy(); ok {
			opts = append(opts, booking.WithBusySource(busy))
		}
	}

	rt.Orchestrator = booking.NewOrchestrator(st, registry, notifier, opts...)
	rt.Bulk = booking.NewBulkRescheduler(rt.Orchestrator, time.Duration(cfg.SlotGranularityMinutes)*time.Minute)

	logger.Info("runtime ready",
		"providers", len(registry.Adapters()),
		"calendar", rt.Calendar != nil,
		"redis", rt.Redis != nil,
		"external_busy_check", cfg.ExternalBusyCheck)
	return rt, nil
}
