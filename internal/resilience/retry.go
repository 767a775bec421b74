// Package resilience wraps fallible units of work with bounded exponential
// backoff retry, per-attempt timeouts and phase logging.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"scheduler-service/pkg/logging"
)

var tracer = otel.Tracer("scheduler.internal.resilience")

// Classifier reports whether an error is transient and worth retrying.
type Classifier func(error) bool

// Status summarises an Outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailure Status = "failure"
)

// Policy configures WithRetry. Zero values fall back to one attempt, no
// backoff, no per-attempt timeout and DefaultClassifier.
type Policy struct {
	MaxAttempts    int
	BackoffBase    time.Duration
	AttemptTimeout time.Duration
	Classify       Classifier
	Logger         *logging.Logger
	// Sleep waits between attempts; tests swap it out.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Outcome is the envelope returned by WithRetry.
type Outcome[T any] struct {
	Success   bool
	Value     T
	Attempts  int
	Recovered bool
	Err       error
	Warnings  []string
}

// Status is success on a first-try success, partial when a retry recovered,
// and failure otherwise.
func (o Outcome[T]) Status() Status {
	switch {
	case o.Success && o.Recovered:
		return StatusPartial
	case o.Success:
		return StatusSuccess
	default:
		return StatusFailure
	}
}

// Backoff returns base * 2^(attempt-1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(1<<(attempt-1))
}

// WithRetry runs work until it succeeds, fails with a non-retryable error,
// or MaxAttempts is used up. The backoff sleep only happens between attempts.
func WithRetry[T any](ctx context.Context, p Policy, op string, work func(ctx context.Context) (T, error)) Outcome[T] {
	p = p.normalized()
	log := p.Logger.With("op", op)

	ctx, span := tracer.Start(ctx, "resilience."+op)
	defer span.End()

	var out Outcome[T]
	log.Debug("started", "max_attempts", p.MaxAttempts)
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			out.Err = err
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s: aborted before attempt %d: %v", op, attempt, err))
			break
		}
		out.Attempts = attempt

		val, err := runAttempt(ctx, p.AttemptTimeout, work)
		if err == nil {
			out.Success = true
			out.Value = val
			out.Err = nil
			out.Recovered = attempt > 1
			if out.Recovered {
				log.Info("recovered", "attempts", attempt)
			} else {
				log.Debug("succeeded", "attempts", attempt)
			}
			break
		}

		out.Err = err
		out.Warnings = append(out.Warnings, fmt.Sprintf("%s: attempt %d: %v", op, attempt, err))
		if !p.Classify(err) {
			log.Warn("non_retryable", "attempt", attempt, "error", err)
			break
		}
		log.Warn("attempt_failed", "attempt", attempt, "error", err)
		if attempt == p.MaxAttempts {
			log.Error("exhausted", "attempts", attempt, "error", err)
			break
		}

		delay := Backoff(p.BackoffBase, attempt)
		log.Info("retrying", "attempt", attempt+1, "delay_ms", delay.Milliseconds())
		if serr := p.Sleep(ctx, delay); serr != nil {
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s: backoff interrupted: %v", op, serr))
			break
		}
	}

	span.SetAttributes(
		attribute.Int("resilience.attempts", out.Attempts),
		attribute.String("resilience.status", string(out.Status())),
	)
	if !out.Success && out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
	}
	return out
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, work func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return work(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	val, err := work(actx)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return val, err
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Classify == nil {
		p.Classify = DefaultClassifier
	}
	if p.Logger == nil {
		p.Logger = logging.Default()
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	return p
}

// DefaultClassifier treats attempt timeouts, network timeouts and errors that
// declare themselves transient as retryable. Everything else is permanent.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
