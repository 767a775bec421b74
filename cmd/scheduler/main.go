package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"scheduler-service/internal/booking"
	"scheduler-service/internal/bootstrap"
	"scheduler-service/internal/cli"
	appconfig "scheduler-service/internal/config"
	"scheduler-service/internal/store/postgres"
	"scheduler-service/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.NewRootCommand(postgresBulk).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(cli.GetExitCode(err))
}

// postgresBulk wires the bulk rescheduler against the configured database.
func postgresBulk(ctx context.Context, opts *cli.RootOptions, granularity int) (*booking.BulkRescheduler, func(), error) {
	cfg := appconfig.Load()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	level := cfg.LogLevel
	if opts.Verbose {
		level = "debug"
	}
	logger := logging.NewWithWriter(os.Stderr, level)

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping db: %w", err)
	}

	rt, err := bootstrap.BuildRuntime(ctx, cfg, postgres.New(pool), nil, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	bulk := rt.Bulk
	if granularity > 0 {
		bulk = booking.NewBulkRescheduler(rt.Orchestrator, time.Duration(granularity)*time.Minute)
	}
	return bulk, func() {
		rt.Close()
		pool.Close()
	}, nil
}
