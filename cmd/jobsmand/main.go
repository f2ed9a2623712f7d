// Command jobsmand is the scheduler daemon. It loads job definitions from
// the datastore, fires due commands, and polls for reload markers left by
// jobsmanctl or any other writer with datastore access.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jobsman/internal/config"
	"jobsman/internal/reload"
	"jobsman/internal/scheduler"
	"jobsman/internal/storage"
	"jobsman/internal/supervisor"
	logx "jobsman/pkg/logx"
	"jobsman/pkg/systemd"
)

const (
	defaultBusyTimeout  = 5 * time.Second
	defaultPollInterval = 5 * time.Second
	shutdownGrace       = 15 * time.Second
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./jobsman.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	cm := config.NewManager(cfgPath)
	cfg, err := cm.Load()
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logsvc, log := logx.New(logConfig(cfg))
	defer logsvc.Close()
	cm.SetLogger(log)

	st, err := storage.Open(storage.Config{
		Path:        cfg.Database.Path,
		BusyTimeout: cfg.Database.BusyTimeoutOrDefault(defaultBusyTimeout),
	}, log)
	if err != nil {
		return fmt.Errorf("open datastore: %w", err)
	}
	defer st.Close()
	logsvc.AttachSink(st)

	rt := scheduler.New(schedConfig(cfg), nil, log)
	coord := reload.New(st, rt, log)
	rt.SetReloader(coord)

	// No previous set exists yet, so a failed initial build is fatal: jobs
	// would silently never fire and no marker would retrigger a rebuild.
	if err := coord.Bootstrap(ctx); err != nil {
		return fmt.Errorf("initial schedule build: %w", err)
	}

	sup := supervisor.New(ctx,
		supervisor.WithLogger(log),
		supervisor.WithCancelOnError(true),
	)
	sup.Go("scheduler", rt.Run)
	sup.GoRestart("config.watch", cm.Watch)
	sup.Go0("config.apply", func(ctx context.Context) {
		applyConfigChanges(ctx, cm, logsvc, rt, log)
	})
	sup.Go0("watchdog", func(ctx context.Context) {
		// A malformed watchdog env is not worth taking the daemon down.
		if err := systemd.Watchdog(ctx, log); err != nil {
			log.Warn("watchdog disabled", logx.Err(err))
		}
	})

	systemd.NotifyReady(log)
	log.Info("jobsmand started",
		logx.String("config", cfgPath),
		logx.String("database", cfg.Database.Path),
		logx.Int("jobs", rt.Set().Len()),
	)

	<-ctx.Done()
	systemd.NotifyStopping(log)
	log.Info("shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer stopCancel()
	if err := sup.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// applyConfigChanges re-applies the hot sections when the config file
// changes: logging outputs/levels and the reload poll interval. Worker
// pool, queue, timezone, and database settings are bound at startup and
// take effect on the next restart.
func applyConfigChanges(ctx context.Context, cm *config.Manager, logsvc *logx.Service, rt *scheduler.Runtime, log logx.Logger) {
	ch := cm.Subscribe(1)
	defer cm.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok || cfg == nil {
				return
			}
			logsvc.Apply(logConfig(cfg))
			rt.SetPollInterval(cfg.Scheduler.PollIntervalOrDefault(defaultPollInterval))
			log.Info("config applied", logx.String("hot", "logging, poll_interval"))
		}
	}
}

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Database: logx.DatabaseConfig{
			Enabled:    cfg.Logging.Database.Enabled,
			MinLevel:   cfg.Logging.Database.MinLevel,
			RatePerSec: cfg.Logging.Database.RatePerSec,
		},
	}
}

func schedConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Workers:      cfg.Scheduler.Workers,
		QueueSize:    cfg.Scheduler.QueueSize,
		PollInterval: cfg.Scheduler.PollIntervalOrDefault(defaultPollInterval),
		HistorySize:  cfg.Scheduler.HistorySize,
		Timezone:     cfg.Scheduler.Timezone,
	}
}
