package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"loggram/internal/config"
	"loggram/internal/logapi"
	"loggram/internal/logstore"
	logx "loggram/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./logapi.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadAPI(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}, nil)
	defer logSvc.Close()
	log = log.With(logx.String("project", cfg.ProjectName))

	busyTimeout, err := config.ParseDurationField("busy_timeout", cfg.BusyTimeout)
	if err != nil {
		log.Error("invalid config", logx.Err(err))
		os.Exit(1)
	}
	store, err := logstore.Open(logstore.Config{
		Path:        cfg.Database,
		BusyTimeout: busyTimeout,
	}, log)
	if err != nil {
		log.Error("store open failed", logx.Err(err))
		os.Exit(1)
	}
	defer store.Close()

	srv := logapi.New(logapi.Options{
		ProjectName: cfg.ProjectName,
		Listen:      cfg.Listen,
		Store:       store,
		Log:         log,
		Retention: logapi.Retention{
			Enabled:    cfg.Retention.Enabled,
			Schedule:   cfg.Retention.Schedule,
			MaxAgeDays: cfg.Retention.MaxAgeDays,
		},
	})
	if err := srv.Start(ctx); err != nil {
		log.Error("server start failed", logx.Err(err))
		os.Exit(1)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := srv.Stop(stopCtx); err != nil {
		log.Warn("shutdown error", logx.Err(err))
	}
	if err := srv.Err(); err != nil {
		log.Error("server error", logx.Err(err))
		os.Exit(1)
	}
}
