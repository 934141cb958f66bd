package app

import (
	"context"
	"errors"
	"time"

	"loggram/internal/config"
	"loggram/internal/eventbus"
	"loggram/internal/monitor"
	"loggram/internal/registry"
	"loggram/internal/runtime/supervisor"
	kit "loggram/internal/transport"
	"loggram/internal/transport/telegram/adapter"
	"loggram/internal/transport/telegram/router"
	logx "loggram/pkg/logx"
)

// App wires the notifier bot together: config, logging, the Telegram
// adapter, the project registry, the polling monitor and the command
// router.
type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service

	adapter *adapter.Adapter
	db      *registry.DB
	reg     *registry.Registry
	hist    *registry.History
	bus     eventbus.Bus
	mon     *monitor.Service
	router  *router.Router

	sup     *supervisor.Supervisor
	updates chan kit.Update

	autoStart bool
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	ad, err := adapter.New(adapter.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}, ad)
	if cfg.Telegram.LogChatID != 0 {
		logSvc.SetChatTarget(cfg.Telegram.LogChatID)
	}
	log = log.With(logx.String("comp", "app"))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	db, err := registry.Open(registry.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	})
	if err != nil {
		return nil, err
	}
	reg, err := registry.New(db, logSvc.Logger().With(logx.String("comp", "registry")))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	hist := registry.NewHistory(db)

	monCfg, err := monitorConfig(cfg.Monitor)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	bus := eventbus.New()
	mon := monitor.New(monCfg, monitor.Deps{
		Registry: reg,
		History:  hist,
		Fetcher:  monitor.NewHTTPFetcher(monCfg.FetchTimeout),
		Sink:     ad,
		Bus:      bus,
		Log:      logSvc.Logger(),
	})

	rt := router.New(router.Deps{
		Adapter:  ad,
		Registry: reg,
		History:  hist,
		Monitor:  mon,
		Owners:   cfg.Telegram.OwnerUserIDs,
		Log:      logSvc.Logger(),
	})

	return &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		adapter:   ad,
		db:        db,
		reg:       reg,
		hist:      hist,
		bus:       bus,
		mon:       mon,
		router:    rt,
		updates:   make(chan kit.Update, 256),
		autoStart: cfg.Monitor.AutoStart,
	}, nil
}

func monitorConfig(mc config.MonitorConfig) (monitor.Config, error) {
	interval, err := config.ParseDurationField("monitor.interval", mc.Interval)
	if err != nil {
		return monitor.Config{}, err
	}
	errorRetry, err := config.ParseDurationField("monitor.error_retry", mc.ErrorRetry)
	if err != nil {
		return monitor.Config{}, err
	}
	fetchTimeout, err := config.ParseDurationField("monitor.fetch_timeout", mc.FetchTimeout)
	if err != nil {
		return monitor.Config{}, err
	}
	sendTimeout, err := config.ParseDurationField("monitor.send_timeout", mc.SendTimeout)
	if err != nil {
		return monitor.Config{}, err
	}
	return monitor.Config{
		Interval:           interval,
		ErrorRetry:         errorRetry,
		FetchTimeout:       fetchTimeout,
		SendTimeout:        sendTimeout,
		DispatchRatePerSec: mc.DispatchRatePerSec,
	}, nil
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})

	// Delivery lifecycle events, for operational visibility.
	events, unsub := a.bus.Subscribe(64)
	a.sup.Go0("events.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				switch ev.Type {
				case eventbus.TypeDeliveryFailed:
					a.log.Warn("delivery failed", logx.Any("event", ev.Data))
				default:
					a.log.Debug("event", logx.String("type", ev.Type), logx.Any("data", ev.Data))
				}
			}
		}
	})

	// Hot reload: logging settings follow the config file.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
					Telegram: logx.TelegramConfig{
						Enabled:    newCfg.Logging.Telegram.Enabled,
						MinLevel:   newCfg.Logging.Telegram.MinLevel,
						RatePerSec: newCfg.Logging.Telegram.RatePerSec,
					},
				})
				a.logs.SetChatTarget(newCfg.Telegram.LogChatID)
				a.log.Info("config reloaded")
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if a.autoStart {
		if err := a.mon.Start(); err != nil {
			// Usually an empty registry at boot; monitoring can still be
			// started later with /start_monitor.
			a.log.Warn("monitor auto-start skipped", logx.Err(err))
		}
	}

	a.log.Info("bot started", logx.Int("projects", a.reg.Count()))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")

	if err := a.mon.Stop(ctx); err != nil && !errors.Is(err, monitor.ErrNotRunning) {
		a.log.Warn("monitor stop error", logx.Err(err))
	}
	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("adapter stop error", logx.Err(err))
	}

	var err error
	if a.sup != nil {
		wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = a.sup.Stop(wctx)
		cancel()
	}

	_ = a.logs.Close()
	_ = a.db.Close()
	return err
}
