// Package app wires the delivery subsystem together: config, logging,
// storage, the API client and the services built on top of them.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/teamdigitale/italia-messages-web/internal/api"
	"github.com/teamdigitale/italia-messages-web/internal/config"
	"github.com/teamdigitale/italia-messages-web/internal/dispatch"
	"github.com/teamdigitale/italia-messages-web/internal/eventbus"
	"github.com/teamdigitale/italia-messages-web/internal/profile"
	"github.com/teamdigitale/italia-messages-web/internal/report"
	"github.com/teamdigitale/italia-messages-web/internal/store"
	"github.com/teamdigitale/italia-messages-web/internal/web"
	logx "github.com/teamdigitale/italia-messages-web/pkg/logx"
)

// subscriptionKeyEnv overrides api.subscription_key so the key can stay out
// of the config file.
const subscriptionKeyEnv = "OCP_APIM_SUBSCRIPTION_KEY"

type App struct {
	cfgMgr *config.ConfigManager
	logSvc *logx.Service
	log    logx.Logger

	store     store.Store
	client    *api.Client
	bus       eventbus.Bus
	profiles  *profile.Service
	orch      *dispatch.Orchestrator
	refresher *report.Refresher
	stats     *report.Aggregator
	web       *web.Server

	cancelBG context.CancelFunc
	bgDone   chan struct{}
}

// New loads and validates the config file, then constructs every component.
// Nothing is started; call Start.
func New(cfgPath string) (*App, error) {
	mgr := config.NewConfigManager(cfgPath)
	mgr.SetValidator(func(_ context.Context, c *config.Config) error { return c.Validate() })

	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{cfgMgr: mgr, logSvc: logSvc, log: log}
	if err := a.build(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	apiTimeout, _ := config.ParseOptionalDuration(cfg.API.Timeout)
	busyTimeout, _ := config.ParseOptionalDuration(cfg.Storage.BusyTimeout)
	readTimeout, _ := config.ParseOptionalDuration(cfg.HTTP.ReadTimeout)
	writeTimeout, _ := config.ParseOptionalDuration(cfg.HTTP.WriteTimeout)

	key := strings.TrimSpace(cfg.API.SubscriptionKey)
	if env := strings.TrimSpace(os.Getenv(subscriptionKeyEnv)); env != "" {
		key = env
	}
	if key == "" {
		a.log.Warn("no api subscription key configured; remote calls will be rejected")
	}

	a.client = api.New(api.Config{
		BaseURL:         cfg.API.BaseURL,
		SubscriptionKey: key,
		RetryMax:        cfg.API.RetryMax,
		Timeout:         apiTimeout,
	}, a.log.With(logx.String("comp", "api")))

	st, err := store.Open(store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, a.log.With(logx.String("comp", "store")))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.store = st

	a.bus = eventbus.New()

	a.profiles = profile.New(profile.Config{
		Workers:   cfg.Profile.Workers,
		QueueSize: cfg.Profile.QueueSize,
	}, a.client, a.store, a.bus, a.log.With(logx.String("comp", "profile")))

	a.orch = dispatch.New(dispatchConfig(cfg), a.client, a.store, a.log.With(logx.String("comp", "dispatch")))

	a.stats = report.NewAggregator(a.store)
	a.refresher = report.NewRefresher(report.RefresherConfig{
		Enabled: cfg.Report.Enabled,
		Spec:    cfg.Report.Refresh,
	}, a.client, a.store, a.log.With(logx.String("comp", "report")))

	a.web = web.New(web.Config{
		Addr:           cfg.HTTP.Addr,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
	}, a.store, a.orch, a.profiles, a.stats, a.bus, a.log.With(logx.String("comp", "web")))

	return nil
}

func dispatchConfig(cfg *config.Config) dispatch.Config {
	return dispatch.Config{
		RatePerSec: cfg.Dispatch.RatePerSec,
		Limits: dispatch.Limits{
			AmountMin: cfg.Dispatch.AmountMin,
			AmountMax: cfg.Dispatch.AmountMax,
		},
	}
}

// Start brings up the worker pool, the status refresher and the HTTP server,
// and begins following the config file for changes.
func (a *App) Start(ctx context.Context) {
	bgCtx, cancel := context.WithCancel(context.Background())
	a.cancelBG = cancel
	a.bgDone = make(chan struct{})

	a.profiles.Start(bgCtx)
	a.refresher.Start(bgCtx)
	a.web.Start(ctx)

	updates := a.cfgMgr.Subscribe(2)
	go func() {
		_ = a.cfgMgr.Watch(bgCtx)
	}()
	go func() {
		defer close(a.bgDone)
		for {
			select {
			case <-bgCtx.Done():
				a.cfgMgr.Unsubscribe(updates)
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	}()

	a.log.Info("delivery subsystem started")
}

// applyConfig pushes a hot reload into the components that support it.
// Storage, API endpoint and HTTP address changes need a restart.
func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	a.orch.Apply(dispatchConfig(cfg))
	a.profiles.Apply(profile.Config{
		Workers:   cfg.Profile.Workers,
		QueueSize: cfg.Profile.QueueSize,
	})
	a.log.Info("config reloaded")
}

// Stop shuts everything down in reverse order of Start.
func (a *App) Stop(ctx context.Context) {
	a.web.Stop(ctx)
	a.refresher.Stop(ctx)
	a.profiles.Stop(ctx)

	if a.cancelBG != nil {
		a.cancelBG()
	}
	if a.bgDone != nil {
		select {
		case <-a.bgDone:
		case <-ctx.Done():
		}
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("store close", logx.Err(err))
	}
	a.log.Info("delivery subsystem stopped")
	_ = a.logSvc.Close()
}
