// Package app wires the service together: config, logging, hub, session,
// channel adapter, orchestrator, archive, and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"wablast/internal/api"
	"wablast/internal/config"
	"wablast/internal/hub"
	"wablast/internal/job"
	"wablast/internal/session"
	"wablast/internal/store"
	"wablast/internal/transport"
	"wablast/internal/transport/console"
	logx "wablast/pkg/logx"
)

const defaultAddr = ":8080"

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	hub     *hub.Hub
	sess    *session.Manager
	adapter transport.Adapter
	runner  *job.Runner

	st     store.Store
	pruner *store.Pruner

	httpSrv *http.Server

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logs, log := logx.New(logCfg(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	h := hub.New(log.With(logx.String("comp", "hub")))
	sess := session.NewManager(h, log.With(logx.String("comp", "session")))

	adapter, err := newAdapter(cfg, log)
	if err != nil {
		return nil, err
	}

	jcfg, err := jobCfg(cfg)
	if err != nil {
		return nil, err
	}
	runner := job.NewRunner(jcfg, adapter, h, sess, log.With(logx.String("comp", "job")))

	scfg, err := storeCfg(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(scfg, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	var pruner *store.Pruner
	if st != nil {
		runner.SetArchiver(st)
		schedule := strings.TrimSpace(cfg.Storage.PruneSchedule)
		if schedule == "" {
			schedule = "0 3 * * *"
		}
		pruner, err = store.NewPruner(st, schedule, scfg.Retention, log.With(logx.String("comp", "store")))
		if err != nil {
			return nil, fmt.Errorf("storage.prune_schedule: %w", err)
		}
	}

	srv := api.NewServer(api.Config{Metrics: cfg.Metrics.Enabled},
		runner, sess, h, st, log.With(logx.String("comp", "api")))

	addr := strings.TrimSpace(cfg.Server.Addr)
	if addr == "" {
		addr = defaultAddr
	}

	return &App{
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		hub:     h,
		sess:    sess,
		adapter: adapter,
		runner:  runner,
		st:      st,
		pruner:  pruner,
		httpSrv: &http.Server{
			Addr:              addr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	a.runner.Start(runCtx)

	if err := a.adapter.Connect(runCtx, a.sess); err != nil {
		cancel()
		return fmt.Errorf("channel connect: %w", err)
	}

	if a.pruner != nil {
		a.pruner.Start()
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.log.Info("http server listening", logx.String("addr", a.httpSrv.Addr))
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server failed", logx.Err(err))
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.applyLoop(runCtx)
	}()

	// Best effort; no-op outside systemd.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	return nil
}

// applyLoop picks up committed config reloads and applies the live-tunable
// parts: log sinks/level and job pacing. Everything else needs a restart.
func (a *App) applyLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok || cfg == nil {
				return
			}
			a.logs.Apply(logCfg(cfg))
			if jcfg, err := jobCfg(cfg); err != nil {
				a.log.Warn("config reload: bad job settings kept previous", logx.Err(err))
			} else {
				a.runner.Apply(jcfg)
			}
			a.log.Info("runtime settings applied")
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if err := a.httpSrv.Shutdown(ctx); err != nil {
		a.log.Warn("http shutdown incomplete", logx.Err(err))
	}

	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	_ = a.adapter.Stop(ctx)
	if a.pruner != nil {
		a.pruner.Stop()
	}

	a.wg.Wait()

	if a.st != nil {
		_ = a.st.Close()
	}
	_ = a.logs.Close()
	return nil
}

// ---- config mapping ----

func logCfg(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func jobCfg(cfg *config.Config) (job.Config, error) {
	pace, err := config.ParseDurationField("job.pace_interval", cfg.Job.PaceInterval)
	if err != nil {
		return job.Config{}, err
	}
	return job.Config{
		CountryPrefix: cfg.Channel.CountryPrefix,
		PaceInterval:  pace,
	}, nil
}

func storeCfg(cfg *config.Config) (store.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return store.Config{}, err
	}
	retention, err := config.ParseDurationField("storage.retention", cfg.Storage.Retention)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
		Retention:   retention,
	}, nil
}

func newAdapter(cfg *config.Config, log logx.Logger) (transport.Adapter, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Channel.Driver))
	if driver == "" {
		driver = "console"
	}
	switch driver {
	case "console":
		authDelay, err := config.ParseDurationField("channel.auth_delay", cfg.Channel.AuthDelay)
		if err != nil {
			return nil, err
		}
		sendLatency, err := config.ParseDurationField("channel.send_latency", cfg.Channel.SendLatency)
		if err != nil {
			return nil, err
		}
		return console.New(console.Config{
			AuthDelay:          authDelay,
			UnregisteredSuffix: cfg.Channel.UnregisteredSuffix,
			SendLatency:        sendLatency,
		}, log.With(logx.String("comp", "channel"))), nil
	default:
		return nil, fmt.Errorf("unknown channel driver: %s", driver)
	}
}
