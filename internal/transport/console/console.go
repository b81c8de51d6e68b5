// Package console implements a simulated channel adapter for local
// development. It walks the qr -> authenticated -> ready lifecycle on a
// timer and logs sends instead of delivering them, so the orchestrator and
// event stream can be exercised without a real channel session.
package console

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"wablast/internal/transport"
	logx "wablast/pkg/logx"
)

type Config struct {
	// AuthDelay is the pause between lifecycle steps. Zero means 500ms.
	AuthDelay time.Duration
	// UnregisteredSuffix marks numbers the simulated channel reports as not
	// registered (empty disables the rule).
	UnregisteredSuffix string
	// SendLatency delays each send to mimic channel round-trips.
	SendLatency time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func New(cfg Config, log logx.Logger) *Adapter {
	if cfg.AuthDelay <= 0 {
		cfg.AuthDelay = 500 * time.Millisecond
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log}
}

func (a *Adapter) Connect(ctx context.Context, l transport.Listener) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	go a.lifecycle(runCtx, l)
	return nil
}

// lifecycle emits the scripted happy path, one step per AuthDelay tick.
func (a *Adapter) lifecycle(ctx context.Context, l transport.Listener) {
	steps := []func(){
		func() { l.QR("console://pair/" + uuid.NewString()) },
		func() { l.Authenticated() },
		func() { l.Ready() },
	}
	for _, step := range steps {
		select {
		case <-ctx.Done():
			return
		case <-time.After(a.cfg.AuthDelay):
		}
		step()
	}
	a.log.Info("console channel ready")

	<-ctx.Done()
	l.Disconnected("console adapter stopped")
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (a *Adapter) IsRegistered(ctx context.Context, number string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s := a.cfg.UnregisteredSuffix; s != "" && strings.HasSuffix(number, s) {
		return false, nil
	}
	return true, nil
}

func (a *Adapter) SendText(ctx context.Context, address string, text string) error {
	if a.cfg.SendLatency > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.cfg.SendLatency):
		}
	}
	a.log.Info("console send",
		logx.String("to", address),
		logx.Int("len", len(text)))
	return nil
}
