package store

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	logx "wablast/pkg/logx"
)

const defaultRetention = 30 * 24 * time.Hour

// Pruner runs the retention sweep on a cron schedule.
type Pruner struct {
	store     Store
	retention time.Duration
	cron      *cron.Cron
	log       logx.Logger
}

// NewPruner validates the schedule up front so a bad spec fails at startup
// rather than silently never firing.
func NewPruner(st Store, schedule string, retention time.Duration, log logx.Logger) (*Pruner, error) {
	if retention <= 0 {
		retention = defaultRetention
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Pruner{store: st, retention: retention, cron: cron.New(), log: log}

	if _, err := p.cron.AddFunc(schedule, p.sweep); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pruner) Start() { p.cron.Start() }

func (p *Pruner) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
}

func (p *Pruner) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-p.retention)
	n, err := p.store.PruneBefore(ctx, cutoff)
	if err != nil {
		p.log.Warn("run history prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		p.log.Info("run history pruned", logx.Int64("removed", n), logx.Time("cutoff", cutoff))
	}
}
