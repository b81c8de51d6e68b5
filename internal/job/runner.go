// Package job is the bulk-dispatch orchestrator. It accepts one batch at a
// time, holds the single job slot for the shared channel session, and drives
// a sequential, paced dispatch loop in the background while publishing every
// step to the hub.
package job

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"wablast/internal/hub"
	"wablast/internal/metrics"
	"wablast/internal/transport"
	logx "wablast/pkg/logx"
)

const (
	defaultPaceInterval  = 6 * time.Second
	defaultCountryPrefix = "91"
)

type Config struct {
	// CountryPrefix is prepended to bare 10-digit numbers.
	CountryPrefix string
	// PaceInterval is the minimum gap between the start of consecutive
	// items, applied after every outcome including skips and failures.
	PaceInterval time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.CountryPrefix) == "" {
		c.CountryPrefix = defaultCountryPrefix
	}
	if c.PaceInterval <= 0 {
		c.PaceInterval = defaultPaceInterval
	}
	return c
}

// SessionGate answers whether the channel session can carry sends.
// Implemented by session.Manager.
type SessionGate interface {
	IsReady() bool
}

// Archiver receives completed runs. Implemented by store backends; nil
// disables archiving.
type Archiver interface {
	ArchiveRun(ctx context.Context, run RunSummary) error
}

// run is the live JobRun. Mutated only by its own dispatch goroutine; read
// by snapshot queries under the runner's lock.
type run struct {
	id         string
	total      int
	running    bool
	startedAt  time.Time
	finishedAt time.Time
	items      []ResultRecord
}

type Runner struct {
	adapter transport.Adapter
	hub     *hub.Hub
	gate    SessionGate
	archive Archiver
	log     logx.Logger

	cfgMu sync.Mutex
	cfg   Config

	// baseCtx detaches dispatch loops from the accepting request. Set once
	// by Start.
	ctxMu   sync.Mutex
	baseCtx context.Context

	// mu guards the slot flag and the current run. The check-and-set on
	// submit is the single-flight enforcement point.
	mu      sync.RWMutex
	slot    bool
	current *run
}

func NewRunner(cfg Config, adapter transport.Adapter, h *hub.Hub, gate SessionGate, log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{
		adapter: adapter,
		hub:     h,
		gate:    gate,
		log:     log,
		cfg:     cfg.withDefaults(),
	}
}

// SetArchiver wires an optional archive for completed runs.
func (r *Runner) SetArchiver(a Archiver) { r.archive = a }

// Apply updates pacing/prefix at runtime. Changes take effect on the next
// accepted run; an in-flight run keeps the config it started with.
func (r *Runner) Apply(cfg Config) {
	r.cfgMu.Lock()
	r.cfg = cfg.withDefaults()
	r.cfgMu.Unlock()
}

// Start records the context dispatch loops run under. Process shutdown
// cancels it, which is the only way to stop an in-flight run.
func (r *Runner) Start(ctx context.Context) {
	r.ctxMu.Lock()
	r.baseCtx = ctx
	r.ctxMu.Unlock()
}

func (r *Runner) dispatchCtx() context.Context {
	r.ctxMu.Lock()
	defer r.ctxMu.Unlock()
	if r.baseCtx != nil {
		return r.baseCtx
	}
	return context.Background()
}

// Submit validates the batch, acquires the single job slot, publishes
// job_start, and detaches the dispatch loop. It returns the accepted total
// or one of ErrInvalidBatch, ErrNotConnected, ErrJobRunning.
func (r *Runner) Submit(numbers, messages []string) (int, error) {
	if len(numbers) != len(messages) {
		metrics.JobRejected("invalid_input")
		return 0, ErrInvalidBatch
	}
	if !r.gate.IsReady() {
		metrics.JobRejected("not_connected")
		return 0, ErrNotConnected
	}

	total := len(numbers)

	r.mu.Lock()
	if r.slot {
		r.mu.Unlock()
		metrics.JobRejected("already_running")
		return 0, ErrJobRunning
	}
	r.slot = true
	cur := &run{
		id:        uuid.NewString(),
		total:     total,
		running:   true,
		startedAt: time.Now(),
		items:     make([]ResultRecord, 0, total),
	}
	r.current = cur
	r.mu.Unlock()

	r.cfgMu.Lock()
	cfg := r.cfg
	r.cfgMu.Unlock()

	metrics.JobAccepted()
	metrics.SetJobRunning(true)
	r.log.Info("job accepted",
		logx.String("job", cur.id),
		logx.Int("total", total),
		logx.Duration("pace", cfg.PaceInterval))
	r.hub.Publish(hub.JobStart(total))

	go r.dispatch(r.dispatchCtx(), cur, cfg, numbers, messages)

	return total, nil
}

// Snapshot returns the poll-side view of the current or most recent run.
func (r *Runner) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cur := r.current
	if cur == nil {
		return Snapshot{Results: []ResultRecord{}}
	}
	snap := Snapshot{
		Running:    cur.running,
		Total:      cur.total,
		Results:    append([]ResultRecord(nil), cur.items...),
		StartedAt:  cur.startedAt,
		FinishedAt: cur.finishedAt,
	}
	for _, it := range cur.items {
		switch it.Status {
		case StatusSent:
			snap.Sent++
		case StatusFailed:
			snap.Failed++
		case StatusSkipped:
			snap.Skipped++
		}
	}
	return snap
}

// Running reports whether a run currently holds the job slot.
func (r *Runner) Running() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.slot
}

// dispatch walks the batch strictly in index order. Every adapter fault is
// contained as a failed record; the loop always reaches completion and the
// deferred block always releases the slot.
func (r *Runner) dispatch(ctx context.Context, cur *run, cfg Config, numbers, messages []string) {
	start := time.Now()

	defer func() {
		r.mu.Lock()
		cur.running = false
		cur.finishedAt = time.Now()
		r.slot = false
		results := append([]ResultRecord(nil), cur.items...)
		r.mu.Unlock()

		metrics.SetJobRunning(false)
		r.hub.Publish(hub.JobDone(results))
		r.log.Info("job finished",
			logx.String("job", cur.id),
			logx.Int("total", cur.total),
			logx.Duration("dur", time.Since(start)))

		if r.archive != nil {
			sum := RunSummary{
				ID:         cur.id,
				Total:      cur.total,
				StartedAt:  cur.startedAt,
				FinishedAt: cur.finishedAt,
				Results:    results,
			}
			actx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := r.archive.ArchiveRun(actx, sum); err != nil {
				r.log.Warn("run archive failed", logx.String("job", cur.id), logx.Err(err))
			}
			cancel()
		}
	}()

	// Burst 1: the first item starts immediately, then item starts are
	// spaced at least one interval apart regardless of outcome.
	limiter := rate.NewLimiter(rate.Every(cfg.PaceInterval), 1)

	for i := range numbers {
		if err := limiter.Wait(ctx); err != nil {
			r.log.Warn("dispatch interrupted", logx.String("job", cur.id), logx.Int("index", i), logx.Err(err))
			return
		}

		rec := ResultRecord{
			Index:     i,
			RawTarget: numbers[i],
			Status:    StatusQueued,
			Timestamp: time.Now().UnixMilli(),
		}
		r.record(cur, rec)

		clean := digits(numbers[i])
		if clean == "" {
			r.finishItem(cur, rec, StatusSkipped, "No phone")
			continue
		}
		if strings.TrimSpace(messages[i]) == "" {
			r.finishItem(cur, rec, StatusSkipped, "No message")
			continue
		}

		rec.NormalizedTarget = normalize(clean, cfg.CountryPrefix)
		rec.Address = address(rec.NormalizedTarget)
		rec.Status = StatusSending
		rec.Timestamp = time.Now().UnixMilli()
		r.record(cur, rec)

		registered, err := r.adapter.IsRegistered(ctx, rec.NormalizedTarget)
		if err != nil {
			r.log.Warn("registration check failed",
				logx.String("job", cur.id), logx.Int("index", i), logx.Err(err))
			r.finishItem(cur, rec, StatusFailed, "Validation error")
			continue
		}
		if !registered {
			r.finishItem(cur, rec, StatusFailed, "Not on WhatsApp")
			continue
		}

		if err := r.adapter.SendText(ctx, rec.Address, messages[i]); err != nil {
			r.log.Warn("send failed",
				logx.String("job", cur.id), logx.Int("index", i), logx.Err(err))
			r.finishItem(cur, rec, StatusFailed, err.Error())
			continue
		}
		r.finishItem(cur, rec, StatusSent, "")
	}
}

// finishItem stamps a terminal status onto rec and records it.
func (r *Runner) finishItem(cur *run, rec ResultRecord, st Status, reason string) {
	rec.Status = st
	rec.Reason = reason
	rec.Timestamp = time.Now().UnixMilli()
	r.record(cur, rec)
	metrics.ObserveItem(string(st))
}

// record commits rec to the ledger (last write wins per index) and publishes
// a progress event.
func (r *Runner) record(cur *run, rec ResultRecord) {
	r.mu.Lock()
	for len(cur.items) <= rec.Index {
		cur.items = append(cur.items, ResultRecord{Index: len(cur.items), Status: StatusQueued})
	}
	cur.items[rec.Index] = rec
	r.mu.Unlock()

	r.hub.Publish(hub.Progress(rec))
}
