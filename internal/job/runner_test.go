package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wablast/internal/hub"
	"wablast/internal/transport"
	logx "wablast/pkg/logx"
)

// fakeAdapter records calls and answers from per-number tables.
type fakeAdapter struct {
	mu        sync.Mutex
	regCalls  []string
	sendCalls []string

	unregistered map[string]bool
	regErr       map[string]error
	sendErr      map[string]error

	// blockSend, when non-nil, stalls every send until the channel closes.
	blockSend chan struct{}
}

func (f *fakeAdapter) Connect(ctx context.Context, l transport.Listener) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                          { return nil }

func (f *fakeAdapter) IsRegistered(ctx context.Context, number string) (bool, error) {
	f.mu.Lock()
	f.regCalls = append(f.regCalls, number)
	f.mu.Unlock()
	if err := f.regErr[number]; err != nil {
		return false, err
	}
	return !f.unregistered[number], nil
}

func (f *fakeAdapter) SendText(ctx context.Context, address string, text string) error {
	f.mu.Lock()
	f.sendCalls = append(f.sendCalls, address)
	block := f.blockSend
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.sendErr[address]
}

func (f *fakeAdapter) calls() (reg, send []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.regCalls...), append([]string(nil), f.sendCalls...)
}

type fakeGate struct{ ready bool }

func (g fakeGate) IsReady() bool { return g.ready }

func newTestRunner(t *testing.T, ad *fakeAdapter, gate SessionGate, cfg Config) (*Runner, <-chan hub.Event) {
	t.Helper()
	if cfg.PaceInterval == 0 {
		cfg.PaceInterval = time.Millisecond
	}
	h := hub.New(logx.Nop())
	ch, unsub := h.Subscribe(256)
	t.Cleanup(unsub)
	select { // drain greeting
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no greeting")
	}

	r := NewRunner(cfg, ad, h, gate, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r.Start(ctx)
	return r, ch
}

// collectUntilDone reads hub events until job_done and returns all of them.
func collectUntilDone(t *testing.T, ch <-chan hub.Event) []hub.Event {
	t.Helper()
	var events []hub.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
			if ev.Type == hub.TypeJobDone {
				return events
			}
		case <-deadline:
			t.Fatalf("timed out waiting for job_done; got %d events", len(events))
		}
	}
}

func doneResults(t *testing.T, events []hub.Event) []ResultRecord {
	t.Helper()
	last := events[len(events)-1]
	res, ok := last.Data["results"].([]ResultRecord)
	if !ok {
		t.Fatalf("job_done results have type %T", last.Data["results"])
	}
	return res
}

func TestSubmitRejectsMismatchedBatch(t *testing.T) {
	t.Parallel()
	r, _ := newTestRunner(t, &fakeAdapter{}, fakeGate{ready: true}, Config{})

	_, err := r.Submit([]string{"123"}, []string{"a", "b"})
	if !errors.Is(err, ErrInvalidBatch) {
		t.Fatalf("err = %v, want ErrInvalidBatch", err)
	}
	if r.Running() {
		t.Fatal("rejected submission must not hold the slot")
	}
}

func TestSubmitRejectsWhenSessionNotReady(t *testing.T) {
	t.Parallel()
	r, _ := newTestRunner(t, &fakeAdapter{}, fakeGate{ready: false}, Config{})

	_, err := r.Submit([]string{"9876543210"}, []string{"hello"})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	if snap := r.Snapshot(); snap.Total != 0 || snap.Running {
		t.Fatalf("no JobRun should exist after rejection, got %+v", snap)
	}
}

func TestSecondSubmissionConflictsAndLedgerUntouched(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{blockSend: make(chan struct{})}
	r, ch := newTestRunner(t, ad, fakeGate{ready: true}, Config{})

	total, err := r.Submit([]string{"9876543210"}, []string{"hello"})
	if err != nil || total != 1 {
		t.Fatalf("Submit = (%d, %v), want (1, nil)", total, err)
	}

	// Wait until the first run is inside the send call.
	waitFor(t, func() bool { _, send := ad.calls(); return len(send) == 1 })

	before := r.Snapshot()
	_, err = r.Submit([]string{"111"}, []string{"x"})
	if !errors.Is(err, ErrJobRunning) {
		t.Fatalf("err = %v, want ErrJobRunning", err)
	}
	after := r.Snapshot()
	if after.Total != before.Total || len(after.Results) != len(before.Results) {
		t.Fatalf("conflict submission mutated ledger: %+v -> %+v", before, after)
	}

	close(ad.blockSend)
	collectUntilDone(t, ch)
	if r.Running() {
		t.Fatal("slot not released after completion")
	}
}

func TestDispatchSkipsAndSends(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	r, ch := newTestRunner(t, ad, fakeGate{ready: true}, Config{CountryPrefix: "91"})

	if _, err := r.Submit([]string{"9876543210", "abc"}, []string{"hello", ""}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	events := collectUntilDone(t, ch)
	results := doneResults(t, events)

	if len(results) != 2 {
		t.Fatalf("ledger length = %d, want 2", len(results))
	}
	if results[0].Status != StatusSent {
		t.Fatalf("results[0] = %+v, want sent", results[0])
	}
	if results[0].NormalizedTarget != "919876543210" || results[0].Address != "919876543210@c.us" {
		t.Fatalf("normalization wrong: %+v", results[0])
	}
	if results[1].Status != StatusSkipped || results[1].Reason != "No phone" {
		t.Fatalf("results[1] = %+v, want skipped/No phone", results[1])
	}

	reg, send := ad.calls()
	if len(reg) != 1 || reg[0] != "919876543210" {
		t.Fatalf("registration calls = %v, want exactly the normalized index 0", reg)
	}
	if len(send) != 1 || send[0] != "919876543210@c.us" {
		t.Fatalf("send calls = %v", send)
	}
}

func TestBlankMessageSkipped(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	r, ch := newTestRunner(t, ad, fakeGate{ready: true}, Config{})

	if _, err := r.Submit([]string{"9876543210"}, []string{"   "}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	results := doneResults(t, collectUntilDone(t, ch))
	if results[0].Status != StatusSkipped || results[0].Reason != "No message" {
		t.Fatalf("results[0] = %+v, want skipped/No message", results[0])
	}
	if reg, _ := ad.calls(); len(reg) != 0 {
		t.Fatalf("no adapter calls expected for skipped item, got %v", reg)
	}
}

func TestUnregisteredAndValidationFaults(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{
		unregistered: map[string]bool{"911111111111": true},
		regErr:       map[string]error{"912222222222": errors.New("lookup timeout")},
	}
	r, ch := newTestRunner(t, ad, fakeGate{ready: true}, Config{})

	if _, err := r.Submit(
		[]string{"1111111111", "2222222222"},
		[]string{"a", "b"},
	); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	results := doneResults(t, collectUntilDone(t, ch))

	if results[0].Status != StatusFailed || results[0].Reason != "Not on WhatsApp" {
		t.Fatalf("results[0] = %+v", results[0])
	}
	if results[1].Status != StatusFailed || results[1].Reason != "Validation error" {
		t.Fatalf("results[1] = %+v", results[1])
	}
	if _, send := ad.calls(); len(send) != 0 {
		t.Fatalf("failed items must not be sent, got %v", send)
	}
}

func TestSendFaultRecordedAndRunCompletes(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{
		sendErr: map[string]error{"913333333333@c.us": errors.New("rate limited by channel")},
	}
	r, ch := newTestRunner(t, ad, fakeGate{ready: true}, Config{})

	if _, err := r.Submit(
		[]string{"1111111111", "2222222222", "3333333333"},
		[]string{"a", "b", "c"},
	); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	results := doneResults(t, collectUntilDone(t, ch))

	if results[2].Status != StatusFailed || results[2].Reason != "rate limited by channel" {
		t.Fatalf("results[2] = %+v", results[2])
	}
	for i := 0; i < 2; i++ {
		if results[i].Status != StatusSent {
			t.Fatalf("results[%d] = %+v, want sent", i, results[i])
		}
	}
	if r.Running() {
		t.Fatal("running flag not reset after faulty run")
	}
}

func TestEveryIndexTerminalAndOrdered(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	r, ch := newTestRunner(t, ad, fakeGate{ready: true}, Config{})

	numbers := []string{"1111111111", "abc", "2222222222"}
	messages := []string{"a", "b", "c"}
	if _, err := r.Submit(numbers, messages); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	events := collectUntilDone(t, ch)
	results := doneResults(t, events)

	if len(results) != len(numbers) {
		t.Fatalf("ledger length = %d, want %d", len(results), len(numbers))
	}
	for i, res := range results {
		if res.Index != i {
			t.Fatalf("results[%d].Index = %d", i, res.Index)
		}
		if !res.Status.Terminal() {
			t.Fatalf("results[%d] ended non-terminal: %+v", i, res)
		}
	}

	// Progress events for one run arrive in non-decreasing index order.
	lastIdx := -1
	for _, ev := range events {
		if ev.Type != hub.TypeProgress {
			continue
		}
		rec := ev.Data["payload"].(ResultRecord)
		if rec.Index < lastIdx {
			t.Fatalf("progress index went backwards: %d after %d", rec.Index, lastIdx)
		}
		lastIdx = rec.Index
	}
}

func TestPacingGapBetweenItemStarts(t *testing.T) {
	t.Parallel()
	const pace = 60 * time.Millisecond
	ad := &fakeAdapter{}
	r, ch := newTestRunner(t, ad, fakeGate{ready: true}, Config{PaceInterval: pace})

	if _, err := r.Submit(
		[]string{"abc", "1111111111", "def"},
		[]string{"a", "b", "c"},
	); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	events := collectUntilDone(t, ch)

	// First (queued) record per index marks the start of its processing.
	starts := map[int]int64{}
	for _, ev := range events {
		if ev.Type != hub.TypeProgress {
			continue
		}
		rec := ev.Data["payload"].(ResultRecord)
		if _, seen := starts[rec.Index]; !seen {
			starts[rec.Index] = rec.Timestamp
		}
	}
	for i := 1; i < 3; i++ {
		gap := time.Duration(starts[i]-starts[i-1]) * time.Millisecond
		// Allow for millisecond truncation of the timestamps.
		if gap < pace-5*time.Millisecond {
			t.Fatalf("gap between item %d and %d = %v, want >= %v", i-1, i, gap, pace)
		}
	}
}

func TestEmptyBatchCompletesImmediately(t *testing.T) {
	t.Parallel()
	r, ch := newTestRunner(t, &fakeAdapter{}, fakeGate{ready: true}, Config{})

	total, err := r.Submit([]string{}, []string{})
	if err != nil || total != 0 {
		t.Fatalf("Submit = (%d, %v), want (0, nil)", total, err)
	}
	events := collectUntilDone(t, ch)
	if events[0].Type != hub.TypeJobStart || events[0].Data["total"] != 0 {
		t.Fatalf("first event = %+v, want job_start{0}", events[0])
	}
	if res := doneResults(t, events); len(res) != 0 {
		t.Fatalf("results = %v, want empty", res)
	}
}

func TestLedgerLastWriteWinsPerIndex(t *testing.T) {
	t.Parallel()
	r, _ := newTestRunner(t, &fakeAdapter{}, fakeGate{ready: true}, Config{})

	cur := &run{total: 2, items: make([]ResultRecord, 0, 2)}
	r.mu.Lock()
	r.current = cur
	r.mu.Unlock()

	r.record(cur, ResultRecord{Index: 1, RawTarget: "x", Status: StatusQueued})
	r.record(cur, ResultRecord{Index: 1, RawTarget: "x", Status: StatusSent})

	snap := r.Snapshot()
	if len(snap.Results) != 2 {
		t.Fatalf("ledger length = %d, want 2 (no duplicate for index 1)", len(snap.Results))
	}
	if snap.Results[1].Status != StatusSent {
		t.Fatalf("results[1].Status = %s, want sent (last write wins)", snap.Results[1].Status)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}
