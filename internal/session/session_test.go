package session

import (
	"testing"
	"time"

	"wablast/internal/hub"
	logx "wablast/pkg/logx"
)

func newTestManager(t *testing.T) (*Manager, <-chan hub.Event) {
	t.Helper()
	h := hub.New(logx.Nop())
	ch, unsub := h.Subscribe(32)
	t.Cleanup(unsub)

	// drain greeting
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no greeting event")
	}
	return NewManager(h, logx.Nop()), ch
}

func nextStatus(t *testing.T, ch <-chan hub.Event) hub.Event {
	t.Helper()
	select {
	case ev := <-ch:
		if ev.Type != hub.TypeStatus {
			t.Fatalf("event type = %s, want status", ev.Type)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for status event")
	}
	return hub.Event{}
}

func TestHappyPathPublishesEveryTransition(t *testing.T) {
	t.Parallel()
	m, ch := newTestManager(t)

	m.QR("pair-payload")
	m.Authenticated()
	m.Ready()

	want := []State{StateQR, StateAuthenticated, StateReady}
	for _, w := range want {
		ev := nextStatus(t, ch)
		if got := ev.Data["status"]; got != string(w) {
			t.Fatalf("status = %v, want %s", got, w)
		}
	}
	if !m.IsReady() {
		t.Fatal("IsReady() = false after ready")
	}
}

func TestQRPayloadOnlyInQRState(t *testing.T) {
	t.Parallel()
	m, ch := newTestManager(t)

	m.QR("pair-payload")
	ev := nextStatus(t, ch)
	if ev.Data["qr"] != "pair-payload" {
		t.Fatalf("qr event missing payload: %+v", ev.Data)
	}
	if snap := m.Snapshot(); snap.QR != "pair-payload" {
		t.Fatalf("snapshot QR = %q, want payload", snap.QR)
	}

	m.Authenticated()
	ev = nextStatus(t, ch)
	if _, ok := ev.Data["qr"]; ok {
		t.Fatal("authenticated status should not carry qr")
	}
	if snap := m.Snapshot(); snap.QR != "" {
		t.Fatalf("snapshot QR = %q, want cleared", snap.QR)
	}
}

func TestIllegalJumpRejected(t *testing.T) {
	t.Parallel()
	m, ch := newTestManager(t)

	// initializing -> ready is not a defined edge
	m.Ready()

	if snap := m.Snapshot(); snap.State != StateInitializing {
		t.Fatalf("state = %s, want initializing", snap.State)
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event published for rejected transition: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAuthFailureIsTerminal(t *testing.T) {
	t.Parallel()
	m, ch := newTestManager(t)

	m.QR("p")
	m.AuthFailure("bad credentials")
	nextStatus(t, ch) // qr
	ev := nextStatus(t, ch)
	if ev.Data["status"] != string(StateAuthFailure) || ev.Data["message"] != "bad credentials" {
		t.Fatalf("unexpected auth_failure event: %+v", ev.Data)
	}

	m.Ready()
	m.Authenticated()
	if snap := m.Snapshot(); snap.State != StateAuthFailure {
		t.Fatalf("state = %s, want auth_failure to stick", snap.State)
	}
	if snap := m.Snapshot(); snap.LastFault != "bad credentials" {
		t.Fatalf("lastFault = %q", snap.LastFault)
	}
}

func TestDisconnectAllowsReconnect(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)

	m.QR("p")
	m.Authenticated()
	m.Ready()
	m.Disconnected("network lost")
	if m.IsReady() {
		t.Fatal("IsReady() = true after disconnect")
	}

	m.QR("p2")
	if snap := m.Snapshot(); snap.State != StateQR || snap.QR != "p2" {
		t.Fatalf("reconnect snapshot = %+v", snap)
	}
}
