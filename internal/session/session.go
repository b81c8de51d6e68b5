// Package session tracks the lifecycle of the single channel session.
//
// The state machine is mutated only by adapter lifecycle callbacks; every
// accepted transition synchronously publishes a status event to the hub.
// There is one session per process; it is never destroyed, only moved
// between states.
package session

import (
	"sync"
	"time"

	"wablast/internal/hub"
	logx "wablast/pkg/logx"
)

type State string

const (
	StateInitializing  State = "initializing"
	StateQR            State = "qr"
	StateAuthenticated State = "authenticated"
	StateReady         State = "ready"
	StateDisconnected  State = "disconnected"
	StateAuthFailure   State = "auth_failure"
	StateError         State = "error"
)

// edges lists the legal transitions. auth_failure and error are terminal
// absent an external restart.
var edges = map[State][]State{
	StateInitializing:  {StateQR, StateAuthenticated, StateError},
	StateQR:            {StateAuthenticated, StateAuthFailure, StateError},
	StateAuthenticated: {StateReady, StateDisconnected},
	StateReady:         {StateDisconnected},
	StateDisconnected:  {StateQR, StateInitializing},
}

// Snapshot is a point-in-time view of the session.
type Snapshot struct {
	State     State
	QR        string // present only in the qr state
	LastFault string
	ChangedAt time.Time
}

// Manager owns the session state. It implements transport.Listener so the
// adapter drives it directly.
type Manager struct {
	mu        sync.RWMutex
	state     State
	qr        string
	lastFault string
	changedAt time.Time

	hub *hub.Hub
	log logx.Logger
}

func NewManager(h *hub.Hub, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		state:     StateInitializing,
		changedAt: time.Now(),
		hub:       h,
		log:       log,
	}
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{State: m.state, QR: m.qr, LastFault: m.lastFault, ChangedAt: m.changedAt}
}

// IsReady reports whether the session can carry sends.
func (m *Manager) IsReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateReady
}

// ---- transport.Listener ----

func (m *Manager) QR(payload string)          { m.apply(StateQR, payload, "") }
func (m *Manager) Authenticated()             { m.apply(StateAuthenticated, "", "") }
func (m *Manager) Ready()                     { m.apply(StateReady, "", "") }
func (m *Manager) AuthFailure(reason string)  { m.apply(StateAuthFailure, "", reason) }
func (m *Manager) Disconnected(reason string) { m.apply(StateDisconnected, "", reason) }
func (m *Manager) Error(reason string)        { m.apply(StateError, "", reason) }

// apply commits a transition if the edge is legal and publishes the status
// event before returning. Illegal jumps are rejected and logged; state stays
// put.
func (m *Manager) apply(next State, qr, fault string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !legal(m.state, next) {
		m.log.Warn("illegal session transition rejected",
			logx.String("from", string(m.state)),
			logx.String("to", string(next)))
		return
	}

	m.state = next
	m.changedAt = time.Now()
	m.qr = ""
	if next == StateQR {
		m.qr = qr
	}
	if fault != "" {
		m.lastFault = fault
	}

	m.log.Info("session state changed",
		logx.String("state", string(next)),
		logx.String("fault", fault))

	// Published under the lock so status events leave in transition order.
	// Hub publishes are non-blocking, so this cannot stall callbacks.
	m.hub.Publish(hub.Status(string(next), m.qr, fault))
}

func legal(from, to State) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}
