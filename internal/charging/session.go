// Package charging implements synchronous charge application and
// asynchronous charging sessions: one background goroutine per session,
// cancelled cooperatively through a context so an in-flight tick always
// completes before the worker exits.
package charging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/StevenWanglolz/Occult-Magick/internal/servitor"
)

// Errors returned by the charging manager.
var (
	ErrSessionActive   = errors.New("charging: session already active for servitor")
	ErrSessionNotFound = errors.New("charging: no active session for servitor")
)

// Charging methods. The method fixes the session's tick profile for its
// whole lifetime.
const (
	MethodVisualization = "visualization"
	MethodRepetition    = "repetition"
	MethodRitual        = "ritual"
)

// chargeRate is the base charge applied per tick.
const chargeRate = 0.1

// stopWait bounds how long Stop waits for the worker to observe
// cancellation. The worker may still be finishing its current tick when
// Stop returns.
const stopWait = time.Second

// UpdateFunc receives the new charge level after each charge application.
type UpdateFunc func(level float64)

// DoneFunc runs after a session's worker has exited and the session has
// been removed from the manager. Timed sessions self-terminate without a
// Stop call, so this is the hook callers use to persist the accumulated
// charge.
type DoneFunc func(*Session)

// profile describes one charging method's tick behavior.
type profile struct {
	tick   time.Duration // wall-clock interval between charge ticks
	amount float64       // charge added per application
	burst  bool          // repetition mode: rapid iterations, charge every nth
	every  int           // burst: apply charge on every nth iteration
}

func profileFor(method string) profile {
	switch method {
	case MethodRepetition:
		return profile{tick: 10 * time.Millisecond, amount: chargeRate, burst: true, every: 10}
	case MethodRitual:
		return profile{tick: 2 * time.Second, amount: chargeRate * 2}
	default:
		return profile{tick: time.Second, amount: chargeRate}
	}
}

// Session is one running background charge accumulation bound to a single
// servitor.
type Session struct {
	ID       uuid.UUID
	Servitor *servitor.Servitor
	Method   string
	Started  time.Time

	prof     profile
	onUpdate UpdateFunc
	cancel   context.CancelFunc
	done     chan struct{}
}

// newSession builds a session without starting its worker. Tests construct
// sessions with shortened profiles through this path.
func newSession(s *servitor.Servitor, method string, prof profile, onUpdate UpdateFunc) *Session {
	return &Session{
		ID:       uuid.New(),
		Servitor: s,
		Method:   method,
		Started:  time.Now().UTC(),
		prof:     prof,
		onUpdate: onUpdate,
		done:     make(chan struct{}),
	}
}

// charge routes one tick's worth of charge through the synchronous charge
// path under the session's method name.
func (s *Session) charge() {
	level := s.Servitor.AddCharge(s.prof.amount, s.Method)
	if s.onUpdate != nil {
		s.onUpdate(level)
	}
}

// run is the session worker. It selects between the next tick and
// cancellation; a tick that has already fired is fully applied before the
// cancellation is observed.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	if s.prof.burst {
		s.runBurst(ctx)
		return
	}

	ticker := time.NewTicker(s.prof.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.charge()
		}
	}
}

// runBurst simulates rapid repetition: a tight inner loop with a short
// sleep per iteration, applying the fixed charge on every nth iteration so
// the net rate matches the other methods delivered in small bursts.
func (s *Session) runBurst(ctx context.Context) {
	iteration := 0
	for {
		if ctx.Err() != nil {
			return
		}
		iteration++
		if iteration%s.prof.every == 0 {
			s.charge()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.prof.tick):
		}
	}
}

// Manager owns all running sessions, at most one per servitor. Starting a
// second session for the same servitor is rejected rather than racing.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Start spawns a charging session for the servitor. A zero duration runs
// until Stop; a positive duration self-terminates once elapsed. onDone
// fires however the worker exits, after the session has been dropped from
// the manager. The returned session is already running.
func (m *Manager) Start(ctx context.Context, s *servitor.Servitor, method string, duration time.Duration, onUpdate UpdateFunc, onDone DoneFunc) (*Session, error) {
	switch method {
	case "", MethodVisualization:
		method = MethodVisualization
	case MethodRepetition, MethodRitual:
	default:
		return nil, fmt.Errorf("%w: unknown charging method %q", servitor.ErrValidation, method)
	}

	sess := newSession(s, method, profileFor(method), onUpdate)

	m.mu.Lock()
	if _, exists := m.sessions[s.Name]; exists {
		m.mu.Unlock()
		return nil, ErrSessionActive
	}
	m.sessions[s.Name] = sess
	m.mu.Unlock()

	var sessCtx context.Context
	if duration > 0 {
		sessCtx, sess.cancel = context.WithTimeout(ctx, duration)
	} else {
		sessCtx, sess.cancel = context.WithCancel(ctx)
	}

	go func() {
		sess.run(sessCtx)
		sess.cancel()
		m.remove(s.Name, sess)
		if onDone != nil {
			onDone(sess)
		}
	}()

	slog.Info("charging session started",
		"session_id", sess.ID.String(),
		"servitor", s.Name,
		"method", method,
		"duration", duration,
	)
	return sess, nil
}

// Stop cancels the servitor's session and waits, bounded, for the worker
// to observe the cancellation. Callers must not assume the final tick has
// settled the instant Stop returns.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	sess, ok := m.sessions[name]
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	sess.cancel()
	select {
	case <-sess.done:
	case <-time.After(stopWait):
		slog.Warn("charging session slow to stop", "servitor", name)
	}

	slog.Info("charging session stopped", "session_id", sess.ID.String(), "servitor", name)
	return nil
}

// Active returns the running session for the servitor, or nil.
func (m *Manager) Active(name string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[name]
}

// StopAll cancels every running session. Used at shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.cancel()
		select {
		case <-sess.done:
		case <-time.After(stopWait):
		}
	}
}

// remove drops a finished session, guarding against a newer session having
// already replaced it under the same name.
func (m *Manager) remove(name string, sess *Session) {
	m.mu.Lock()
	if m.sessions[name] == sess {
		delete(m.sessions, name)
	}
	m.mu.Unlock()
}
