package bridge

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/fleet-bridge/internal/infrastructure/logging"
)

// Manager tracks live sessions by id.
type Manager struct {
	sessions sync.Map // id -> *Session
	template Options
	logger   *logging.Logger
}

// NewManager creates a manager whose sessions are built from template.
// Each Open supplies its own Notify.
func NewManager(template Options, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	if template.Logger == nil {
		template.Logger = logger
	}
	return &Manager{template: template, logger: logger.With("component", "session-manager")}
}

// Open starts a session that reports through notify.
func (m *Manager) Open(notify func(Notification)) *Session {
	opts := m.template
	opts.Notify = notify

	s := NewSession(uuid.NewString(), opts)
	m.sessions.Store(s.ID(), s)
	m.logger.Info("session opened", "session_id", s.ID())
	return s
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	v, ok := m.sessions.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: id=%s", ErrSessionNotFound, id)
	}
	return v.(*Session), nil //nolint:forcetypeassert // only *Session is stored
}

// Close closes and forgets one session.
func (m *Manager) Close(id string) error {
	v, ok := m.sessions.LoadAndDelete(id)
	if !ok {
		return fmt.Errorf("%w: id=%s", ErrSessionNotFound, id)
	}
	v.(*Session).Close() //nolint:forcetypeassert // only *Session is stored
	m.logger.Info("session closed", "session_id", id)
	return nil
}

// List returns every live session ordered by creation time.
func (m *Manager) List() []*Session {
	var out []*Session
	m.sessions.Range(func(_, v any) bool {
		out = append(out, v.(*Session)) //nolint:forcetypeassert // only *Session is stored
		return true
	})
	slices.SortFunc(out, func(a, b *Session) int {
		if c := a.CreatedAt().Compare(b.CreatedAt()); c != 0 {
			return c
		}
		return strings.Compare(a.ID(), b.ID())
	})
	return out
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	n := 0
	m.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// StateCounts returns the number of sessions in each state.
func (m *Manager) StateCounts() map[State]int {
	counts := map[State]int{StateDisconnected: 0, StateConnecting: 0, StateConnected: 0}
	m.sessions.Range(func(_, v any) bool {
		counts[v.(*Session).State()]++ //nolint:forcetypeassert // only *Session is stored
		return true
	})
	return counts
}

// Shutdown closes every session in parallel.
func (m *Manager) Shutdown() {
	var wg sync.WaitGroup
	m.sessions.Range(func(k, v any) bool {
		m.sessions.Delete(k)
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close()
		}(v.(*Session)) //nolint:forcetypeassert // only *Session is stored
		return true
	})
	wg.Wait()
}
