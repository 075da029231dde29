package memory

import (
	"sync"
	"time"
)

// Session is a logical conversation thread. Sessions are created on
// first use for a new id and never deleted automatically.
type Session struct {
	ID                     string
	CreatedAt              time.Time
	TokenBudget            int
	SummarizationThreshold float64
	MinRecentTurns         int
}

// SessionOption overrides a session's config at creation time.
type SessionOption func(*Session)

// WithTokenBudget sets the session's token budget.
func WithTokenBudget(n int) SessionOption {
	return func(s *Session) { s.TokenBudget = n }
}

// WithSummarizationThreshold sets the compaction trigger fraction.
func WithSummarizationThreshold(f float64) SessionOption {
	return func(s *Session) { s.SummarizationThreshold = f }
}

// WithMinRecentTurns sets the number of protected recent turns.
func WithMinRecentTurns(n int) SessionOption {
	return func(s *Session) { s.MinRecentTurns = n }
}

// sessionState is the manager's in-memory bookkeeping for one session.
//
// writeMu serializes the whole of AddTurn (assign sequence, store,
// maybe compact) for this session; sequence assignment and the
// compaction trigger are not atomic against the remote store without
// it. stateMu guards the fields below with short critical sections so
// GetContext and SearchMemory never wait on an in-flight writer.
type sessionState struct {
	session Session

	writeMu sync.Mutex

	stateMu    sync.RWMutex
	hydrated   bool
	nextSeq    int
	recent     []Turn // bounded to 2*MinRecentTurns, ordered by sequence
	summary    *Summary
	tokenTotal int // Estimate(summary) + sum over non-superseded turns
}

// recentCap bounds the in-memory recent-turn list. The cache is a
// performance optimization, not a source of truth: after a restart the
// first operation rehydrates it from the substrate.
func (st *sessionState) recentCap() int {
	return 2 * st.session.MinRecentTurns
}

// trimRecent drops oldest cached turns beyond the cap. Caller holds
// stateMu.
func (st *sessionState) trimRecent() {
	if cap := st.recentCap(); len(st.recent) > cap {
		st.recent = append([]Turn(nil), st.recent[len(st.recent)-cap:]...)
	}
}

// SessionStore owns the set of active sessions. It is injected into
// Manager at construction; there is no package-level registry.
type SessionStore struct {
	defaults Config

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// NewSessionStore creates an empty session store with the given
// per-session defaults.
func NewSessionStore(defaults Config) *SessionStore {
	return &SessionStore{
		defaults: defaults.withDefaults(),
		sessions: make(map[string]*sessionState),
	}
}

// state returns the session's state, creating it with defaults and the
// given overrides on first use.
func (s *SessionStore) state(id string, opts ...SessionOption) *sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.sessions[id]; ok {
		return st
	}

	sess := Session{
		ID:                     id,
		CreatedAt:              time.Now(),
		TokenBudget:            s.defaults.TokenBudget,
		SummarizationThreshold: s.defaults.SummarizationThreshold,
		MinRecentTurns:         s.defaults.MinRecentTurns,
	}
	for _, opt := range opts {
		opt(&sess)
	}

	st := &sessionState{session: sess}
	s.sessions[id] = st
	return st
}

// Session returns a copy of the session's settings and whether it
// exists.
func (s *SessionStore) Session(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	return st.session, true
}
