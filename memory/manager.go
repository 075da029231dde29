package memory

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/recallkit/recall-go/memory/substrate"
)

// ContextBundle is what the prompt-construction layer consumes: the
// session's running summary (if any) plus its most recent turns in
// sequence order. By construction it stays within the session's token
// budget up to one turn of overshoot between the trigger check and the
// compaction completing.
type ContextBundle struct {
	SessionID string
	Summary   string
	Recent    []Turn
}

// SearchQuery restricts SearchMemory. Zero-valued fields are ignored.
type SearchQuery struct {
	// SessionID limits results to one session.
	SessionID string

	// Text is the semantic query; required.
	Text string

	// From and To bound the timestamp range, inclusive.
	From, To time.Time

	// URLs keeps only entities mentioning at least one of these URLs.
	URLs []string

	// Limit caps results; defaults to 10.
	Limit int
}

// TurnOption attaches optional attributes to a new turn.
type TurnOption func(*Turn)

// WithURLs adds caller-supplied URLs to the turn, merged with the ones
// extracted from its text.
func WithURLs(urls ...string) TurnOption {
	return func(t *Turn) { t.URLs = append(t.URLs, urls...) }
}

// WithTurnMetadata attaches an open metadata map, validated at store
// time against the closed set of primitive value types.
func WithTurnMetadata(meta Metadata) TurnOption {
	return func(t *Turn) { t.Metadata = meta }
}

// Manager is the per-session orchestrator and the public entry point
// of the memory system: add a turn, get the current context, search
// history. Sessions are created on first use; different sessions
// proceed fully in parallel while writes within one session are
// serialized.
type Manager struct {
	turns     *Collection[Turn]
	summaries *Collection[Summary]
	embedder  Embedder
	compactor *Compactor
	sessions  *SessionStore
	cfg       Config
}

// NewManager wires a manager over the shared substrate. The session
// store is injected so its lifecycle is owned by the caller, not by
// package state.
func NewManager(sub substrate.Substrate, embedder Embedder, generator Generator, sessions *SessionStore, cfg Config) *Manager {
	cfg = cfg.withDefaults()
	turns := NewCollection[Turn](sub, embedder, KindTurn, cfg.OverfetchMultiplier)
	summaries := NewCollection[Summary](sub, embedder, KindSummary, cfg.OverfetchMultiplier)
	return &Manager{
		turns:     turns,
		summaries: summaries,
		embedder:  embedder,
		compactor: NewCompactor(turns, summaries, generator, cfg),
		sessions:  sessions,
		cfg:       cfg,
	}
}

// CreateSession creates a session with config overrides. Optional:
// AddTurn auto-creates sessions with defaults.
func (m *Manager) CreateSession(id string, opts ...SessionOption) Session {
	return m.sessions.state(id, opts...).session
}

// AddTurn records one user/agent exchange. It assigns the next
// sequence number, stores the embedded turn, and then attempts
// compaction if the session's estimated context exceeds its threshold.
// Storage and embedding failures are returned (losing a turn is worse
// than surfacing an error); compaction failures are logged and retried
// on a later turn, never propagated.
func (m *Manager) AddTurn(ctx context.Context, sessionID, userText, agentText string, opts ...TurnOption) (Turn, error) {
	if sessionID == "" {
		return Turn{}, fmt.Errorf("%w: session id required", ErrValidation)
	}

	st := m.sessions.state(sessionID)
	st.writeMu.Lock()
	defer st.writeMu.Unlock()

	if err := m.ensureHydrated(ctx, st); err != nil {
		return Turn{}, fmt.Errorf("hydrate session %s: %w", sessionID, err)
	}

	st.stateMu.RLock()
	seq := st.nextSeq
	st.stateMu.RUnlock()

	turn := Turn{
		ID:        ulid.Make().String(),
		SessionID: sessionID,
		Sequence:  seq,
		UserText:  userText,
		AgentText: agentText,
		Timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(&turn)
	}
	turn.URLs = ExtractURLs(append([]string{userText, agentText}, turn.URLs...)...)

	if _, err := m.turns.Put(ctx, turn); err != nil {
		return Turn{}, fmt.Errorf("store turn: %w", err)
	}

	st.stateMu.Lock()
	st.nextSeq = seq + 1
	st.recent = append(st.recent, turn)
	st.trimRecent()
	st.tokenTotal += EstimateTurn(turn)
	total := st.tokenTotal
	sess := st.session
	prior := st.summary
	st.stateMu.Unlock()

	if float64(total) >= sess.SummarizationThreshold*float64(sess.TokenBudget) {
		m.maybeCompact(ctx, st, sess, prior)
	}

	return turn, nil
}

// maybeCompact runs one compaction attempt and folds the result into
// the session state. Caller holds writeMu.
func (m *Manager) maybeCompact(ctx context.Context, st *sessionState, sess Session, prior *Summary) {
	res, err := m.compactor.Compact(ctx, sess, prior)
	if err != nil {
		log.Printf("[MEMORY] Compaction attempt failed for session %s: %v", sess.ID, err)
		return
	}
	if res == nil {
		return
	}

	total := Estimate(res.Summary.Text)
	for _, t := range res.Remaining {
		total += EstimateTurn(t)
	}

	st.stateMu.Lock()
	st.summary = res.Summary
	st.recent = append([]Turn(nil), res.Remaining...)
	st.trimRecent()
	st.tokenTotal = total
	st.stateMu.Unlock()
}

// GetContext returns the session's running summary plus up to
// maxRecent most recent non-superseded turns in sequence order.
// maxRecent defaults to 10. Reads do not wait on an in-flight AddTurn
// and may observe a session mid-compaction; that transient overlap is
// bounded and tolerated by the search-side dedup.
func (m *Manager) GetContext(ctx context.Context, sessionID string, maxRecent int) (ContextBundle, error) {
	if maxRecent <= 0 {
		maxRecent = 10
	}

	st := m.sessions.state(sessionID)
	if err := m.ensureHydrated(ctx, st); err != nil {
		return ContextBundle{}, fmt.Errorf("hydrate session %s: %w", sessionID, err)
	}

	st.stateMu.RLock()
	bundle := ContextBundle{SessionID: sessionID}
	if st.summary != nil {
		bundle.Summary = st.summary.Text
	}
	recent := append([]Turn(nil), st.recent...)
	cached := len(recent) < st.recentCap() // cache holds everything non-superseded
	st.stateMu.RUnlock()

	if maxRecent <= len(recent) {
		recent = recent[len(recent)-maxRecent:]
	} else if !cached {
		// The bounded cache cannot satisfy the request; read the full
		// non-superseded tail from the store.
		full, err := m.SessionHistory(ctx, sessionID, maxRecent)
		if err == nil {
			recent = full
		} else {
			log.Printf("[MEMORY] Falling back to cached context for session %s: %v", sessionID, err)
		}
	}
	bundle.Recent = recent
	return bundle, nil
}

// SessionHistory returns the session's most recent non-superseded
// turns in sequence order, read from the store.
func (m *Manager) SessionHistory(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 20
	}
	turns, err := m.turns.List(ctx, map[string]string{
		"session_id": sessionID,
		"superseded": "false",
	}, 0)
	if err != nil {
		return nil, err
	}
	sort.Slice(turns, func(i, j int) bool { return turns[i].Sequence < turns[j].Sequence })
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

// SearchMemory searches turns and summaries by semantic similarity,
// optionally restricted by session, time range, and URL mentions.
// Results merge by score descending. When a summary and turns it
// replaced both match, the summary takes precedence over its covered
// range. If one of the two collections fails the other's results are
// still returned; the call fails only when no source is reachable.
func (m *Manager) SearchMemory(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	if q.Limit <= 0 {
		q.Limit = 10
	}

	vec, err := m.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	equals := map[string]string{}
	if q.SessionID != "" {
		equals["session_id"] = q.SessionID
	}

	turnHits, turnErr := m.turns.Search(ctx, vec, Filter[Turn]{
		Equals: equals,
		Match: func(t Turn) bool {
			return inTimeRange(t.Timestamp, q.From, q.To) && mentionsAny(t.URLs, q.URLs)
		},
	}, q.Limit)
	if turnErr != nil {
		log.Printf("[MEMORY] Turn search degraded: %v", turnErr)
	}

	summaryHits, sumErr := m.summaries.Search(ctx, vec, Filter[Summary]{
		Equals: equals,
		Match: func(s Summary) bool {
			return inTimeRange(s.Timestamp, q.From, q.To) && mentionsAny(s.URLs, q.URLs)
		},
	}, q.Limit)
	if sumErr != nil {
		log.Printf("[MEMORY] Summary search degraded: %v", sumErr)
	}

	if turnErr != nil && sumErr != nil {
		return nil, turnErr
	}

	results := make([]SearchResult, 0, len(turnHits)+len(summaryHits))
	for i := range summaryHits {
		s := summaryHits[i].Entity
		results = append(results, SearchResult{
			Kind:    KindSummary,
			ID:      s.ID,
			Score:   summaryHits[i].Score,
			Summary: &s,
		})
	}
	for i := range turnHits {
		t := turnHits[i].Entity
		if coveredByAny(t, summaryHits) {
			continue
		}
		results = append(results, SearchResult{
			Kind:  KindTurn,
			ID:    t.ID,
			Score: turnHits[i].Score,
			Turn:  &t,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

// ensureHydrated rebuilds the in-memory session state from the store
// on first touch after process start. The cache is an optimization,
// never authoritative.
func (m *Manager) ensureHydrated(ctx context.Context, st *sessionState) error {
	st.stateMu.RLock()
	done := st.hydrated
	st.stateMu.RUnlock()
	if done {
		return nil
	}

	turns, err := m.turns.List(ctx, map[string]string{
		"session_id": st.session.ID,
		"superseded": "false",
	}, 0)
	if err != nil {
		return err
	}
	sort.Slice(turns, func(i, j int) bool { return turns[i].Sequence < turns[j].Sequence })

	sums, err := m.summaries.List(ctx, map[string]string{"session_id": st.session.ID}, 0)
	if err != nil {
		return err
	}
	var latest *Summary
	for i := range sums {
		if latest == nil || sums[i].ToSeq > latest.ToSeq {
			latest = &sums[i]
		}
	}

	nextSeq := 0
	if len(turns) > 0 {
		nextSeq = turns[len(turns)-1].Sequence + 1
	}
	if latest != nil && latest.ToSeq+1 > nextSeq {
		nextSeq = latest.ToSeq + 1
	}

	total := 0
	if latest != nil {
		total += Estimate(latest.Text)
	}
	for _, t := range turns {
		total += EstimateTurn(t)
	}

	st.stateMu.Lock()
	defer st.stateMu.Unlock()
	if st.hydrated {
		// Another caller hydrated concurrently; keep the newer state.
		return nil
	}
	st.nextSeq = nextSeq
	st.recent = turns
	st.trimRecent()
	st.summary = latest
	st.tokenTotal = total
	st.hydrated = true

	if len(turns) > 0 || latest != nil {
		log.Printf("[MEMORY] Rehydrated session %s: %d turns, next sequence %d", st.session.ID, len(turns), nextSeq)
	}
	return nil
}

func inTimeRange(ts, from, to time.Time) bool {
	if !from.IsZero() && ts.Before(from) {
		return false
	}
	if !to.IsZero() && ts.After(to) {
		return false
	}
	return true
}

func mentionsAny(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func coveredByAny(t Turn, summaries []Scored[Summary]) bool {
	for _, s := range summaries {
		if s.Entity.SessionID == t.SessionID && s.Entity.Covers(t.Sequence) {
			return true
		}
	}
	return false
}
