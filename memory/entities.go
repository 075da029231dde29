package memory

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind identifies one of the entity schemas sharing the substrate.
type Kind string

const (
	KindTurn     Kind = "turn"
	KindSummary  Kind = "summary"
	KindDocument Kind = "document"
	KindAgent    Kind = "agent"
)

// collectionName maps an entity kind to its substrate collection.
func collectionName(k Kind) string {
	switch k {
	case KindTurn:
		return "conversation_history"
	case KindSummary:
		return "conversation_summaries"
	case KindDocument:
		return "rag_documents"
	case KindAgent:
		return "agent_cards"
	default:
		return string(k)
	}
}

// Entity is the contract every stored kind satisfies. EmbeddingText is
// the canonical text the entity is embedded from; IndexFields are the
// exact-match filterable fields mirrored into the substrate.
type Entity interface {
	EntityID() string
	EmbeddingText() string
	IndexFields() map[string]string
	Validate() error
}

// Metadata is an open key/value bag restricted to a closed set of
// primitive value types: string, number, bool, or time.Time. The
// restriction is enforced at Put time to keep payload schemas from
// drifting while staying extensible.
type Metadata map[string]any

func (m Metadata) validate() error {
	for k, v := range m {
		switch v.(type) {
		case string, bool, int, int32, int64, float32, float64, time.Time:
		default:
			return fmt.Errorf("%w: metadata key %q has unsupported type %T", ErrValidation, k, v)
		}
	}
	return nil
}

// Turn is one user message plus one agent response, the atomic unit of
// conversational history. Turns form an append-only log per session:
// they are never deleted, only flagged superseded once folded into a
// summary.
type Turn struct {
	ID         string    `json:"turn_id"`
	SessionID  string    `json:"session_id"`
	Sequence   int       `json:"sequence_number"`
	UserText   string    `json:"user_text"`
	AgentText  string    `json:"agent_text"`
	Timestamp  time.Time `json:"timestamp"`
	URLs       []string  `json:"urls,omitempty"`
	Metadata   Metadata  `json:"metadata,omitempty"`
	Superseded bool      `json:"superseded"`
}

func (t Turn) EntityID() string { return t.ID }

func (t Turn) EmbeddingText() string {
	return t.UserText + "\n" + t.AgentText
}

func (t Turn) IndexFields() map[string]string {
	return map[string]string{
		"kind":       string(KindTurn),
		"session_id": t.SessionID,
		"superseded": strconv.FormatBool(t.Superseded),
	}
}

func (t Turn) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: turn id required", ErrValidation)
	}
	if t.SessionID == "" {
		return fmt.Errorf("%w: turn session_id required", ErrValidation)
	}
	if t.Sequence < 0 {
		return fmt.Errorf("%w: turn sequence_number must be >= 0", ErrValidation)
	}
	if t.UserText == "" && t.AgentText == "" {
		return fmt.Errorf("%w: turn has no text", ErrValidation)
	}
	return t.Metadata.validate()
}

// Summary is a compaction artifact covering a contiguous, inclusive
// range of turn sequence numbers. Immutable after creation. Superseded
// turns relate to their summary by range membership; no pointer is
// stored.
type Summary struct {
	ID        string    `json:"summary_id"`
	SessionID string    `json:"session_id"`
	FromSeq   int       `json:"covers_from"`
	ToSeq     int       `json:"covers_to"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`

	// Bookkeeping captured at compaction time.
	MessageCount     int      `json:"message_count"`
	URLs             []string `json:"urls,omitempty"`
	OriginalTokens   int      `json:"original_token_count"`
	CompressedTokens int      `json:"compressed_token_count"`
}

func (s Summary) EntityID() string { return s.ID }

func (s Summary) EmbeddingText() string { return s.Text }

func (s Summary) IndexFields() map[string]string {
	return map[string]string{
		"kind":       string(KindSummary),
		"session_id": s.SessionID,
	}
}

func (s Summary) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: summary id required", ErrValidation)
	}
	if s.SessionID == "" {
		return fmt.Errorf("%w: summary session_id required", ErrValidation)
	}
	if s.FromSeq < 0 || s.ToSeq < s.FromSeq {
		return fmt.Errorf("%w: summary covers invalid range [%d, %d]", ErrValidation, s.FromSeq, s.ToSeq)
	}
	if strings.TrimSpace(s.Text) == "" {
		return fmt.Errorf("%w: summary text required", ErrValidation)
	}
	return nil
}

// Covers reports whether seq falls inside the summary's range.
func (s Summary) Covers(seq int) bool {
	return seq >= s.FromSeq && seq <= s.ToSeq
}

// Overlaps reports whether [from, to] intersects the summary's range.
func (s Summary) Overlaps(from, to int) bool {
	return from <= s.ToSeq && to >= s.FromSeq
}

// Document is one chunk of an externally supplied reference blob.
type Document struct {
	DocumentID  string    `json:"document_id"`
	ChunkID     string    `json:"chunk_id"`
	Source      string    `json:"source"`
	Text        string    `json:"text"`
	Description string    `json:"description,omitempty"`
	IngestedAt  time.Time `json:"ingested_at"`
	Metadata    Metadata  `json:"metadata,omitempty"`
}

func (d Document) EntityID() string { return d.ChunkID }

func (d Document) EmbeddingText() string { return d.Text }

func (d Document) IndexFields() map[string]string {
	return map[string]string{
		"kind":        string(KindDocument),
		"document_id": d.DocumentID,
	}
}

func (d Document) Validate() error {
	if d.DocumentID == "" {
		return fmt.Errorf("%w: document_id required", ErrValidation)
	}
	if d.ChunkID == "" {
		return fmt.Errorf("%w: document chunk_id required", ErrValidation)
	}
	if strings.TrimSpace(d.Text) == "" {
		return fmt.Errorf("%w: document text required", ErrValidation)
	}
	return d.Metadata.validate()
}

// AgentDescriptor is the searchable card of a registered agent. The
// registry owning agents is external; descriptors are stored here so a
// single query can span them alongside conversational history.
type AgentDescriptor struct {
	Name         string    `json:"name"`
	Version      string    `json:"version"`
	Description  string    `json:"description"`
	Domain       string    `json:"domain,omitempty"`
	Capabilities []string  `json:"capabilities,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

func (a AgentDescriptor) EntityID() string {
	return a.Name + "@" + a.Version
}

func (a AgentDescriptor) EmbeddingText() string {
	parts := []string{
		"Name: " + a.Name,
		"Domain: " + a.Domain,
		"Description: " + a.Description,
	}
	if len(a.Capabilities) > 0 {
		parts = append(parts, "Capabilities: "+strings.Join(a.Capabilities, ", "))
	}
	return strings.Join(parts, "\n")
}

func (a AgentDescriptor) IndexFields() map[string]string {
	fields := map[string]string{
		"kind": string(KindAgent),
		"name": a.Name,
	}
	if a.Domain != "" {
		fields["domain"] = a.Domain
	}
	return fields
}

func (a AgentDescriptor) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("%w: agent name required", ErrValidation)
	}
	if a.Version == "" {
		return fmt.Errorf("%w: agent version required", ErrValidation)
	}
	if strings.TrimSpace(a.Description) == "" {
		return fmt.Errorf("%w: agent description required", ErrValidation)
	}
	return nil
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// ExtractURLs returns the deduplicated, sorted set of URLs mentioned
// in the given texts, with trailing sentence punctuation stripped.
func ExtractURLs(texts ...string) []string {
	seen := make(map[string]struct{})
	for _, text := range texts {
		for _, u := range urlPattern.FindAllString(text, -1) {
			u = strings.TrimRight(u, ".,;:!?")
			if u != "" {
				seen[u] = struct{}{}
			}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	urls := make([]string, 0, len(seen))
	for u := range seen {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}
