package memory

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// summaryInstruction is the fixed template sent to the generator. One
// generation call per compaction; its output becomes the summary text.
const summaryInstruction = `Summarize this conversation segment, preserving key information:

%s

Extract:
1. Main topics discussed
2. Important decisions or conclusions
3. URLs or resources mentioned
4. Key facts or data points
5. Action items or next steps

Provide a dense, structured summary that maintains searchable context.`

// CompactionResult reports a completed compaction: the summary that
// now stands in for the folded turns, and the non-superseded turns
// that remain, in sequence order.
type CompactionResult struct {
	Summary   *Summary
	Remaining []Turn
}

// Compactor decides whether a session's history exceeds its budget
// and, when it does, folds a contiguous prefix of old turns into a
// single generated summary.
//
// One running summary per session: each compaction folds the prior
// summary's text into the generation prompt and covers only the newly
// compacted window, so summary ranges stay disjoint and summaries are
// never themselves re-compacted.
type Compactor struct {
	turns     *Collection[Turn]
	summaries *Collection[Summary]
	generator Generator
	cfg       Config
}

// NewCompactor wires the compaction engine.
func NewCompactor(turns *Collection[Turn], summaries *Collection[Summary], generator Generator, cfg Config) *Compactor {
	return &Compactor{
		turns:     turns,
		summaries: summaries,
		generator: generator,
		cfg:       cfg.withDefaults(),
	}
}

// Compact runs one compaction attempt for the session. It returns
// (nil, nil) when nothing needs doing. Generation and storage errors
// are returned for the caller to log; the caller retries
// opportunistically on a later turn. A failed compaction never loses
// turns: superseded flags are flipped only after the summary is
// durably stored.
func (c *Compactor) Compact(ctx context.Context, sess Session, prior *Summary) (*CompactionResult, error) {
	turns, err := c.turns.List(ctx, map[string]string{
		"session_id": sess.ID,
		"superseded": "false",
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("list session turns: %w", err)
	}
	sort.Slice(turns, func(i, j int) bool { return turns[i].Sequence < turns[j].Sequence })

	total := 0
	if prior != nil {
		total += Estimate(prior.Text)
	}
	for _, t := range turns {
		total += EstimateTurn(t)
	}

	if float64(total) < sess.SummarizationThreshold*float64(sess.TokenBudget) {
		return nil, nil
	}
	// Recency is never sacrificed: with MinRecentTurns or fewer turns,
	// compaction cannot trigger regardless of token count.
	if len(turns) <= sess.MinRecentTurns {
		return nil, nil
	}

	window := c.selectWindow(turns, sess.MinRecentTurns, total)
	if len(window) == 0 {
		return nil, nil
	}
	lo, hi := window[0].Sequence, window[len(window)-1].Sequence

	// A retry that finds the window already covered by a stored summary
	// resumes by flipping the remaining flags and succeeds without a
	// second generation (idempotent no-op).
	if resumed, err := c.resumeIfCovered(ctx, turns, lo, hi); resumed != nil || err != nil {
		return resumed, err
	}

	text, err := c.generator.Generate(ctx, c.buildPrompt(prior, window))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailure, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: generator returned an empty summary", ErrGenerationFailure)
	}

	windowTokens := 0
	for _, t := range window {
		windowTokens += EstimateTurn(t)
	}
	if prior != nil {
		windowTokens += Estimate(prior.Text)
	}

	summary := Summary{
		ID:               uuid.New().String(),
		SessionID:        sess.ID,
		FromSeq:          lo,
		ToSeq:            hi,
		Text:             text,
		Timestamp:        time.Now(),
		MessageCount:     len(window),
		URLs:             mergeURLs(window),
		OriginalTokens:   windowTokens,
		CompressedTokens: Estimate(text),
	}

	// Store the summary first: if the superseded flags are never
	// flipped (crash, cancellation), no turn is lost and the next
	// attempt resumes via range overlap.
	if _, err := c.summaries.Put(ctx, summary); err != nil {
		return nil, fmt.Errorf("store summary: %w", err)
	}
	if err := c.turns.MarkSuperseded(ctx, turnIDs(window)); err != nil {
		return nil, fmt.Errorf("mark superseded: %w", err)
	}

	log.Printf("[COMPACT] Session %s: folded turns [%d, %d] (%d tokens) into summary %s (%d tokens)",
		sess.ID, lo, hi, windowTokens, summary.ID, summary.CompressedTokens)

	return &CompactionResult{
		Summary:   &summary,
		Remaining: turns[len(window):],
	}, nil
}

// selectWindow picks the oldest turns whose cumulative cost reaches
// the target fraction of the current total, never touching the
// MinRecentTurns newest.
func (c *Compactor) selectWindow(turns []Turn, minRecent, total int) []Turn {
	maxWindow := len(turns) - minRecent
	target := c.cfg.CompactionTargetFraction * float64(total)

	cum := 0
	end := 0
	for end < maxWindow {
		cum += EstimateTurn(turns[end])
		end++
		if float64(cum) >= target {
			break
		}
	}
	return turns[:end]
}

// resumeIfCovered checks stored summaries for overlap with the
// candidate window [lo, hi]. On overlap it finishes the superseded
// bookkeeping for the covering summary and reports the compaction as
// already done.
func (c *Compactor) resumeIfCovered(ctx context.Context, turns []Turn, lo, hi int) (*CompactionResult, error) {
	existing, err := c.summaries.List(ctx, map[string]string{"session_id": turns[0].SessionID}, 0)
	if err != nil {
		return nil, fmt.Errorf("list session summaries: %w", err)
	}

	var covering *Summary
	for i := range existing {
		if existing[i].Overlaps(lo, hi) {
			if covering == nil || existing[i].ToSeq > covering.ToSeq {
				covering = &existing[i]
			}
		}
	}
	if covering == nil {
		return nil, nil
	}

	log.Printf("[COMPACT] Session %s: window [%d, %d] already covered by summary %s, resuming",
		covering.SessionID, lo, hi, covering.ID)

	var ids []string
	var remaining []Turn
	for _, t := range turns {
		if covering.Covers(t.Sequence) {
			ids = append(ids, t.ID)
		} else {
			remaining = append(remaining, t)
		}
	}
	if err := c.turns.MarkSuperseded(ctx, ids); err != nil {
		return nil, fmt.Errorf("mark superseded: %w", err)
	}
	return &CompactionResult{Summary: covering, Remaining: remaining}, nil
}

// buildPrompt concatenates the prior summary (if any) and the window's
// turns in sequence order.
func (c *Compactor) buildPrompt(prior *Summary, window []Turn) string {
	var b strings.Builder
	if prior != nil {
		b.WriteString("Summary of the conversation so far:\n")
		b.WriteString(prior.Text)
		b.WriteString("\n\n")
	}
	for _, t := range window {
		ts := t.Timestamp.Format("15:04:05")
		fmt.Fprintf(&b, "[%s] User: %s\n[%s] Assistant: %s\n", ts, t.UserText, ts, t.AgentText)
	}
	return fmt.Sprintf(summaryInstruction, b.String())
}

func mergeURLs(turns []Turn) []string {
	seen := make(map[string]struct{})
	for _, t := range turns {
		for _, u := range t.URLs {
			seen[u] = struct{}{}
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

func turnIDs(turns []Turn) []string {
	ids := make([]string, len(turns))
	for i, t := range turns {
		ids[i] = t.ID
	}
	return ids
}
