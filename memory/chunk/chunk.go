// Package chunk splits reference documents into pieces sized for
// embedding and retrieval. Splitting prefers paragraph boundaries and
// carries a configurable overlap between adjacent chunks so facts near
// a boundary stay retrievable from either side.
package chunk

import "strings"

const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// Options configures chunking.
type Options struct {
	// Size is the target chunk length in bytes.
	Size int

	// Overlap is how many trailing bytes of a chunk are repeated at
	// the start of the next one. Must be smaller than Size.
	Overlap int
}

// DefaultOptions returns the standard chunking parameters.
func DefaultOptions() Options {
	return Options{Size: DefaultSize, Overlap: DefaultOverlap}
}

// Split breaks text into chunks. Text at or under the target size is
// returned as a single chunk; empty text yields nil.
func Split(text string, opts Options) []string {
	if opts.Size <= 0 {
		opts = DefaultOptions()
	}
	if opts.Overlap >= opts.Size {
		opts.Overlap = opts.Size / 4
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= opts.Size {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	for _, p := range paragraphs(text) {
		// Paragraphs larger than a whole chunk get hard-split.
		if len(p) > opts.Size {
			if current.Len() > 0 {
				chunks = append(chunks, current.String())
				current.Reset()
			}
			chunks = append(chunks, hardSplit(p, opts)...)
			continue
		}

		if current.Len() > 0 && current.Len()+2+len(p) > opts.Size {
			chunks = append(chunks, current.String())
			current.Reset()
			if tail := overlapTail(chunks[len(chunks)-1], opts.Overlap); tail != "" {
				current.WriteString(tail)
				current.WriteString("\n\n")
			}
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	if strings.TrimSpace(current.String()) != "" {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// paragraphs splits on blank lines, dropping empty segments.
func paragraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// hardSplit cuts an oversized paragraph at word boundaries, with
// overlap between consecutive pieces.
func hardSplit(text string, opts Options) []string {
	words := strings.Fields(text)
	var chunks []string
	var current []string
	length := 0

	for _, w := range words {
		if length+len(w)+1 > opts.Size && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			current = overlapWords(current, opts.Overlap)
			length = joinedLen(current)
		}
		current = append(current, w)
		length += len(w) + 1
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// overlapTail returns the last wanted bytes of text, snapped forward
// to a word boundary.
func overlapTail(text string, want int) string {
	if want <= 0 || len(text) <= want {
		return ""
	}
	tail := text[len(text)-want:]
	if i := strings.IndexAny(tail, " \n"); i >= 0 {
		tail = tail[i+1:]
	}
	return strings.TrimSpace(tail)
}

// overlapWords returns the trailing words of current totalling at most
// want bytes.
func overlapWords(current []string, want int) []string {
	if want <= 0 {
		return nil
	}
	length := 0
	i := len(current)
	for i > 0 && length+len(current[i-1])+1 <= want {
		i--
		length += len(current[i]) + 1
	}
	return append([]string(nil), current[i:]...)
}

func joinedLen(words []string) int {
	n := 0
	for _, w := range words {
		n += len(w) + 1
	}
	return n
}
