package service

import (
	"iter"
	"strings"
	"unicode"

	"github.com/cloo-solutions/salesdojo/internal/domain"
)

// ChunkConfig controls how extracted text is split before embedding.
// Lengths are in characters (runes), never bytes.
type ChunkConfig struct {
	MaxChars  int
	MinChars  int
	Overlap   int
	MaxChunks int
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxChars:  1000,
		MinChars:  300,
		Overlap:   150,
		MaxChunks: 2000,
	}
}

// Chunker splits documents into overlapping segments. It holds no state
// besides its configuration and is safe for concurrent use.
type Chunker struct {
	cfg ChunkConfig
}

func NewChunker(cfg ChunkConfig) *Chunker {
	def := DefaultChunkConfig()
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = def.MaxChars
	}
	if cfg.MinChars < 0 || cfg.MinChars > cfg.MaxChars {
		cfg.MinChars = cfg.MaxChars / 3
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.MaxChars {
		cfg.Overlap = 0
	}
	return &Chunker{cfg: cfg}
}

// Items returns a lazy sequence of chunks for doc. The sequence can be
// ranged over any number of times and yields identical items each time.
func (c *Chunker) Items(doc domain.Document, text string) iter.Seq[domain.IngestionItem] {
	return func(yield func(domain.IngestionItem) bool) {
		i := 0
		for segment := range c.segments(text, nil) {
			item := domain.IngestionItem{
				TenantID:   doc.TenantID,
				SourceName: doc.SourceName,
				SourceType: doc.SourceType,
				Index:      i,
				Text:       segment,
			}
			if !yield(item) {
				return
			}
			i++
		}
	}
}

// Split collects the chunks of text eagerly. truncated reports that text
// had content left when MaxChunks was reached. It returns
// domain.ErrNothingToIngest when text has no content.
func (c *Chunker) Split(doc domain.Document, text string) (items []domain.IngestionItem, truncated bool, err error) {
	for segment := range c.segments(text, &truncated) {
		items = append(items, domain.IngestionItem{
			TenantID:   doc.TenantID,
			SourceName: doc.SourceName,
			SourceType: doc.SourceType,
			Index:      len(items),
			Text:       segment,
		})
	}
	if len(items) == 0 {
		return nil, false, domain.ErrNothingToIngest
	}
	return items, truncated, nil
}

// MaxChunks is the per-document chunk cap, zero when unbounded.
func (c *Chunker) MaxChunks() int {
	return c.cfg.MaxChunks
}

func (c *Chunker) segments(text string, truncated *bool) iter.Seq[string] {
	return func(yield func(string) bool) {
		runes := []rune(normalizeText(text))
		if len(runes) == 0 {
			return
		}

		count := 0
		start := 0
		for start < len(runes) {
			if c.cfg.MaxChunks > 0 && count >= c.cfg.MaxChunks {
				if truncated != nil && strings.TrimSpace(string(runes[start:])) != "" {
					*truncated = true
				}
				return
			}

			end := min(start+c.cfg.MaxChars, len(runes))
			if end < len(runes) {
				end = c.cutPoint(runes, start, end)
			}

			if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
				if !yield(chunk) {
					return
				}
				count++
			}

			if end >= len(runes) {
				return
			}
			start = c.nextStart(runes, start, end)
		}
	}
}

// cutPoint picks where a chunk ending near end should stop: a paragraph
// break, then a sentence end, then any whitespace, each no earlier than
// start+MinChars. Without any of those the chunk is cut hard at end.
func (c *Chunker) cutPoint(runes []rune, start, end int) int {
	minCut := start + c.cfg.MinChars
	if minCut >= end {
		minCut = start + 1
	}

	for i := end; i > minCut; i-- {
		if runes[i-1] == '\n' && runes[i-2] == '\n' {
			return i
		}
	}
	for i := end; i > minCut; i-- {
		if unicode.IsSpace(runes[i-1]) && isSentenceEnd(runes[i-2]) {
			return i
		}
	}
	for i := end; i > minCut; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}

// nextStart steps back by Overlap and then forward to a word boundary so
// the overlap does not begin mid-word.
func (c *Chunker) nextStart(runes []rune, start, end int) int {
	if c.cfg.Overlap == 0 || end-start <= c.cfg.Overlap {
		return end
	}
	next := end - c.cfg.Overlap
	for i := next; i < end; i++ {
		if unicode.IsSpace(runes[i]) {
			next = i + 1
			break
		}
	}
	if next <= start || next >= end {
		return end
	}
	return next
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', ';', ':':
		return true
	}
	return false
}

// normalizeText unifies line endings, drops control characters and
// collapses runs of blank lines and spaces.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var b strings.Builder
	b.Grow(len(text))
	newlines, spaces := 0, 0
	for _, r := range text {
		switch {
		case r == '\n':
			newlines++
			spaces = 0
			continue
		case r == '\t' || r == ' ' || r == '\u00a0':
			spaces++
			continue
		case unicode.IsControl(r) || r == unicode.ReplacementChar:
			continue
		}

		if b.Len() > 0 {
			switch {
			case newlines >= 2:
				b.WriteString("\n\n")
			case newlines == 1:
				b.WriteByte('\n')
			case spaces > 0:
				b.WriteByte(' ')
			}
		}
		newlines, spaces = 0, 0
		b.WriteRune(r)
	}
	return b.String()
}
