package chunk

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	// StrategyMarkdown splits on markdown structure (headings, lists, code blocks).
	StrategyMarkdown = "markdown"

	// StrategyRecursive splits on paragraph, line and word boundaries only.
	StrategyRecursive = "recursive"

	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 0
)

// Splitter deterministically turns a markdown document into ordered chunks.
type Splitter struct {
	strategy     string
	chunkSize    int
	chunkOverlap int
	splitter     textsplitter.TextSplitter

	// fallback re-splits documents the primary splitter cannot render
	// losslessly.
	fallback textsplitter.TextSplitter
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithStrategy selects the splitting strategy (StrategyMarkdown or StrategyRecursive).
func WithStrategy(strategy string) Option {
	return func(s *Splitter) {
		s.strategy = strategy
	}
}

// WithChunkSize sets the maximum chunk length in runes.
func WithChunkSize(size int) Option {
	return func(s *Splitter) {
		s.chunkSize = size
	}
}

// WithChunkOverlap sets how many runes consecutive chunks share.
// A non-zero overlap duplicates text across chunks.
func WithChunkOverlap(overlap int) Option {
	return func(s *Splitter) {
		s.chunkOverlap = overlap
	}
}

// NewSplitter builds a Splitter. It fails when the options are inconsistent.
func NewSplitter(opts ...Option) (*Splitter, error) {
	s := &Splitter{
		strategy:     StrategyMarkdown,
		chunkSize:    DefaultChunkSize,
		chunkOverlap: DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", s.chunkSize)
	}
	if s.chunkOverlap < 0 || s.chunkOverlap >= s.chunkSize {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", s.chunkSize, s.chunkOverlap)
	}

	recursive := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(s.chunkSize),
		textsplitter.WithChunkOverlap(s.chunkOverlap),
		textsplitter.WithSeparators([]string{"\n\n", "\n", " ", ""}),
	)

	switch s.strategy {
	case StrategyMarkdown:
		s.splitter = textsplitter.NewMarkdownTextSplitter(
			textsplitter.WithChunkSize(s.chunkSize),
			textsplitter.WithChunkOverlap(s.chunkOverlap),
			textsplitter.WithCodeBlocks(true),
			textsplitter.WithHeadingHierarchy(false),
			textsplitter.WithJoinTableRows(true),
		)
		s.fallback = recursive
	case StrategyRecursive:
		s.splitter = recursive
	default:
		return nil, fmt.Errorf("unsupported splitter strategy: %s", s.strategy)
	}

	return s, nil
}

// Strategy returns the configured strategy name.
func (s *Splitter) Strategy() string {
	return s.strategy
}

// Split splits markdown into chunks owned by sourceID. The result is a pure
// function of the input and the splitter options.
func (s *Splitter) Split(markdown, sourceID string) ([]Chunk, error) {
	if err := Validate(markdown, sourceID); err != nil {
		return nil, err
	}

	normalized := strings.ReplaceAll(markdown, "\r\n", "\n")

	pieces, err := s.splitter.SplitText(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: splitting %q: %v", ErrInvalidInput, sourceID, err)
	}
	if !s.preserves(normalized, pieces) && s.fallback != nil {
		pieces, err = s.fallback.SplitText(normalized)
		if err != nil {
			return nil, fmt.Errorf("%w: splitting %q: %v", ErrInvalidInput, sourceID, err)
		}
	}
	if !s.preserves(normalized, pieces) {
		return nil, fmt.Errorf("%w: splitting %q lost content", ErrInvalidInput, sourceID)
	}

	chunks := make([]Chunk, 0, len(pieces))
	tracker := &sectionTracker{}
	for _, piece := range pieces {
		if strings.TrimSpace(piece) == "" {
			continue
		}

		section, level := tracker.observe(piece)
		chunks = append(chunks, Chunk{
			Content:       piece,
			SourceID:      sourceID,
			SequenceIndex: len(chunks),
			Metadata: map[string]string{
				MetaSection:      section,
				MetaHeadingLevel: strconv.Itoa(level),
				MetaCharCount:    strconv.Itoa(utf8.RuneCountInString(piece)),
			},
		})
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %q produced no chunks", ErrInvalidInput, sourceID)
	}

	return chunks, nil
}

// preserves reports whether pieces carry every non-whitespace rune of source
// in order. Without overlap nothing may be added either.
func (s *Splitter) preserves(source string, pieces []string) bool {
	want := []rune(stripSpace(source))
	var b strings.Builder
	for _, piece := range pieces {
		b.WriteString(stripSpace(piece))
	}
	got := []rune(b.String())

	if s.chunkOverlap == 0 {
		return string(got) == string(want)
	}

	i := 0
	for _, r := range got {
		if i < len(want) && r == want[i] {
			i++
		}
	}
	return i == len(want)
}

func stripSpace(text string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
}

// Validate reports ErrInvalidInput when markdown cannot be treated as a
// markdown text document.
func Validate(markdown, sourceID string) error {
	if strings.TrimSpace(sourceID) == "" {
		return fmt.Errorf("%w: source id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(markdown) == "" {
		return fmt.Errorf("%w: document %q is empty", ErrInvalidInput, sourceID)
	}
	if !utf8.ValidString(markdown) {
		return fmt.Errorf("%w: document %q is not valid UTF-8", ErrInvalidInput, sourceID)
	}
	if strings.ContainsRune(markdown, 0) {
		return fmt.Errorf("%w: document %q contains NUL bytes", ErrInvalidInput, sourceID)
	}
	return nil
}

// sectionTracker follows ATX headings across consecutive chunks. Fence
// state carries over because a code block may span chunks.
type sectionTracker struct {
	heading string
	level   int
	inFence bool
}

// observe returns the section in effect at the start of piece and advances
// the tracker past every heading the piece contains.
func (t *sectionTracker) observe(piece string) (string, int) {
	startHeading, startLevel := t.heading, t.level
	first := true

	for line := range strings.SplitSeq(piece, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			t.inFence = !t.inFence
			first = false
			continue
		}
		if t.inFence {
			continue
		}

		title, level, ok := parseHeading(trimmed)
		if ok {
			t.heading, t.level = title, level
			if first {
				startHeading, startLevel = title, level
			}
		}
		first = false
	}

	return startHeading, startLevel
}

// parseHeading recognises "# Title" through "###### Title".
func parseHeading(line string) (string, int, bool) {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return "", 0, false
	}
	if level == len(line) {
		return "", 0, false
	}
	if line[level] != ' ' && line[level] != '\t' {
		return "", 0, false
	}

	title := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(line[level:]), "#"))
	if title == "" {
		return "", 0, false
	}
	return title, level, true
}
