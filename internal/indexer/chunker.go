package indexer

import (
	"bytes"
	"iter"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// ChunkConfig controls where the chunker cuts a document.
type ChunkConfig struct {
	SplitDepth    int // Headings at this depth or shallower open a new chunk (1-6)
	ChapterLevel  int // Headings at this depth or shallower start a chapter, 0 disables
	MaxChunkRunes int // Sections longer than this are sub-split
	OverlapRunes  int // Trailing words carried into the next sub-split piece
}

// DefaultChunkConfig splits on every heading level with chapters at level 1,
// 1500-rune chunks and a 200-rune overlap.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		SplitDepth:    6,
		ChapterLevel:  1,
		MaxChunkRunes: 1500,
		OverlapRunes:  200,
	}
}

// GoldmarkChunker chunks markdown content using goldmark AST parsing.
//
// Only the heading positions come from the AST; chunk text is the raw source
// between two boundaries, so re-chunking identical bytes yields identical chunks.
type GoldmarkChunker struct {
	parser goldmark.Markdown
	cfg    ChunkConfig
}

// NewGoldmarkChunker creates a new goldmark chunker. Zero SplitDepth and
// MaxChunkRunes fall back to the defaults.
func NewGoldmarkChunker(cfg ChunkConfig) *GoldmarkChunker {
	defaults := DefaultChunkConfig()
	if cfg.SplitDepth <= 0 || cfg.SplitDepth > 6 {
		cfg.SplitDepth = defaults.SplitDepth
	}
	if cfg.MaxChunkRunes <= 0 {
		cfg.MaxChunkRunes = defaults.MaxChunkRunes
	}
	if cfg.OverlapRunes < 0 || cfg.OverlapRunes >= cfg.MaxChunkRunes {
		cfg.OverlapRunes = 0
	}
	if cfg.ChapterLevel < 0 {
		cfg.ChapterLevel = 0
	}
	return &GoldmarkChunker{
		parser: goldmark.New(
			goldmark.WithExtensions(extension.Table),
		),
		cfg: cfg,
	}
}

// Config returns the effective configuration.
func (c *GoldmarkChunker) Config() ChunkConfig {
	return c.cfg
}

// Version fingerprints ChunkerVersion and the chunking params.
func (c *GoldmarkChunker) Version() string {
	return IndexVersion(c.cfg, "")
}

// Chunks returns the chunks of content in document order. The sequence is
// lazy and restartable: each range re-parses content from scratch.
func (c *GoldmarkChunker) Chunks(content []byte, source string) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		tracker := newChapterTracker(c.cfg.ChapterLevel)
		index := 0
		for _, sec := range c.sections(content) {
			chapter := tracker.Current()
			if sec.level > 0 {
				chapter = tracker.Observe(sec.level, sec.heading)
			}
			for _, piece := range c.splitSection(sec.text) {
				chunk := Chunk{
					Index:   index,
					Level:   sec.level,
					Heading: sec.heading,
					Chapter: chapter,
					Text:    piece,
					Source:  source,
				}
				if !yield(chunk) {
					return
				}
				index++
			}
		}
	}
}

// ChunkAll collects Chunks into a slice. An empty document yields an empty slice.
func (c *GoldmarkChunker) ChunkAll(content []byte, source string) []Chunk {
	chunks := []Chunk{}
	for chunk := range c.Chunks(content, source) {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// section is the raw text owned by one boundary heading (or the front matter).
type section struct {
	level   int
	heading string
	text    string
}

// headingMark locates a boundary heading in the source.
type headingMark struct {
	start int // Byte offset of the heading line
	level int
	text  string
}

// sections cuts content at boundary headings. Blank leading content is dropped;
// a heading with no body still owns a section holding its own line.
func (c *GoldmarkChunker) sections(content []byte) []section {
	if len(bytes.TrimSpace(content)) == 0 {
		return nil
	}

	marks := c.findHeadings(content)

	var out []section
	first := len(content)
	if len(marks) > 0 {
		first = marks[0].start
	}
	if lead := trimBlankLines(string(content[:first])); lead != "" {
		out = append(out, section{text: lead})
	}

	for i, m := range marks {
		end := len(content)
		if i+1 < len(marks) {
			end = marks[i+1].start
		}
		out = append(out, section{
			level:   m.level,
			heading: m.text,
			text:    trimBlankLines(string(content[m.start:end])),
		})
	}
	return out
}

// trimBlankLines drops leading and trailing blank lines but keeps the
// indentation of the first line, which is significant for indented code.
func trimBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	if start == end {
		return ""
	}
	lines[end-1] = strings.TrimRight(lines[end-1], " \t\r")
	return strings.Join(lines[start:end], "\n")
}

// findHeadings returns top-level headings with level <= SplitDepth in source order.
// Headings nested in lists or block quotes and '#' lines inside code blocks are
// not boundaries.
func (c *GoldmarkChunker) findHeadings(content []byte) []headingMark {
	reader := text.NewReader(content)
	doc := c.parser.Parser().Parse(reader)

	var marks []headingMark
	cursor := 0
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		heading, ok := n.(*ast.Heading)
		if !ok {
			if stop := lastStop(n); stop > cursor {
				cursor = stop
			}
			continue
		}

		var start int
		if lines := heading.Lines(); lines.Len() > 0 {
			start = lineStart(content, lines.At(0).Start)
		} else {
			// Empty ATX headings ("##") carry no line segments
			start = nextEmptyHeading(content, cursor)
			if start < 0 {
				continue
			}
		}

		if heading.Level <= c.cfg.SplitDepth {
			marks = append(marks, headingMark{
				start: start,
				level: heading.Level,
				text:  extractTextFromNode(heading, content),
			})
		}

		cursor = lineEnd(content, start)
		if stop := lastStop(heading); stop > cursor {
			cursor = stop
		}
	}
	return marks
}

// lastStop returns the largest line segment end found in a block subtree.
func lastStop(n ast.Node) int {
	if n.Type() != ast.TypeBlock {
		return 0
	}
	stop := 0
	if lines := n.Lines(); lines != nil && lines.Len() > 0 {
		stop = lines.At(lines.Len() - 1).Stop
	}
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		if s := lastStop(child); s > stop {
			stop = s
		}
	}
	return stop
}

// lineStart returns the offset of the first byte of the line containing off.
func lineStart(content []byte, off int) int {
	if off > len(content) {
		off = len(content)
	}
	return bytes.LastIndexByte(content[:off], '\n') + 1
}

// lineEnd returns the offset just past the newline ending the line at off.
func lineEnd(content []byte, off int) int {
	if i := bytes.IndexByte(content[off:], '\n'); i >= 0 {
		return off + i + 1
	}
	return len(content)
}

// nextEmptyHeading finds the first line at or after from that is an ATX
// heading marker with no text, e.g. "##" or "### ###".
func nextEmptyHeading(content []byte, from int) int {
	for pos := lineStart(content, from); pos < len(content); pos = lineEnd(content, pos) {
		line := bytes.TrimSpace(content[pos:lineEnd(content, pos)])
		if len(line) > 0 && line[0] == '#' && len(bytes.Trim(line, "# \t")) == 0 {
			return pos
		}
	}
	return -1
}

// extractTextFromNode extracts text content from a node and its children.
func extractTextFromNode(n ast.Node, content []byte) string {
	var textBuilder strings.Builder

	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch v := node.(type) {
		case *ast.Text:
			textBuilder.Write(v.Segment.Value(content))
			if v.SoftLineBreak() {
				textBuilder.WriteByte(' ')
			}
		case *ast.String:
			textBuilder.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(textBuilder.String())
}
