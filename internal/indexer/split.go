package indexer

import (
	"strings"
	"unicode/utf8"
)

// splitSection sub-splits a section above MaxChunkRunes. Paragraphs are packed
// greedily; each new piece may start with the trailing words of the previous
// one. A paragraph that alone exceeds the ceiling is hard-split. The result
// depends only on the input text and the config.
func (c *GoldmarkChunker) splitSection(section string) []string {
	limit := c.cfg.MaxChunkRunes
	if utf8.RuneCountInString(section) <= limit {
		return []string{section}
	}

	var pieces []string
	current := ""
	for _, para := range strings.Split(section, "\n\n") {
		para = strings.Trim(para, "\r\n")
		if strings.TrimSpace(para) == "" {
			continue
		}

		if current != "" && utf8.RuneCountInString(current)+2+utf8.RuneCountInString(para) > limit {
			pieces = append(pieces, current)
			current = c.withOverlap(current, para)
			continue
		}

		if current == "" {
			current = para
		} else {
			current += "\n\n" + para
		}
	}
	if current != "" {
		pieces = append(pieces, current)
	}

	result := make([]string, 0, len(pieces))
	for _, piece := range pieces {
		result = append(result, hardSplit(piece, limit)...)
	}
	return result
}

// withOverlap starts the next piece with the tail of prev when both fit.
func (c *GoldmarkChunker) withOverlap(prev, para string) string {
	tail := overlapTail(prev, c.cfg.OverlapRunes)
	if tail == "" {
		return para
	}
	if utf8.RuneCountInString(tail)+2+utf8.RuneCountInString(para) > c.cfg.MaxChunkRunes {
		return para
	}
	return tail + "\n\n" + para
}

// overlapTail returns the longest run of trailing words of s whose
// space-joined length is at most limit runes.
func overlapTail(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	words := strings.Fields(s)
	start := len(words)
	size := 0
	for start > 0 {
		add := utf8.RuneCountInString(words[start-1])
		if size > 0 {
			add++
		}
		if size+add > limit {
			break
		}
		size += add
		start--
	}
	return strings.Join(words[start:], " ")
}

// hardSplit cuts s into pieces of at most limit runes, preferring the last
// newline, then the last sentence end, then a plain rune boundary.
func hardSplit(s string, limit int) []string {
	runes := []rune(s)
	if len(runes) <= limit {
		return []string{s}
	}

	var out []string
	start := 0
	for start < len(runes) {
		end := start + limit
		if end >= len(runes) {
			if piece := strings.TrimSpace(string(runes[start:])); piece != "" {
				out = append(out, piece)
			}
			break
		}

		window := string(runes[start:end])
		cut := end
		if i := strings.LastIndex(window, "\n"); i > 0 {
			cut = start + utf8.RuneCountInString(window[:i+1])
		} else if i := strings.LastIndex(window, ". "); i > 0 {
			cut = start + utf8.RuneCountInString(window[:i+2])
		}

		if piece := strings.TrimSpace(string(runes[start:cut])); piece != "" {
			out = append(out, piece)
		}
		start = cut
	}
	return out
}
