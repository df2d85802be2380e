package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	// ChunkerVersion is the version identifier for the chunker implementation.
	// Update this when chunking logic changes: indices produced by different
	// versions must not be mixed in one collection.
	ChunkerVersion = "v2.1"
	// TokensPerRune is an approximation for token counting (4 chars per token).
	TokensPerRune = 4.0
)

// ChunkStats describes the chunks produced for one document.
type ChunkStats struct {
	// Chunks is the number of chunks produced.
	Chunks int `json:"chunks"`
	// HeadingOnly counts chunks whose text is just the heading line.
	HeadingOnly int `json:"heading_only"`
	// Chapters maps chapter label to chunk count.
	Chapters map[string]int `json:"chapters"`
	// ChapterOrder lists chapter labels in first-seen order.
	ChapterOrder []string `json:"chapter_order"`
	// Runes contains statistics about rune counts per chunk.
	Runes SizeStats `json:"runes"`
	// Tokens contains estimated token counts per chunk.
	Tokens SizeStats `json:"tokens"`
	// ChunkerVersion is the version of the chunker used.
	ChunkerVersion string `json:"chunker_version"`
	// IndexVersion is a hash identifying the index build (chunker + embedding model + params).
	IndexVersion string `json:"index_version"`
}

// SizeStats contains min, max, mean and p95 of a size distribution.
type SizeStats struct {
	Min  int     `json:"min"`
	Max  int     `json:"max"`
	Mean float64 `json:"mean"`
	P95  int     `json:"p95"`
}

// ComputeChunkStats summarizes chunks produced with cfg for embeddingModel.
func ComputeChunkStats(chunks []Chunk, cfg ChunkConfig, embeddingModel string) ChunkStats {
	stats := ChunkStats{
		Chunks:         len(chunks),
		Chapters:       make(map[string]int),
		ChunkerVersion: ChunkerVersion,
		IndexVersion:   IndexVersion(cfg, embeddingModel),
	}

	runeCounts := make([]int, 0, len(chunks))
	tokenCounts := make([]int, 0, len(chunks))
	for _, chunk := range chunks {
		if _, seen := stats.Chapters[chunk.Chapter]; !seen {
			stats.ChapterOrder = append(stats.ChapterOrder, chunk.Chapter)
		}
		stats.Chapters[chunk.Chapter]++

		if chunk.Level > 0 && !hasBody(chunk.Text) {
			stats.HeadingOnly++
		}

		runeCount := utf8.RuneCountInString(chunk.Text)
		runeCounts = append(runeCounts, runeCount)
		tokenCounts = append(tokenCounts, EstimateTokens(chunk.Text))
	}

	stats.Runes = computeSizeStats(runeCounts)
	stats.Tokens = computeSizeStats(tokenCounts)
	return stats
}

// EstimateTokens approximates the token count of s from its rune count.
func EstimateTokens(s string) int {
	tokens := int(math.Round(float64(utf8.RuneCountInString(s)) / TokensPerRune))
	if tokens < 1 {
		return 1
	}
	return tokens
}

// IndexVersion hashes the chunker version, embedding model and chunking params.
func IndexVersion(cfg ChunkConfig, embeddingModel string) string {
	input := fmt.Sprintf("%s|%s|splitDepth=%d|chapterLevel=%d|maxChunkRunes=%d|overlapRunes=%d",
		ChunkerVersion, embeddingModel, cfg.SplitDepth, cfg.ChapterLevel, cfg.MaxChunkRunes, cfg.OverlapRunes)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16] // 16 hex chars = 64 bits
}

// hasBody reports whether a chunk has content beyond its heading line.
// Setext underlines do not count as content.
func hasBody(text string) bool {
	lines := strings.Split(text, "\n")
	for _, line := range lines[1:] {
		if strings.Trim(line, "=- \t\r") != "" {
			return true
		}
	}
	return false
}

// computeSizeStats computes min, max, mean, and p95 from counts.
func computeSizeStats(counts []int) SizeStats {
	if len(counts) == 0 {
		return SizeStats{}
	}

	// Sort for percentile calculation
	sorted := make([]int, len(counts))
	copy(sorted, counts)
	sort.Ints(sorted)

	sum := 0
	for _, count := range counts {
		sum += count
	}
	mean := float64(sum) / float64(len(counts))

	// Nearest-rank: the ceil(0.95*n)-th smallest value, 1-based
	p95Index := int(math.Ceil(float64(len(sorted))*0.95)) - 1
	if p95Index >= len(sorted) {
		p95Index = len(sorted) - 1
	}

	return SizeStats{
		Min:  sorted[0],
		Max:  sorted[len(sorted)-1],
		Mean: math.Round(mean*100) / 100, // Round to 2 decimal places
		P95:  sorted[p95Index],
	}
}
