// Package corpus finds the markdown documents an ingestion run should read.
package corpus

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"docembed/internal/apperr"
)

// Document is one markdown file to ingest.
type Document struct {
	Source string // Identifier stored with every chunk (e.g., "book.md" or "guides/setup.md")
	Path   string // File path on disk
}

// Resolve turns path into documents. A file yields itself with its base name
// as source. A directory is walked for .md files, skipping hidden directories,
// with the slash-separated relative path as source. Documents are sorted by source.
//
// The source depends on how a file is reached: sub/book.md is "book.md" when
// passed directly and "sub/book.md" when found under its parent. Chunks are
// keyed by source, so the two forms are stored as different documents.
func Resolve(ctx context.Context, path string) ([]Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrConfig, "failed to access input", err)
	}

	if !info.IsDir() {
		return []Document{{Source: filepath.Base(path), Path: path}}, nil
	}

	var docs []Document
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to access path %s: %w", p, err)
		}

		// Check for context cancellation
		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			// Skip hidden directories (.git, .obsidian, ...) but never the root
			if p != path && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		if !strings.EqualFold(filepath.Ext(p), ".md") {
			return nil
		}

		relPath, err := filepath.Rel(path, p)
		if err != nil {
			return fmt.Errorf("failed to compute relative path for %s: %w", p, err)
		}

		docs = append(docs, Document{
			Source: filepath.ToSlash(relPath),
			Path:   p,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", path, err)
	}

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].Source < docs[j].Source
	})
	return docs, nil
}
