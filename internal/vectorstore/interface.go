package vectorstore

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_store.go -package=mocks docembed/internal/vectorstore Store

import (
	"context"
	"sort"
)

// Payload field names shared by every backend.
const (
	FieldText       = "text"
	FieldHeading    = "heading"
	FieldChapter    = "chapter"
	FieldSource     = "source"
	FieldChunkIndex = "chunk_index"
)

// Record is one embedded chunk as persisted in a collection.
type Record struct {
	ID         string // Assigned by the Writer, see RecordID
	Vector     []float32
	Text       string
	Heading    string
	Chapter    string
	Source     string
	ChunkIndex int
}

// Filter narrows a similarity search. Empty fields are ignored.
type Filter struct {
	Chapter string
	Source  string
}

// SearchResult represents a search result from vector search.
type SearchResult struct {
	Score  float32
	Record Record // Vector is not populated
}

// Store defines the interface for vector storage operations.
type Store interface {
	// EnsureCollection creates the collection if absent. An existing collection
	// whose vector size differs from dimension is a configuration error.
	EnsureCollection(ctx context.Context, collection string, dimension int) error

	// CollectionExists checks if a collection exists.
	CollectionExists(ctx context.Context, collection string) (bool, error)

	// ExistingIndices returns the chunk indices already persisted for source.
	// A missing collection yields an empty set and no error.
	ExistingIndices(ctx context.Context, collection, source string) (IndexSet, error)

	// Insert writes all records in one call; either every record lands or an error is returned.
	Insert(ctx context.Context, collection string, records []Record) error

	// Search performs a similarity search with optional filters.
	Search(ctx context.Context, collection string, query []float32, k int, filter Filter) ([]SearchResult, error)

	// Close releases the underlying client.
	Close() error
}

// IndexSet is a set of chunk indices.
type IndexSet map[int]struct{}

// NewIndexSet returns a set holding indices.
func NewIndexSet(indices ...int) IndexSet {
	s := make(IndexSet, len(indices))
	for _, i := range indices {
		s.Add(i)
	}
	return s
}

// Add inserts i.
func (s IndexSet) Add(i int) {
	s[i] = struct{}{}
}

// Has reports whether i is in the set. Safe on a nil set.
func (s IndexSet) Has(i int) bool {
	_, ok := s[i]
	return ok
}

// Len returns the number of indices.
func (s IndexSet) Len() int {
	return len(s)
}

// Sorted returns the indices in ascending order.
func (s IndexSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for i := range s {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}
