package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docembed/internal/apperr"
)

// newMockWeaviate serves schema lookups for the listed classes and hands every
// other request to handler.
func newMockWeaviate(t *testing.T, classes []string, handler func(w http.ResponseWriter, r *http.Request, body map[string]interface{})) *WeaviateStore {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/v1/meta":
			_, _ = w.Write([]byte(`{"version": "1.33.0"}`))
			return
		case r.URL.Path == "/v1/schema" && r.Method == http.MethodGet:
			list := make([]map[string]string, 0, len(classes))
			for _, c := range classes {
				list = append(list, map[string]string{"class": c})
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"classes": list})
			return
		case strings.HasPrefix(r.URL.Path, "/v1/schema/") && r.Method == http.MethodGet:
			name := strings.TrimPrefix(r.URL.Path, "/v1/schema/")
			for _, c := range classes {
				if c == name {
					_ = json.NewEncoder(w).Encode(map[string]string{"class": c})
					return
				}
			}
			w.WriteHeader(http.StatusNotFound)
			return
		}

		var body map[string]interface{}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		handler(w, r, body)
	}))
	t.Cleanup(ts.Close)

	store, err := NewWeaviateStore(ts.Listener.Addr().String(), "http")
	require.NoError(t, err)
	return store
}

func graphQLReply(w http.ResponseWriter, className string, objects []map[string]interface{}) {
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data": map[string]interface{}{
			"Get": map[string]interface{}{className: objects},
		},
	})
}

func TestClassName(t *testing.T) {
	assert.Equal(t, "Music_processing", ClassName("music_processing"))
	assert.Equal(t, "Book", ClassName("Book"))
	assert.Equal(t, "", ClassName(""))
}

func TestWeaviateStore_ExistingIndices_MissingClass(t *testing.T) {
	store := newMockWeaviate(t, nil, func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	})

	set, err := store.ExistingIndices(context.Background(), "book", "book.md")
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())
}

func TestWeaviateStore_ExistingIndices_Pages(t *testing.T) {
	calls := 0
	store := newMockWeaviate(t, []string{"Book"}, func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
		assert.Equal(t, "/v1/graphql", r.URL.Path)
		query, _ := body["query"].(string)
		assert.Contains(t, query, "Book")
		assert.Contains(t, query, "source")
		assert.Contains(t, query, "book.md")
		assert.Contains(t, query, "limit: 1000")
		assert.Contains(t, query, `sort:[{path:["chunk_index"] order:asc}]`)
		assert.NotContains(t, query, "offset")
		calls++

		// Indices are sparse, so each page must start after the last index seen.
		var objects []map[string]interface{}
		switch {
		case strings.Contains(query, "valueInt: -1"):
			for i := 0; i < existingPageSize; i++ {
				objects = append(objects, map[string]interface{}{FieldChunkIndex: float64(i * 20)})
			}
		case strings.Contains(query, "valueInt: 19980"):
			objects = []map[string]interface{}{
				{FieldChunkIndex: float64(20000)},
				{FieldChunkIndex: float64(20001)},
			}
		default:
			t.Errorf("unexpected page query: %s", query)
		}
		graphQLReply(w, "Book", objects)
	})

	set, err := store.ExistingIndices(context.Background(), "book", "book.md")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1002, set.Len())
	assert.True(t, set.Has(0))
	assert.True(t, set.Has(19980))
	assert.True(t, set.Has(20001))
}

func TestWeaviateStore_ExistingIndices_GraphQLError(t *testing.T) {
	store := newMockWeaviate(t, []string{"Book"}, func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"errors": []map[string]interface{}{{"message": "boom"}},
		})
	})

	_, err := store.ExistingIndices(context.Background(), "book", "book.md")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrTransient))
	assert.Contains(t, err.Error(), "boom")
}

func TestWeaviateStore_Insert(t *testing.T) {
	id := RecordID("book", "book.md", 3).String()
	store := newMockWeaviate(t, []string{"Book"}, func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
		assert.Equal(t, "/v1/batch/objects", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		objects, _ := body["objects"].([]interface{})
		if !assert.Len(t, objects, 1) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		obj := objects[0].(map[string]interface{})
		assert.Equal(t, "Book", obj["class"])
		assert.Equal(t, id, obj["id"])
		props := obj["properties"].(map[string]interface{})
		assert.Equal(t, "body", props[FieldText])
		assert.Equal(t, float64(3), props[FieldChunkIndex])

		_ = json.NewEncoder(w).Encode([]map[string]interface{}{
			{"class": "Book", "id": id, "result": map[string]interface{}{}},
		})
	})

	err := store.Insert(context.Background(), "book", []Record{{
		ID:         id,
		Vector:     []float32{0.1, 0.2},
		Text:       "body",
		Source:     "book.md",
		ChunkIndex: 3,
	}})
	require.NoError(t, err)
}

func TestWeaviateStore_Insert_ObjectError(t *testing.T) {
	store := newMockWeaviate(t, []string{"Book"}, func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
		_ = json.NewEncoder(w).Encode([]map[string]interface{}{
			{
				"class": "Book",
				"result": map[string]interface{}{
					"errors": map[string]interface{}{
						"error": []map[string]interface{}{{"message": "vector lengths don't match"}},
					},
				},
			},
		})
	})

	err := store.Insert(context.Background(), "book", []Record{{ID: RecordID("book", "a.md", 0).String(), Vector: []float32{1}}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrTransient))
	assert.Contains(t, err.Error(), "vector lengths don't match")
}

func TestWeaviateStore_Insert_Empty(t *testing.T) {
	store := &WeaviateStore{}
	assert.NoError(t, store.Insert(context.Background(), "book", nil))
}

func TestWeaviateStore_Search(t *testing.T) {
	store := newMockWeaviate(t, []string{"Book"}, func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
		query, _ := body["query"].(string)
		assert.Contains(t, query, "nearVector")
		assert.Contains(t, query, "Chapter 2")
		graphQLReply(w, "Book", []map[string]interface{}{
			{
				FieldText:       "text",
				FieldHeading:    "Scales",
				FieldChapter:    "Chapter 2",
				FieldSource:     "book.md",
				FieldChunkIndex: float64(7),
				"_additional":   map[string]interface{}{"id": "abc", "distance": 0.25},
			},
		})
	})

	results, err := store.Search(context.Background(), "book", []float32{0.1, 0.2}, 3, Filter{Chapter: "Chapter 2"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.75, results[0].Score, 1e-6)
	assert.Equal(t, "abc", results[0].Record.ID)
	assert.Equal(t, 7, results[0].Record.ChunkIndex)
	assert.Equal(t, "Scales", results[0].Record.Heading)
}

func TestWeaviateStore_Search_InvalidK(t *testing.T) {
	store := &WeaviateStore{}
	_, err := store.Search(context.Background(), "book", []float32{1}, 0, Filter{})
	assert.True(t, errors.Is(err, apperr.ErrConfig))
}

func TestBuildWeaviateWhere(t *testing.T) {
	assert.Nil(t, buildWeaviateWhere(Filter{}))
	assert.NotNil(t, buildWeaviateWhere(Filter{Source: "a.md"}))
	assert.NotNil(t, buildWeaviateWhere(Filter{Source: "a.md", Chapter: "Chapter 1"}))
}
