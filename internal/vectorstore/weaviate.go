package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"docembed/internal/apperr"
	"docembed/internal/contextutil"
)

// WeaviateStore implements Store using Weaviate. Each collection maps to a
// class named after it with the first letter upper-cased.
type WeaviateStore struct {
	client *weaviate.Client
}

// NewWeaviateStore creates a client for the Weaviate instance at host ("localhost:8080").
func NewWeaviateStore(host, scheme string) (*WeaviateStore, error) {
	client, err := weaviate.NewClient(weaviate.Config{Host: host, Scheme: scheme})
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrConfig, "failed to create Weaviate client", err)
	}
	return &WeaviateStore{client: client}, nil
}

// ClassName returns the Weaviate class backing collection.
func ClassName(collection string) string {
	r, size := utf8.DecodeRuneInString(collection)
	if r == utf8.RuneError {
		return collection
	}
	return string(unicode.ToUpper(r)) + collection[size:]
}

// Close is a no-op; the client holds no persistent connection.
func (s *WeaviateStore) Close() error {
	return nil
}

// CollectionExists checks if the collection's class exists.
func (s *WeaviateStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(ClassName(collection)).Do(ctx)
	if err != nil {
		return false, apperr.Wrap(apperr.ErrTransient, "failed to check class existence", err)
	}
	return exists, nil
}

// EnsureCollection creates the class with filterable metadata properties.
// Weaviate fixes the vector size on first insert, so an existing class is
// validated against a stored object when it has one.
func (s *WeaviateStore) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	logger := contextutil.LoggerFromContext(ctx)
	className := ClassName(collection)

	exists, err := s.CollectionExists(ctx, collection)
	if err != nil {
		return err
	}

	if !exists {
		logger.InfoContext(ctx, "creating class", "class", className, "vector_size", dimension)
		if err := s.client.Schema().ClassCreator().WithClass(weaviateClass(className)).Do(ctx); err != nil {
			return apperr.Wrap(apperr.ErrTransient, "failed to create class", err)
		}
		return nil
	}

	size, err := s.storedDimension(ctx, className)
	if err != nil {
		return err
	}
	if size != 0 && size != dimension {
		return apperr.New(apperr.ErrConfig, "collection %s vector size mismatch: expected %d, got %d",
			collection, dimension, size)
	}

	logger.InfoContext(ctx, "class validated", "class", className, "vector_size", dimension)
	return nil
}

func weaviateClass(className string) *models.Class {
	filterable := true
	keyword := func(name string) *models.Property {
		return &models.Property{
			Name:            name,
			DataType:        []string{"text"},
			Tokenization:    "field",
			IndexFilterable: &filterable,
		}
	}
	return &models.Class{
		Class:       className,
		Description: "Embedded markdown chunks",
		Vectorizer:  "none",
		VectorIndexConfig: map[string]interface{}{
			"distance": "cosine",
		},
		Properties: []*models.Property{
			{Name: FieldText, DataType: []string{"text"}},
			{Name: FieldHeading, DataType: []string{"text"}},
			keyword(FieldChapter),
			keyword(FieldSource),
			{Name: FieldChunkIndex, DataType: []string{"int"}, IndexFilterable: &filterable},
		},
	}
}

// storedDimension returns the vector length of any stored object, or 0 when the class is empty.
func (s *WeaviateStore) storedDimension(ctx context.Context, className string) (int, error) {
	res, err := s.client.GraphQL().Get().
		WithClassName(className).
		WithLimit(1).
		WithFields(graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "vector"}}}).
		Do(ctx)
	if err != nil {
		return 0, apperr.Wrap(apperr.ErrTransient, "failed to read stored vector size", err)
	}
	objects, err := graphQLObjects(res, className)
	if err != nil {
		return 0, err
	}
	if len(objects) == 0 {
		return 0, nil
	}
	additional, _ := objects[0]["_additional"].(map[string]interface{})
	vector, _ := additional["vector"].([]interface{})
	return len(vector), nil
}

// ExistingIndices pages through the chunks of source in chunk_index order,
// each page starting after the highest index of the previous one. Offset
// paging would stop at the server's QUERY_MAXIMUM_RESULTS.
func (s *WeaviateStore) ExistingIndices(ctx context.Context, collection, source string) (IndexSet, error) {
	logger := contextutil.LoggerFromContext(ctx)
	className := ClassName(collection)

	set := NewIndexSet()
	exists, err := s.CollectionExists(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		return set, nil
	}

	bySource := filters.Where().
		WithPath([]string{FieldSource}).
		WithOperator(filters.Equal).
		WithValueText(source)

	last := int64(-1)
	for {
		where := filters.Where().
			WithOperator(filters.And).
			WithOperands([]*filters.WhereBuilder{
				bySource,
				filters.Where().
					WithPath([]string{FieldChunkIndex}).
					WithOperator(filters.GreaterThan).
					WithValueInt(last),
			})
		res, err := s.client.GraphQL().Get().
			WithClassName(className).
			WithWhere(where).
			WithSort(graphql.Sort{Path: []string{FieldChunkIndex}, Order: graphql.Asc}).
			WithLimit(existingPageSize).
			WithFields(graphql.Field{Name: FieldChunkIndex}).
			Do(ctx)
		if err != nil {
			return nil, apperr.Wrap(apperr.ErrTransient, "failed to query existing chunks", err)
		}
		objects, err := graphQLObjects(res, className)
		if err != nil {
			return nil, err
		}
		for _, obj := range objects {
			idx, ok := obj[FieldChunkIndex].(float64)
			if !ok {
				continue
			}
			set.Add(int(idx))
			if int64(idx) > last {
				last = int64(idx)
			}
		}
		if len(objects) < existingPageSize {
			break
		}
	}

	logger.DebugContext(ctx, "existing indices loaded", "class", className, "source", source, "count", set.Len())
	return set, nil
}

// Insert sends the records as one batch request. A batch that reports an
// error for any object fails as a whole; objects that did land carry
// deterministic ids, so re-running converges on the same rows.
func (s *WeaviateStore) Insert(ctx context.Context, collection string, records []Record) error {
	logger := contextutil.LoggerFromContext(ctx)

	if len(records) == 0 {
		return nil
	}

	className := ClassName(collection)
	objects := make([]*models.Object, 0, len(records))
	for _, rec := range records {
		objects = append(objects, &models.Object{
			Class:      className,
			ID:         strfmt.UUID(rec.ID),
			Properties: recordPayload(rec),
			Vector:     models.C11yVector(rec.Vector),
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to batch objects", "class", className, "count", len(records), "error", err)
		return apperr.Wrap(apperr.ErrTransient, "failed to batch objects", err)
	}

	var messages []string
	for _, item := range resp {
		if item.Result == nil || item.Result.Errors == nil {
			continue
		}
		for _, e := range item.Result.Errors.Error {
			messages = append(messages, fmt.Sprintf("%s: %s", item.ID, e.Message))
		}
	}
	if len(messages) > 0 {
		return apperr.New(apperr.ErrTransient, "batch rejected %d object(s): %s",
			len(messages), strings.Join(messages, "; "))
	}

	logger.DebugContext(ctx, "batched objects", "class", className, "count", len(records))
	return nil
}

// Search runs a nearVector query. Score is cosine similarity (1 - distance).
func (s *WeaviateStore) Search(ctx context.Context, collection string, query []float32, k int, filter Filter) ([]SearchResult, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if k <= 0 {
		return nil, apperr.New(apperr.ErrConfig, "k must be greater than 0")
	}

	className := ClassName(collection)
	fields := []graphql.Field{
		{Name: FieldText},
		{Name: FieldHeading},
		{Name: FieldChapter},
		{Name: FieldSource},
		{Name: FieldChunkIndex},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "distance"}}},
	}

	get := s.client.GraphQL().Get().
		WithClassName(className).
		WithNearVector(s.client.GraphQL().NearVectorArgBuilder().WithVector(query)).
		WithLimit(k).
		WithFields(fields...)
	if where := buildWeaviateWhere(filter); where != nil {
		get = get.WithWhere(where)
	}

	res, err := get.Do(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to search objects", "class", className, "k", k, "error", err)
		return nil, apperr.Wrap(apperr.ErrTransient, "failed to search objects", err)
	}
	objects, err := graphQLObjects(res, className)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(objects))
	for _, obj := range objects {
		rec := Record{}
		rec.Text, _ = obj[FieldText].(string)
		rec.Heading, _ = obj[FieldHeading].(string)
		rec.Chapter, _ = obj[FieldChapter].(string)
		rec.Source, _ = obj[FieldSource].(string)
		if idx, ok := obj[FieldChunkIndex].(float64); ok {
			rec.ChunkIndex = int(idx)
		}

		var score float32
		if additional, ok := obj["_additional"].(map[string]interface{}); ok {
			rec.ID, _ = additional["id"].(string)
			if distance, ok := additional["distance"].(float64); ok {
				score = float32(1 - distance)
			}
		}
		results = append(results, SearchResult{Score: score, Record: rec})
	}

	logger.InfoContext(ctx, "search completed", "class", className, "k", k, "results", len(results))
	return results, nil
}

// buildWeaviateWhere translates a Filter into an equality where clause.
func buildWeaviateWhere(filter Filter) *filters.WhereBuilder {
	var operands []*filters.WhereBuilder
	if filter.Chapter != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{FieldChapter}).
			WithOperator(filters.Equal).
			WithValueText(filter.Chapter))
	}
	if filter.Source != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{FieldSource}).
			WithOperator(filters.Equal).
			WithValueText(filter.Source))
	}

	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	default:
		return filters.Where().WithOperator(filters.And).WithOperands(operands)
	}
}

// graphQLObjects extracts the result list of a Get query for className.
func graphQLObjects(res *models.GraphQLResponse, className string) ([]map[string]interface{}, error) {
	if res == nil {
		return nil, apperr.New(apperr.ErrTransient, "empty GraphQL response")
	}
	if len(res.Errors) > 0 {
		messages := make([]string, 0, len(res.Errors))
		for _, e := range res.Errors {
			messages = append(messages, e.Message)
		}
		return nil, apperr.New(apperr.ErrTransient, "graphql error: %s", strings.Join(messages, "; "))
	}

	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	raw, ok := data[className].([]interface{})
	if !ok {
		return nil, nil
	}

	objects := make([]map[string]interface{}, 0, len(raw))
	for _, item := range raw {
		if obj, ok := item.(map[string]interface{}); ok {
			objects = append(objects, obj)
		}
	}
	return objects, nil
}
