package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/qdrant/go-client/qdrant"

	"docembed/internal/apperr"
	"docembed/internal/contextutil"
)

// existingPageSize bounds each scroll request of the progress query.
const existingPageSize = 1000

// QdrantStore implements Store using Qdrant.
type QdrantStore struct {
	client *qdrant.Client
}

// payloadIndexes are created with the collection so the progress query and
// chapter-filtered search do not scan every point.
var payloadIndexes = []struct {
	field string
	typ   qdrant.FieldType
}{
	{FieldSource, qdrant.FieldType_FieldTypeKeyword},
	{FieldChapter, qdrant.FieldType_FieldTypeKeyword},
	{FieldChunkIndex, qdrant.FieldType_FieldTypeInteger},
}

// NewQdrantStore creates a new Qdrant vector store client.
// urlStr should be in the format "http://host:port" (e.g., "http://localhost:6333").
// The gRPC port (typically 6334) will be derived from the HTTP port.
func NewQdrantStore(urlStr, apiKey string) (*QdrantStore, error) {
	host, port, useTLS, err := parseQdrantAddress(urlStr)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	return &QdrantStore{
		client: client,
	}, nil
}

// parseQdrantAddress derives the gRPC host and port from the REST URL.
func parseQdrantAddress(urlStr string) (host string, port int, useTLS bool, err error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", 0, false, apperr.Wrap(apperr.ErrConfig, "invalid Qdrant URL", err)
	}

	host = parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}

	port = 6334 // Default gRPC port
	if parsedURL.Port() != "" {
		httpPort, err := strconv.Atoi(parsedURL.Port())
		if err == nil {
			// gRPC port is typically HTTP port + 1
			port = httpPort + 1
		}
	}

	return host, port, parsedURL.Scheme == "https", nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// CollectionExists checks if a collection exists.
func (s *QdrantStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return false, apperr.Wrap(apperr.ErrTransient, "failed to check collection existence", err)
	}
	return exists, nil
}

// EnsureCollection ensures a collection exists with the specified vector size.
// If the collection exists, validates that the vector size matches.
// If it doesn't exist, creates it with cosine distance and payload indexes.
func (s *QdrantStore) EnsureCollection(ctx context.Context, collection string, vectorSize int) error {
	logger := contextutil.LoggerFromContext(ctx)

	exists, err := s.CollectionExists(ctx, collection)
	if err != nil {
		return err
	}

	if !exists {
		logger.InfoContext(ctx, "creating collection", "collection", collection, "vector_size", vectorSize)
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(vectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return apperr.Wrap(apperr.ErrTransient, "failed to create collection", err)
		}

		for _, idx := range payloadIndexes {
			_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
				CollectionName: collection,
				FieldName:      idx.field,
				FieldType:      idx.typ.Enum(),
				Wait:           qdrant.PtrOf(true),
			})
			if err != nil {
				return apperr.Wrap(apperr.ErrTransient, fmt.Sprintf("failed to create %s index", idx.field), err)
			}
		}
		logger.InfoContext(ctx, "collection created", "collection", collection, "vector_size", vectorSize)
		return nil
	}

	existing, err := s.collectionVectorSize(ctx, collection)
	if err != nil {
		return err
	}
	if existing == 0 {
		return apperr.New(apperr.ErrConfig, "could not determine vector size of collection %s", collection)
	}
	if existing != vectorSize {
		return apperr.New(apperr.ErrConfig, "collection %s vector size mismatch: expected %d, got %d",
			collection, vectorSize, existing)
	}

	logger.InfoContext(ctx, "collection validated", "collection", collection, "vector_size", vectorSize)
	return nil
}

// ExistingIndices scrolls every point of source and collects its chunk_index.
func (s *QdrantStore) ExistingIndices(ctx context.Context, collection, source string) (IndexSet, error) {
	logger := contextutil.LoggerFromContext(ctx)

	set := NewIndexSet()
	exists, err := s.CollectionExists(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		return set, nil
	}

	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch(FieldSource, source)},
	}

	limit := uint32(existingPageSize)
	var offset *qdrant.PointId
	for {
		points, next, err := s.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: collection,
			Filter:         filter,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayloadInclude(FieldChunkIndex),
			WithVectors:    qdrant.NewWithVectors(false),
		})
		if err != nil {
			return nil, apperr.Wrap(apperr.ErrTransient, "failed to scroll existing chunks", err)
		}

		for _, point := range points {
			if v, ok := point.GetPayload()[FieldChunkIndex]; ok {
				set.Add(int(v.GetIntegerValue()))
			}
		}
		if next == nil {
			break
		}
		offset = next
	}

	logger.DebugContext(ctx, "existing indices loaded", "collection", collection, "source", source, "count", set.Len())
	return set, nil
}

// Insert upserts records in one request and waits for the write to be applied.
// Point ids come from RecordID, so the request is idempotent.
func (s *QdrantStore) Insert(ctx context.Context, collection string, records []Record) error {
	logger := contextutil.LoggerFromContext(ctx)

	if len(records) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, rec := range records {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(rec.ID),
			Vectors: qdrant.NewVectors(rec.Vector...),
			Payload: qdrant.NewValueMap(recordPayload(rec)),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to upsert points", "collection", collection, "count", len(records), "error", err)
		return apperr.Wrap(apperr.ErrTransient, "failed to upsert points", err)
	}

	logger.DebugContext(ctx, "upserted points", "collection", collection, "count", len(records))
	return nil
}

// Search performs a similarity search with optional filters.
func (s *QdrantStore) Search(ctx context.Context, collection string, query []float32, k int, filter Filter) ([]SearchResult, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if k <= 0 {
		return nil, apperr.New(apperr.ErrConfig, "k must be greater than 0")
	}

	limit := uint64(k)
	queryReq := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if qdrantFilter := buildQdrantFilter(filter); qdrantFilter != nil {
		queryReq.Filter = qdrantFilter
	}

	scoredPoints, err := s.client.Query(ctx, queryReq)
	if err != nil {
		logger.ErrorContext(ctx, "failed to search points", "collection", collection, "k", k, "error", err)
		return nil, apperr.Wrap(apperr.ErrTransient, "failed to search points", err)
	}

	results := make([]SearchResult, 0, len(scoredPoints))
	for _, point := range scoredPoints {
		rec := recordFromPayload(point.GetPayload())
		rec.ID = point.GetId().GetUuid()
		results = append(results, SearchResult{
			Score:  point.GetScore(),
			Record: rec,
		})
	}

	logger.InfoContext(ctx, "search completed", "collection", collection, "k", k, "results", len(results))
	return results, nil
}

// collectionVectorSize returns the configured vector size of a collection,
// or 0 when it uses named vectors.
func (s *QdrantStore) collectionVectorSize(ctx context.Context, collection string) (int, error) {
	info, err := s.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		return 0, apperr.Wrap(apperr.ErrTransient, "failed to get collection info", err)
	}

	if config := info.GetConfig(); config != nil && config.GetParams() != nil {
		if vectorsConfig := config.GetParams().GetVectorsConfig(); vectorsConfig != nil {
			if params := vectorsConfig.GetParams(); params != nil {
				return int(params.GetSize()), nil
			}
		}
	}
	return 0, nil
}

// buildQdrantFilter translates a Filter into keyword match conditions.
func buildQdrantFilter(filter Filter) *qdrant.Filter {
	var must []*qdrant.Condition
	if filter.Chapter != "" {
		must = append(must, qdrant.NewMatch(FieldChapter, filter.Chapter))
	}
	if filter.Source != "" {
		must = append(must, qdrant.NewMatch(FieldSource, filter.Source))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// recordPayload returns the payload stored next to the vector.
func recordPayload(rec Record) map[string]any {
	return map[string]any{
		FieldText:       rec.Text,
		FieldHeading:    rec.Heading,
		FieldChapter:    rec.Chapter,
		FieldSource:     rec.Source,
		FieldChunkIndex: rec.ChunkIndex,
	}
}

// recordFromPayload is the inverse of recordPayload.
func recordFromPayload(payload map[string]*qdrant.Value) Record {
	return Record{
		Text:       payload[FieldText].GetStringValue(),
		Heading:    payload[FieldHeading].GetStringValue(),
		Chapter:    payload[FieldChapter].GetStringValue(),
		Source:     payload[FieldSource].GetStringValue(),
		ChunkIndex: int(payload[FieldChunkIndex].GetIntegerValue()),
	}
}
