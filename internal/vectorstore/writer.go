package vectorstore

import (
	"context"

	"docembed/internal/apperr"
	"docembed/internal/contextutil"
)

// Writer validates batches and persists them with a single Store.Insert call.
type Writer struct {
	store     Store
	dimension int
}

// NewWriter creates a writer for collections with the given vector size.
func NewWriter(store Store, dimension int) *Writer {
	return &Writer{store: store, dimension: dimension}
}

// Write persists records and returns how many were written. A vector of the
// wrong size fails the whole batch before anything is sent.
func (w *Writer) Write(ctx context.Context, collection string, records []Record) (int, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if len(records) == 0 {
		return 0, nil
	}

	batch := make([]Record, len(records))
	for i, rec := range records {
		if len(rec.Vector) != w.dimension {
			return 0, apperr.New(apperr.ErrConfig,
				"record %d (chunk %d) has vector size %d, collection %s expects %d",
				i, rec.ChunkIndex, len(rec.Vector), collection, w.dimension)
		}
		if rec.ID == "" {
			rec.ID = RecordID(collection, rec.Source, rec.ChunkIndex).String()
		}
		batch[i] = rec
	}

	if err := w.store.Insert(ctx, collection, batch); err != nil {
		if apperr.Kind(err) == nil {
			err = apperr.Wrap(apperr.ErrTransient, "failed to insert batch", err)
		}
		return 0, err
	}

	logger.DebugContext(ctx, "batch written", "collection", collection, "count", len(batch),
		"first_index", batch[0].ChunkIndex, "last_index", batch[len(batch)-1].ChunkIndex)
	return len(batch), nil
}
