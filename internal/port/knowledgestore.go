package port

import (
	"context"

	"webrag/internal/domain"
)

// KnowledgeStore persists embedded records in a vector collection and
// answers nearest-neighbour queries against it.
type KnowledgeStore interface {
	// EnsureCollection creates the collection if it is absent. An existing
	// collection is never altered; a dimension or distance mismatch returns
	// domain.ErrStoreSchemaMismatch.
	EnsureCollection(ctx context.Context, name string, dim int, distance domain.Distance) error

	// Upsert inserts records. No uniqueness is enforced.
	Upsert(ctx context.Context, records []domain.EmbeddedRecord) error

	// Query returns at most k records ordered by descending score.
	Query(ctx context.Context, vector []float32, k int) ([]domain.ScoredRecord, error)

	// HasURL reports whether any stored record came from url.
	HasURL(ctx context.Context, url string) (bool, error)

	// HasContentHash reports whether a record with this content hash exists.
	HasContentHash(ctx context.Context, hash string) (bool, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	Close() error
}
