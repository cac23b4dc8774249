package port

import (
	"context"
	"iter"

	"webrag/internal/domain"
)

// Searcher returns candidate URLs for a query, best match first.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]string, error)
}

// ContentFetcher turns a query into extracted documents. The returned
// sequence is lazy and may only be ranged over once; URLs that fail to
// download or extract are left out of it.
type ContentFetcher interface {
	Fetch(ctx context.Context, query string, maxResults int) (iter.Seq[domain.Document], error)
}
