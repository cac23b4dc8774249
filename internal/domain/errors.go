package domain

import "errors"

var (
	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSearchUnavailable indicates the web search provider could not be
	// reached or refused the request (rate limiting included).
	ErrSearchUnavailable = errors.New("search provider unavailable")

	// ErrFetchFailed indicates a single URL could not be downloaded.
	// Recovered by skipping the URL.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrExtractionFailed indicates no text could be pulled out of a
	// downloaded body. Recovered by skipping the URL.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrEmbeddingFailed indicates the embedding model returned an error.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrStoreUnavailable indicates the vector database is unreachable.
	ErrStoreUnavailable = errors.New("knowledge store unavailable")

	// ErrStoreSchemaMismatch indicates the collection exists with a
	// different vector dimension or distance than configured.
	ErrStoreSchemaMismatch = errors.New("knowledge store schema mismatch")
)

// Recoverable reports whether err only affects a single source.
func Recoverable(err error) bool {
	return errors.Is(err, ErrFetchFailed) || errors.Is(err, ErrExtractionFailed)
}
