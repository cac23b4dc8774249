package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"webrag/internal/adapter/normalize"
	"webrag/internal/domain"
	"webrag/internal/port"
)

// DedupMode controls which fetched documents are skipped because the
// knowledge store already holds them.
type DedupMode string

const (
	DedupNone    DedupMode = "none"
	DedupURL     DedupMode = "url"
	DedupContent DedupMode = "content"
)

func (m DedupMode) Valid() bool {
	switch m {
	case DedupNone, DedupURL, DedupContent, "":
		return true
	}
	return false
}

// Stage is a progress marker reported while a question is processed.
type Stage string

const (
	StageSearching  Stage = "searching"
	StageProcessing Stage = "processing"
	StageAnswering  Stage = "generating answer"
)

// Progress receives optional callbacks during Ask and Ingest.
type Progress struct {
	OnStage  func(stage Stage)
	OnSource func(doc domain.Document, kept bool)
}

// mergeOverfetch widens the query when same-URL hits are merged so that
// top-k distinct sources survive.
const mergeOverfetch = 4

// AskOptions holds the per-question limits.
type AskOptions struct {
	MaxResults      int
	TopK            int
	MaxChars        int
	SnippetChars    int
	Dedup           DedupMode
	MergeDuplicates bool
}

func DefaultAskOptions() AskOptions {
	return AskOptions{
		MaxResults:      10,
		TopK:            3,
		MaxChars:        10000,
		SnippetChars:    1000,
		Dedup:           DedupNone,
		MergeDuplicates: true,
	}
}

// AskUseCase runs the search, store, query and answer loop for one question
// at a time.
type AskUseCase struct {
	fetcher  port.ContentFetcher
	embedder port.Embedder
	store    port.KnowledgeStore
	opts     AskOptions
	logger   *zap.Logger
	progress Progress
}

// NewAskUseCase creates a new ask use case. The store must already have
// its collection ensured.
func NewAskUseCase(
	fetcher port.ContentFetcher,
	embedder port.Embedder,
	store port.KnowledgeStore,
	opts AskOptions,
	logger *zap.Logger,
) *AskUseCase {
	def := DefaultAskOptions()
	if opts.MaxResults <= 0 {
		opts.MaxResults = def.MaxResults
	}
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = def.MaxChars
	}
	if opts.SnippetChars <= 0 {
		opts.SnippetChars = def.SnippetChars
	}
	if opts.Dedup == "" {
		opts.Dedup = DedupNone
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AskUseCase{
		fetcher:  fetcher,
		embedder: embedder,
		store:    store,
		opts:     opts,
		logger:   logger,
	}
}

// SetProgress replaces the progress callbacks.
func (u *AskUseCase) SetProgress(p Progress) {
	u.progress = p
}

// IngestResult counts what happened to the fetched documents.
type IngestResult struct {
	Fetched    int
	Empty      int
	Duplicates int
	Stored     int
}

// Ask answers a question from the web and the accumulated knowledge.
func (u *AskUseCase) Ask(ctx context.Context, question string) (*domain.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: empty question", domain.ErrInvalidInput)
	}

	ingested, err := u.ingest(ctx, question)
	if err != nil {
		return nil, err
	}

	answer := &domain.Answer{
		Question: question,
		Fetched:  ingested.Fetched,
		Stored:   ingested.Stored,
		Snippets: []domain.Snippet{},
	}

	if ingested.Fetched == 0 {
		answer.Empty = true
		return answer, nil
	}

	u.stage(StageAnswering)

	hits, err := u.retrieve(ctx, question)
	if err != nil {
		return nil, err
	}

	answer.Snippets = BuildSnippets(hits, u.opts.TopK, u.opts.SnippetChars, u.opts.MergeDuplicates)
	answer.Text = FormatAnswer(answer.Snippets)

	u.logger.Info("answered",
		zap.String("question", question),
		zap.Int("fetched", answer.Fetched),
		zap.Int("stored", answer.Stored),
		zap.Int("sources", len(answer.Snippets)),
	)

	return answer, nil
}

// Ingest runs only the search and store stages.
func (u *AskUseCase) Ingest(ctx context.Context, query string) (*IngestResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrInvalidInput)
	}
	return u.ingest(ctx, query)
}

func (u *AskUseCase) ingest(ctx context.Context, query string) (*IngestResult, error) {
	u.stage(StageSearching)

	docs, err := u.fetcher.Fetch(ctx, query, u.opts.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	u.stage(StageProcessing)

	result := &IngestResult{}
	var kept []domain.Document
	batch := make(map[string]bool)

	for doc := range docs {
		result.Fetched++

		if normalize.Empty(doc.RawText) {
			result.Empty++
			u.source(doc, false)
			continue
		}
		doc.Text = normalize.Normalize(doc.RawText, u.opts.MaxChars)
		if doc.Text == "" {
			result.Empty++
			u.source(doc, false)
			continue
		}

		key := u.dedupKey(doc)
		dup := key != "" && batch[key]
		if !dup {
			if dup, err = u.isDuplicate(ctx, doc); err != nil {
				return nil, err
			}
		}
		if dup {
			result.Duplicates++
			u.logger.Debug("already stored", zap.String("url", doc.URL))
			u.source(doc, false)
			continue
		}

		if key != "" {
			batch[key] = true
		}
		kept = append(kept, doc)
		u.source(doc, true)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(kept) == 0 {
		return result, nil
	}

	records, err := u.embedRecords(ctx, kept)
	if err != nil {
		return nil, err
	}
	if err := u.store.Upsert(ctx, records); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	result.Stored = len(records)

	return result, nil
}

func (u *AskUseCase) embedRecords(ctx context.Context, docs []domain.Document) ([]domain.EmbeddedRecord, error) {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}

	vectors, err := u.embedder.EmbedMany(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("%w: got %d vectors for %d documents",
			domain.ErrEmbeddingFailed, len(vectors), len(docs))
	}

	records := make([]domain.EmbeddedRecord, len(docs))
	for i, d := range docs {
		records[i] = domain.EmbeddedRecord{
			ID:     uuid.NewString(),
			Text:   d.Text,
			Vector: vectors[i],
			Source: domain.Source{
				URL:         d.URL,
				Title:       d.Title,
				SourceType:  d.SourceType(),
				ContentHash: ContentHash(d.Text),
				Timestamp:   d.FetchedAt,
			},
		}
	}
	return records, nil
}

func (u *AskUseCase) retrieve(ctx context.Context, question string) ([]domain.ScoredRecord, error) {
	vector, err := u.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	k := u.opts.TopK
	if u.opts.MergeDuplicates {
		k *= mergeOverfetch
	}

	hits, err := u.store.Query(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return hits, nil
}

func (u *AskUseCase) isDuplicate(ctx context.Context, doc domain.Document) (bool, error) {
	var (
		found bool
		err   error
	)
	switch u.opts.Dedup {
	case DedupURL:
		found, err = u.store.HasURL(ctx, doc.URL)
	case DedupContent:
		found, err = u.store.HasContentHash(ctx, ContentHash(doc.Text))
	default:
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return found, nil
}

func (u *AskUseCase) dedupKey(doc domain.Document) string {
	switch u.opts.Dedup {
	case DedupURL:
		return doc.URL
	case DedupContent:
		return ContentHash(doc.Text)
	}
	return ""
}

func (u *AskUseCase) stage(s Stage) {
	u.logger.Debug("stage", zap.String("stage", string(s)))
	if u.progress.OnStage != nil {
		u.progress.OnStage(s)
	}
}

func (u *AskUseCase) source(doc domain.Document, kept bool) {
	if u.progress.OnSource != nil {
		u.progress.OnSource(doc, kept)
	}
}

// ContentHash is the hex SHA-256 of normalized text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
