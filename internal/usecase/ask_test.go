package usecase

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webrag/internal/adapter/embedding"
	"webrag/internal/adapter/fetch"
	"webrag/internal/adapter/memstore"
	"webrag/internal/domain"
)

type staticFetcher struct {
	docs []domain.Document
	err  error
}

func (f *staticFetcher) Fetch(ctx context.Context, query string, maxResults int) (iter.Seq[domain.Document], error) {
	if f.err != nil {
		return nil, f.err
	}
	return func(yield func(domain.Document) bool) {
		for _, d := range f.docs {
			if !yield(d) {
				return
			}
		}
	}, nil
}

type listSearcher []string

func (s listSearcher) Search(ctx context.Context, query string, maxResults int) ([]string, error) {
	return s, nil
}

// spyStore counts upserts and can fail queries.
type spyStore struct {
	*memstore.MemoryStore
	upserts  int
	queryErr error
}

func (s *spyStore) Upsert(ctx context.Context, records []domain.EmbeddedRecord) error {
	s.upserts++
	return s.MemoryStore.Upsert(ctx, records)
}

func (s *spyStore) Query(ctx context.Context, vector []float32, k int) ([]domain.ScoredRecord, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.MemoryStore.Query(ctx, vector, k)
}

type failingEmbedder struct {
	*embedding.HashEmbedder
}

func (failingEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("%w: model offline", domain.ErrEmbeddingFailed)
}

func newSpyStore(t *testing.T, dim int) *spyStore {
	t.Helper()
	st := &spyStore{MemoryStore: memstore.NewMemoryStore()}
	require.NoError(t, st.EnsureCollection(context.Background(), "KnowledgeBase", dim, domain.DistanceCosine))
	return st
}

func doc(url, title, text string) domain.Document {
	return domain.Document{
		URL:       url,
		Title:     title,
		Kind:      domain.ContentHTML,
		RawText:   text,
		FetchedAt: time.Now().UTC(),
	}
}

func vectorDocs() []domain.Document {
	return []domain.Document{
		doc("https://a.example/vector-db", "vector-db", "A vector database stores embeddings and answers similarity search queries."),
		doc("https://b.example/pinecone", "pinecone", "Vector databases index high dimensional vectors for fast nearest neighbour lookup."),
		doc("https://c.example/survey.pdf", "survey.pdf", "A survey of vector database management systems and their indexing methods."),
	}
}

func TestAsk_EmptySearch(t *testing.T) {
	st := newSpyStore(t, 384)
	uc := NewAskUseCase(&staticFetcher{}, embedding.NewHashEmbedder(384), st, DefaultAskOptions(), nil)

	var stages []Stage
	uc.SetProgress(Progress{OnStage: func(s Stage) { stages = append(stages, s) }})

	answer, err := uc.Ask(context.Background(), "askjhqwkejhasd123")
	require.NoError(t, err)

	assert.True(t, answer.Empty)
	assert.Zero(t, answer.Fetched)
	assert.Empty(t, answer.Snippets)
	assert.Empty(t, answer.Text)
	assert.Zero(t, st.upserts)
	assert.Equal(t, []Stage{StageSearching, StageProcessing}, stages)
}

func TestAsk_ThreeSources(t *testing.T) {
	st := newSpyStore(t, 384)
	uc := NewAskUseCase(&staticFetcher{docs: vectorDocs()}, embedding.NewHashEmbedder(384), st, DefaultAskOptions(), nil)

	var kept []string
	uc.SetProgress(Progress{OnSource: func(d domain.Document, ok bool) {
		if ok {
			kept = append(kept, d.URL)
		}
	}})

	answer, err := uc.Ask(context.Background(), "What is vector database?")
	require.NoError(t, err)

	assert.False(t, answer.Empty)
	assert.Equal(t, 3, answer.Fetched)
	assert.Equal(t, 3, answer.Stored)
	assert.Equal(t, 1, st.upserts)
	assert.Len(t, kept, 3)

	require.Len(t, answer.Snippets, 3)
	assert.True(t, strings.HasPrefix(answer.Text, "Based on 3 sources:\n\n"))
	assert.Contains(t, answer.Text, "Source 1 ("+answer.Snippets[0].Title+"):\n")
	assert.Contains(t, answer.Text, "Most relevant source: "+answer.Snippets[0].URL)
	for i := 1; i < len(answer.Snippets); i++ {
		assert.GreaterOrEqual(t, answer.Snippets[i-1].Score, answer.Snippets[i].Score)
	}

	records := st.Records()
	require.Len(t, records, 3)
	for _, r := range records {
		assert.NotEmpty(t, r.ID)
		assert.Len(t, r.Vector, 384)
		assert.Equal(t, ContentHash(r.Text), r.Source.ContentHash)
		assert.Equal(t, "webpage", r.Source.SourceType)
	}
}

func TestAsk_OneSourceTimesOut(t *testing.T) {
	mux := http.NewServeMux()
	page := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html><body><p>" + body + "</p></body></html>"))
		}
	}
	mux.HandleFunc("/one", page("Vector databases store embeddings."))
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	mux.HandleFunc("/three", page("Similarity search over vectors."))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := fetch.DefaultConfig()
	cfg.Timeout = 200 * time.Millisecond
	cfg.Interval = 0
	fetcher := fetch.New(listSearcher{srv.URL + "/one", srv.URL + "/slow", srv.URL + "/three"}, cfg, nil)

	st := newSpyStore(t, 384)
	uc := NewAskUseCase(fetcher, embedding.NewHashEmbedder(384), st, DefaultAskOptions(), nil)

	answer, err := uc.Ask(context.Background(), "What is vector database?")
	require.NoError(t, err)

	assert.Equal(t, 2, answer.Fetched)
	assert.Equal(t, 2, answer.Stored)
	assert.Len(t, answer.Snippets, 2)
	assert.True(t, strings.HasPrefix(answer.Text, "Based on 2 sources:"))
}

func TestAsk_StoreUnavailableAtQuery(t *testing.T) {
	st := newSpyStore(t, 384)
	st.queryErr = fmt.Errorf("%w: connection refused", domain.ErrStoreUnavailable)
	uc := NewAskUseCase(&staticFetcher{docs: vectorDocs()}, embedding.NewHashEmbedder(384), st, DefaultAskOptions(), nil)

	_, err := uc.Ask(context.Background(), "What is vector database?")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, 1, st.upserts)
}

func TestAsk_PropagatesFatalErrors(t *testing.T) {
	st := newSpyStore(t, 384)

	uc := NewAskUseCase(&staticFetcher{err: domain.ErrSearchUnavailable}, embedding.NewHashEmbedder(384), st, DefaultAskOptions(), nil)
	_, err := uc.Ask(context.Background(), "q")
	assert.ErrorIs(t, err, domain.ErrSearchUnavailable)

	uc = NewAskUseCase(&staticFetcher{docs: vectorDocs()}, failingEmbedder{embedding.NewHashEmbedder(384)}, st, DefaultAskOptions(), nil)
	_, err = uc.Ask(context.Background(), "q")
	assert.ErrorIs(t, err, domain.ErrEmbeddingFailed)
	assert.Zero(t, st.upserts)

	uc = NewAskUseCase(&staticFetcher{docs: vectorDocs()}, embedding.NewHashEmbedder(128), st, DefaultAskOptions(), nil)
	_, err = uc.Ask(context.Background(), "q")
	assert.ErrorIs(t, err, domain.ErrStoreSchemaMismatch)
}

func TestAsk_InvalidQuestion(t *testing.T) {
	uc := NewAskUseCase(&staticFetcher{}, embedding.NewHashEmbedder(384), newSpyStore(t, 384), DefaultAskOptions(), nil)

	_, err := uc.Ask(context.Background(), "   ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = uc.Ingest(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestAsk_DropsEmptyDocuments(t *testing.T) {
	docs := append(vectorDocs()[:1], doc("https://blank.example", "blank", " \n\t "))
	st := newSpyStore(t, 384)
	uc := NewAskUseCase(&staticFetcher{docs: docs}, embedding.NewHashEmbedder(384), st, DefaultAskOptions(), nil)

	answer, err := uc.Ask(context.Background(), "vector database")
	require.NoError(t, err)
	assert.Equal(t, 2, answer.Fetched)
	assert.Equal(t, 1, answer.Stored)
	assert.Len(t, answer.Snippets, 1)
}

func TestAsk_AllDocumentsEmptyStillQueries(t *testing.T) {
	st := newSpyStore(t, 384)
	hash := embedding.NewHashEmbedder(384)

	uc := NewAskUseCase(&staticFetcher{docs: vectorDocs()}, hash, st, DefaultAskOptions(), nil)
	_, err := uc.Ask(context.Background(), "vector database")
	require.NoError(t, err)

	uc = NewAskUseCase(&staticFetcher{docs: []domain.Document{doc("https://blank.example", "blank", "   ")}}, hash, st, DefaultAskOptions(), nil)
	answer, err := uc.Ask(context.Background(), "vector database")
	require.NoError(t, err)

	assert.False(t, answer.Empty)
	assert.Zero(t, answer.Stored)
	assert.Equal(t, 1, st.upserts)
	assert.Len(t, answer.Snippets, 3)
}

func TestAsk_NormalizesAndTruncates(t *testing.T) {
	st := newSpyStore(t, 384)
	opts := DefaultAskOptions()
	opts.MaxChars = 12
	opts.SnippetChars = 5
	d := doc("https://a.example/x", "x", "  vector \n\n database  systems")
	uc := NewAskUseCase(&staticFetcher{docs: []domain.Document{d}}, embedding.NewHashEmbedder(384), st, opts, nil)

	answer, err := uc.Ask(context.Background(), "vector")
	require.NoError(t, err)

	require.Len(t, st.Records(), 1)
	assert.Equal(t, "vector datab", st.Records()[0].Text)
	require.Len(t, answer.Snippets, 1)
	assert.Equal(t, "vecto", answer.Snippets[0].Text)
	assert.Contains(t, answer.Text, "Source 1 (x):\nvecto...")
}

func TestAsk_DedupModes(t *testing.T) {
	tests := []struct {
		mode         DedupMode
		secondStored int
		total        int
	}{
		{DedupNone, 3, 6},
		{DedupURL, 0, 3},
		{DedupContent, 0, 3},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			st := newSpyStore(t, 384)
			opts := DefaultAskOptions()
			opts.Dedup = tt.mode
			uc := NewAskUseCase(&staticFetcher{docs: vectorDocs()}, embedding.NewHashEmbedder(384), st, opts, nil)

			_, err := uc.Ask(context.Background(), "vector database")
			require.NoError(t, err)

			answer, err := uc.Ask(context.Background(), "vector database")
			require.NoError(t, err)

			assert.Equal(t, 3, answer.Fetched)
			assert.Equal(t, tt.secondStored, answer.Stored)
			assert.False(t, answer.Empty)
			assert.Len(t, st.Records(), tt.total)
		})
	}
}

func TestAsk_DedupWithinBatch(t *testing.T) {
	d := vectorDocs()[0]
	copyAtOtherURL := d
	copyAtOtherURL.URL = "https://mirror.example/vector-db"

	st := newSpyStore(t, 384)
	opts := DefaultAskOptions()
	opts.Dedup = DedupContent
	uc := NewAskUseCase(&staticFetcher{docs: []domain.Document{d, copyAtOtherURL}}, embedding.NewHashEmbedder(384), st, opts, nil)

	result, err := uc.Ingest(context.Background(), "vector database")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Fetched)
	assert.Equal(t, 1, result.Duplicates)
	assert.Equal(t, 1, result.Stored)
}

func TestAsk_MergesDuplicateHits(t *testing.T) {
	st := newSpyStore(t, 384)
	uc := NewAskUseCase(&staticFetcher{docs: vectorDocs()[:1]}, embedding.NewHashEmbedder(384), st, DefaultAskOptions(), nil)

	for i := 0; i < 3; i++ {
		_, err := uc.Ask(context.Background(), "vector database")
		require.NoError(t, err)
	}
	require.Len(t, st.Records(), 3)

	answer, err := uc.Ask(context.Background(), "vector database")
	require.NoError(t, err)
	assert.Len(t, answer.Snippets, 1)
	assert.True(t, strings.HasPrefix(answer.Text, "Based on 1 sources:"))
}

func TestAsk_RepeatedQuestionKeepsDistinctSources(t *testing.T) {
	st := newSpyStore(t, 384)
	uc := NewAskUseCase(&staticFetcher{docs: vectorDocs()}, embedding.NewHashEmbedder(384), st, DefaultAskOptions(), nil)

	_, err := uc.Ask(context.Background(), "What is vector database?")
	require.NoError(t, err)

	answer, err := uc.Ask(context.Background(), "What is vector database?")
	require.NoError(t, err)

	require.Len(t, st.Records(), 6)
	require.Len(t, answer.Snippets, 3)
	assert.True(t, strings.HasPrefix(answer.Text, "Based on 3 sources:"))

	urls := make(map[string]bool)
	for _, s := range answer.Snippets {
		urls[s.URL] = true
	}
	assert.Len(t, urls, 3)
}

func TestAsk_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	uc := NewAskUseCase(&staticFetcher{}, embedding.NewHashEmbedder(384), newSpyStore(t, 384), DefaultAskOptions(), nil)
	_, err := uc.Ask(ctx, "q")
	assert.True(t, errors.Is(err, context.Canceled))
}
