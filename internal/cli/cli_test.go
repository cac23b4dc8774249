package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"webrag/config"
	"webrag/internal/adapter/cache"
	"webrag/internal/domain"
	"webrag/internal/usecase"
)

type scriptedAsker struct {
	asked   []string
	answers map[string]*domain.Answer
	errs    map[string]error
}

func (a *scriptedAsker) Ask(ctx context.Context, question string) (*domain.Answer, error) {
	a.asked = append(a.asked, question)
	if err := a.errs[question]; err != nil {
		return nil, err
	}
	if ans, ok := a.answers[question]; ok {
		return ans, nil
	}
	return &domain.Answer{Question: question, Empty: true}, nil
}

func sampleAnswer(question string) *domain.Answer {
	snippets := []domain.Snippet{{Title: "vector-db", URL: "https://a.example/vector-db", Text: "A vector database"}}
	return &domain.Answer{
		Question: question,
		Fetched:  1,
		Stored:   1,
		Snippets: snippets,
		Text:     usecase.FormatAnswer(snippets),
	}
}

func TestRunLoop_RepromptsAfterFailure(t *testing.T) {
	asker := &scriptedAsker{
		answers: map[string]*domain.Answer{"What is vector database?": sampleAnswer("What is vector database?")},
		errs: map[string]error{
			"broken": fmt.Errorf("query: %w: connection refused", domain.ErrStoreUnavailable),
		},
	}
	in := strings.NewReader("broken\n\n   \nWhat is vector database?\nexit\nnever asked\n")
	var out bytes.Buffer

	require.NoError(t, runLoop(context.Background(), in, &out, asker))

	assert.Equal(t, []string{"broken", "What is vector database?"}, asker.asked)
	text := out.String()
	assert.Contains(t, text, "Error: query: knowledge store unavailable: connection refused")
	assert.Contains(t, text, "Answer for: 'What is vector database?'")
	assert.Contains(t, text, "Based on 1 sources:")
	assert.Contains(t, text, strings.Repeat("=", 50))
	assert.Equal(t, 5, strings.Count(text, "Your question: "))
}

func TestRunLoop_ExitVariants(t *testing.T) {
	for _, input := range []string{"quit\nq\n", "EXIT\nq\n", ""} {
		asker := &scriptedAsker{}
		var out bytes.Buffer
		require.NoError(t, runLoop(context.Background(), strings.NewReader(input), &out, asker))
		assert.Empty(t, asker.asked, "input %q", input)
	}
}

func TestRunLoop_EmptyAnswer(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runLoop(context.Background(), strings.NewReader("askjhqwkejhasd123\n"), &out, &scriptedAsker{}))
	assert.Contains(t, out.String(), "No search results found. Try a different query.")
}

func TestRunLoop_Cancelled(t *testing.T) {
	asker := &scriptedAsker{errs: map[string]error{"q": context.Canceled}}
	var out bytes.Buffer
	require.NoError(t, runLoop(context.Background(), strings.NewReader("q\nnext\n"), &out, asker))
	assert.Equal(t, []string{"q"}, asker.asked)
	assert.Contains(t, out.String(), "Exiting...")
}

func TestPrintAnswer_NoHits(t *testing.T) {
	var out bytes.Buffer
	printAnswer(&out, &domain.Answer{Question: "q", Fetched: 2, Stored: 0})
	assert.Contains(t, out.String(), "Processed 0 new knowledge sources")
	assert.Contains(t, out.String(), "Could not generate answer.")
}

func TestNewProgress(t *testing.T) {
	var out bytes.Buffer
	p := newProgress(&out, false)

	p.OnStage(usecase.StageSearching)
	p.OnStage(usecase.StageProcessing)
	p.OnSource(domain.Document{URL: "https://a.example/x.pdf", Title: "x.pdf", Kind: domain.ContentPDF}, true)
	p.OnSource(domain.Document{URL: "https://b.example"}, false)
	p.OnStage(usecase.StageAnswering)

	text := out.String()
	assert.Contains(t, text, "Searching web...")
	assert.Contains(t, text, "Processing and storing knowledge...")
	assert.Contains(t, text, "Stored: x.pdf (pdf)")
	assert.NotContains(t, text, "b.example")
	assert.Contains(t, text, "Generating answer...")
}

func offlineConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Embedding.Provider = "hash"
	cfg.Embedding.Dimension = 64
	cfg.Store.Backend = "memory"
	return cfg
}

func TestBuildDeps_Offline(t *testing.T) {
	d, err := buildDeps(context.Background(), offlineConfig(), t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, 64, d.embedder.Dimension())
	assert.Equal(t, "hash-64", d.embedder.ModelName())
	assert.IsType(t, &cache.CachedEmbedder{}, d.embedder)

	count, err := d.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestBuildDeps_BoltSchemaMismatch(t *testing.T) {
	dir := t.TempDir()
	cfg := offlineConfig()
	cfg.Store.Backend = "bolt"

	d, err := buildDeps(context.Background(), cfg, dir, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, d.Close())
	assert.FileExists(t, filepath.Join(dir, ".webrag", "knowledge.db"))

	cfg.Embedding.Dimension = 32
	_, err = buildDeps(context.Background(), cfg, dir, zap.NewNop())
	assert.ErrorIs(t, err, domain.ErrStoreSchemaMismatch)
}

func TestBuildDeps_InvalidDedup(t *testing.T) {
	cfg := offlineConfig()
	cfg.Retrieve.Dedup = "title"

	_, err := buildDeps(context.Background(), cfg, t.TempDir(), zap.NewNop())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestStatsCommand_BoltShowsCreated(t *testing.T) {
	dir := t.TempDir()
	cfg := offlineConfig()
	cfg.Store.Backend = "bolt"
	path := filepath.Join(dir, "webrag.yaml")
	require.NoError(t, cfg.Save(path))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"stats", "--config", path, "--dir", dir, "--json=false"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "Collection: KnowledgeBase (bolt)")
	assert.Contains(t, out.String(), "Created:")
}

func TestNewEmbedder_MissingKey(t *testing.T) {
	t.Setenv("WEBRAG_TEST_MISSING_KEY", "")
	cfg := config.DefaultConfig().Embedding
	cfg.Provider = "openai"
	cfg.APIKeyEnv = "WEBRAG_TEST_MISSING_KEY"

	_, err := newEmbedder(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewEmbedder_OllamaKnownModel(t *testing.T) {
	cfg := config.DefaultConfig().Embedding
	cfg.CacheSize = 0

	e, err := newEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 384, e.Dimension())
	assert.Equal(t, "all-minilm", e.ModelName())
}

func TestStatsCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "webrag.yaml")
	require.NoError(t, offlineConfig().Save(path))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"stats", "--config", path, "--dir", dir, "--json"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), `"backend": "memory"`)
	assert.Contains(t, out.String(), `"records": 0`)
	_ = os.Remove(path)
}
