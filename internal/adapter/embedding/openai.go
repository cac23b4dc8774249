package embedding

import (
	"context"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"webrag/internal/domain"
)

const defaultBatchSize = 100

// OpenAIEmbedder talks to any OpenAI-compatible /embeddings endpoint
// (OpenAI itself, Ollama, Jina, DeepSeek).
type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	dimension int
	batchSize int
}

func NewOpenAIEmbedder(apiKeyEnv, model string) (*OpenAIEmbedder, error) {
	return NewOpenAICompatibleEmbedder(apiKeyEnv, model, "https://api.openai.com/v1")
}

func NewOpenAICompatibleEmbedder(apiKeyEnv, model, baseURL string) (*OpenAIEmbedder, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("API key not found in environment variable: %s", apiKeyEnv)
	}
	return newEmbedder(apiKey, model, baseURL), nil
}

// NewOllamaEmbedder uses a local Ollama server. all-minilm is the
// all-MiniLM-L6-v2 sentence transformer.
func NewOllamaEmbedder(model, baseURL string) *OpenAIEmbedder {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	return newEmbedder("ollama", model, baseURL)
}

func newEmbedder(apiKey, model, baseURL string) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")

	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		dimension: KnownDimension(model),
		batchSize: defaultBatchSize,
	}
}

// WithDimension overrides the dimension guessed from the model name.
func (e *OpenAIEmbedder) WithDimension(dim int) *OpenAIEmbedder {
	if dim > 0 {
		e.dimension = dim
	}
	return e
}

// WithBatchSize sets how many texts go into one request.
func (e *OpenAIEmbedder) WithBatchSize(n int) *OpenAIEmbedder {
	if n > 0 {
		e.batchSize = n
	}
	return e
}

// KnownDimension returns the output size of well-known embedding models,
// or 0 when the model is not recognised.
func KnownDimension(model string) int {
	switch model {
	case "all-minilm", "all-minilm:l6-v2", "all-MiniLM-L6-v2", "sentence-transformers/all-MiniLM-L6-v2":
		return 384
	case "nomic-embed-text":
		return 768
	case "mxbai-embed-large", "jina-embeddings-v3":
		return 1024
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	case "jina-embeddings-v4":
		return 2048
	case "text-embedding-3-large":
		return 3072
	}
	return 0
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *OpenAIEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := checkInputs(texts); err != nil {
		return nil, err
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))

		vectors, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		all = append(all, vectors...)
	}

	return all, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrEmbeddingFailed, e.model, err)
	}

	vectors := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index >= 0 && data.Index < len(vectors) {
			vectors[data.Index] = data.Embedding
		}
	}

	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("%w: no vector returned for input %d", domain.ErrEmbeddingFailed, i)
		}
		if e.dimension == 0 {
			e.dimension = len(v)
		}
		if len(v) != e.dimension {
			return nil, fmt.Errorf("%w: model %s returned %d dimensions, expected %d",
				domain.ErrEmbeddingFailed, e.model, len(v), e.dimension)
		}
	}

	return vectors, nil
}

// Dimension may be 0 for an unrecognised model until the first request.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}

// Probe embeds a short text to learn the dimension of an unrecognised model
// and to check that the endpoint is reachable.
func (e *OpenAIEmbedder) Probe(ctx context.Context) error {
	_, err := e.Embed(ctx, "probe")
	return err
}

func checkInputs(texts []string) error {
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("%w: input %d is empty", domain.ErrEmbeddingFailed, i)
		}
	}
	return nil
}
