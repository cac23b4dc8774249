package store

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"webrag/internal/domain"
	"webrag/internal/port"
)

var _ port.KnowledgeStore = (*WeaviateKnowledgeStore)(nil)

// WeaviateConfig locates a Weaviate instance.
type WeaviateConfig struct {
	Host    string // host:port
	Scheme  string
	Timeout time.Duration
}

// WeaviateKnowledgeStore keeps the collection in a Weaviate class with an
// external vectorizer ("none"); vectors are always supplied by the caller.
type WeaviateKnowledgeStore struct {
	client *weaviate.Client

	mu       sync.RWMutex
	class    string
	dim      int
	distance domain.Distance
}

var weaviateFields = []graphql.Field{
	{Name: "url"},
	{Name: "title"},
	{Name: "content"},
	{Name: "source_type"},
	{Name: "content_hash"},
	{Name: "timestamp"},
	{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "distance"}}},
}

func NewWeaviateKnowledgeStore(cfg WeaviateConfig) (*WeaviateKnowledgeStore, error) {
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:             cfg.Host,
		Scheme:           cfg.Scheme,
		ConnectionClient: &http.Client{Timeout: cfg.Timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	return &WeaviateKnowledgeStore{client: client}, nil
}

// ClassName turns a collection name into a valid Weaviate class name.
func ClassName(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func (s *WeaviateKnowledgeStore) EnsureCollection(ctx context.Context, name string, dim int, distance domain.Distance) error {
	if name == "" || dim <= 0 || !distance.Valid() {
		return fmt.Errorf("%w: collection %q dim=%d distance=%q", domain.ErrInvalidInput, name, dim, distance)
	}
	class := ClassName(name)

	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return unavailable("readiness check", err)
	}
	if !ready {
		return fmt.Errorf("%w: weaviate is not ready", domain.ErrStoreUnavailable)
	}

	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(class).Do(ctx)
	if err != nil {
		return unavailable("check class", err)
	}

	if exists {
		if err := s.checkExisting(ctx, class, dim, distance); err != nil {
			return err
		}
	} else {
		err := s.client.Schema().ClassCreator().WithClass(&models.Class{
			Class:       class,
			Description: "Web pages and documents fetched for question answering",
			Vectorizer:  "none",
			VectorIndexConfig: map[string]interface{}{
				"distance": string(distance),
			},
			Properties: []*models.Property{
				{Name: "url", DataType: []string{"text"}},
				{Name: "title", DataType: []string{"text"}},
				{Name: "content", DataType: []string{"text"}},
				{Name: "source_type", DataType: []string{"text"}},
				{Name: "content_hash", DataType: []string{"text"}},
				{Name: "timestamp", DataType: []string{"date"}},
			},
		}).Do(ctx)
		if err != nil {
			return unavailable("create class", err)
		}
	}

	s.mu.Lock()
	s.class, s.dim, s.distance = class, dim, distance
	s.mu.Unlock()
	return nil
}

// checkExisting verifies distance from the class config and dimension by
// looking at one stored vector. An empty class accepts any dimension.
func (s *WeaviateKnowledgeStore) checkExisting(ctx context.Context, class string, dim int, distance domain.Distance) error {
	cls, err := s.client.Schema().ClassGetter().WithClassName(class).Do(ctx)
	if err != nil {
		return unavailable("get class", err)
	}
	if cfg, ok := cls.VectorIndexConfig.(map[string]interface{}); ok {
		if d, ok := cfg["distance"].(string); ok && d != "" && domain.Distance(d) != distance {
			return fmt.Errorf("%w: class %q uses distance %q, configured %q",
				domain.ErrStoreSchemaMismatch, class, d, distance)
		}
	}

	objects, err := s.client.Data().ObjectsGetter().
		WithClassName(class).
		WithVector().
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return unavailable("probe vector", err)
	}
	if len(objects) > 0 && len(objects[0].Vector) > 0 && len(objects[0].Vector) != dim {
		return fmt.Errorf("%w: class %q stores %d-dimensional vectors, embedder produces %d",
			domain.ErrStoreSchemaMismatch, class, len(objects[0].Vector), dim)
	}
	return nil
}

func (s *WeaviateKnowledgeStore) Upsert(ctx context.Context, records []domain.EmbeddedRecord) error {
	class, dim, err := s.schema()
	if err != nil {
		return err
	}

	for _, r := range records {
		if len(r.Vector) != dim {
			return fmt.Errorf("%w: vector dimension mismatch: expected %d, got %d",
				domain.ErrStoreSchemaMismatch, dim, len(r.Vector))
		}
	}

	for _, r := range records {
		id := r.ID
		if id == "" {
			id = uuid.NewString()
		}
		ts := r.Source.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}

		_, err := s.client.Data().Creator().
			WithClassName(class).
			WithID(id).
			WithProperties(map[string]interface{}{
				"url":          r.Source.URL,
				"title":        r.Source.Title,
				"content":      r.Text,
				"source_type":  r.Source.SourceType,
				"content_hash": r.Source.ContentHash,
				"timestamp":    ts.UTC().Format(time.RFC3339Nano),
			}).
			WithVector(r.Vector).
			Do(ctx)
		if err != nil {
			return unavailable("insert "+r.Source.URL, err)
		}
	}
	return nil
}

func (s *WeaviateKnowledgeStore) Query(ctx context.Context, vector []float32, k int) ([]domain.ScoredRecord, error) {
	class, dim, err := s.schema()
	if err != nil {
		return nil, err
	}
	if len(vector) != dim {
		return nil, fmt.Errorf("%w: query dimension mismatch: expected %d, got %d",
			domain.ErrStoreSchemaMismatch, dim, len(vector))
	}
	if k <= 0 {
		return nil, nil
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)
	resp, err := s.client.GraphQL().Get().
		WithClassName(class).
		WithFields(weaviateFields...).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, unavailable("near vector query", err)
	}
	if err := graphQLError(resp); err != nil {
		return nil, err
	}

	hits := parseHits(resp.Data, "Get", class, s.scoreFunc())
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *WeaviateKnowledgeStore) HasURL(ctx context.Context, url string) (bool, error) {
	return s.exists(ctx, "url", url)
}

func (s *WeaviateKnowledgeStore) HasContentHash(ctx context.Context, hash string) (bool, error) {
	return s.exists(ctx, "content_hash", hash)
}

func (s *WeaviateKnowledgeStore) exists(ctx context.Context, property, value string) (bool, error) {
	class, _, err := s.schema()
	if err != nil {
		return false, err
	}

	where := filters.Where().
		WithPath([]string{property}).
		WithOperator(filters.Equal).
		WithValueText(value)

	resp, err := s.client.GraphQL().Get().
		WithClassName(class).
		WithFields(graphql.Field{Name: property}).
		WithWhere(where).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return false, unavailable("filter by "+property, err)
	}
	if err := graphQLError(resp); err != nil {
		return false, err
	}

	return len(classObjects(resp.Data, "Get", class)) > 0, nil
}

func (s *WeaviateKnowledgeStore) Count(ctx context.Context) (int, error) {
	class, _, err := s.schema()
	if err != nil {
		return 0, err
	}

	resp, err := s.client.GraphQL().Aggregate().
		WithClassName(class).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, unavailable("aggregate", err)
	}
	if err := graphQLError(resp); err != nil {
		return 0, err
	}

	objects := classObjects(resp.Data, "Aggregate", class)
	if len(objects) == 0 {
		return 0, nil
	}
	meta, _ := objects[0]["meta"].(map[string]interface{})
	count, _ := meta["count"].(float64)
	return int(count), nil
}

// Close is a no-op: the client holds no connection beyond its HTTP pool.
func (s *WeaviateKnowledgeStore) Close() error {
	return nil
}

func (s *WeaviateKnowledgeStore) schema() (string, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.class == "" {
		return "", 0, errNoCollection
	}
	return s.class, s.dim, nil
}

// scoreFunc converts Weaviate's distance (lower is closer) to a score
// (higher is closer).
func (s *WeaviateKnowledgeStore) scoreFunc() func(float64) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.distance == domain.DistanceCosine {
		return func(d float64) float64 { return 1 - d }
	}
	return func(d float64) float64 { return -d }
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: weaviate %s: %v", domain.ErrStoreUnavailable, op, err)
}

func graphQLError(resp *models.GraphQLResponse) error {
	if resp == nil {
		return fmt.Errorf("%w: weaviate returned an empty response", domain.ErrStoreUnavailable)
	}
	if len(resp.Errors) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(resp.Errors))
	for _, e := range resp.Errors {
		if e != nil {
			msgs = append(msgs, e.Message)
		}
	}
	return fmt.Errorf("%w: weaviate graphql: %s", domain.ErrStoreUnavailable, strings.Join(msgs, "; "))
}

func classObjects(data map[string]models.JSONObject, op, class string) []map[string]interface{} {
	root, _ := data[op].(map[string]interface{})
	items, _ := root[class].([]interface{})

	objects := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]interface{}); ok {
			objects = append(objects, obj)
		}
	}
	return objects
}

// parseHits reads a Get near-vector response. Weaviate already orders
// results by ascending distance.
func parseHits(data map[string]models.JSONObject, op, class string, score func(float64) float64) []domain.ScoredRecord {
	objects := classObjects(data, op, class)
	hits := make([]domain.ScoredRecord, 0, len(objects))

	for _, obj := range objects {
		str := func(key string) string {
			v, _ := obj[key].(string)
			return v
		}

		var id string
		var distance float64
		if additional, ok := obj["_additional"].(map[string]interface{}); ok {
			id, _ = additional["id"].(string)
			distance, _ = additional["distance"].(float64)
		}

		ts, _ := time.Parse(time.RFC3339Nano, str("timestamp"))

		hits = append(hits, domain.ScoredRecord{
			Record: domain.EmbeddedRecord{
				ID:   id,
				Text: str("content"),
				Source: domain.Source{
					URL:         str("url"),
					Title:       str("title"),
					SourceType:  str("source_type"),
					ContentHash: str("content_hash"),
					Timestamp:   ts,
				},
			},
			Score: score(distance),
		})
	}
	return hits
}
