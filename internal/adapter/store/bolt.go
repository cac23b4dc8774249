package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"webrag/internal/domain"
	"webrag/internal/port"
)

var _ port.KnowledgeStore = (*BoltKnowledgeStore)(nil)

// BoltKnowledgeStore keeps a collection in a local BoltDB file.
// Uses brute-force search over an in-memory copy of the records.
type BoltKnowledgeStore struct {
	db *bbolt.DB

	mu      sync.RWMutex
	info    *CollectionInfo
	records []domain.EmbeddedRecord
}

type storedRecord struct {
	Text        string    `json:"text"`
	Vector      []float32 `json:"v"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	SourceType  string    `json:"source_type"`
	ContentHash string    `json:"content_hash,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func NewBoltKnowledgeStore(path string) (*BoltKnowledgeStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open bolt db %s: %v", domain.ErrStoreUnavailable, path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCollections)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create collections bucket: %w", err)
	}

	return &BoltKnowledgeStore{db: db}, nil
}

func (s *BoltKnowledgeStore) EnsureCollection(_ context.Context, name string, dim int, distance domain.Distance) error {
	if name == "" || dim <= 0 || !distance.Valid() {
		return fmt.Errorf("%w: collection %q dim=%d distance=%q", domain.ErrInvalidInput, name, dim, distance)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var info *CollectionInfo
	err := s.db.Update(func(tx *bbolt.Tx) error {
		existing, err := getCollectionInfo(tx, name)
		if err != nil {
			return err
		}
		if existing != nil {
			if err := existing.Check(dim, distance); err != nil {
				return err
			}
			info = existing
			return nil
		}

		created := CollectionInfo{
			Version:   CurrentSchemaVersion,
			Name:      name,
			Dimension: dim,
			Distance:  distance,
			CreatedAt: time.Now().UTC(),
		}
		if err := putCollectionInfo(tx, created); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(recordsBucket(name)); err != nil {
			return fmt.Errorf("failed to create records bucket: %w", err)
		}
		info = &created
		return nil
	})
	if err != nil {
		return err
	}

	records, err := s.loadRecords(name)
	if err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}

	s.info = info
	s.records = records
	return nil
}

// loadRecords loads all records of a collection into memory.
func (s *BoltKnowledgeStore) loadRecords(name string) ([]domain.EmbeddedRecord, error) {
	var records []domain.EmbeddedRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(recordsBucket(name))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			var stored storedRecord
			if err := json.Unmarshal(v, &stored); err != nil {
				return nil // Skip corrupted entries
			}
			records = append(records, stored.toRecord(string(k)))
			return nil
		})
	})
	return records, err
}

func (s *BoltKnowledgeStore) Upsert(_ context.Context, records []domain.EmbeddedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.info == nil {
		return errNoCollection
	}
	if len(records) == 0 {
		return nil
	}

	prepared := make([]domain.EmbeddedRecord, len(records))
	for i, r := range records {
		if len(r.Vector) != s.info.Dimension {
			return fmt.Errorf("%w: vector dimension mismatch: expected %d, got %d",
				domain.ErrStoreSchemaMismatch, s.info.Dimension, len(r.Vector))
		}
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		prepared[i] = r
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(recordsBucket(s.info.Name))
		if b == nil {
			return fmt.Errorf("records bucket for %q not found", s.info.Name)
		}

		for _, r := range prepared {
			data, err := json.Marshal(fromRecord(r))
			if err != nil {
				return err
			}
			if err := b.Put([]byte(r.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	s.records = append(s.records, prepared...)
	return nil
}

func (s *BoltKnowledgeStore) Query(_ context.Context, vector []float32, k int) ([]domain.ScoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.info == nil {
		return nil, errNoCollection
	}
	if len(vector) != s.info.Dimension {
		return nil, fmt.Errorf("%w: query dimension mismatch: expected %d, got %d",
			domain.ErrStoreSchemaMismatch, s.info.Dimension, len(vector))
	}

	return TopK(s.info.Distance, vector, s.records, k), nil
}

func (s *BoltKnowledgeStore) HasURL(_ context.Context, url string) (bool, error) {
	return s.any(func(r domain.EmbeddedRecord) bool { return r.Source.URL == url })
}

func (s *BoltKnowledgeStore) HasContentHash(_ context.Context, hash string) (bool, error) {
	return s.any(func(r domain.EmbeddedRecord) bool { return r.Source.ContentHash == hash })
}

func (s *BoltKnowledgeStore) any(match func(domain.EmbeddedRecord) bool) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.info == nil {
		return false, errNoCollection
	}
	for _, r := range s.records {
		if match(r) {
			return true, nil
		}
	}
	return false, nil
}

func (s *BoltKnowledgeStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.info == nil {
		return 0, errNoCollection
	}
	return len(s.records), nil
}

// Info returns the schema of the open collection, or nil before
// EnsureCollection.
func (s *BoltKnowledgeStore) Info() *CollectionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

func (s *BoltKnowledgeStore) Close() error {
	return s.db.Close()
}

var errNoCollection = errors.New("knowledge store: EnsureCollection has not been called")

func fromRecord(r domain.EmbeddedRecord) storedRecord {
	return storedRecord{
		Text:        r.Text,
		Vector:      r.Vector,
		URL:         r.Source.URL,
		Title:       r.Source.Title,
		SourceType:  r.Source.SourceType,
		ContentHash: r.Source.ContentHash,
		Timestamp:   r.Source.Timestamp,
	}
}

func (sr storedRecord) toRecord(id string) domain.EmbeddedRecord {
	return domain.EmbeddedRecord{
		ID:     id,
		Text:   sr.Text,
		Vector: sr.Vector,
		Source: domain.Source{
			URL:         sr.URL,
			Title:       sr.Title,
			SourceType:  sr.SourceType,
			ContentHash: sr.ContentHash,
			Timestamp:   sr.Timestamp,
		},
	}
}
