package store

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"webrag/internal/domain"
)

// CurrentSchemaVersion is the on-disk layout version of bolt collections.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 1

var bucketCollections = []byte("collections")

// CollectionInfo is the schema a collection was created with. It never
// changes after creation.
type CollectionInfo struct {
	Version   int             `json:"version"`
	Name      string          `json:"name"`
	Dimension int             `json:"dimension"`
	Distance  domain.Distance `json:"distance"`
	CreatedAt time.Time       `json:"created_at"`
}

// Check compares an existing collection against the requested schema.
func (info CollectionInfo) Check(dim int, distance domain.Distance) error {
	if info.Version > CurrentSchemaVersion {
		return fmt.Errorf("%w: collection %q has schema version %d, this build supports %d",
			domain.ErrStoreSchemaMismatch, info.Name, info.Version, CurrentSchemaVersion)
	}
	if info.Dimension != dim {
		return fmt.Errorf("%w: collection %q has vector dimension %d, embedder produces %d",
			domain.ErrStoreSchemaMismatch, info.Name, info.Dimension, dim)
	}
	if info.Distance != distance {
		return fmt.Errorf("%w: collection %q uses distance %q, configured %q",
			domain.ErrStoreSchemaMismatch, info.Name, info.Distance, distance)
	}
	return nil
}

func recordsBucket(name string) []byte {
	return []byte("records/" + name)
}

func getCollectionInfo(tx *bbolt.Tx, name string) (*CollectionInfo, error) {
	b := tx.Bucket(bucketCollections)
	if b == nil {
		return nil, nil
	}
	data := b.Get([]byte(name))
	if data == nil {
		return nil, nil
	}

	var info CollectionInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("%w: unreadable schema for collection %q: %v", domain.ErrStoreSchemaMismatch, name, err)
	}
	return &info, nil
}

func putCollectionInfo(tx *bbolt.Tx, info CollectionInfo) error {
	b, err := tx.CreateBucketIfNotExists(bucketCollections)
	if err != nil {
		return err
	}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return b.Put([]byte(info.Name), data)
}
