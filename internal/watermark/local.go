package watermark

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const watermarkBucket = "watermarks"

// localStore keeps each mapping's watermark as its own key in a bbolt
// bucket, avoiding the read-modify-write races a single rewritten JSON
// document would have under concurrent CLI invocations.
type localStore struct {
	db *bolt.DB
}

func newLocalStore(path string) (*localStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening local watermark store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(watermarkBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing watermark bucket in %s: %w", path, err)
	}

	return &localStore{db: db}, nil
}

func (s *localStore) Load(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(watermarkBucket))
		return b.ForEach(func(k, v []byte) error {
			out[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("loading watermarks: %w", err)
	}
	return out, nil
}

func (s *localStore) Save(ctx context.Context, watermarks map[string]string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(watermarkBucket))
		for mapping, value := range watermarks {
			if err := b.Put([]byte(mapping), []byte(value)); err != nil {
				return fmt.Errorf("persisting watermark for mapping %q: %w", mapping, err)
			}
		}
		return nil
	})
}
