package runhistory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const runHistoryBucket = "runs"

// localRecorder appends one JSON-encoded entry per run to a bbolt bucket,
// keyed by finish time and mapping name so entries sort chronologically.
type localRecorder struct {
	db *bolt.DB
}

func newLocalRecorder(path string) (*localRecorder, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening local run history store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(runHistoryBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing run history bucket in %s: %w", path, err)
	}

	return &localRecorder{db: db}, nil
}

func (r *localRecorder) Record(ctx context.Context, run Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encoding run history entry: %w", err)
	}

	key := fmt.Sprintf("%s-%s", run.FinishedAt.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"), run.Mapping)
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(runHistoryBucket))
		return b.Put([]byte(key), data)
	})
}

func (r *localRecorder) Close() error {
	return r.db.Close()
}
