// Package runhistory records an audit trail of synchronization runs: one
// entry per mapping processed, across three optional backends (Postgres,
// CouchDB, or a local bbolt file) plus a no-op default.
package runhistory

import (
	"context"
	"fmt"
	"time"

	"github.com/evalgo/snowflake-to-falkordb/internal/config"
)

// Run is one mapping's processing outcome within a sync run.
type Run struct {
	ID          string
	Mapping     string
	StartedAt   time.Time
	FinishedAt  time.Time
	RowsFetched int
	RowsWritten int
	RowsDeleted int
	Success     bool
	Error       string
}

// Recorder persists Run entries.
type Recorder interface {
	Record(ctx context.Context, run Run) error
	Close() error
}

// Open constructs the Recorder selected by cfg.Backend, defaulting to a
// no-op recorder when cfg is nil.
func Open(cfg *config.RunHistoryConfig) (Recorder, error) {
	if cfg == nil {
		return noneRecorder{}, nil
	}

	switch cfg.Backend {
	case config.RunHistoryBackendPostgres:
		return newPostgresRecorder(cfg.DSN)
	case config.RunHistoryBackendCouchDB:
		return newCouchRecorder(cfg.DSN)
	case config.RunHistoryBackendLocal:
		return newLocalRecorder(cfg.Path)
	case config.RunHistoryBackendNone, "":
		return noneRecorder{}, nil
	default:
		return nil, fmt.Errorf("unknown run_history.backend %q", cfg.Backend)
	}
}

type noneRecorder struct{}

func (noneRecorder) Record(ctx context.Context, run Run) error { return nil }
func (noneRecorder) Close() error                              { return nil }
