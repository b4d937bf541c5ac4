package runhistory

import (
	"context"
	"fmt"

	kivik "github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb"
)

const runHistoryDatabase = "snowflake_to_falkordb_runs"

type couchRecorder struct {
	client *kivik.Client
	db     *kivik.DB
}

func newCouchRecorder(dsn string) (*couchRecorder, error) {
	client, err := kivik.New("couch", dsn)
	if err != nil {
		return nil, fmt.Errorf("creating CouchDB client for run history: %w", err)
	}

	ctx := context.Background()
	db := client.DB(runHistoryDatabase)
	if err := db.Err(); err != nil {
		if err := client.CreateDB(ctx, runHistoryDatabase); err != nil {
			return nil, fmt.Errorf("creating run history database %s: %w", runHistoryDatabase, err)
		}
		db = client.DB(runHistoryDatabase)
	}

	return &couchRecorder{client: client, db: db}, nil
}

func (r *couchRecorder) Record(ctx context.Context, run Run) error {
	doc := map[string]any{
		"run_id":       run.ID,
		"mapping":      run.Mapping,
		"started_at":   run.StartedAt.Format(rfc3339),
		"finished_at":  run.FinishedAt.Format(rfc3339),
		"rows_fetched": run.RowsFetched,
		"rows_written": run.RowsWritten,
		"rows_deleted": run.RowsDeleted,
		"success":      run.Success,
		"error":        run.Error,
	}
	_, _, err := r.db.CreateDoc(ctx, doc)
	if err != nil {
		return fmt.Errorf("recording run history entry for mapping %q: %w", run.Mapping, err)
	}
	return nil
}

func (r *couchRecorder) Close() error {
	return r.client.Close()
}
