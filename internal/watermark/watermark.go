// Package watermark loads and persists the per-mapping high-water marks
// that drive incremental sync, across four interchangeable backends: none,
// a single JSON file, a property on a dedicated graph node, or a local
// bbolt-backed key/value store.
package watermark

import (
	"context"
	"fmt"
	"time"

	"github.com/evalgo/snowflake-to-falkordb/internal/config"
	"github.com/evalgo/snowflake-to-falkordb/internal/graphsink"
	"github.com/evalgo/snowflake-to-falkordb/internal/source"
)

// Store loads and persists watermarks for all mappings.
type Store interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, watermarks map[string]string) error
}

// Open constructs the Store selected by cfg.State.Backend, defaulting to a
// no-op store when no state config is present.
func Open(cfg *config.StateConfig, conn graphsink.GraphConn) (Store, error) {
	if cfg == nil {
		return noneStore{}, nil
	}

	switch cfg.Backend {
	case config.StateBackendFile, "":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("state.backend %q requires file_path", cfg.Backend)
		}
		return &fileStore{path: cfg.FilePath}, nil
	case config.StateBackendGraph:
		if conn == nil {
			return nil, fmt.Errorf("state.backend \"graph\" requires a connected graph sink")
		}
		return &graphStore{conn: conn}, nil
	case config.StateBackendLocal:
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("state.backend \"local\" requires file_path")
		}
		return newLocalStore(cfg.FilePath)
	case config.StateBackendNone:
		return noneStore{}, nil
	default:
		return nil, fmt.Errorf("unknown state.backend %q", cfg.Backend)
	}
}

// ComputeMax finds the maximum parseable timestamp at updatedAtColumn across
// rows, returning zero time and false if none parse.
func ComputeMax(rows []source.LogicalRow, updatedAtColumn string) (time.Time, bool) {
	var max time.Time
	found := false

	for _, row := range rows {
		v, ok := row.Get(updatedAtColumn)
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		ts, ok := parseTimestamp(s)
		if !ok {
			continue
		}
		if !found || ts.After(max) {
			max = ts
			found = true
		}
	}

	return max, found
}

func parseTimestamp(s string) (time.Time, bool) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), true
	}
	layouts := []string{
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// Advance computes the new watermark for a mapping, returning the advanced
// value and true only if it is strictly greater than the currently stored
// one. stored may be empty, meaning no watermark has been recorded yet.
func Advance(stored string, rows []source.LogicalRow, updatedAtColumn string) (string, bool) {
	observed, ok := ComputeMax(rows, updatedAtColumn)
	if !ok {
		return stored, false
	}

	if stored != "" {
		storedTS, ok := parseTimestamp(stored)
		if ok && !observed.After(storedTS) {
			return stored, false
		}
	}

	return observed.Format(time.RFC3339Nano), true
}

// noneStore never persists anything.
type noneStore struct{}

func (noneStore) Load(ctx context.Context) (map[string]string, error) {
	return map[string]string{}, nil
}
func (noneStore) Save(ctx context.Context, watermarks map[string]string) error { return nil }
