package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/snowflake-to-falkordb/internal/config"
	"github.com/evalgo/snowflake-to-falkordb/internal/metrics"
	"github.com/evalgo/snowflake-to-falkordb/internal/notify"
	"github.com/evalgo/snowflake-to-falkordb/internal/runhistory"
)

// fakeConn is a minimal in-memory GraphConn double that records every
// statement it executes.
type fakeConn struct {
	statements  []string
	indexCalled []string
}

func (f *fakeConn) Exec(ctx context.Context, statement string) error {
	f.statements = append(f.statements, statement)
	return nil
}

func (f *fakeConn) Query(ctx context.Context, statement string) ([]map[string]any, error) {
	return nil, nil
}

func (f *fakeConn) EnsureIndex(ctx context.Context, labelClause, property string) error {
	f.indexCalled = append(f.indexCalled, labelClause+"|"+property)
	return nil
}

func (f *fakeConn) Close() error { return nil }

type memWatermarkStore struct {
	saved map[string]string
}

func (m *memWatermarkStore) Load(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(m.saved))
	for k, v := range m.saved {
		out[k] = v
	}
	return out, nil
}

func (m *memWatermarkStore) Save(ctx context.Context, watermarks map[string]string) error {
	m.saved = watermarks
	return nil
}

type memRecorder struct {
	runs []runhistory.Run
}

func (r *memRecorder) Record(ctx context.Context, run runhistory.Run) error {
	r.runs = append(r.runs, run)
	return nil
}
func (r *memRecorder) Close() error { return nil }

type memPublisher struct {
	events []notify.RunCompletedEvent
}

func (p *memPublisher) Publish(event notify.RunCompletedEvent) error {
	p.events = append(p.events, event)
	return nil
}
func (p *memPublisher) Close() error { return nil }

func writeRowsFile(t *testing.T, rows string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rows.json")
	require.NoError(t, os.WriteFile(path, []byte(rows), 0o644))
	return path
}

func newTestOrchestrator(cfg *config.Config, conn *fakeConn, ws *memWatermarkStore, rec *memRecorder, pub *memPublisher) *Orchestrator {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return New(cfg, conn, ws, metrics.New(), rec, pub, log)
}

func TestRunOnceWritesNodesAdvancesWatermarkAndRecordsHistory(t *testing.T) {
	path := writeRowsFile(t, `[{"id": "1", "name": "Ada", "updated_at": "2024-01-02T00:00:00Z"}]`)

	node := &config.NodeMapping{
		Common: config.CommonFields{
			Name:   "customers",
			Source: config.SourceSpec{File: &path},
			Delta:  &config.DeltaSpec{UpdatedAtColumn: "updated_at"},
		},
		Labels:     []string{"Customer"},
		Key:        config.KeySpec{Column: "id", Property: "id"},
		Properties: map[string]config.PropertySpec{"name": {Column: "name"}},
	}
	cfg := &config.Config{Graph: config.GraphConfig{Endpoint: "falkor://localhost:6379", Graph: "g"}, Mappings: []config.Mapping{node}}

	conn := &fakeConn{}
	ws := &memWatermarkStore{saved: map[string]string{}}
	rec := &memRecorder{}
	pub := &memPublisher{}

	orch := newTestOrchestrator(cfg, conn, ws, rec, pub)
	require.NoError(t, orch.RunOnce(context.Background(), false, nil))

	require.Len(t, conn.statements, 1)
	assert.Contains(t, conn.statements[0], "MERGE (n:Customer")
	assert.Equal(t, "2024-01-02T00:00:00Z", ws.saved["customers"])
	require.Len(t, rec.runs, 1)
	assert.True(t, rec.runs[0].Success)
	assert.Equal(t, 1, rec.runs[0].RowsWritten)
	require.Len(t, pub.events, 1)
	assert.True(t, pub.events[0].Success)
}

func TestRunOnceSplitsSoftDeletedRows(t *testing.T) {
	path := writeRowsFile(t, `[
		{"id": "1", "name": "Ada", "is_deleted": false},
		{"id": "2", "name": "Grace", "is_deleted": true}
	]`)

	deletedCol := "is_deleted"
	node := &config.NodeMapping{
		Common: config.CommonFields{
			Name:   "customers",
			Source: config.SourceSpec{File: &path},
			Delta:  &config.DeltaSpec{UpdatedAtColumn: "updated_at", DeletedFlagColumn: &deletedCol, DeletedFlagValue: true},
		},
		Labels:     []string{"Customer"},
		Key:        config.KeySpec{Column: "id", Property: "id"},
		Properties: map[string]config.PropertySpec{"name": {Column: "name"}},
	}
	cfg := &config.Config{Graph: config.GraphConfig{Endpoint: "falkor://localhost:6379", Graph: "g"}, Mappings: []config.Mapping{node}}

	conn := &fakeConn{}
	orch := newTestOrchestrator(cfg, conn, &memWatermarkStore{saved: map[string]string{}}, &memRecorder{}, &memPublisher{})
	require.NoError(t, orch.RunOnce(context.Background(), false, nil))

	require.Len(t, conn.statements, 2)
	assert.Contains(t, conn.statements[0], "MERGE (n:Customer")
	assert.Contains(t, conn.statements[1], "DETACH DELETE n")
}

func TestRunOnceResolvesEdgeEndpointLabelsFromNodeMapping(t *testing.T) {
	customersPath := writeRowsFile(t, `[]`)
	ordersPath := writeRowsFile(t, `[{"order_id": "o1", "customer_id": "c1"}]`)

	customers := &config.NodeMapping{
		Common: config.CommonFields{Name: "customers", Source: config.SourceSpec{File: &customersPath}},
		Labels: []string{"Customer"},
		Key:    config.KeySpec{Column: "id", Property: "id"},
	}
	orders := &config.EdgeMapping{
		Common:       config.CommonFields{Name: "order_customer", Source: config.SourceSpec{File: &ordersPath}},
		Relationship: "PLACED_BY",
		From: config.EdgeEndpointMatch{
			NodeMapping:   "orders_unused",
			MatchOn:       []config.MatchOn{{Column: "order_id", Property: "id"}},
			LabelOverride: []string{"Order"},
		},
		To: config.EdgeEndpointMatch{
			NodeMapping: "customers",
			MatchOn:     []config.MatchOn{{Column: "customer_id", Property: "id"}},
		},
	}
	cfg := &config.Config{
		Graph:    config.GraphConfig{Endpoint: "falkor://localhost:6379", Graph: "g"},
		Mappings: []config.Mapping{customers, orders},
	}

	conn := &fakeConn{}
	orch := newTestOrchestrator(cfg, conn, &memWatermarkStore{saved: map[string]string{}}, &memRecorder{}, &memPublisher{})
	require.NoError(t, orch.RunOnce(context.Background(), false, nil))

	require.Len(t, conn.statements, 1)
	assert.Contains(t, conn.statements[0], "MATCH (src:Order")
	assert.Contains(t, conn.statements[0], "MATCH (tgt:Customer")
	assert.Contains(t, conn.statements[0], "MERGE (src)-[r:PLACED_BY]->(tgt)")
}

func TestRunOnceSkipsUnknownPurgeMapping(t *testing.T) {
	cfg := &config.Config{Graph: config.GraphConfig{Endpoint: "falkor://localhost:6379", Graph: "g"}}
	conn := &fakeConn{}
	orch := newTestOrchestrator(cfg, conn, &memWatermarkStore{saved: map[string]string{}}, &memRecorder{}, &memPublisher{})
	require.NoError(t, orch.RunOnce(context.Background(), false, []string{"does_not_exist"}))
	assert.Empty(t, conn.statements)
}

func TestRunOnceRecordsFailedMappingInHistory(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does-not-exist.json")
	node := &config.NodeMapping{
		Common: config.CommonFields{Name: "customers", Source: config.SourceSpec{File: &missing}},
		Labels: []string{"Customer"},
		Key:    config.KeySpec{Column: "id", Property: "id"},
	}
	cfg := &config.Config{Graph: config.GraphConfig{Endpoint: "falkor://localhost:6379", Graph: "g"}, Mappings: []config.Mapping{node}}

	rec := &memRecorder{}
	pub := &memPublisher{}
	orch := newTestOrchestrator(cfg, &fakeConn{}, &memWatermarkStore{saved: map[string]string{}}, rec, pub)
	require.Error(t, orch.RunOnce(context.Background(), false, nil))

	require.Len(t, rec.runs, 1)
	assert.False(t, rec.runs[0].Success)
	assert.NotEmpty(t, rec.runs[0].Error)
	require.Len(t, pub.events, 1)
	assert.False(t, pub.events[0].Success)
}

// contendingConn tracks how many Exec calls are in flight at once.
type contendingConn struct {
	fakeConn
	inFlight      atomic.Int32
	maxConcurrent atomic.Int32
}

func (c *contendingConn) Exec(ctx context.Context, statement string) error {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		max := c.maxConcurrent.Load()
		if n <= max || c.maxConcurrent.CompareAndSwap(max, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return nil
}

func TestConcurrentRunOncePassesAreSerialized(t *testing.T) {
	path := writeRowsFile(t, `[{"id": "1"}]`)
	node := &config.NodeMapping{
		Common: config.CommonFields{Name: "customers", Source: config.SourceSpec{File: &path}},
		Labels: []string{"Customer"},
		Key:    config.KeySpec{Column: "id", Property: "id"},
	}
	cfg := &config.Config{Graph: config.GraphConfig{Endpoint: "falkor://localhost:6379", Graph: "g"}, Mappings: []config.Mapping{node}}

	conn := &contendingConn{}
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	orch := New(cfg, conn, &memWatermarkStore{saved: map[string]string{}}, metrics.New(), &memRecorder{}, &memPublisher{}, log)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, orch.RunOnce(context.Background(), false, nil))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), conn.maxConcurrent.Load())
}

func TestRunOnceEnsuresIndexesOncePerLabelKeyPair(t *testing.T) {
	path := writeRowsFile(t, `[]`)
	a := &config.NodeMapping{
		Common: config.CommonFields{Name: "a", Source: config.SourceSpec{File: &path}},
		Labels: []string{"Thing"},
		Key:    config.KeySpec{Column: "id", Property: "id"},
	}
	cfg := &config.Config{Graph: config.GraphConfig{Endpoint: "falkor://localhost:6379", Graph: "g"}, Mappings: []config.Mapping{a}}

	conn := &fakeConn{}
	orch := newTestOrchestrator(cfg, conn, &memWatermarkStore{saved: map[string]string{}}, &memRecorder{}, &memPublisher{})
	require.NoError(t, orch.RunOnce(context.Background(), false, nil))

	assert.Equal(t, []string{"Thing|id"}, conn.indexCalled)
}
