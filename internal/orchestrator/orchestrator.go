// Package orchestrator drives one or repeated synchronization passes over a
// graph connection opened once by the caller and shared by every pass:
// loading watermarks, purging on request, and then
// fetching, partitioning, mapping, writing, and deleting rows for every
// configured mapping in declaration order.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/evalgo/snowflake-to-falkordb/internal/config"
	"github.com/evalgo/snowflake-to-falkordb/internal/graphsink"
	"github.com/evalgo/snowflake-to-falkordb/internal/mapper"
	"github.com/evalgo/snowflake-to-falkordb/internal/metrics"
	"github.com/evalgo/snowflake-to-falkordb/internal/notify"
	"github.com/evalgo/snowflake-to-falkordb/internal/runhistory"
	"github.com/evalgo/snowflake-to-falkordb/internal/source"
	"github.com/evalgo/snowflake-to-falkordb/internal/watermark"
)

const maxBatchRetries = 3

// Orchestrator owns every dependency a sync run needs: the graph
// connection, the watermark store, metrics, run history, and the
// best-effort notifier.
type Orchestrator struct {
	cfg        *config.Config
	conn       graphsink.GraphConn
	watermarks watermark.Store
	metrics    *metrics.Registry
	history    runhistory.Recorder
	notifier   notify.Publisher
	log        *logrus.Logger

	// runMu serializes passes: the graph connection and watermark store
	// are single-owner, so a triggered pass must wait for an in-flight
	// daemon tick (and vice versa).
	runMu sync.Mutex
}

// New builds an Orchestrator from already-constructed dependencies.
func New(cfg *config.Config, conn graphsink.GraphConn, ws watermark.Store, reg *metrics.Registry, hist runhistory.Recorder, pub notify.Publisher, log *logrus.Logger) *Orchestrator {
	return &Orchestrator{cfg: cfg, conn: conn, watermarks: ws, metrics: reg, history: hist, notifier: pub, log: log}
}

// RunOnce performs a single full or incremental synchronization pass over
// every configured mapping, in declaration order. Concurrent callers are
// serialized; a pass requested while another is in flight blocks until the
// first finishes.
func (o *Orchestrator) RunOnce(ctx context.Context, purgeGraphFlag bool, purgeMappings []string) error {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	o.metrics.Runs.Inc()

	watermarks, err := o.watermarks.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading watermarks: %w", err)
	}

	nodeMappings := config.NodeMappingsByName(o.cfg.Mappings)

	if purgeGraphFlag {
		if err := purgeGraph(ctx, o.conn, o.log); err != nil {
			return fmt.Errorf("purging graph: %w", err)
		}
	} else if len(purgeMappings) > 0 {
		for _, name := range purgeMappings {
			mapping := findMapping(o.cfg.Mappings, name)
			if mapping == nil {
				o.log.WithField("mapping", name).Warn("purge requested for unknown mapping, skipping")
				continue
			}
			if err := purgeMapping(ctx, o.conn, mapping, nodeMappings, o.log); err != nil {
				return fmt.Errorf("purging mapping %q: %w", name, err)
			}
		}
	}

	ensureNodeIndexes(ctx, o.conn, nodeMappings, o.log)

	for _, m := range o.cfg.Mappings {
		switch mapping := m.(type) {
		case *config.NodeMapping:
			if err := o.processNodeMapping(ctx, mapping, watermarks); err != nil {
				o.metrics.IncFailedRun(mapping.MappingName())
				return fmt.Errorf("processing node mapping %q: %w", mapping.MappingName(), err)
			}
		case *config.EdgeMapping:
			if err := o.processEdgeMapping(ctx, mapping, nodeMappings, watermarks); err != nil {
				o.metrics.IncFailedRun(mapping.MappingName())
				return fmt.Errorf("processing edge mapping %q: %w", mapping.MappingName(), err)
			}
		}
	}

	return nil
}

func (o *Orchestrator) processNodeMapping(ctx context.Context, node *config.NodeMapping, watermarks map[string]string) (err error) {
	o.metrics.IncRun(node.MappingName())
	o.log.WithField("mapping", node.MappingName()).Info("processing node mapping")

	started := time.Now()
	var rowsFetched, rowsWritten, rowsDeleted int
	defer func() {
		err = o.finish(ctx, node.MappingName(), started, rowsFetched, rowsWritten, rowsDeleted, err)
	}()

	rows, err := source.FetchRows(ctx, o.cfg, &node.Common, watermarks[node.MappingName()])
	if err != nil {
		return err
	}
	rowsFetched = len(rows)
	o.metrics.AddRowsFetched(node.MappingName(), len(rows))
	o.log.WithField("mapping", node.MappingName()).WithField("rows", humanize.Comma(int64(len(rows)))).Info("fetched rows")

	active, deletedRows := partitionByDeleted(rows, node.Common.Delta)

	nodes, err := mapper.MapNodes(active, node)
	if err != nil {
		return err
	}
	o.metrics.AddRowsWritten(node.MappingName(), len(nodes))
	batchSize := o.cfg.Graph.EffectiveBatchSize()
	if err := graphsink.WriteNodes(ctx, o.conn, node, nodes, batchSize, maxBatchRetries); err != nil {
		return err
	}
	rowsWritten = len(nodes)

	if len(deletedRows) > 0 {
		deletedNodes, err := mapper.MapNodes(deletedRows, node)
		if err != nil {
			return err
		}
		o.metrics.AddRowsDeleted(node.MappingName(), len(deletedNodes))
		if err := graphsink.DeleteNodes(ctx, o.conn, node, deletedNodes, batchSize, maxBatchRetries); err != nil {
			return err
		}
		rowsDeleted = len(deletedNodes)
	}

	if node.Common.Delta != nil {
		if newWatermark, changed := watermark.Advance(watermarks[node.MappingName()], rows, node.Common.Delta.UpdatedAtColumn); changed {
			watermarks[node.MappingName()] = newWatermark
			if err := o.watermarks.Save(ctx, watermarks); err != nil {
				return err
			}
		}
	}

	return nil
}

func (o *Orchestrator) processEdgeMapping(ctx context.Context, edge *config.EdgeMapping, nodeMappings map[string]*config.NodeMapping, watermarks map[string]string) (err error) {
	o.metrics.IncRun(edge.MappingName())
	o.log.WithField("mapping", edge.MappingName()).Info("processing edge mapping")

	started := time.Now()
	var rowsFetched, rowsWritten, rowsDeleted int
	defer func() {
		err = o.finish(ctx, edge.MappingName(), started, rowsFetched, rowsWritten, rowsDeleted, err)
	}()

	fromLabels, err := endpointLabels(edge.From, nodeMappings)
	if err != nil {
		return fmt.Errorf("mapping %q: %w", edge.MappingName(), err)
	}
	toLabels, err := endpointLabels(edge.To, nodeMappings)
	if err != nil {
		return fmt.Errorf("mapping %q: %w", edge.MappingName(), err)
	}

	rows, err := source.FetchRows(ctx, o.cfg, &edge.Common, watermarks[edge.MappingName()])
	if err != nil {
		return err
	}
	rowsFetched = len(rows)
	o.metrics.AddRowsFetched(edge.MappingName(), len(rows))
	o.log.WithField("mapping", edge.MappingName()).WithField("rows", humanize.Comma(int64(len(rows)))).Info("fetched rows")

	active, deletedRows := partitionByDeleted(rows, edge.Common.Delta)

	edges, err := mapper.MapEdges(active, edge)
	if err != nil {
		return err
	}
	o.metrics.AddRowsWritten(edge.MappingName(), len(edges))
	batchSize := o.cfg.Graph.EffectiveBatchSize()
	if err := graphsink.WriteEdges(ctx, o.conn, edge, edges, fromLabels, toLabels, batchSize, maxBatchRetries); err != nil {
		return err
	}
	rowsWritten = len(edges)

	if len(deletedRows) > 0 {
		deletedEdges, err := mapper.MapEdges(deletedRows, edge)
		if err != nil {
			return err
		}
		o.metrics.AddRowsDeleted(edge.MappingName(), len(deletedEdges))
		if err := graphsink.DeleteEdges(ctx, o.conn, edge, deletedEdges, fromLabels, toLabels, batchSize, maxBatchRetries); err != nil {
			return err
		}
		rowsDeleted = len(deletedEdges)
	}

	if edge.Common.Delta != nil {
		if newWatermark, changed := watermark.Advance(watermarks[edge.MappingName()], rows, edge.Common.Delta.UpdatedAtColumn); changed {
			watermarks[edge.MappingName()] = newWatermark
			if err := o.watermarks.Save(ctx, watermarks); err != nil {
				return err
			}
		}
	}

	return nil
}

// finish records the mapping's outcome (success or failure) in run history
// and publishes the completion event, then hands mappingErr back unchanged.
func (o *Orchestrator) finish(ctx context.Context, mappingName string, started time.Time, rowsFetched, rowsWritten, rowsDeleted int, mappingErr error) error {
	runID := uuid.New().String()
	run := runhistory.Run{
		ID:          runID,
		Mapping:     mappingName,
		StartedAt:   started,
		FinishedAt:  time.Now(),
		RowsFetched: rowsFetched,
		RowsWritten: rowsWritten,
		RowsDeleted: rowsDeleted,
		Success:     mappingErr == nil,
	}
	if mappingErr != nil {
		run.Error = mappingErr.Error()
	}
	if err := o.history.Record(ctx, run); err != nil {
		o.log.WithField("mapping", mappingName).WithField("error", err).Warn("failed to record run history entry")
	}

	event := notify.RunCompletedEvent{
		RunID:       runID,
		Mapping:     mappingName,
		FinishedAt:  run.FinishedAt,
		RowsWritten: rowsWritten,
		RowsDeleted: rowsDeleted,
		Success:     run.Success,
		Error:       run.Error,
	}
	if err := o.notifier.Publish(event); err != nil {
		o.log.WithField("mapping", mappingName).WithField("error", err).Warn("failed to publish run-completed notification")
	}

	return mappingErr
}

func findMapping(mappings []config.Mapping, name string) config.Mapping {
	for _, m := range mappings {
		if m.MappingName() == name {
			return m
		}
	}
	return nil
}
