// Package graphsink writes mapped nodes and edges into a property graph over
// one of two wire protocols: FalkorDB's Redis protocol or Neo4j's Bolt
// protocol. Every write is expressed as an inline-literal UNWIND+MERGE
// Cypher statement (no driver-side query parameters), batched and retried
// with exponential backoff.
package graphsink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/evalgo/snowflake-to-falkordb/internal/config"
	"github.com/evalgo/snowflake-to-falkordb/internal/cypher"
	"github.com/evalgo/snowflake-to-falkordb/internal/mapper"
)

// GraphConn is the minimal surface a graph backend must provide: run a
// fully inlined Cypher statement, and ensure a single-property index exists
// for a label.
type GraphConn interface {
	Exec(ctx context.Context, statement string) error
	// Query runs a read statement and returns one map per result row, keyed
	// by return alias. Used by the graph-backed watermark store; batch
	// writers never need it since every write is fire-and-forget.
	Query(ctx context.Context, statement string) ([]map[string]any, error)
	EnsureIndex(ctx context.Context, labelClause, property string) error
	Close() error
}

// Connect opens a GraphConn for the configured backend.
func Connect(ctx context.Context, cfg config.GraphConfig) (GraphConn, error) {
	switch cfg.EffectiveKind() {
	case config.GraphKindNeo4j:
		return newBoltConn(ctx, cfg)
	default:
		return newRedisConn(ctx, cfg)
	}
}

// WriteNodes upserts a batch of mapped nodes in chunks of maxBatchSize,
// retrying each chunk up to maxRetries times on failure.
func WriteNodes(ctx context.Context, conn GraphConn, mapping *config.NodeMapping, nodes []mapper.MappedNode, maxBatchSize, maxRetries int) error {
	return chunked(ctx, nodes, maxBatchSize, maxRetries, func(ctx context.Context, slice []mapper.MappedNode) error {
		return writeNodesBatch(ctx, conn, mapping, slice)
	})
}

// DeleteNodes removes a batch of mapped nodes (matched by key), in chunks,
// with the same retry policy as WriteNodes.
func DeleteNodes(ctx context.Context, conn GraphConn, mapping *config.NodeMapping, nodes []mapper.MappedNode, maxBatchSize, maxRetries int) error {
	return chunked(ctx, nodes, maxBatchSize, maxRetries, func(ctx context.Context, slice []mapper.MappedNode) error {
		return deleteNodesBatch(ctx, conn, mapping, slice)
	})
}

// WriteEdges upserts a batch of mapped edges in chunks of maxBatchSize.
// fromLabels/toLabels are the labels used to match each endpoint, which the
// caller resolves from the endpoint's label_override or its referenced node
// mapping's own labels.
func WriteEdges(ctx context.Context, conn GraphConn, mapping *config.EdgeMapping, edges []mapper.MappedEdge, fromLabels, toLabels []string, maxBatchSize, maxRetries int) error {
	return chunkedEdges(ctx, edges, maxBatchSize, maxRetries, func(ctx context.Context, slice []mapper.MappedEdge) error {
		return writeEdgesBatch(ctx, conn, mapping, slice, fromLabels, toLabels)
	})
}

// DeleteEdges removes a batch of mapped edges in chunks of maxBatchSize.
func DeleteEdges(ctx context.Context, conn GraphConn, mapping *config.EdgeMapping, edges []mapper.MappedEdge, fromLabels, toLabels []string, maxBatchSize, maxRetries int) error {
	return chunkedEdges(ctx, edges, maxBatchSize, maxRetries, func(ctx context.Context, slice []mapper.MappedEdge) error {
		return deleteEdgesBatch(ctx, conn, mapping, slice, fromLabels, toLabels)
	})
}

func chunked(ctx context.Context, nodes []mapper.MappedNode, maxBatchSize, maxRetries int, send func(context.Context, []mapper.MappedNode) error) error {
	if len(nodes) == 0 {
		return nil
	}
	if maxBatchSize < 1 {
		maxBatchSize = 1
	}
	for start := 0; start < len(nodes); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(nodes) {
			end = len(nodes)
		}
		slice := nodes[start:end]
		if err := retryWithBackoff(ctx, maxRetries, func() error { return send(ctx, slice) }); err != nil {
			return err
		}
	}
	return nil
}

func chunkedEdges(ctx context.Context, edges []mapper.MappedEdge, maxBatchSize, maxRetries int, send func(context.Context, []mapper.MappedEdge) error) error {
	if len(edges) == 0 {
		return nil
	}
	if maxBatchSize < 1 {
		maxBatchSize = 1
	}
	for start := 0; start < len(edges); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(edges) {
			end = len(edges)
		}
		slice := edges[start:end]
		if err := retryWithBackoff(ctx, maxRetries, func() error { return send(ctx, slice) }); err != nil {
			return err
		}
	}
	return nil
}

func writeNodesBatch(ctx context.Context, conn GraphConn, mapping *config.NodeMapping, batch []mapper.MappedNode) error {
	if len(batch) == 0 {
		return nil
	}

	rows := make([]any, len(batch))
	for i, n := range batch {
		rows[i] = map[string]any{"key": n.Key, "props": n.Props}
	}

	stmt := fmt.Sprintf(
		"UNWIND %s AS row MERGE (n:%s {%s: row.key}) SET n += row.props",
		cypher.Encode(rows), strings.Join(mapping.Labels, ":"), mapping.Key.Property,
	)
	return conn.Exec(ctx, stmt)
}

func deleteNodesBatch(ctx context.Context, conn GraphConn, mapping *config.NodeMapping, batch []mapper.MappedNode) error {
	if len(batch) == 0 {
		return nil
	}

	rows := make([]any, len(batch))
	for i, n := range batch {
		rows[i] = map[string]any{"key": n.Key}
	}

	stmt := fmt.Sprintf(
		"UNWIND %s AS row MATCH (n:%s {%s: row.key}) DETACH DELETE n",
		cypher.Encode(rows), strings.Join(mapping.Labels, ":"), mapping.Key.Property,
	)
	return conn.Exec(ctx, stmt)
}

func firstMatchProperty(endpoint config.EdgeEndpointMatch) (string, error) {
	if len(endpoint.MatchOn) == 0 {
		return "", fmt.Errorf("edge endpoint %q must specify at least one match_on entry", endpoint.NodeMapping)
	}
	return endpoint.MatchOn[0].Property, nil
}

func edgeMergeClause(mapping *config.EdgeMapping) string {
	switch {
	case mapping.EffectiveDirection() == config.EdgeDirectionOut && mapping.Key != nil:
		return fmt.Sprintf("MERGE (src)-[r:%s {%s: row.edgeKey}]->(tgt)", mapping.Relationship, mapping.Key.Property)
	case mapping.EffectiveDirection() == config.EdgeDirectionOut:
		return fmt.Sprintf("MERGE (src)-[r:%s]->(tgt)", mapping.Relationship)
	case mapping.Key != nil:
		return fmt.Sprintf("MERGE (src)<-[r:%s {%s: row.edgeKey}]-(tgt)", mapping.Relationship, mapping.Key.Property)
	default:
		return fmt.Sprintf("MERGE (src)<-[r:%s]-(tgt)", mapping.Relationship)
	}
}

func edgeMatchClause(mapping *config.EdgeMapping) string {
	switch {
	case mapping.EffectiveDirection() == config.EdgeDirectionOut && mapping.Key != nil:
		return fmt.Sprintf("MATCH (src)-[r:%s {%s: row.edgeKey}]->(tgt)", mapping.Relationship, mapping.Key.Property)
	case mapping.EffectiveDirection() == config.EdgeDirectionOut:
		return fmt.Sprintf("MATCH (src)-[r:%s]->(tgt)", mapping.Relationship)
	case mapping.Key != nil:
		return fmt.Sprintf("MATCH (src)<-[r:%s {%s: row.edgeKey}]-(tgt)", mapping.Relationship, mapping.Key.Property)
	default:
		return fmt.Sprintf("MATCH (src)<-[r:%s]-(tgt)", mapping.Relationship)
	}
}

func writeEdgesBatch(ctx context.Context, conn GraphConn, mapping *config.EdgeMapping, batch []mapper.MappedEdge, fromLabels, toLabels []string) error {
	if len(batch) == 0 {
		return nil
	}

	fromKey, err := firstMatchProperty(mapping.From)
	if err != nil {
		return err
	}
	toKey, err := firstMatchProperty(mapping.To)
	if err != nil {
		return err
	}

	rows := make([]any, len(batch))
	for i, e := range batch {
		row := map[string]any{"from": e.FromProps, "to": e.ToProps, "props": e.Props}
		if e.EdgeKey != nil {
			row["edgeKey"] = e.EdgeKey
		}
		rows[i] = row
	}

	stmt := fmt.Sprintf(
		"UNWIND %s AS row MATCH (src:%s {%s: row.from.%s}) MATCH (tgt:%s {%s: row.to.%s}) %s SET r += row.props",
		cypher.Encode(rows),
		strings.Join(fromLabels, ":"), fromKey, fromKey,
		strings.Join(toLabels, ":"), toKey, toKey,
		edgeMergeClause(mapping),
	)
	return conn.Exec(ctx, stmt)
}

func deleteEdgesBatch(ctx context.Context, conn GraphConn, mapping *config.EdgeMapping, batch []mapper.MappedEdge, fromLabels, toLabels []string) error {
	if len(batch) == 0 {
		return nil
	}

	fromKey, err := firstMatchProperty(mapping.From)
	if err != nil {
		return err
	}
	toKey, err := firstMatchProperty(mapping.To)
	if err != nil {
		return err
	}

	rows := make([]any, len(batch))
	for i, e := range batch {
		row := map[string]any{"from": e.FromProps, "to": e.ToProps}
		if e.EdgeKey != nil {
			row["edgeKey"] = e.EdgeKey
		}
		rows[i] = row
	}

	stmt := fmt.Sprintf(
		"UNWIND %s AS row MATCH (src:%s {%s: row.from.%s}) MATCH (tgt:%s {%s: row.to.%s}) %s DELETE r",
		cypher.Encode(rows),
		strings.Join(fromLabels, ":"), fromKey, fromKey,
		strings.Join(toLabels, ":"), toKey, toKey,
		edgeMatchClause(mapping),
	)
	return conn.Exec(ctx, stmt)
}

// retryWithBackoff retries f up to maxRetries times after a failure, sleeping
// 50ms * 2^min(attempt,5) between attempts (attempt starting at 1 on the
// first retry).
func retryWithBackoff(ctx context.Context, maxRetries int, f func() error) error {
	var attempt int
	for {
		err := f()
		if err == nil {
			return nil
		}
		if attempt >= maxRetries {
			return fmt.Errorf("batch write failed after %d attempts: %w", attempt+1, err)
		}
		attempt++
		shift := attempt
		if shift > 5 {
			shift = 5
		}
		backoff := time.Duration(50*(1<<uint(shift))) * time.Millisecond
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
