package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/evalgo/snowflake-to-falkordb/internal/config"
	"github.com/evalgo/snowflake-to-falkordb/internal/graphsink"
)

func purgeGraph(ctx context.Context, conn graphsink.GraphConn, log *logrus.Logger) error {
	log.Warn("purging entire graph prior to load")
	return conn.Exec(ctx, "MATCH (n) DETACH DELETE n")
}

// ensureNodeIndexes creates one index per distinct (labels, key property)
// combination. Failures (for example, an index that already exists) are
// logged as warnings rather than propagated.
func ensureNodeIndexes(ctx context.Context, conn graphsink.GraphConn, nodeMappings map[string]*config.NodeMapping, log *logrus.Logger) {
	seen := make(map[string]bool)

	for _, node := range nodeMappings {
		if len(node.Labels) == 0 {
			continue
		}
		labelClause := strings.Join(node.Labels, ":")
		key := labelClause + "|" + node.Key.Property
		if seen[key] {
			continue
		}
		seen[key] = true

		log.WithFields(logrus.Fields{"labels": labelClause, "property": node.Key.Property}).
			Info("ensuring index for node label on key property")
		if err := conn.EnsureIndex(ctx, labelClause, node.Key.Property); err != nil {
			log.WithFields(logrus.Fields{"labels": labelClause, "property": node.Key.Property, "error": err}).
				Warn("failed to create index for node label (it may already exist)")
		}
	}
}

// purgeMapping removes every node or edge written by the named mapping.
func purgeMapping(ctx context.Context, conn graphsink.GraphConn, mapping config.Mapping, nodeMappings map[string]*config.NodeMapping, log *logrus.Logger) error {
	switch m := mapping.(type) {
	case *config.NodeMapping:
		labelClause := strings.Join(m.Labels, ":")
		log.WithField("mapping", m.MappingName()).Warn("purging node mapping")
		return conn.Exec(ctx, fmt.Sprintf("MATCH (n:%s) DETACH DELETE n", labelClause))

	case *config.EdgeMapping:
		fromLabels, err := endpointLabels(m.From, nodeMappings)
		if err != nil {
			return fmt.Errorf("mapping %q: %w", m.MappingName(), err)
		}
		toLabels, err := endpointLabels(m.To, nodeMappings)
		if err != nil {
			return fmt.Errorf("mapping %q: %w", m.MappingName(), err)
		}

		pattern := "MATCH (src:%s)-[r:%s]->(tgt:%s) DELETE r"
		if m.EffectiveDirection() == config.EdgeDirectionIn {
			pattern = "MATCH (src:%s)<-[r:%s]-(tgt:%s) DELETE r"
		}
		stmt := fmt.Sprintf(
			pattern,
			strings.Join(fromLabels, ":"), m.Relationship, strings.Join(toLabels, ":"),
		)
		log.WithField("mapping", m.MappingName()).Warn("purging edge mapping")
		return conn.Exec(ctx, stmt)

	default:
		return fmt.Errorf("unsupported mapping type for purge")
	}
}

// endpointLabels resolves the labels used to match an edge endpoint: its
// label_override when set, otherwise the labels of the node mapping it
// refers to.
func endpointLabels(endpoint config.EdgeEndpointMatch, nodeMappings map[string]*config.NodeMapping) ([]string, error) {
	if len(endpoint.LabelOverride) > 0 {
		return endpoint.LabelOverride, nil
	}
	node, ok := nodeMappings[endpoint.NodeMapping]
	if !ok {
		return nil, fmt.Errorf("refers to unknown node_mapping %q", endpoint.NodeMapping)
	}
	return node.Labels, nil
}
