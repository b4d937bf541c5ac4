// Package mapper projects source rows into the node/edge upsert records the
// graph sink writes, following each mapping's declarative key/property/
// match_on configuration.
package mapper

import (
	"fmt"

	"github.com/evalgo/snowflake-to-falkordb/internal/config"
	"github.com/evalgo/snowflake-to-falkordb/internal/source"
)

// MappedNode is one row projected through a node mapping: its key value plus
// the full property set (the key property is always included).
type MappedNode struct {
	Key   any
	Props map[string]any
}

// MappedEdge is one row projected through an edge mapping: the property maps
// used to locate each endpoint node, the edge's own key (if configured), and
// the edge's own properties.
type MappedEdge struct {
	FromProps map[string]any
	ToProps   map[string]any
	EdgeKey   any
	Props     map[string]any
}

// MapNodes projects rows into MappedNode records per mapping's key and
// properties specs, erroring if any row is missing a required column.
func MapNodes(rows []source.LogicalRow, mapping *config.NodeMapping) ([]MappedNode, error) {
	out := make([]MappedNode, 0, len(rows))

	for idx, row := range rows {
		keyValue, ok := row.Get(mapping.Key.Column)
		if !ok {
			return nil, fmt.Errorf("row %d is missing key column %q", idx, mapping.Key.Column)
		}

		props := make(map[string]any, len(mapping.Properties)+1)
		props[mapping.Key.Property] = keyValue

		for propName, spec := range mapping.Properties {
			val, ok := row.Get(spec.Column)
			if !ok {
				return nil, fmt.Errorf("row %d is missing column %q required for property %q", idx, spec.Column, propName)
			}
			props[propName] = val
		}

		out = append(out, MappedNode{Key: keyValue, Props: props})
	}

	return out, nil
}

// MapEdges projects rows into MappedEdge records per mapping's endpoint
// match_on specs, edge key, and properties.
func MapEdges(rows []source.LogicalRow, mapping *config.EdgeMapping) ([]MappedEdge, error) {
	out := make([]MappedEdge, 0, len(rows))

	for idx, row := range rows {
		fromProps, err := buildMatchProps(row, mapping.From.MatchOn)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", idx, err)
		}
		toProps, err := buildMatchProps(row, mapping.To.MatchOn)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", idx, err)
		}

		var edgeKey any
		if mapping.Key != nil {
			v, ok := row.Get(mapping.Key.Column)
			if !ok {
				return nil, fmt.Errorf("row %d is missing column %q for edge key", idx, mapping.Key.Column)
			}
			edgeKey = v
		}

		props := make(map[string]any, len(mapping.Properties))
		for propName, spec := range mapping.Properties {
			val, ok := row.Get(spec.Column)
			if !ok {
				return nil, fmt.Errorf("row %d is missing column %q required for edge property %q", idx, spec.Column, propName)
			}
			props[propName] = val
		}

		out = append(out, MappedEdge{
			FromProps: fromProps,
			ToProps:   toProps,
			EdgeKey:   edgeKey,
			Props:     props,
		})
	}

	return out, nil
}

// buildMatchProps projects every match_on entry for an endpoint into a
// property map used to locate that endpoint node. Unlike the graph sink's
// generated MATCH predicate, which uses only the first match_on entry, the
// mapper retains the full set here so multi-column natural keys are
// available to any caller that wants them.
func buildMatchProps(row source.LogicalRow, specs []config.MatchOn) (map[string]any, error) {
	props := make(map[string]any, len(specs))
	for _, spec := range specs {
		val, ok := row.Get(spec.Column)
		if !ok {
			return nil, fmt.Errorf("missing column %q for endpoint match", spec.Column)
		}
		props[spec.Property] = val
	}
	return props, nil
}
