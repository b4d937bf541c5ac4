package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/snowflake-to-falkordb/internal/config"
	"github.com/evalgo/snowflake-to-falkordb/internal/source"
)

func TestMapNodesIncludesKeyAndProperties(t *testing.T) {
	mapping := &config.NodeMapping{
		Key:        config.KeySpec{Column: "id", Property: "id"},
		Properties: map[string]config.PropertySpec{"name": {Column: "full_name"}},
	}
	rows := []source.LogicalRow{{"id": float64(1), "full_name": "Ada Lovelace"}}

	out, err := MapNodes(rows, mapping)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, float64(1), out[0].Key)
	assert.Equal(t, float64(1), out[0].Props["id"])
	assert.Equal(t, "Ada Lovelace", out[0].Props["name"])
}

func TestMapNodesErrorsOnMissingKeyColumn(t *testing.T) {
	mapping := &config.NodeMapping{Key: config.KeySpec{Column: "id", Property: "id"}}
	rows := []source.LogicalRow{{"name": "orphan"}}

	_, err := MapNodes(rows, mapping)
	assert.Error(t, err)
}

func TestMapNodesErrorsOnMissingPropertyColumn(t *testing.T) {
	mapping := &config.NodeMapping{
		Key:        config.KeySpec{Column: "id", Property: "id"},
		Properties: map[string]config.PropertySpec{"name": {Column: "full_name"}},
	}
	rows := []source.LogicalRow{{"id": float64(1)}}

	_, err := MapNodes(rows, mapping)
	assert.Error(t, err)
}

func TestMapEdgesUsesAllMatchOnEntries(t *testing.T) {
	mapping := &config.EdgeMapping{
		From: config.EdgeEndpointMatch{
			NodeMapping: "customers",
			MatchOn: []config.MatchOn{
				{Column: "customer_region", Property: "region"},
				{Column: "customer_id", Property: "id"},
			},
		},
		To: config.EdgeEndpointMatch{
			NodeMapping: "orders",
			MatchOn:     []config.MatchOn{{Column: "order_id", Property: "id"}},
		},
		Key:        &config.KeySpec{Column: "edge_id", Property: "id"},
		Properties: map[string]config.PropertySpec{"placed_at": {Column: "ts"}},
	}
	rows := []source.LogicalRow{{
		"customer_region": "eu",
		"customer_id":     float64(7),
		"order_id":        float64(42),
		"edge_id":         "e-1",
		"ts":              "2024-01-01",
	}}

	out, err := MapEdges(rows, mapping)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, map[string]any{"region": "eu", "id": float64(7)}, out[0].FromProps)
	assert.Equal(t, map[string]any{"id": float64(42)}, out[0].ToProps)
	assert.Equal(t, "e-1", out[0].EdgeKey)
	assert.Equal(t, "2024-01-01", out[0].Props["placed_at"])
}

func TestMapEdgesWithoutKeySpec(t *testing.T) {
	mapping := &config.EdgeMapping{
		From: config.EdgeEndpointMatch{MatchOn: []config.MatchOn{{Column: "a", Property: "id"}}},
		To:   config.EdgeEndpointMatch{MatchOn: []config.MatchOn{{Column: "b", Property: "id"}}},
	}
	rows := []source.LogicalRow{{"a": float64(1), "b": float64(2)}}

	out, err := MapEdges(rows, mapping)
	require.NoError(t, err)
	assert.Nil(t, out[0].EdgeKey)
}

func TestMapEdgesErrorsOnMissingMatchColumn(t *testing.T) {
	mapping := &config.EdgeMapping{
		From: config.EdgeEndpointMatch{MatchOn: []config.MatchOn{{Column: "missing", Property: "id"}}},
		To:   config.EdgeEndpointMatch{MatchOn: []config.MatchOn{{Column: "b", Property: "id"}}},
	}
	rows := []source.LogicalRow{{"b": float64(2)}}

	_, err := MapEdges(rows, mapping)
	assert.Error(t, err)
}
