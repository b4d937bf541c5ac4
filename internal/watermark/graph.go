package watermark

import (
	"context"
	"fmt"

	"github.com/evalgo/snowflake-to-falkordb/internal/cypher"
	"github.com/evalgo/snowflake-to-falkordb/internal/graphsink"
)

// graphStore persists each mapping's watermark as the value property of its
// own dedicated (:__Watermark {mapping}) node, reusing the same graph
// connection the sink writes nodes and edges through.
type graphStore struct {
	conn graphsink.GraphConn
}

func (s *graphStore) Load(ctx context.Context) (map[string]string, error) {
	rows, err := s.conn.Query(ctx, "MATCH (w:__Watermark) RETURN w.mapping AS mapping, w.value AS value")
	if err != nil {
		return nil, fmt.Errorf("loading watermarks from graph: %w", err)
	}

	out := make(map[string]string, len(rows))
	for _, row := range rows {
		mapping, _ := row["mapping"].(string)
		value, _ := row["value"].(string)
		if mapping == "" {
			continue
		}
		out[mapping] = value
	}
	return out, nil
}

func (s *graphStore) Save(ctx context.Context, watermarks map[string]string) error {
	for mapping, value := range watermarks {
		stmt := fmt.Sprintf(
			"MERGE (w:__Watermark {mapping: %s}) SET w.value = %s",
			cypher.Encode(mapping), cypher.Encode(value),
		)
		if err := s.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("persisting watermark for mapping %q: %w", mapping, err)
		}
	}
	return nil
}
