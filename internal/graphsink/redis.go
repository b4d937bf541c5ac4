package graphsink

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/evalgo/snowflake-to-falkordb/internal/config"
)

// redisConn talks to FalkorDB over the Redis wire protocol, issuing every
// statement as a GRAPH.QUERY command.
type redisConn struct {
	client *redis.Client
	graph  string
}

func newRedisConn(ctx context.Context, cfg config.GraphConfig) (GraphConn, error) {
	addr, err := redisAddr(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing falkordb endpoint %q: %w", cfg.Endpoint, err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to falkordb at %s: %w", addr, err)
	}

	return &redisConn{client: client, graph: cfg.Graph}, nil
}

func redisAddr(endpoint string) (string, error) {
	if !strings.Contains(endpoint, "://") {
		return endpoint, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	return u.Host, nil
}

func (c *redisConn) Exec(ctx context.Context, statement string) error {
	return c.client.Do(ctx, "GRAPH.QUERY", c.graph, statement).Err()
}

// Query parses FalkorDB's GRAPH.QUERY reply shape: a 3-element array of
// [header, records, statistics], where header names each returned column
// and records is an array of per-row value arrays.
func (c *redisConn) Query(ctx context.Context, statement string) ([]map[string]any, error) {
	reply, err := c.client.Do(ctx, "GRAPH.QUERY", c.graph, statement).Result()
	if err != nil {
		return nil, err
	}

	top, ok := reply.([]any)
	if !ok || len(top) < 2 {
		return nil, fmt.Errorf("unexpected GRAPH.QUERY reply shape")
	}

	header, _ := top[0].([]any)
	colNames := make([]string, len(header))
	for i, h := range header {
		colNames[i] = headerColumnName(h)
	}

	dataRows, _ := top[1].([]any)
	out := make([]map[string]any, 0, len(dataRows))
	for _, r := range dataRows {
		cols, _ := r.([]any)
		row := make(map[string]any, len(cols))
		for i, v := range cols {
			name := fmt.Sprintf("col%d", i)
			if i < len(colNames) && colNames[i] != "" {
				name = colNames[i]
			}
			row[name] = decodeGraphValue(v)
		}
		out = append(out, row)
	}
	return out, nil
}

func headerColumnName(h any) string {
	switch t := h.(type) {
	case []any:
		if len(t) > 1 {
			return headerColumnName(t[1])
		}
	case string:
		return t
	case []byte:
		return string(t)
	}
	return ""
}

func decodeGraphValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func (c *redisConn) EnsureIndex(ctx context.Context, labelClause, property string) error {
	stmt := fmt.Sprintf("CREATE INDEX ON :%s(%s)", labelClause, property)
	return c.client.Do(ctx, "GRAPH.QUERY", c.graph, stmt).Err()
}

func (c *redisConn) Close() error {
	return c.client.Close()
}
