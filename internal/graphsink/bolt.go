package graphsink

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/evalgo/snowflake-to-falkordb/internal/config"
)

// boltConn talks to Neo4j over the Bolt protocol.
type boltConn struct {
	driver neo4j.DriverWithContext
	graph  string
}

func newBoltConn(ctx context.Context, cfg config.GraphConfig) (GraphConn, error) {
	auth := neo4j.NoAuth()
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(cfg.Endpoint, auth)
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver for %s: %w", cfg.Endpoint, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j at %s: %w", cfg.Endpoint, err)
	}

	return &boltConn{driver: driver, graph: cfg.Graph}, nil
}

func (c *boltConn) Exec(ctx context.Context, statement string) error {
	_, err := neo4j.ExecuteQuery(ctx, c.driver, statement, nil,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(c.graph),
	)
	return err
}

func (c *boltConn) Query(ctx context.Context, statement string) ([]map[string]any, error) {
	result, err := neo4j.ExecuteQuery(ctx, c.driver, statement, nil,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(c.graph),
	)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(result.Records))
	for _, rec := range result.Records {
		out = append(out, rec.AsMap())
	}
	return out, nil
}

func (c *boltConn) EnsureIndex(ctx context.Context, labelClause, property string) error {
	label := strings.SplitN(labelClause, ":", 2)[0]
	stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS FOR (n:%s) ON (n.%s)", label, property)
	return c.Exec(ctx, stmt)
}

func (c *boltConn) Close() error {
	return c.driver.Close(context.Background())
}
