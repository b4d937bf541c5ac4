package graphsink

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/snowflake-to-falkordb/internal/config"
)

func TestNewRedisConnConnectsAndCloses(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := config.GraphConfig{Endpoint: mr.Addr(), Graph: "g"}
	conn, err := newRedisConn(context.Background(), cfg)
	require.NoError(t, err)
	assert.NoError(t, conn.Close())
}

func TestNewRedisConnFailsOnUnreachableEndpoint(t *testing.T) {
	cfg := config.GraphConfig{Endpoint: "127.0.0.1:1", Graph: "g"}
	_, err := newRedisConn(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRedisAddrStripsScheme(t *testing.T) {
	addr, err := redisAddr("falkor://localhost:6379")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", addr)

	addr, err = redisAddr("localhost:6379")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", addr)
}
