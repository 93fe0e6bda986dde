package arc_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basekick-labs/arc-go/pkg/arc"
)

func TestEngineConfigOutsideEngine(t *testing.T) {
	t.Setenv(arc.EnvEngineRuntime, "")

	_, err := arc.EngineConfig()
	require.Error(t, err)
	assert.ErrorIs(t, err, arc.ErrEngineEnvironment)

	_, err = arc.ConnectEngine(context.Background())
	assert.ErrorIs(t, err, arc.ErrEngineEnvironment)
}

func TestEngineConfig(t *testing.T) {
	t.Setenv(arc.EnvEngineRuntime, "flow-1.4")
	t.Setenv(arc.EnvEngineURL, "http://arc.internal:8000")
	t.Setenv(arc.EnvEngineToken, "task-token")
	t.Setenv(arc.EnvEngineDatabase, "flows")
	t.Setenv(arc.EnvEngineTimeoutMS, "5000")

	cfg, err := arc.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://arc.internal:8000", cfg.URL)
	assert.Equal(t, "task-token", cfg.Token)
	assert.Equal(t, "flows", cfg.Database)
	assert.Equal(t, 5000, cfg.TimeoutMS)
}

func TestEngineConfigBadTimeout(t *testing.T) {
	t.Setenv(arc.EnvEngineRuntime, "flow-1.4")
	t.Setenv(arc.EnvEngineURL, "http://arc.internal:8000")

	for _, raw := range []string{"abc", "-100", "0"} {
		t.Setenv(arc.EnvEngineTimeoutMS, raw)
		_, err := arc.EngineConfig()
		require.Error(t, err, "timeout %q must be rejected", raw)
		assert.ErrorIs(t, err, arc.ErrEngineEnvironment)
	}
}

func TestConnectEngine(t *testing.T) {
	srv := startServer(t)
	token := srv.RequireAuth()

	t.Setenv(arc.EnvEngineRuntime, "flow-1.4")
	t.Setenv(arc.EnvEngineURL, srv.URL())
	t.Setenv(arc.EnvEngineToken, token)
	t.Setenv(arc.EnvEngineDatabase, "flows")

	c, err := arc.ConnectEngine(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	require.NoError(t, c.WriteRecords(context.Background(), testRecords(2)))
	assert.Equal(t, int64(2), srv.Databases()["flows"])
}
