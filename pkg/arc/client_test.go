package arc_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basekick-labs/arc-go/pkg/arc"
	"github.com/basekick-labs/arc-go/pkg/arctest"
	"github.com/basekick-labs/arc-go/pkg/models"
)

func startServer(t *testing.T) *arctest.Server {
	t.Helper()
	srv, err := arctest.Start()
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func connect(t *testing.T, srv *arctest.Server, mutate func(*arc.Config)) *arc.Client {
	t.Helper()
	cfg := arc.Config{URL: srv.URL(), Database: "testdb"}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := arc.Connect(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func testRecords(n int) []models.Record {
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	recs := make([]models.Record, n)
	for i := range recs {
		recs[i] = models.NewRecord("cpu",
			map[string]interface{}{"usage": float64(i), "core": "cpu0"},
			map[string]string{"host": "web-01"},
			t0.Add(time.Duration(i)*time.Second))
	}
	return recs
}

func TestConnect(t *testing.T) {
	srv := startServer(t)
	c := connect(t, srv, nil)

	assert.True(t, c.IsConnected())

	stats := c.Stats()
	assert.Equal(t, true, stats["connected"])
	assert.Equal(t, int64(0), stats["writes"])
}

func TestConnectUnreachable(t *testing.T) {
	cfg := arc.Config{URL: "http://127.0.0.1:1", TimeoutMS: 2000}
	_, err := arc.Connect(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, arc.ErrConnectionFailed)
}

func TestConnectValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  arc.Config
	}{
		{"bad scheme", arc.Config{URL: "ftp://localhost:8000"}},
		{"no host", arc.Config{URL: "http://"}},
		{"bad compression", arc.Config{URL: "http://localhost:8000", Compression: "zstd"}},
		{"bad precision", arc.Config{URL: "http://localhost:8000", Precision: "h"}},
		{"negative timeout", arc.Config{URL: "http://localhost:8000", TimeoutMS: -1}},
		{"negative batch size", arc.Config{URL: "http://localhost:8000", BatchSize: -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := arc.Connect(context.Background(), tt.cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, arc.ErrValidation)
		})
	}
}

func TestConnectRespectsContext(t *testing.T) {
	srv := startServer(t)
	srv.SetLatency(500 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := arc.Connect(ctx, arc.Config{URL: srv.URL()})
	require.Error(t, err)
	assert.ErrorIs(t, err, arc.ErrConnectionFailed)
}

func TestCloseIdempotent(t *testing.T) {
	srv := startServer(t)
	c := connect(t, srv, nil)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.False(t, c.IsConnected())

	err := c.WriteRecords(context.Background(), testRecords(1))
	assert.ErrorIs(t, err, arc.ErrNotConnected)

	_, err = c.Query(context.Background(), "SELECT * FROM cpu")
	assert.ErrorIs(t, err, arc.ErrNotConnected)
}

func TestWithClient(t *testing.T) {
	srv := startServer(t)

	var seen *arc.Client
	err := arc.WithClient(context.Background(), arc.Config{URL: srv.URL()}, func(c *arc.Client) error {
		seen = c
		assert.True(t, c.IsConnected())
		return c.WriteRecords(context.Background(), testRecords(2))
	})
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.False(t, seen.IsConnected())
	assert.Equal(t, 2, srv.RecordCount())
}

func TestWithClientReturnsFnError(t *testing.T) {
	srv := startServer(t)

	wantErr := errors.New("task failed")
	err := arc.WithClient(context.Background(), arc.Config{URL: srv.URL()}, func(c *arc.Client) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestWithClientClosesOnPanic(t *testing.T) {
	srv := startServer(t)

	var seen *arc.Client
	func() {
		defer func() {
			r := recover()
			require.NotNil(t, r, "expected the panic to propagate")
		}()
		arc.WithClient(context.Background(), arc.Config{URL: srv.URL()}, func(c *arc.Client) error {
			seen = c
			panic("boom")
		})
	}()

	require.NotNil(t, seen)
	assert.False(t, seen.IsConnected())
}

func TestWithClientConnectFailure(t *testing.T) {
	err := arc.WithClient(context.Background(), arc.Config{URL: "http://127.0.0.1:1", TimeoutMS: 2000}, func(c *arc.Client) error {
		t.Fatal("fn must not run when connect fails")
		return nil
	})
	assert.ErrorIs(t, err, arc.ErrConnectionFailed)
}

func TestPing(t *testing.T) {
	srv := startServer(t)
	c := connect(t, srv, nil)

	require.NoError(t, c.Ping(context.Background()))

	srv.Close()
	err := c.Ping(context.Background())
	assert.ErrorIs(t, err, arc.ErrConnectionFailed)
}

func TestStatsCounters(t *testing.T) {
	srv := startServer(t)
	c := connect(t, srv, func(cfg *arc.Config) {
		cfg.BatchSize = 5
	})

	require.NoError(t, c.WriteRecords(context.Background(), testRecords(10)))
	_, err := c.Query(context.Background(), "SELECT * FROM cpu")
	require.NoError(t, err)

	stats := c.Stats()
	assert.Equal(t, int64(2), stats["writes"])
	assert.Equal(t, int64(10), stats["records_written"])
	assert.Equal(t, int64(1), stats["queries"])
	assert.Equal(t, int64(0), stats["write_errors"])
}
