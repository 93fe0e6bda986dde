// Package arc is the Go client for the Arc time-series warehouse. It
// writes tabular frames, structured records and line protocol over Arc's
// HTTP API and reads query results back as rows or Arrow-backed frames.
package arc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/basekick-labs/arc-go/internal/circuitbreaker"
	"github.com/basekick-labs/arc-go/internal/spool"
	"github.com/basekick-labs/arc-go/internal/wire"
)

const (
	healthPath     = "/health"
	msgpackPath    = "/api/v1/write/msgpack"
	linePath       = "/api/v1/write/line-protocol"
	queryPath      = "/api/v1/query"
	queryArrowPath = "/api/v1/query/arrow"

	msgpackContentType = "application/msgpack"
	lineContentType    = "text/plain"
)

// Client talks to one Arc server. Safe for concurrent use.
type Client struct {
	cfg     Config
	base    *url.URL
	http    *http.Client
	logger  zerolog.Logger
	breaker *circuitbreaker.Breaker
	spool   *spool.Spool

	closeOnce sync.Once
	closed    atomic.Bool
	connected atomic.Bool

	replayDone chan struct{}
	replayWG   sync.WaitGroup

	writes         atomic.Int64
	writeErrors    atomic.Int64
	recordsWritten atomic.Int64
	queries        atomic.Int64
	queryErrors    atomic.Int64
	spooled        atomic.Int64
	replayed       atomic.Int64
}

// Connect validates the config, opens the spool when configured and probes
// the server's health endpoint. An unreachable server fails with
// ErrConnectionFailed.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url: %v", ErrValidation, err)
	}

	idle := cfg.MaxConcurrency + 2
	c := &Client{
		cfg:    cfg,
		base:   base,
		logger: cfg.Logger.With().Str("component", "arc-client").Logger(),
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        idle,
				MaxIdleConnsPerHost: idle,
				IdleConnTimeout:     30 * time.Second,
			},
			Timeout: cfg.timeout(),
		},
	}

	if cfg.BreakerEnabled {
		c.breaker = circuitbreaker.New("arc-client", cfg.BreakerThreshold, cfg.BreakerCooldown, c.logger)
	}

	if cfg.SpoolDir != "" {
		sp, err := spool.Open(spool.Config{
			Dir:      cfg.SpoolDir,
			SyncMode: spool.SyncMode(cfg.SpoolSyncMode),
			MaxBytes: cfg.SpoolMaxBytes,
			Logger:   c.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("opening spool: %w", err)
		}
		c.spool = sp
	}

	if err := c.Ping(ctx); err != nil {
		if c.spool != nil {
			c.spool.Close()
		}
		return nil, err
	}
	c.connected.Store(true)

	if c.spool != nil {
		c.replayDone = make(chan struct{})
		c.replayWG.Add(1)
		go c.replayLoop()
	}

	c.logger.Debug().
		Str("url", cfg.URL).
		Str("database", cfg.Database).
		Msg("Connected to Arc")

	return c, nil
}

// WithClient connects, runs fn and always closes the client, fn panicking
// included.
func WithClient(ctx context.Context, cfg Config, fn func(*Client) error) error {
	c, err := Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

// Close stops the replay loop, seals the spool and releases connections.
// Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.connected.Store(false)

		if c.replayDone != nil {
			close(c.replayDone)
			c.replayWG.Wait()
		}
		if c.spool != nil {
			err = c.spool.Close()
		}
		c.http.CloseIdleConnections()

		c.logger.Debug().Msg("Client closed")
	})
	return err
}

// Ping probes the server's health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, healthPath, nil, "", c.cfg.Database, nil)
	if err != nil {
		return fmt.Errorf("%w: building request: %v", ErrConnectionFailed, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check returned %d", ErrConnectionFailed, resp.StatusCode)
	}
	return nil
}

// IsConnected reports whether Connect succeeded and Close has not run.
func (c *Client) IsConnected() bool {
	return c != nil && c.connected.Load()
}

// Stats returns cumulative client counters.
func (c *Client) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"connected":       c.IsConnected(),
		"writes":          c.writes.Load(),
		"write_errors":    c.writeErrors.Load(),
		"records_written": c.recordsWritten.Load(),
		"queries":         c.queries.Load(),
		"query_errors":    c.queryErrors.Load(),
	}
	if c.spool != nil {
		stats["spooled"] = c.spooled.Load()
		stats["replayed"] = c.replayed.Load()
		stats["spool"] = c.spool.Stats()
	}
	if c.breaker != nil {
		stats["breaker"] = c.breaker.Stats()
	}
	return stats
}

func (c *Client) ensureOpen() error {
	if c == nil || c.http == nil {
		return fmt.Errorf("%w: use Connect to create a client", ErrNotConnected)
	}
	if c.closed.Load() {
		return fmt.Errorf("%w: client is closed", ErrNotConnected)
	}
	return nil
}

// requestContext applies the configured timeout unless the caller brought
// their own deadline.
func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.cfg.timeout())
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType, database string, params url.Values) (*http.Request, error) {
	u := c.base.JoinPath(path)
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("x-request-id", uuid.NewString())
	req.Header.Set("x-arc-database", database)
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	return req, nil
}

// postWrite sends one payload to a write endpoint. Success is any 2xx, the
// native endpoints answer 204.
func (c *Client) postWrite(ctx context.Context, path, contentType string, payload []byte, database string) error {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(payload), contentType, database, nil)
	if err != nil {
		return fmt.Errorf("%w: building request: %v", ErrWriteFailed, err)
	}
	if wire.IsGzip(payload) {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body) // Drain so the connection is reused
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
	return fmt.Errorf("%w: %w", ErrWriteFailed, newAPIError(resp.StatusCode, body))
}

// send routes a write through the circuit breaker when one is configured.
// Only transport failures count against the breaker; server rejections pass
// through without tripping it.
func (c *Client) send(ctx context.Context, path, contentType string, payload []byte, database string) error {
	if c.breaker == nil {
		return c.postWrite(ctx, path, contentType, payload, database)
	}

	var reqErr error
	err := c.breaker.Execute(func() error {
		reqErr = c.postWrite(ctx, path, contentType, payload, database)
		if errors.Is(reqErr, ErrConnectionFailed) {
			return reqErr
		}
		return nil
	})
	if reqErr != nil {
		return reqErr
	}
	if err != nil {
		// Rejected while open, nothing was sent
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}
