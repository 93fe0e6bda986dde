// Package arctest runs an in-process stand-in for an Arc server. It
// implements the client-facing endpoints, keeps every record it receives
// and supports failure injection, for testing code built on the client
// without a real warehouse.
package arctest

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"

	"github.com/basekick-labs/arc-go/pkg/arc"
	"github.com/basekick-labs/arc-go/pkg/models"
)

const maxPayloadSize = 100 * 1024 * 1024

// Server is an in-process Arc server double bound to a loopback port.
type Server struct {
	app *fiber.App
	ln  net.Listener
	url string

	mu        sync.Mutex
	token     string
	records   []models.Record
	databases map[string]int64
	stubs     map[string]*arc.RowSet

	writeCount atomic.Int64
	lineCount  atomic.Int64
	queryCount atomic.Int64

	failRemaining atomic.Int32
	failStatus    atomic.Int32
	latency       atomic.Int64

	arrowDisabled atomic.Bool
}

// Start binds a server to 127.0.0.1:0 and begins serving.
func Start() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("binding test server: %w", err)
	}

	s := &Server{
		ln:        ln,
		url:       "http://" + ln.Addr().String(),
		databases: make(map[string]int64),
		stubs:     make(map[string]*arc.RowSet),
	}

	app := fiber.New(fiber.Config{
		AppName:                      "Arc Test Server",
		DisableStartupMessage:        true,
		DisablePreParseMultipartForm: true,
		BodyLimit:                    maxPayloadSize,
	})
	app.Use(recover.New())
	app.Use(s.middleware)

	app.Get("/health", s.handleHealth)
	app.Post("/api/v1/write/msgpack", s.handleMsgpack)
	app.Post("/api/v1/write/line-protocol", s.handleLine)
	app.Post("/write", s.handleLineV1)
	app.Post("/api/v1/query", s.handleQuery)
	app.Post("/api/v1/query/arrow", s.handleQueryArrow)

	s.app = app
	go app.Listener(ln)

	return s, nil
}

// URL returns the base URL clients should connect to.
func (s *Server) URL() string {
	return s.url
}

// Close stops the server.
func (s *Server) Close() error {
	return s.app.Shutdown()
}

// SetToken makes every endpoint except /health require this bearer token.
func (s *Server) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// RequireAuth turns on bearer auth with a fresh random token and returns it.
func (s *Server) RequireAuth() string {
	token := uuid.NewString()
	s.SetToken(token)
	return token
}

// Records returns a copy of everything received so far, in arrival order.
// Columnar payloads are flattened to one record per row.
func (s *Server) Records() []models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Record, len(s.records))
	copy(out, s.records)
	return out
}

// RecordCount returns how many records arrived so far.
func (s *Server) RecordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// WriteCount returns how many write requests succeeded.
func (s *Server) WriteCount() int {
	return int(s.writeCount.Load())
}

// LineCount returns how many line protocol records arrived.
func (s *Server) LineCount() int {
	return int(s.lineCount.Load())
}

// QueryCount returns how many queries were served.
func (s *Server) QueryCount() int {
	return int(s.queryCount.Load())
}

// Databases returns per-database record counts, keyed by the x-arc-database
// header values received.
func (s *Server) Databases() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.databases))
	for k, v := range s.databases {
		out[k] = v
	}
	return out
}

// Reset drops stored records, stubs and counters. Injection settings stay.
func (s *Server) Reset() {
	s.mu.Lock()
	s.records = nil
	s.databases = make(map[string]int64)
	s.stubs = make(map[string]*arc.RowSet)
	s.mu.Unlock()
	s.writeCount.Store(0)
	s.lineCount.Store(0)
	s.queryCount.Store(0)
}

// FailWrites makes the next n write requests fail with the given HTTP
// status. A status of zero or below drops the connection without answering,
// which clients see as a transport failure.
func (s *Server) FailWrites(n int, status int) {
	s.failStatus.Store(int32(status))
	s.failRemaining.Store(int32(n))
}

// SetLatency delays every request by d.
func (s *Server) SetLatency(d time.Duration) {
	s.latency.Store(int64(d))
}

// StubQuery serves rs for this exact SQL text, on both the JSON and Arrow
// endpoints.
func (s *Server) StubQuery(sql string, rs *arc.RowSet) {
	s.mu.Lock()
	s.stubs[sql] = rs
	s.mu.Unlock()
}

// DisableArrow makes the Arrow endpoint answer 404, like a server built
// without it.
func (s *Server) DisableArrow() {
	s.arrowDisabled.Store(true)
}

func (s *Server) middleware(c *fiber.Ctx) error {
	if d := s.latency.Load(); d > 0 {
		time.Sleep(time.Duration(d))
	}
	if c.Path() == "/health" {
		return c.Next()
	}

	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token == "" {
		return c.Next()
	}

	auth := c.Get("Authorization")
	if auth == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "Authentication required",
		})
	}
	if auth != "Bearer "+token {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid or expired token",
		})
	}
	return c.Next()
}

func (s *Server) store(database string, recs []models.Record) {
	s.mu.Lock()
	s.records = append(s.records, recs...)
	s.databases[database] += int64(len(recs))
	s.mu.Unlock()
}

// injectFailure consumes one injected failure if any remain. Reports true
// when the request was already answered (or the connection dropped).
func (s *Server) injectFailure(c *fiber.Ctx) bool {
	for {
		n := s.failRemaining.Load()
		if n <= 0 {
			return false
		}
		if s.failRemaining.CompareAndSwap(n, n-1) {
			break
		}
	}

	status := int(s.failStatus.Load())
	if status <= 0 {
		c.Context().Conn().Close()
		return true
	}
	c.Status(status).JSON(fiber.Map{
		"error": "injected failure",
	})
	return true
}
