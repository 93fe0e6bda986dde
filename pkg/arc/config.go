package arc

import (
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// Version of the client library, sent in the default User-Agent.
const Version = "0.1.0"

const (
	DefaultURL       = "http://localhost:8000"
	DefaultDatabase  = "default"
	DefaultTimeoutMS = 30000
	DefaultBatchSize = 1000

	defaultReplayInterval = 30 * time.Second
)

// Config holds client settings. The zero value is not usable, fill in at
// least URL; everything else has a default.
type Config struct {
	// URL is the base URL of the Arc server, e.g. "http://localhost:8000".
	URL string

	// Token authenticates requests as "Authorization: Bearer <token>".
	// Empty means no auth header.
	Token string

	// Database selects the target database via the x-arc-database header.
	Database string

	// TimeoutMS bounds each request in milliseconds. Default 30000.
	TimeoutMS int

	// BatchSize is the chunk size every write shape is split into before
	// transmission. Default 1000.
	BatchSize int

	// MaxConcurrency uploads the chunks of one write call in parallel when
	// greater than 1. Chunk order is then not guaranteed. Default 1.
	MaxConcurrency int

	// Compression is "gzip" (default) or "none".
	Compression string

	// Precision for line protocol timestamps: ns (default), us, ms or s.
	Precision string

	// ValidateLines parses every line locally before WriteLines transmits
	// anything.
	ValidateLines bool

	// SpoolDir enables the durable spool: chunks that fail with a
	// connection-kind error are persisted there and replayed in the
	// background until the server acknowledges them.
	SpoolDir string

	// SpoolReplayInterval is the pause between replay passes. Default 30s.
	SpoolReplayInterval time.Duration

	// SpoolSyncMode is "fsync", "fdatasync" (default) or "async".
	SpoolSyncMode string

	// SpoolMaxBytes caps the spool directory size. Writes spool-fail once
	// the cap is reached. Default 100MB.
	SpoolMaxBytes int64

	// BreakerEnabled turns on the circuit breaker: after BreakerThreshold
	// consecutive transport failures writes fail fast for BreakerCooldown.
	BreakerEnabled   bool
	BreakerThreshold int
	BreakerCooldown  time.Duration

	// UserAgent overrides the default "arc-go/<version>".
	UserAgent string

	// Logger receives client logs. The zero value discards everything.
	Logger zerolog.Logger
}

// withDefaults returns a copy with unset fields filled in.
func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.TimeoutMS == 0 {
		c.TimeoutMS = DefaultTimeoutMS
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = 1
	}
	if c.Compression == "" {
		c.Compression = "gzip"
	}
	if c.Precision == "" {
		c.Precision = "ns"
	}
	if c.SpoolReplayInterval <= 0 {
		c.SpoolReplayInterval = defaultReplayInterval
	}
	if c.UserAgent == "" {
		c.UserAgent = "arc-go/" + Version
	}
	return c
}

func (c Config) validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("%w: invalid url %q: %v", ErrValidation, c.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: url scheme must be http or https, got %q", ErrValidation, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: url %q has no host", ErrValidation, c.URL)
	}
	if c.TimeoutMS < 0 {
		return fmt.Errorf("%w: timeout must be positive, got %dms", ErrValidation, c.TimeoutMS)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrValidation, c.BatchSize)
	}
	switch c.Compression {
	case "gzip", "none":
	default:
		return fmt.Errorf("%w: compression must be gzip or none, got %q", ErrValidation, c.Compression)
	}
	switch c.Precision {
	case "ns", "us", "ms", "s":
	default:
		return fmt.Errorf("%w: precision must be ns, us, ms or s, got %q", ErrValidation, c.Precision)
	}
	switch c.SpoolSyncMode {
	case "", "fsync", "fdatasync", "async":
	default:
		return fmt.Errorf("%w: spool sync mode must be fsync, fdatasync or async, got %q", ErrValidation, c.SpoolSyncMode)
	}
	return nil
}

func (c Config) timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}
