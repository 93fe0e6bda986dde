package arc

import (
	"context"
	"fmt"
	"os"
	"strconv"
)

// Environment variables the Arc Flow engine injects into task processes.
const (
	EnvEngineRuntime   = "ARC_FLOW_RUNTIME"
	EnvEngineURL       = "ARC_FLOW_URL"
	EnvEngineToken     = "ARC_FLOW_TOKEN"
	EnvEngineDatabase  = "ARC_FLOW_DATABASE"
	EnvEngineTimeoutMS = "ARC_FLOW_TIMEOUT_MS"
)

// EngineConfig builds a Config from the connection settings the Arc Flow
// engine injects into task processes. Outside the engine it fails with
// ErrEngineEnvironment.
func EngineConfig() (Config, error) {
	if os.Getenv(EnvEngineRuntime) == "" {
		return Config{}, fmt.Errorf("%w: %s is not set", ErrEngineEnvironment, EnvEngineRuntime)
	}

	cfg := Config{
		URL:      os.Getenv(EnvEngineURL),
		Token:    os.Getenv(EnvEngineToken),
		Database: os.Getenv(EnvEngineDatabase),
	}
	if raw := os.Getenv(EnvEngineTimeoutMS); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			return Config{}, fmt.Errorf("%w: bad %s value %q", ErrEngineEnvironment, EnvEngineTimeoutMS, raw)
		}
		cfg.TimeoutMS = ms
	}
	return cfg, nil
}

// ConnectEngine is Connect over EngineConfig.
func ConnectEngine(ctx context.Context) (*Client, error) {
	cfg, err := EngineConfig()
	if err != nil {
		return nil, err
	}
	return Connect(ctx, cfg)
}
