// Command arc-cli reads, writes and regularizes time series data against an
// Arc server from the terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/basekick-labs/arc-go/internal/config"
	"github.com/basekick-labs/arc-go/internal/logger"
	"github.com/basekick-labs/arc-go/pkg/arc"
	"github.com/basekick-labs/arc-go/pkg/mqtt"
)

// Version is set at build time
var Version = "dev"

const usage = `Usage: arc-cli <command> [flags]

Commands:
  write    Write line protocol or CSV input over HTTP or MQTT
  query    Run SQL and print the result as a table, JSON or CSV
  gapfill  Run a query and project the result onto a fixed time grid
  watch    Re-run a query/gapfill/write pipeline on a cron schedule
  version  Print the version

Run "arc-cli <command> -h" for the flags of a command.

Configuration is read from arc-cli.toml (current directory, ~/.arc/ or
/etc/arc/) and ARC_* environment variables; flags override both.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "write":
		runWrite(args)
	case "query":
		runQuery(args)
	case "gapfill":
		runGapfill(args)
	case "watch":
		runWatch(args)
	case "version":
		fmt.Println("arc-cli " + Version)
	case "help", "-h", "-help", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// connFlags are the connection flags every subcommand shares. Zero values
// defer to the loaded config.
type connFlags struct {
	url       string
	token     string
	database  string
	timeoutMS int
	batchSize int
}

func registerConnFlags(fs *flag.FlagSet) *connFlags {
	cf := &connFlags{}
	fs.StringVar(&cf.url, "url", "", "Arc server URL (default from config)")
	fs.StringVar(&cf.token, "token", "", "API token")
	fs.StringVar(&cf.database, "db", "", "Target database")
	fs.IntVar(&cf.timeoutMS, "timeout-ms", 0, "Request timeout in milliseconds")
	fs.IntVar(&cf.batchSize, "batch-size", 0, "Rows per write request")
	return cf
}

func (cf *connFlags) apply(cfg *config.Config) {
	if cf.url != "" {
		cfg.Client.URL = cf.url
	}
	if cf.token != "" {
		cfg.Client.Token = cf.token
	}
	if cf.database != "" {
		cfg.Client.Database = cf.database
	}
	if cf.timeoutMS > 0 {
		cfg.Client.TimeoutMS = cf.timeoutMS
	}
	if cf.batchSize > 0 {
		cfg.Client.BatchSize = cf.batchSize
	}
}

// loadConfig reads file/env configuration, folds in the flag overrides and
// initializes the global logger.
func loadConfig(cf *connFlags) *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fatal("failed to load config: %v", err)
	}
	cf.apply(cfg)
	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	return cfg
}

// clientConfig maps the CLI configuration onto the client's.
func clientConfig(cfg *config.Config) arc.Config {
	cc := cfg.Client
	ac := arc.Config{
		URL:            cc.URL,
		Token:          cc.Token,
		Database:       cc.Database,
		TimeoutMS:      cc.TimeoutMS,
		BatchSize:      cc.BatchSize,
		MaxConcurrency: cc.MaxConcurrency,
		Compression:    cc.Compression,
		Precision:      cc.Precision,
		ValidateLines:  cc.ValidateLines,
		Logger:         logger.Get("client"),
	}
	if cfg.Spool.Enabled {
		ac.SpoolDir = cfg.Spool.Directory
		ac.SpoolSyncMode = cfg.Spool.SyncMode
		ac.SpoolMaxBytes = cfg.Spool.MaxSizeBytes
		ac.SpoolReplayInterval = time.Duration(cfg.Spool.ReplayIntervalSeconds) * time.Second
	}
	if cfg.Breaker.Enabled {
		ac.BreakerEnabled = true
		ac.BreakerThreshold = cfg.Breaker.Threshold
		ac.BreakerCooldown = time.Duration(cfg.Breaker.CooldownSeconds) * time.Second
	}
	return ac
}

// publisherOptions maps the CLI configuration onto the MQTT publisher's,
// with an optional topic override.
func publisherOptions(cfg *config.Config, topic string) mqtt.Options {
	o := mqtt.Options{
		Broker:    cfg.MQTT.Broker,
		ClientID:  cfg.MQTT.ClientID,
		Topic:     cfg.MQTT.Topic,
		QoS:       cfg.MQTT.QoS,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		TimeoutMS: cfg.Client.TimeoutMS,
		Logger:    logger.Get("mqtt"),
	}
	if topic != "" {
		o.Topic = topic
	}
	return o
}

// signalContext is cancelled on SIGINT or SIGTERM so one-shot commands can
// abort in-flight requests.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// splitList splits a comma-separated flag value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
