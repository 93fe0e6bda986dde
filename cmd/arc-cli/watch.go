package main

import (
	"context"
	"flag"
	"os"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/basekick-labs/arc-go/internal/config"
	"github.com/basekick-labs/arc-go/internal/logger"
	"github.com/basekick-labs/arc-go/internal/shutdown"
	"github.com/basekick-labs/arc-go/pkg/arc"
	"github.com/basekick-labs/arc-go/pkg/gapfill"
	"github.com/basekick-labs/arc-go/pkg/mqtt"
)

// cronParser accepts standard five-field specs plus @every and friends.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// watchCycleTimeout bounds one query/gapfill/write cycle.
const watchCycleTimeout = 5 * time.Minute

func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	sqlFlag := fs.String("sql", "", "Source query (default: SELECT * FROM <measurement>)")
	measurementFlag := fs.String("measurement", "", "Source measurement (default from config)")
	schedule := fs.String("schedule", "", "Cron spec or @every interval (default from config)")
	dest := fs.String("dest", "", "Destination measurement (default: <measurement>_filled)")
	groupBy := fs.String("group-by", "", "Comma-separated columns forming independent series")
	fillColumns := fs.String("fill-columns", "", "Comma-separated columns to carry forward")
	timeColumn := fs.String("time-column", "", "Timestamp column (default: the result's time column)")
	step := fs.Duration("step", gapfill.DefaultStep, "Grid interval")
	window := fs.Duration("window", 15*time.Minute, "How far back each run fills")
	transport := fs.String("transport", "http", "Write transport: http or mqtt")
	topic := fs.String("topic", "", "MQTT topic (default from config)")
	var seeds stringSliceFlag
	fs.Var(&seeds, "seed", "Placeholder values for an absent group, 'group:field=value,...' (repeatable)")
	cf := registerConnFlags(fs)
	fs.Parse(args)

	cfg := loadConfig(cf)
	log := logger.Get("watch")

	measurement := *measurementFlag
	if measurement == "" {
		measurement = cfg.Watch.Measurement
	}
	sql := *sqlFlag
	if sql == "" {
		if measurement == "" {
			fatal("no source: pass -sql or -measurement (or set watch.measurement)")
		}
		sql = "SELECT * FROM " + measurement
	}
	target := *dest
	if target == "" {
		if measurement == "" {
			fatal("no destination: pass -dest")
		}
		target = measurement + "_filled"
	}
	spec := *schedule
	if spec == "" {
		spec = cfg.Watch.Schedule
	}
	if _, err := cronParser.Parse(spec); err != nil {
		fatal("bad schedule %q: %v", spec, err)
	}
	seedMap, err := config.ParseSeeds(seeds)
	if err != nil {
		fatal("%v", err)
	}
	if *step <= 0 {
		*step = gapfill.DefaultStep
	}
	if *window < *step {
		*window = *step
	}

	coordinator := shutdown.New(30*time.Second, logger.Get("shutdown"))

	// Connect up front so a bad URL or token fails before the first tick.
	client, err := arc.Connect(context.Background(), clientConfig(cfg))
	if err != nil {
		fatal("connecting: %v", err)
	}
	coordinator.RegisterCloser("client", shutdown.PriorityClient, client)

	var pub *mqtt.Publisher
	switch *transport {
	case "http":
	case "mqtt":
		pub, err = mqtt.NewPublisher(publisherOptions(cfg, *topic))
		if err == nil {
			err = pub.Connect(context.Background())
		}
		if err != nil {
			client.Close()
			fatal("connecting publisher: %v", err)
		}
		coordinator.RegisterCloser("publisher", shutdown.PriorityPublisher, pub)
	default:
		client.Close()
		fatal("unknown transport %q (want http or mqtt)", *transport)
	}

	w := &watcher{
		client: client,
		pub:    pub,
		sql:    sql,
		dest:   target,
		opts: gapfill.Options{
			TimeColumn:  *timeColumn,
			GroupBy:     splitList(*groupBy),
			FillColumns: splitList(*fillColumns),
			Step:        *step,
			Seed:        seedMap,
		},
		window: *window,
		logger: log,
	}

	sched := cron.New(cron.WithParser(cronParser))
	if _, err := sched.AddFunc(spec, w.runOnce); err != nil {
		fatal("scheduling: %v", err)
	}
	sched.Start()
	coordinator.Register("scheduler", shutdown.PriorityScheduler, func(context.Context) error {
		<-sched.Stop().Done()
		return nil
	})

	log.Info().
		Str("schedule", spec).
		Str("sql", sql).
		Str("dest", target).
		Str("transport", *transport).
		Dur("step", *step).
		Dur("window", *window).
		Msg("Watch started")

	// @every schedules wait one full interval before the first tick, so run
	// one cycle immediately.
	go w.runOnce()

	sig := coordinator.WaitForSignal()
	log.Info().Str("signal", sig.String()).Msg("Stopping watch")
	if err := coordinator.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Shutdown completed with errors")
		os.Exit(1)
	}
	log.Info().Msg("Watch stopped")
}

// watcher runs one query/gapfill/write cycle per tick.
type watcher struct {
	client *arc.Client
	pub    *mqtt.Publisher
	sql    string
	dest   string
	opts   gapfill.Options
	window time.Duration
	logger zerolog.Logger

	busy atomic.Bool
	runs atomic.Int64
}

// runOnce fills [now-window, now) aligned to the step and writes the grid
// back. Failures are logged; the next tick retries.
func (w *watcher) runOnce() {
	if !w.busy.CompareAndSwap(false, true) {
		w.logger.Warn().Msg("Previous run still in progress, skipping tick")
		return
	}
	defer w.busy.Store(false)

	run := w.runs.Add(1)
	started := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), watchCycleTimeout)
	defer cancel()

	opts := w.opts
	opts.End = time.Now().UTC().Truncate(opts.Step)
	opts.Start = opts.End.Add(-w.window)

	rs, err := w.client.Query(ctx, w.sql)
	if err != nil {
		w.logger.Error().Err(err).Int64("run", run).Msg("Watch query failed")
		return
	}
	f, err := rs.Frame()
	if err != nil {
		w.logger.Error().Err(err).Int64("run", run).Msg("Watch result unusable")
		return
	}

	filled, err := gapfill.Fill(f, opts)
	if err != nil {
		w.logger.Error().Err(err).Int64("run", run).Msg("Watch gapfill failed")
		return
	}
	if filled.Len() == 0 {
		w.logger.Debug().Int64("run", run).Msg("Nothing to fill")
		return
	}

	if w.pub != nil {
		err = w.pub.PublishFrame(ctx, w.dest, filled)
	} else {
		err = w.client.WriteFrame(ctx, w.dest, filled)
	}
	if err != nil {
		w.logger.Error().Err(err).Int64("run", run).Msg("Watch write failed")
		return
	}

	w.logger.Info().
		Int64("run", run).
		Int("rows", filled.Len()).
		Int("source_rows", f.Len()).
		Str("dest", w.dest).
		Dur("duration", time.Since(started)).
		Msg("Watch cycle complete")
}
