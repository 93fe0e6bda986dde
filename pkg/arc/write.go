package arc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/basekick-labs/arc-go/internal/lineprotocol"
	"github.com/basekick-labs/arc-go/internal/spool"
	"github.com/basekick-labs/arc-go/internal/wire"
	"github.com/basekick-labs/arc-go/pkg/frame"
	"github.com/basekick-labs/arc-go/pkg/models"
)

// chunk is one encoded piece of a write call, ready for transmission.
type chunk struct {
	kind    spool.Kind
	payload []byte
	records int
	index   int
	total   int
}

// WriteModel writes a built data model. Frame payloads go out as msgpack
// columnar chunks, record payloads as msgpack row batches. Records without
// a measurement of their own get the model's.
func (c *Client) WriteModel(ctx context.Context, m *models.DataModel) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("%w: nil data model", ErrValidation)
	}
	if m.IsColumnar() {
		return c.writeFrame(ctx, m.Measurement(), m.Frame())
	}

	recs := m.Records()
	stamped := make([]models.Record, len(recs))
	copy(stamped, recs)
	for i := range stamped {
		if stamped[i].Measurement == "" {
			stamped[i].Measurement = m.Measurement()
		}
	}
	return c.writeRecords(ctx, stamped)
}

// WriteFrame writes a frame under the given measurement as msgpack columnar
// chunks. Columns with the ignore role are dropped, the time column rides as
// microseconds.
func (c *Client) WriteFrame(ctx context.Context, measurement string, f *frame.Frame) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	return c.writeFrame(ctx, measurement, f)
}

func (c *Client) writeFrame(ctx context.Context, measurement string, f *frame.Frame) error {
	if measurement == "" {
		return fmt.Errorf("%w: empty measurement", ErrValidation)
	}
	if f == nil {
		return fmt.Errorf("%w: nil frame", ErrValidation)
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	spans := chunkSpans(f.Len(), c.cfg.BatchSize)
	chunks := make([]chunk, 0, len(spans))
	for i, sp := range spans {
		cols, err := wire.FromFrame(f, sp.lo, sp.hi)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		payload, err := wire.EncodeColumnar(measurement, cols)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		payload, err = c.compress(payload)
		if err != nil {
			return err
		}
		chunks = append(chunks, chunk{
			kind:    spool.KindMsgpack,
			payload: payload,
			records: sp.hi - sp.lo,
			index:   i,
			total:   len(spans),
		})
	}
	return c.dispatch(ctx, chunks)
}

// WriteRecords writes structured records as msgpack row batches.
func (c *Client) WriteRecords(ctx context.Context, recs []models.Record) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	return c.writeRecords(ctx, recs)
}

func (c *Client) writeRecords(ctx context.Context, recs []models.Record) error {
	for i := range recs {
		if err := recs[i].Validate(); err != nil {
			return fmt.Errorf("%w: record %d: %v", ErrValidation, i, err)
		}
	}

	spans := chunkSpans(len(recs), c.cfg.BatchSize)
	chunks := make([]chunk, 0, len(spans))
	for i, sp := range spans {
		payload, err := wire.EncodeRows(recs[sp.lo:sp.hi])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		payload, err = c.compress(payload)
		if err != nil {
			return err
		}
		chunks = append(chunks, chunk{
			kind:    spool.KindMsgpack,
			payload: payload,
			records: sp.hi - sp.lo,
			index:   i,
			total:   len(spans),
		})
	}
	return c.dispatch(ctx, chunks)
}

// WriteLines writes raw line protocol. The configured precision names the
// precision of the callers' timestamps; the server expects nanoseconds, so
// lines in any other precision are parsed and re-encoded before
// transmission. With ValidateLines set every line is parsed locally and a
// bad one fails with its line number before anything is sent.
func (c *Client) WriteLines(ctx context.Context, lines []string) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}

	if c.cfg.ValidateLines || c.cfg.Precision != "ns" {
		recs := make([]models.Record, 0, len(lines))
		for i, line := range lines {
			rec, skip, err := lineprotocol.ParseLine([]byte(line), c.cfg.Precision)
			if err != nil {
				return fmt.Errorf("%w: line %d: %v", ErrValidation, i+1, err)
			}
			if skip {
				continue
			}
			recs = append(recs, rec)
		}
		if c.cfg.Precision != "ns" {
			encoded, err := lineprotocol.EncodeBatch(recs, "ns")
			if err != nil {
				return fmt.Errorf("%w: %v", ErrValidation, err)
			}
			lines = encoded
		}
	}

	spans := chunkSpans(len(lines), c.cfg.BatchSize)
	chunks := make([]chunk, 0, len(spans))
	for i, sp := range spans {
		payload := []byte(strings.Join(lines[sp.lo:sp.hi], "\n"))
		payload, err := c.compress(payload)
		if err != nil {
			return err
		}
		chunks = append(chunks, chunk{
			kind:    spool.KindLine,
			payload: payload,
			records: sp.hi - sp.lo,
			index:   i,
			total:   len(spans),
		})
	}
	return c.dispatch(ctx, chunks)
}

func (c *Client) compress(payload []byte) ([]byte, error) {
	if c.cfg.Compression != "gzip" {
		return payload, nil
	}
	compressed, err := wire.Compress(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: compressing payload: %v", ErrWriteFailed, err)
	}
	return compressed, nil
}

// dispatch uploads chunks sequentially, or in parallel under the configured
// concurrency limit. Sequential sends abort at the first failure; parallel
// sends cancel the rest.
func (c *Client) dispatch(ctx context.Context, chunks []chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	if c.cfg.MaxConcurrency > 1 && len(chunks) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.cfg.MaxConcurrency)
		for _, ch := range chunks {
			ch := ch
			g.Go(func() error {
				return c.sendChunk(gctx, ch)
			})
		}
		return g.Wait()
	}

	for _, ch := range chunks {
		if err := c.sendChunk(ctx, ch); err != nil {
			return err
		}
	}
	return nil
}

// sendChunk transmits one chunk. A connection-kind failure lands in the
// spool when one is configured and counts as accepted, replay delivers it
// later.
func (c *Client) sendChunk(ctx context.Context, ch chunk) error {
	err := c.send(ctx, chunkPath(ch.kind), chunkContentType(ch.kind), ch.payload, c.cfg.Database)
	if err == nil {
		c.writes.Add(1)
		c.recordsWritten.Add(int64(ch.records))
		return nil
	}
	c.writeErrors.Add(1)

	if c.spool != nil && errors.Is(err, ErrConnectionFailed) {
		spoolErr := c.spool.Append(ch.kind, c.cfg.Database, ch.payload)
		if spoolErr == nil {
			c.spooled.Add(1)
			c.logger.Warn().
				Err(err).
				Int("records", ch.records).
				Msg("Write failed, chunk spooled for replay")
			return nil
		}
		c.logger.Error().
			Err(spoolErr).
			Msg("Failed to spool chunk")
	}

	if ch.total > 1 {
		return fmt.Errorf("chunk %d/%d: %w", ch.index+1, ch.total, err)
	}
	return err
}

func chunkPath(kind spool.Kind) string {
	if kind == spool.KindLine {
		return linePath
	}
	return msgpackPath
}

func chunkContentType(kind spool.Kind) string {
	if kind == spool.KindLine {
		return lineContentType
	}
	return msgpackContentType
}

type span struct{ lo, hi int }

func chunkSpans(total, size int) []span {
	if total <= 0 {
		return nil
	}
	if size <= 0 || size >= total {
		return []span{{0, total}}
	}
	spans := make([]span, 0, (total+size-1)/size)
	for lo := 0; lo < total; lo += size {
		hi := lo + size
		if hi > total {
			hi = total
		}
		spans = append(spans, span{lo, hi})
	}
	return spans
}

// replayLoop drains the spool on the configured interval until Close.
func (c *Client) replayLoop() {
	defer c.replayWG.Done()

	ticker := time.NewTicker(c.cfg.SpoolReplayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.replayDone:
			return
		case <-ticker.C:
			c.replaySpool()
		}
	}
}

func (c *Client) replaySpool() {
	if c.spool.Pending() == 0 {
		return
	}

	n, err := c.spool.Replay(func(e spool.Entry) error {
		if c.closed.Load() {
			return context.Canceled
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.timeout())
		defer cancel()
		return c.send(ctx, chunkPath(e.Kind), chunkContentType(e.Kind), e.Payload, e.Database)
	})
	if n > 0 {
		c.replayed.Add(int64(n))
		c.logger.Info().
			Int("entries", n).
			Msg("Replayed spooled writes")
	}
	if err != nil {
		c.logger.Debug().
			Err(err).
			Msg("Spool replay interrupted, will retry")
	}
}
