package arctest

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/gofiber/fiber/v2"

	"github.com/basekick-labs/arc-go/internal/lineprotocol"
	"github.com/basekick-labs/arc-go/internal/wire"
	"github.com/basekick-labs/arc-go/pkg/arc"
	"github.com/basekick-labs/arc-go/pkg/frame"
	"github.com/basekick-labs/arc-go/pkg/models"
)

var startTime = time.Now()

// selectAllPattern matches the "SELECT * FROM measurement" queries the
// server answers from its stored records without a stub.
var selectAllPattern = regexp.MustCompile(`(?i)^\s*select\s+\*\s+from\s+([A-Za-z_][A-Za-z0-9_.-]*)\s*;?\s*$`)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	uptime := time.Since(startTime)
	return c.JSON(fiber.Map{
		"status":     "ok",
		"time":       time.Now().UTC().Format(time.RFC3339),
		"uptime":     uptime.String(),
		"uptime_sec": uptime.Seconds(),
	})
}

func (s *Server) handleMsgpack(c *fiber.Ctx) error {
	if s.injectFailure(c) {
		return nil
	}

	payload := c.Request().Body()
	if len(payload) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Empty payload",
		})
	}
	if len(payload) > maxPayloadSize {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": "Payload too large (max 100MB)",
		})
	}

	if wire.IsGzip(payload) {
		var err error
		payload, err = wire.Decompress(payload, maxPayloadSize)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("Invalid gzip compression: %v", err),
			})
		}
	}

	payloads, err := wire.Decode(payload)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("Invalid MessagePack payload: %v", err),
		})
	}

	var recs []models.Record
	for i := range payloads {
		recs = append(recs, payloadRecords(&payloads[i])...)
	}

	database := c.Get("x-arc-database")
	if database == "" {
		database = "default"
	}
	s.store(database, recs)
	s.writeCount.Add(1)

	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleLine(c *fiber.Ctx) error {
	database := c.Get("x-arc-database")
	if database == "" {
		database = "default"
	}
	return s.handleLineWrite(c, database)
}

// handleLineV1 is the v1 compatibility endpoint: database from ?db=, the
// header still wins when present.
func (s *Server) handleLineV1(c *fiber.Ctx) error {
	database := c.Query("db", "default")
	if headerDB := c.Get("x-arc-database"); headerDB != "" {
		database = headerDB
	}
	return s.handleLineWrite(c, database)
}

func (s *Server) handleLineWrite(c *fiber.Ctx, database string) error {
	if s.injectFailure(c) {
		return nil
	}

	payload := c.Request().Body()
	if len(payload) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Empty payload",
		})
	}

	if wire.IsGzip(payload) {
		var err error
		payload, err = wire.Decompress(payload, maxPayloadSize)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("Invalid gzip compression: %v", err),
			})
		}
	}

	recs, err := lineprotocol.ParseBatch(payload, "ns")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("Invalid line protocol: %v", err),
		})
	}

	s.store(database, recs)
	s.writeCount.Add(1)
	s.lineCount.Add(int64(len(recs)))

	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleQuery(c *fiber.Ctx) error {
	sql, ok := parseQueryRequest(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Missing SQL query",
		})
	}
	s.queryCount.Add(1)

	rs := s.resultFor(sql)
	if rs == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   fmt.Sprintf("unsupported query %q, stub it with StubQuery", sql),
		})
	}

	return c.JSON(fiber.Map{
		"success":           true,
		"columns":           rs.Columns,
		"data":              rs.Rows,
		"row_count":         rs.RowCount,
		"execution_time_ms": rs.ExecutionMS,
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleQueryArrow(c *fiber.Ctx) error {
	if s.arrowDisabled.Load() {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "Cannot POST /api/v1/query/arrow",
		})
	}

	sql, ok := parseQueryRequest(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Missing SQL query",
		})
	}
	s.queryCount.Add(1)

	rs := s.resultFor(sql)
	if rs == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   fmt.Sprintf("unsupported query %q, stub it with StubQuery", sql),
		})
	}

	stream, err := arrowStream(rs)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   fmt.Sprintf("encoding arrow stream: %v", err),
		})
	}

	c.Set("Content-Type", "application/vnd.apache.arrow.stream")
	return c.Send(stream)
}

func parseQueryRequest(c *fiber.Ctx) (string, bool) {
	var req struct {
		SQL string `json:"sql"`
	}
	if err := c.BodyParser(&req); err != nil || req.SQL == "" {
		return "", false
	}
	return req.SQL, true
}

// resultFor answers from stubs first, then serves SELECT * over stored
// records.
func (s *Server) resultFor(sql string) *arc.RowSet {
	s.mu.Lock()
	stub, ok := s.stubs[sql]
	s.mu.Unlock()
	if ok {
		return stub
	}

	m := selectAllPattern.FindStringSubmatch(sql)
	if m == nil {
		return nil
	}
	return s.measurementRows(m[1])
}

// measurementRows flattens stored records of one measurement into a row
// set: the time column first, then the sorted union of tag and field names.
func (s *Server) measurementRows(measurement string) *arc.RowSet {
	s.mu.Lock()
	var recs []models.Record
	for _, r := range s.records {
		if r.Measurement == measurement {
			recs = append(recs, r)
		}
	}
	s.mu.Unlock()

	colSet := make(map[string]struct{})
	for _, r := range recs {
		for k := range r.Tags {
			colSet[k] = struct{}{}
		}
		for k := range r.Fields {
			colSet[k] = struct{}{}
		}
	}
	names := make([]string, 0, len(colSet))
	for k := range colSet {
		names = append(names, k)
	}
	sort.Strings(names)

	columns := append([]string{wire.TimeColumn}, names...)
	rows := make([][]interface{}, len(recs))
	for i, r := range recs {
		row := make([]interface{}, len(columns))
		row[0] = r.Time.UTC().Format(time.RFC3339Nano)
		for j, name := range names {
			if v, ok := r.Fields[name]; ok {
				row[j+1] = v
			} else if v, ok := r.Tags[name]; ok {
				row[j+1] = v
			}
		}
		rows[i] = row
	}

	return &arc.RowSet{
		Columns:     columns,
		Rows:        rows,
		RowCount:    len(rows),
		ExecutionMS: 0.1,
	}
}

// payloadRecords flattens a decoded write payload to one record per row.
// Columnar payloads lose the tag/field distinction, every non-time column
// comes back as a field.
func payloadRecords(p *wire.Payload) []models.Record {
	if p.Record != nil {
		return []models.Record{*p.Record}
	}

	times := p.Columns[wire.TimeColumn]
	n := p.RowCount()
	recs := make([]models.Record, 0, n)
	for i := 0; i < n; i++ {
		fields := make(map[string]interface{})
		for name, values := range p.Columns {
			if name == wire.TimeColumn {
				continue
			}
			fields[name] = values[i]
		}
		var ts time.Time
		if t, ok := frame.AsTime(times[i]); ok {
			ts = t
		}
		recs = append(recs, models.Record{
			Measurement: p.Measurement,
			Time:        ts,
			Fields:      fields,
		})
	}
	return recs
}

func arrowStream(rs *arc.RowSet) ([]byte, error) {
	f, err := rs.Frame()
	if err != nil {
		return nil, err
	}
	rec, err := f.ToArrow(memory.NewGoAllocator())
	if err != nil {
		return nil, err
	}
	defer rec.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(rec.Schema()))
	if err := w.Write(rec); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
