package arc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/apache/arrow-go/v18/arrow/ipc"

	"github.com/basekick-labs/arc-go/internal/wire"
	"github.com/basekick-labs/arc-go/pkg/frame"
)

// maxResponseBytes caps how large a query response the client will read.
const maxResponseBytes = 256 << 20

// RowSet is a JSON query result.
type RowSet struct {
	Columns     []string
	Rows        [][]interface{}
	RowCount    int
	ExecutionMS float64
}

// queryResponse mirrors the server's JSON query envelope.
type queryResponse struct {
	Success         bool            `json:"success"`
	Columns         []string        `json:"columns"`
	Data            [][]interface{} `json:"data"`
	RowCount        int             `json:"row_count"`
	ExecutionTimeMs float64         `json:"execution_time_ms"`
	Error           string          `json:"error,omitempty"`
}

// Frame converts the row set to a column-oriented frame. A column named
// "time" whose values all parse as timestamps becomes the time column.
func (rs *RowSet) Frame() (*frame.Frame, error) {
	f := frame.New()
	for ci, name := range rs.Columns {
		values := make([]interface{}, len(rs.Rows))
		for ri, row := range rs.Rows {
			if ci < len(row) {
				values[ri] = row[ci]
			}
		}

		if name == wire.TimeColumn {
			times, ok := asTimes(values)
			if ok {
				f.AddTimeColumn(name, times)
				continue
			}
		}
		f.AddColumn(name, frame.RoleUnset, values)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return f, nil
}

func asTimes(values []interface{}) ([]time.Time, bool) {
	times := make([]time.Time, len(values))
	for i, v := range values {
		t, ok := frame.AsTime(v)
		if !ok {
			return nil, false
		}
		times[i] = t
	}
	return times, true
}

// Query runs SQL and returns the decoded JSON result.
func (c *Client) Query(ctx context.Context, sql string) (*RowSet, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	if sql == "" {
		return nil, fmt.Errorf("%w: empty query", ErrValidation)
	}

	status, raw, err := c.postSQL(ctx, queryPath, sql)
	if err != nil {
		c.queryErrors.Add(1)
		return nil, err
	}
	if status != http.StatusOK {
		c.queryErrors.Add(1)
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, newAPIError(status, raw))
	}

	var qr queryResponse
	if err := json.Unmarshal(raw, &qr); err != nil {
		c.queryErrors.Add(1)
		return nil, fmt.Errorf("%w: decoding response: %v", ErrQueryFailed, err)
	}
	if !qr.Success {
		c.queryErrors.Add(1)
		return nil, fmt.Errorf("%w: %s", ErrQueryFailed, qr.Error)
	}

	rowCount := qr.RowCount
	if rowCount == 0 {
		rowCount = len(qr.Data)
	}
	c.queries.Add(1)
	return &RowSet{
		Columns:     qr.Columns,
		Rows:        qr.Data,
		RowCount:    rowCount,
		ExecutionMS: qr.ExecutionTimeMs,
	}, nil
}

// QueryFrame runs SQL over the Arrow endpoint and decodes the IPC stream
// into a frame. Servers built without the Arrow surface answer 404, which
// maps to ErrNotImplemented.
func (c *Client) QueryFrame(ctx context.Context, sql string) (*frame.Frame, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	if sql == "" {
		return nil, fmt.Errorf("%w: empty query", ErrValidation)
	}

	status, raw, err := c.postSQL(ctx, queryArrowPath, sql)
	if err != nil {
		c.queryErrors.Add(1)
		return nil, err
	}
	if status == http.StatusNotFound {
		c.queryErrors.Add(1)
		return nil, fmt.Errorf("%w: server has no arrow query endpoint", ErrNotImplemented)
	}
	if status != http.StatusOK {
		c.queryErrors.Add(1)
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, newAPIError(status, raw))
	}

	f, err := decodeArrowStream(raw)
	if err != nil {
		c.queryErrors.Add(1)
		return nil, err
	}
	c.queries.Add(1)
	return f, nil
}

// QueryRaw runs SQL and returns the server's JSON body untouched.
func (c *Client) QueryRaw(ctx context.Context, sql string) (json.RawMessage, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	if sql == "" {
		return nil, fmt.Errorf("%w: empty query", ErrValidation)
	}

	status, raw, err := c.postSQL(ctx, queryPath, sql)
	if err != nil {
		c.queryErrors.Add(1)
		return nil, err
	}
	if status != http.StatusOK {
		c.queryErrors.Add(1)
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, newAPIError(status, raw))
	}
	c.queries.Add(1)
	return json.RawMessage(raw), nil
}

// decodeArrowStream reads a whole IPC stream, concatenating every record
// batch into one frame. The body is already buffered so a slow decode
// cannot stall the server mid-stream.
func decodeArrowStream(raw []byte) (*frame.Frame, error) {
	reader, err := ipc.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding arrow stream: %v", ErrQueryFailed, err)
	}
	defer reader.Release()

	var out *frame.Frame
	for reader.Next() {
		rec := reader.Record()
		if out == nil {
			out, err = frame.FromArrow(rec)
		} else {
			err = out.AppendArrow(rec)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
	}
	if err := reader.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: reading arrow stream: %v", ErrQueryFailed, err)
	}

	if out == nil {
		// Empty stream, keep the schema
		out = frame.FromArrowSchema(reader.Schema())
	}
	return out, nil
}

// postSQL sends {"sql": ...} to a query endpoint and returns the status and
// size-capped body.
func (c *Client) postSQL(ctx context.Context, path, sql string) (int, []byte, error) {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	body, err := json.Marshal(map[string]string{"sql": sql})
	if err != nil {
		return 0, nil, fmt.Errorf("%w: encoding query: %v", ErrQueryFailed, err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body), "application/json", c.cfg.Database, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: building request: %v", ErrQueryFailed, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%w: reading response: %v", ErrQueryFailed, err)
	}
	if len(raw) > maxResponseBytes {
		return resp.StatusCode, nil, fmt.Errorf("%w: response exceeds %d bytes", ErrQueryFailed, maxResponseBytes)
	}
	return resp.StatusCode, raw, nil
}
