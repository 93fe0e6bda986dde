package arctest_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basekick-labs/arc-go/pkg/arctest"
)

func startServer(t *testing.T) *arctest.Server {
	t.Helper()
	srv, err := arctest.Start()
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func post(t *testing.T, url, body string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func TestHealth(t *testing.T) {
	srv := startServer(t)

	resp, err := http.Get(srv.URL() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status    string  `json:"status"`
		Time      string  `json:"time"`
		Uptime    string  `json:"uptime"`
		UptimeSec float64 `json:"uptime_sec"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.NotEmpty(t, health.Uptime)
	_, err = time.Parse(time.RFC3339, health.Time)
	assert.NoError(t, err)
}

func TestTokenAuth(t *testing.T) {
	srv := startServer(t)
	srv.SetToken("secret")

	line := fmt.Sprintf("cpu,host=a usage=1.0 %d", time.Now().UnixNano())
	target := srv.URL() + "/api/v1/write/line-protocol"

	resp, body := post(t, target, line, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, string(body), "Authentication required")

	resp, body = post(t, target, line, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, string(body), "Invalid or expired token")

	resp, _ = post(t, target, line, map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 1, srv.RecordCount())

	// Health stays public
	healthResp, err := http.Get(srv.URL() + "/health")
	require.NoError(t, err)
	healthResp.Body.Close()
	assert.Equal(t, http.StatusOK, healthResp.StatusCode)
}

func TestMsgpackRejections(t *testing.T) {
	srv := startServer(t)
	target := srv.URL() + "/api/v1/write/msgpack"

	resp, body := post(t, target, "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "Empty payload")

	resp, body = post(t, target, "\xc1 definitely not msgpack", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "Invalid MessagePack payload")

	assert.Equal(t, 0, srv.WriteCount())
}

func TestLineV1DatabaseParam(t *testing.T) {
	srv := startServer(t)
	line := fmt.Sprintf("cpu,host=a usage=1.0 %d", time.Now().UnixNano())

	resp, _ := post(t, srv.URL()+"/write?db=legacy", line, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, int64(1), srv.Databases()["legacy"])

	// The header wins over the query param when both are present
	resp, _ = post(t, srv.URL()+"/write?db=legacy", line, map[string]string{"x-arc-database": "named"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, int64(1), srv.Databases()["named"])
	assert.Equal(t, int64(1), srv.Databases()["legacy"])
}

func TestBadLineProtocol(t *testing.T) {
	srv := startServer(t)

	resp, body := post(t, srv.URL()+"/api/v1/write/line-protocol", "cpu,host=a\n", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "Invalid line protocol")
	assert.Equal(t, 0, srv.RecordCount())
}

func TestReset(t *testing.T) {
	srv := startServer(t)
	line := fmt.Sprintf("cpu,host=a usage=1.0 %d", time.Now().UnixNano())

	resp, _ := post(t, srv.URL()+"/api/v1/write/line-protocol", line, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, 1, srv.RecordCount())

	srv.Reset()
	assert.Equal(t, 0, srv.RecordCount())
	assert.Equal(t, 0, srv.WriteCount())
	assert.Equal(t, 0, srv.LineCount())
	assert.Empty(t, srv.Databases())
}

func TestFailWritesStatus(t *testing.T) {
	srv := startServer(t)
	line := fmt.Sprintf("cpu,host=a usage=1.0 %d", time.Now().UnixNano())
	target := srv.URL() + "/api/v1/write/line-protocol"

	srv.FailWrites(1, http.StatusServiceUnavailable)

	resp, body := post(t, target, line, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), "injected failure")
	assert.Equal(t, 0, srv.RecordCount())

	resp, _ = post(t, target, line, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 1, srv.RecordCount())
}

func TestQueryMissingSQL(t *testing.T) {
	srv := startServer(t)

	resp, body := post(t, srv.URL()+"/api/v1/query", `{"sql": ""}`,
		map[string]string{"Content-Type": "application/json"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "Missing SQL query")
	assert.Equal(t, 0, srv.QueryCount())
}
