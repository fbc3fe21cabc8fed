package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ValentinKolb/layerkv/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echo answers with the shard id followed by the request
func echo(_ context.Context, shardId uint64, req []byte) []byte {
	return append([]byte(fmt.Sprintf("%d:", shardId)), req...)
}

func connect(t *testing.T, retries int, endpoints ...string) *httpClientTransport {
	t.Helper()
	c := &httpClientTransport{}
	require.NoError(t, c.Connect(common.ClientConfig{Endpoints: endpoints, TimeoutSecond: 2, RetryCount: retries}))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRoundTrip(t *testing.T) {
	ts := httptest.NewServer(NewHandler(echo, true))
	defer ts.Close()

	c := connect(t, 1, ts.URL+"/")
	resp, err := c.Send(context.Background(), 100, []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, "100:ping", string(resp))

	// endpoints without scheme default to http
	c = connect(t, 1, strings.TrimPrefix(ts.URL, "http://"))
	resp, err = c.Send(context.Background(), 7, nil)
	require.NoError(t, err)
	assert.Equal(t, "7:", string(resp))
}

func TestBadRequests(t *testing.T) {
	ts := httptest.NewServer(NewHandler(echo, false))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/shard", "application/octet-stream", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/100")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := httptest.NewServer(NewHandler(echo, false))
	defer ts.Close()

	_, err := connect(t, 1, ts.URL).Send(context.Background(), 1, []byte("x"))
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "layerkv_http_requests_total")
}

func TestRetriesGoToTheNextEndpoint(t *testing.T) {
	live := httptest.NewServer(NewHandler(echo, false))
	defer live.Close()
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	// the first request goes to the second endpoint
	c := connect(t, 2, live.URL, deadURL)
	resp, err := c.Send(context.Background(), 1, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, "1:a", string(resp))

	c = connect(t, 1, live.URL, deadURL)
	_, err = c.Send(context.Background(), 1, []byte("a"))
	assert.Error(t, err)
}

func TestSendWithoutConnect(t *testing.T) {
	_, err := NewHttpClientTransport().Send(context.Background(), 1, nil)
	assert.Error(t, err)

	assert.Error(t, NewHttpClientTransport().Connect(common.ClientConfig{}))
}
