package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/layerkv/rpc/common"
	"github.com/ValentinKolb/layerkv/rpc/transport"
)

func NewHttpClientTransport() transport.IRPCClientTransport {
	return &httpClientTransport{}
}

type httpClientTransport struct {
	serverURLs []*url.URL
	client     *http.Client
	counter    uint32
	retryCount int
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *httpClientTransport) Connect(config common.ClientConfig) error {
	if len(config.Endpoints) == 0 {
		return fmt.Errorf("http transport needs at least one endpoint")
	}

	// Parse each server URL
	parsedURLs := make([]*url.URL, len(config.Endpoints))
	for i, server := range config.Endpoints {
		server = strings.TrimSpace(server)
		if !strings.Contains(server, "://") {
			server = "http://" + server
		}
		parsedURL, err := url.Parse(strings.TrimSuffix(server, "/"))
		if err != nil {
			return err
		}
		parsedURLs[i] = parsedURL
	}

	timeout := time.Duration(config.TimeoutSecond) * time.Second

	t.client = &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	t.serverURLs = parsedURLs
	t.counter = 0
	t.retryCount = max(config.RetryCount, 1)

	return nil
}

func (t *httpClientTransport) Send(ctx context.Context, shardId uint64, req []byte) ([]byte, error) {
	// Check if the transport is initialized
	if t.client == nil {
		return nil, fmt.Errorf("http transport not initialized")
	}

	var lastErr error
	for i := 0; i < t.retryCount; i++ {
		// Select the next server via round-robin, retries go to the next one
		idx := atomic.AddUint32(&t.counter, 1) % uint32(len(t.serverURLs))
		requestURL := fmt.Sprintf("%s/%d", t.serverURLs[idx].String(), shardId)

		resp, err := t.send(ctx, requestURL, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		Logger.Debugf("request to %s failed (attempt %d/%d): %v", requestURL, i+1, t.retryCount, err)
	}
	return nil, lastErr
}

func (t *httpClientTransport) Close() error {
	// Close the client
	if t.client != nil {
		t.client.CloseIdleConnections()
	}

	// Reset the client and server URLs
	t.client = nil
	t.serverURLs = nil

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// send performs a single POST. A body is built per attempt since a sent body is consumed.
func (t *httpClientTransport) send(ctx context.Context, requestURL string, req []byte) ([]byte, error) {
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(req))
	if err != nil {
		return nil, err
	}
	httpRequest.Header.Set("Content-Type", "application/octet-stream")

	httpResponse, err := t.client.Do(httpRequest)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := httpResponse.Body.Close(); err != nil {
			Logger.Errorf("Failed to close response body: %v", err)
		}
	}()

	// Check if the response status code is OK
	if httpResponse.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(httpResponse.Body, 512))
		return nil, fmt.Errorf("http error: %s: %s", httpResponse.Status, strings.TrimSpace(string(msg)))
	}

	// Read the response body
	return io.ReadAll(httpResponse.Body)
}
