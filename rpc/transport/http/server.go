package http

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ValentinKolb/layerkv/rpc/common"
	"github.com/ValentinKolb/layerkv/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport/rpc")

var (
	requestsTotal   = metrics.NewCounter(`layerkv_http_requests_total`)
	badRequests     = metrics.NewCounter(`layerkv_http_bad_requests_total`)
	requestDuration = metrics.NewSummary(`layerkv_http_request_duration_seconds`)
)

func NewHttpServerTransport() transport.IRPCServerTransport {
	return &httpServerTransport{}
}

type httpServerTransport struct {
	handler transport.ServerHandleFunc
	config  common.ServerConfig
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *httpServerTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *httpServerTransport) Listen(config common.ServerConfig) error {
	t.config = config

	Logger.Infof("Starting HTTP server on %s", t.config.Endpoint)

	return http.ListenAndServe(t.config.Endpoint, NewHandler(t.handler, t.config.LogLevel == "debug"))
}

// NewHandler returns the http.Handler of the transport:
//
//	POST /{shardId}  the body is a serialized request for the shard
//	GET  /metrics    metrics in the prometheus text format
//
// With debug set, every request is logged.
func NewHandler(handler transport.ServerHandleFunc, debug bool) http.Handler {
	mux := http.NewServeMux()

	rpc := func(w http.ResponseWriter, r *http.Request) { handleRequest(handler, w, r) }
	if debug {
		mux.HandleFunc("POST /{shardId}", loggerMiddleware(rpc))
	} else {
		mux.HandleFunc("POST /{shardId}", rpc)
	}
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	return mux
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleRequest handles incoming HTTP requests and writes the response to the writer
func handleRequest(handler transport.ServerHandleFunc, w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestsTotal.Inc()
	defer requestDuration.UpdateDuration(start)

	// Parse shardId from request
	shardId, err := strconv.ParseUint(r.PathValue("shardId"), 10, 64)
	if err != nil {
		badRequests.Inc()
		http.Error(w, "Invalid shardId", http.StatusBadRequest)
		return
	}

	// Read request body
	body, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		badRequests.Inc()
		http.Error(w, "Failed to read request body", http.StatusInternalServerError)
		return
	}

	resp := handler(r.Context(), shardId, body)

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err = w.Write(resp); err != nil {
		Logger.Warningf("failed to write response for shard %d: %v", shardId, err)
	}
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// responseWriter is a custom ResponseWriter that captures status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing it
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggerMiddleware is a middleware that logs HTTP requests
func loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create custom response writer to capture status code
		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rw, r)

		Logger.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	}
}
