package rpc

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"statechan/native/channel"
	"statechan/native/dispute"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeNotFound       = -32030
	codeForbidden      = -32031
	codeConflict       = -32032
	codeThreshold      = -32033
	codeTiming         = -32034
	codeRateLimited    = -32020
)

// Server exposes the channel protocol over JSON-RPC 2.0.
type Server struct {
	registry *channel.Registry
	disputes *dispute.Engine
	logger   *slog.Logger
	limiter  *rate.Limiter
	gatherer prometheus.Gatherer
}

// NewServer wires the registry and dispute engine behind the RPC surface.
// ratePerMinute bounds mutating request throughput; gatherer backs /metrics
// and may be nil to use the default prometheus registry.
func NewServer(registry *channel.Registry, disputes *dispute.Engine, logger *slog.Logger, ratePerMinute int, gatherer prometheus.Gatherer) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 600
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		registry: registry,
		disputes: disputes,
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Limit(float64(ratePerMinute)/60.0), ratePerMinute),
		gatherer: gatherer,
	}
}

// Router assembles the HTTP surface: the JSON-RPC endpoint plus health and
// metrics.
func (s *Server) Router() http.Handler {
	mux := chi.NewRouter()
	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.Post("/", s.handle)
	return otelhttp.NewHandler(mux, "statechan.rpc")
}

// Start serves the router on addr and blocks.
func (s *Server) Start(addr string) error {
	s.logger.Info("rpc listening", slog.String("addr", addr))
	return http.ListenAndServe(addr, s.Router())
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		s.writeError(w, nil, codeRateLimited, "rate limit exceeded")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		s.writeError(w, nil, codeParseError, "unable to read request body")
		return
	}
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, nil, codeParseError, "invalid JSON payload")
		return
	}
	if req.JSONRPC != jsonRPCVersion || req.Method == "" {
		s.writeError(w, req.ID, codeInvalidRequest, "invalid JSON-RPC request")
		return
	}
	switch req.Method {
	case "channel_open":
		s.handleChannelOpen(w, req)
	case "channel_openEnhanced":
		s.handleChannelOpenEnhanced(w, req)
	case "channel_activate":
		s.handleChannelActivate(w, req)
	case "channel_update":
		s.handleChannelUpdate(w, req)
	case "channel_challenge":
		s.handleChannelChallenge(w, req)
	case "channel_resolve":
		s.handleChannelResolve(w, req)
	case "channel_settle":
		s.handleChannelSettle(w, req)
	case "channel_get":
		s.handleChannelGet(w, req)
	case "channel_validate":
		s.handleChannelValidate(w, req)
	case "channel_counters":
		s.handleChannelCounters(w, req)
	default:
		s.writeError(w, req.ID, codeMethodNotFound, "unknown method "+req.Method)
	}
}

func (s *Server) writeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func (s *Server) writeError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Error: &rpcError{Code: code, Message: message}})
}
