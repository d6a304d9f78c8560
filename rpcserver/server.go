// Package rpcserver implements the bundler's JSON-RPC 2.0 endpoint: request
// envelope validation, single/batch dispatch, and the eth_/eth_bundler_
// method table.
package rpcserver

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/rs/cors"
	"golang.org/x/time/rate"
)

// request is a single JSON-RPC 2.0 request object.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// response is a single JSON-RPC 2.0 response object.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Handler is a single RPC method implementation, given the raw params array
// and returning a result to marshal or an *Error.
type Handler func(ctx httpContext, params json.RawMessage) (interface{}, *Error)

// httpContext carries the request-scoped values a handler may need.
type httpContext struct {
	r *http.Request
}

// Server is the HTTP transport for the JSON-RPC dispatcher. The transport
// loop is hand-rolled (see DESIGN.md's stdlib justification) to guarantee
// the exact HTTP-400-on-malformed-envelope / always-200-on-logical-error
// split spec section 4.4 requires; method dispatch and value encoding still
// go through the same conventions the rest of the ecosystem uses.
type Server struct {
	methods map[string]Handler
	limiter *rate.Limiter
	cors    *cors.Cors
}

// New constructs a Server with the given method table. rateLimit of 0
// disables ingress rate limiting.
func New(methods map[string]Handler, rateLimit rate.Limit, burst int, allowedOrigins []string) *Server {
	s := &Server{methods: methods}
	if rateLimit > 0 {
		s.limiter = rate.NewLimiter(rateLimit, burst)
	}
	s.cors = cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return s
}

// Handler returns the http.Handler to mount, with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.cors.Handler(http.HandlerFunc(s.serveHTTP))
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.limiter != nil && !s.limiter.Allow() {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	trimmed := trimLeadingSpace(body)
	switch {
	case len(trimmed) == 0:
		http.Error(w, "empty request body", http.StatusBadRequest)
		return
	case trimmed[0] == '[':
		s.serveBatch(w, r, trimmed)
	case trimmed[0] == '{':
		s.serveSingle(w, r, trimmed)
	default:
		http.Error(w, "request body must be a JSON object or array", http.StatusBadRequest)
	}
}

func (s *Server) serveSingle(w http.ResponseWriter, r *http.Request, body []byte) {
	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, response{JSONRPC: "2.0", Error: parseError(err)})
		return
	}
	resp := s.dispatch(httpContext{r: r}, req)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) serveBatch(w http.ResponseWriter, r *http.Request, body []byte) {
	var reqs []request
	if err := json.Unmarshal(body, &reqs); err != nil {
		writeJSON(w, http.StatusBadRequest, response{JSONRPC: "2.0", Error: parseError(err)})
		return
	}
	if len(reqs) == 0 {
		http.Error(w, "batch request must not be empty", http.StatusBadRequest)
		return
	}

	resps := make([]response, len(reqs))
	for i, req := range reqs {
		resps[i] = s.dispatch(httpContext{r: r}, req)
	}
	writeJSON(w, http.StatusOK, resps)
}

func (s *Server) dispatch(ctx httpContext, req request) response {
	resp := response{JSONRPC: "2.0", ID: req.ID}

	if req.JSONRPC != "2.0" || req.Method == "" {
		resp.Error = invalidRequest("missing jsonrpc version or method")
		return resp
	}

	handler, ok := s.methods[req.Method]
	if !ok {
		resp.Error = methodNotFound(req.Method)
		return resp
	}

	result, rpcErr := handler(ctx, req.Params)
	if rpcErr != nil {
		resp.Error = rpcErr
		return resp
	}
	resp.Result = result
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("rpcserver: failed to encode response", "err", err)
	}
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) {
		switch b[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return b[i:]
		}
	}
	return b[i:]
}

// RateLimitEvery is a convenience for cmd/bundler's config wiring to build a
// rate.Limit from a requests-per-window configuration.
func RateLimitEvery(window time.Duration, max int) rate.Limit {
	if max <= 0 || window <= 0 {
		return 0
	}
	return rate.Every(window / time.Duration(max))
}
