package api

import (
	"bufio"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// WriteError sends a JSON error response
func WriteError(w http.ResponseWriter, code int, message string, details ...any) {
	resp := ErrorResponse{Error: message}
	if len(details) > 0 {
		resp.Details = details[0]
	}
	WriteJSON(w, code, resp)
}

// WriteJSON sends a JSON success response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// accessLogWriter wraps http.ResponseWriter to capture the status code
type accessLogWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (rw *accessLogWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *accessLogWriter) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

// Hijack lets websocket upgrades through the wrapper.
func (rw *accessLogWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return h.Hijack()
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &accessLogWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		elapsed := time.Since(start)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"status", rw.status,
			"size", rw.size,
			"duration", elapsed,
		)
		s.metrics.RecordAPIRequest(r.Method, routeLabel(r.URL.Path), rw.status, elapsed)
	})
}

// limitPasses rejects pass and policy requests from clients over their budget.
func (s *Server) limitPasses(next http.HandlerFunc) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if ok, wait := s.limiter.Reserve(host); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			WriteError(w, http.StatusTooManyRequests, "too many pass requests")
			return
		}
		next(w, r)
	})
}

var knownRoutes = map[string]bool{
	"/api/status":   true,
	"/api/enable":   true,
	"/api/disable":  true,
	"/api/policy":   true,
	"/api/progress": true,
	"/healthz":      true,
	"/metrics":      true,
}

// routeLabel keeps the metrics path label bounded.
func routeLabel(path string) string {
	if knownRoutes[path] {
		return path
	}
	return "other"
}
