// Package api implements the NodeAPI HTTP surface of spec.md §6.2:
// gorilla/mux routing, the {ok, result, error} response envelope,
// authenticated-request middleware, replay defense and the per-peer
// query-cost budget. Grounded on the teacher's services/rpc package
// (its http.Server + JSON envelope + top-level panic recovery), adapted
// from teranode's gRPC-first surface to this module's HTTP-only one.
package api

import (
	"net/http"
	"strconv"

	"github.com/ledgerd/node/metrics"
	"github.com/ledgerd/node/ulogger"
	"github.com/segmentio/encoding/json"
)

// Envelope is the uniform JSON response shape of spec.md §6.2.
type Envelope struct {
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeOK(w http.ResponseWriter, result interface{}) {
	writeJSON(w, http.StatusOK, Envelope{OK: true, Result: result})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Envelope{OK: false, Error: message})
}

// recoverMiddleware ensures no panic escapes an endpoint uncaught, per
// spec.md §7: "an unhandled-exception handler returns {ok: false, error:
// 'Internal Server Error'} and logs to the security monitor." It also
// records every request's outcome to metrics.HTTPRequests.
func recoverMiddleware(logger ulogger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				if rec := recover(); rec != nil {
					logger.Errorf("api: panic handling %s %s: %v", r.Method, r.URL.Path, rec)
					writeError(sw, http.StatusInternalServerError, "Internal Server Error")
				}
				metrics.HTTPRequests.WithLabelValues(r.URL.Path, statusClass(sw.status)).Inc()
			}()
			next.ServeHTTP(sw, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
