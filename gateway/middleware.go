package gateway

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

type requestIDKey struct{}

const requestIDHeader = "X-Request-Id"

// RequestIDFromContext returns the request identifier assigned by the
// gateway, or an empty string outside a request scope.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// requestID assigns each request a UUID, echoes it in the response header,
// and stores it in the context for audit and log correlation.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// requireAuth enforces the shared-secret header on mutating routes. An empty
// configured secret disables authentication.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authSecret == "" {
			next.ServeHTTP(w, r)
			return
		}
		supplied := strings.TrimSpace(r.Header.Get(s.authHeader))
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.authSecret)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: errorDetail{
				Code: "unauthorized", Message: "missing or invalid credentials",
			}})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit rejects mutating requests above the configured sustained rate.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: errorDetail{
				Code: "rate_limited", Message: "request rate exceeded",
			}})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func newRateLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(perSecond)
		if burst == 0 {
			burst = 1
		}
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// observe records per-route request counts and latencies.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		// Label by route pattern, not raw path, to keep cardinality bounded.
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		s.requests.With(prometheus.Labels{
			"route":  route,
			"method": r.Method,
			"status": strconv.Itoa(recorder.status),
		}).Inc()
		s.durations.With(prometheus.Labels{
			"route":  route,
			"method": r.Method,
		}).Observe(time.Since(start).Seconds())
	})
}
