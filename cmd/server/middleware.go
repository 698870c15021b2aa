package main

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yourorg/cabal-metrics/internal/otel"
	"go.opentelemetry.io/otel/attribute"
)

const headerRequestID = "X-Request-ID"

type ctxKey int

const requestIDKey ctxKey = iota

// requestID returns the request ID stored by withRequestID, if any.
func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// withRequestID propagates an incoming X-Request-ID or assigns a new one.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument traces the request, records count and latency for route and logs it.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		ctx, span := otel.Tracer().Start(r.Context(), "http."+route)
		defer span.End()
		span.SetAttributes(attribute.String("request_id", requestID(ctx)))

		next(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.requestCounter.WithLabelValues(route, http.StatusText(rec.status)).Inc()
			s.metrics.requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		}

		logrus.WithFields(logrus.Fields{
			"request_id": requestID(r.Context()),
			"method":     r.Method,
			"route":      route,
			"status":     rec.status,
			"duration":   elapsed,
		}).Debug("Request handled")
	}
}

// rateLimited rejects requests beyond the configured inbound rate.
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			s.errorResponse(w, r, http.StatusTooManyRequests, apiError{
				Error:      "Rate limit exceeded",
				Message:    "Too many requests. Please try again later.",
				RetryAfter: "1",
			})
			return
		}
		next(w, r)
	}
}
