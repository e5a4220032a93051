// Package api exposes the storefront over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"goflare.io/parfum"
	"goflare.io/parfum/metrics"
)

const (
	SessionCookie = "parfum_session"

	sessionMaxAge = 30 * 24 * time.Hour
	maxBodyBytes  = 64 << 10
)

type Server struct {
	svc           parfum.Service
	webhookSecret string
	secureCookies bool

	metrics  *metrics.ServerMetrics
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

type Option func(*Server)

// WithSecureCookies marks the session cookie Secure.
func WithSecureCookies() Option {
	return func(s *Server) {
		s.secureCookies = true
	}
}

func NewServer(svc parfum.Service, webhookSecret string, m *metrics.ServerMetrics, g prometheus.Gatherer, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		svc:           svc,
		webhookSecret: webhookSecret,
		metrics:       m,
		gatherer:      g,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	s.handle(mux, "GET /api/cart", s.withSession(s.getCart))
	s.handle(mux, "POST /api/cart/items", s.withSession(s.addItem))
	s.handle(mux, "PATCH /api/cart/items/{variantId}", s.withSession(s.updateQuantity))
	s.handle(mux, "DELETE /api/cart/items/{variantId}", s.withSession(s.removeItem))
	s.handle(mux, "DELETE /api/cart", s.withSession(s.clearCart))
	s.handle(mux, "POST /api/cart/open", s.withSession(s.openCart))
	s.handle(mux, "POST /api/cart/close", s.withSession(s.closeCart))
	s.handle(mux, "POST /api/checkout", s.withSession(s.checkout))
	s.handle(mux, "POST /api/webhooks/stripe", s.stripeWebhook)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", metrics.Handler(s.gatherer))

	return mux
}

func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.instrument(pattern, h))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		s.metrics.Requests.WithLabelValues(name, strconv.Itoa(rec.status)).Inc()
		s.metrics.LatencyMS.WithLabelValues(name).Observe(float64(elapsed.Microseconds()) / 1000)
		s.logger.Debug("HTTP request",
			zap.String("handler", name),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", elapsed))
	})
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sessionID string)

// withSession resolves the visitor's cart session from its cookie, issuing a
// new one when the cookie is missing or not a UUID.
func (s *Server) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := ""
		if c, err := r.Cookie(SessionCookie); err == nil {
			if id, err := uuid.Parse(c.Value); err == nil {
				sessionID = id.String()
			}
		}
		if sessionID == "" {
			sessionID = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    sessionID,
				Path:     "/",
				MaxAge:   int(sessionMaxAge.Seconds()),
				HttpOnly: true,
				Secure:   s.secureCookies,
				SameSite: http.SameSiteLaxMode,
			})
		}

		next(w, r, sessionID)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
