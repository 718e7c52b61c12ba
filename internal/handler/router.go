package handler

import (
	"net/http"
	"strconv"
	"time"

	"payment_verifier/internal/metrics"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter собирает маршруты: /health и /metrics открыты, /api/* требует JWT.
func NewRouter(h *Handler, jwtSecret string, logger *zap.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(instrument(logger))

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(AuthMiddleware(jwtSecret, logger))
	for _, route := range verifyRoutes {
		api.HandleFunc(route.path, h.verify(route)).Methods(http.MethodPost)
	}
	api.HandleFunc("/transactions/{tx_hash}/errors", h.transactionErrors).Methods(http.MethodGet)

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func instrument(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}

			logger.Debug("HTTP request received",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("user_agent", r.UserAgent()),
				zap.String("remote_addr", r.RemoteAddr))

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)

			metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		})
	}
}
