// Package api exposes the crank operations as bearer-protected HTTP
// triggers for an external scheduler.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"epoch-crank/internal/crank"
	"epoch-crank/internal/logger"
	"epoch-crank/internal/metrics"
)

// Service is the crank as seen by the HTTP layer.
type Service interface {
	Crank(ctx context.Context) crank.Summary
	Tick(ctx context.Context) crank.TickReport
	CloseAll(ctx context.Context) crank.CloseReport
	CloseExpired(ctx context.Context) crank.CloseReport
	OpenRound(ctx context.Context, d time.Duration) (crank.OpenedRound, error)
}

type Config struct {
	// Secret is the expected bearer token. When empty every protected
	// request is refused.
	Secret string
	// RunBudget bounds the scheduler endpoint. Zero disables the bound.
	RunBudget time.Duration
	// DefaultRoundDuration is used by the open endpoint when the request
	// does not name a duration.
	DefaultRoundDuration time.Duration
}

type handler struct {
	svc Service
	cfg Config
	log zerolog.Logger
}

// NewRouter registers the trigger routes, /healthz and /metrics.
func NewRouter(svc Service, cfg Config, m metrics.HTTPMetrics, gatherer prometheus.Gatherer, log zerolog.Logger) *mux.Router {
	if m == nil {
		m = metrics.NewNoopCollector()
	}
	if cfg.DefaultRoundDuration <= 0 {
		cfg.DefaultRoundDuration = 48 * time.Hour
	}
	h := &handler{svc: svc, cfg: cfg, log: logger.Component(log, "api")}

	router := mux.NewRouter().StrictSlash(true)
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware(h.log, m))
	router.Use(recoveryMiddleware(h.log))

	router.Methods(http.MethodGet).Path("/healthz").Name("healthz").HandlerFunc(h.healthz)
	if gatherer != nil {
		router.Methods(http.MethodGet).Path("/metrics").Name("metrics").
			Handler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	protected := router.PathPrefix("/api").Subrouter()
	protected.Use(bearerAuthMiddleware(cfg.Secret, h.log))
	for _, route := range h.routes() {
		protected.
			Methods(route.Method).
			Path(route.Pattern).
			Name(route.Name).
			HandlerFunc(route.HandlerFunc)
	}
	return router
}

type route struct {
	Name        string
	Method      string
	Pattern     string
	HandlerFunc http.HandlerFunc
}

func (h *handler) routes() []route {
	return []route{
		{Name: "crank", Method: http.MethodGet, Pattern: "/cron/crank", HandlerFunc: h.crank},
		{Name: "epoch-scheduler", Method: http.MethodGet, Pattern: "/cron/epoch-scheduler", HandlerFunc: h.scheduler},
		{Name: "close-all", Method: http.MethodGet, Pattern: "/epoch/close-all", HandlerFunc: h.closeAll},
		{Name: "close-expired", Method: http.MethodGet, Pattern: "/epoch/close-expired", HandlerFunc: h.closeExpired},
		{Name: "open-round", Method: http.MethodPost, Pattern: "/epoch/open", HandlerFunc: h.openRound},
	}
}

// NewServer wraps router with CORS and the server timeouts. The write
// timeout leaves room for a full budgeted run.
func NewServer(router http.Handler, listenAddress string, budget time.Duration) *http.Server {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodOptions},
	})

	writeTimeout := 5 * time.Minute
	if budget+30*time.Second > writeTimeout {
		writeTimeout = budget + 30*time.Second
	}
	return &http.Server{
		Addr:              listenAddress,
		Handler:           c.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Second * 15,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       time.Second * 60,
	}
}
