package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cbodonnell/starminers/pkg/api/handlers"
	"github.com/cbodonnell/starminers/pkg/api/middleware"
	"github.com/cbodonnell/starminers/pkg/auth"
	"github.com/cbodonnell/starminers/pkg/feed"
	"github.com/cbodonnell/starminers/pkg/log"
	"github.com/cbodonnell/starminers/pkg/scouting"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type APIServer struct {
	server *http.Server
	tls    *TLSConfig
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type RateLimit struct {
	Requests int
	Window   time.Duration
}

type NewAPIServerOptions struct {
	Port         int
	TLS          *TLSConfig
	AllowOrigins []string
	// RateLimit applies per client IP to submissions. Nil disables it.
	RateLimit *RateLimit
	// StaticDir is served under /portal/ when set
	StaticDir string
	Service   *scouting.Service
	Hub       *feed.Hub
}

// NewAPIServer creates a new http.Server for handling API requests
func NewAPIServer(opts NewAPIServerOptions) *APIServer {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           NewHandler(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &APIServer{
		server: server,
		tls:    opts.TLS,
	}
}

// NewHandler builds the routes for the configured auth mode.
func NewHandler(opts NewAPIServerOptions) http.Handler {
	r := mux.NewRouter()
	r.Use(
		middleware.NewRequestIDMiddleware(),
		middleware.NewAccessLogMiddleware(),
		middleware.NewCredentialMiddleware(),
	)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.Handle("/shooting_stars", gzhttp.GzipHandler(handlers.HandleListSightings(opts.Service))).Methods(http.MethodGet)
	var submit http.Handler = handlers.HandleSubmitSightings(opts.Service)
	if opts.RateLimit != nil && opts.RateLimit.Requests > 0 {
		submit = httprate.LimitByIP(opts.RateLimit.Requests, opts.RateLimit.Window)(submit)
	}
	r.Handle("/shooting_stars", submit).Methods(http.MethodPost)

	if opts.Service.Mode() == auth.ModePassword {
		r.HandleFunc("/shooting_stars/live", handlers.HandleLive(opts.Service, opts.Hub)).Methods(http.MethodGet)
		r.Handle("/audit", gzhttp.GzipHandler(handlers.HandleAudit(opts.Service))).Methods(http.MethodGet)
		r.HandleFunc("/whitelist", handlers.HandleListScouts(opts.Service)).Methods(http.MethodGet)
		r.HandleFunc("/whitelist", handlers.HandleAddScout(opts.Service)).Methods(http.MethodPost)
		r.HandleFunc("/whitelist", handlers.HandleRemoveScout(opts.Service)).Methods(http.MethodDelete)
	}

	if opts.StaticDir != "" {
		r.PathPrefix("/portal/").Handler(http.StripPrefix("/portal/", http.FileServer(http.Dir(opts.StaticDir))))
	}

	origins := opts.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	})(r)
}

// Start starts the APIServer
func (s *APIServer) Start() {
	var listenAndServe func() error
	if s.tls != nil {
		log.Info("API server listening on %s with TLS", s.server.Addr)
		listenAndServe = func() error {
			return s.server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("API server listening on %s", s.server.Addr)
		listenAndServe = s.server.ListenAndServe
	}
	if err := listenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("API server closed")
			return
		}
		log.Error("API server error: %v", err)
	}
}

// Stop stops the APIServer
func (s *APIServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
