package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cbodonnell/starminers/pkg/api"
	"github.com/cbodonnell/starminers/pkg/auth"
	"github.com/cbodonnell/starminers/pkg/config"
	"github.com/cbodonnell/starminers/pkg/feed"
	"github.com/cbodonnell/starminers/pkg/log"
	"github.com/cbodonnell/starminers/pkg/queue"
	"github.com/cbodonnell/starminers/pkg/repositories"
	"github.com/cbodonnell/starminers/pkg/scouting"
	"github.com/cbodonnell/starminers/pkg/version"
	"github.com/cbodonnell/starminers/pkg/whitelist"
	"github.com/cbodonnell/starminers/pkg/workers"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	logLevel := flag.String("log-level", "", "log level, overrides the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	parsedLogLevel, err := log.ParseLogLevel(cfg.Log.Level)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}

	logger := log.New(os.Stdout, parsedLogLevel)
	log.SetDefaultLogger(logger)
	log.Info("Log level set to %s", parsedLogLevel)

	log.Info("Starting starminers server version %s in %s mode", version.Get(), cfg.Auth.Mode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repository, err := newRepository(ctx, cfg.Database.URL)
	if err != nil {
		panic(err.Error())
	}
	defer repository.Close(ctx)

	registry := whitelist.NewRegistry(repository)
	if err := registry.Load(ctx); err != nil {
		panic(fmt.Sprintf("Failed to load whitelists: %v", err))
	}
	if err := registry.SeedMasters(ctx, cfg.Auth.Masters); err != nil {
		panic(fmt.Sprintf("Failed to seed masters: %v", err))
	}

	resolver, err := auth.NewResolver(auth.NewResolverOptions{
		Mode:       auth.Mode(cfg.Auth.Mode),
		Registry:   registry,
		KeyPattern: cfg.Auth.KeyPattern,
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to create resolver: %v", err))
	}

	sightingEventQueue := queue.NewInMemoryQueue[scouting.SightingEvent](cfg.Feed.Buffer)
	service := scouting.NewService(scouting.NewServiceOptions{
		Repository: repository,
		Resolver:   resolver,
		Events:     sightingEventQueue,
	})

	hub := feed.NewHub()
	broadcastWorker := workers.NewBroadcastWorker(workers.NewBroadcastWorkerOptions{
		Reader:     service,
		EventQueue: sightingEventQueue,
		Hub:        hub,
		Interval:   cfg.Feed.Interval,
		Refresh:    cfg.Feed.Refresh,
	})
	go broadcastWorker.Start(ctx)

	apiServerOpts := api.NewAPIServerOptions{
		Port:         cfg.Server.Port,
		AllowOrigins: cfg.Server.AllowOrigins,
		StaticDir:    cfg.Server.StaticDir,
		Service:      service,
		Hub:          hub,
	}
	if cfg.Server.RateLimit.Requests > 0 {
		apiServerOpts.RateLimit = &api.RateLimit{
			Requests: cfg.Server.RateLimit.Requests,
			Window:   cfg.Server.RateLimit.Window,
		}
	}
	if cfg.TLSEnabled() {
		apiServerOpts.TLS = &api.TLSConfig{
			CertFile: cfg.Server.TLS.CertFile,
			KeyFile:  cfg.Server.TLS.KeyFile,
		}
	}
	server := api.NewAPIServer(apiServerOpts)
	go server.Start()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt
	log.Info("Shutting down")

	cancel()
	hub.Close()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := server.Stop(stopCtx); err != nil {
		log.Error("Failed to stop server: %v", err)
	}
}

// newRepository picks the store from the scheme of connStr:
// sqlite://<path> or postgres(ql)://...
func newRepository(ctx context.Context, connStr string) (repositories.Repository, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	switch u.Scheme {
	case "sqlite":
		path := strings.TrimPrefix(connStr, "sqlite://")
		repository, err := repositories.NewSQLiteRepository(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite repository: %w", err)
		}
		return repository, nil
	case "postgres", "postgresql":
		repository, err := repositories.NewPostgresRepository(ctx, u.String())
		if err != nil {
			return nil, fmt.Errorf("failed to create Postgres repository: %w", err)
		}
		return repository, nil
	default:
		return nil, fmt.Errorf("unknown database type %s", u.Scheme)
	}
}
