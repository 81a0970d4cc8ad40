// Command server runs the loupe search service: the HTTP API over the
// document store, query cache, embedding client, and mirror fan-out.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/loupe-search/loupe/internal/api"
	"github.com/loupe-search/loupe/internal/cache"
	"github.com/loupe-search/loupe/internal/config"
	"github.com/loupe-search/loupe/internal/embedding"
	"github.com/loupe-search/loupe/internal/indexer"
	"github.com/loupe-search/loupe/internal/metrics"
	"github.com/loupe-search/loupe/internal/mirror"
	"github.com/loupe-search/loupe/internal/observability"
	"github.com/loupe-search/loupe/internal/retriever"
	"github.com/loupe-search/loupe/internal/search"
	"github.com/loupe-search/loupe/internal/store"
)

// version is stamped at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	var (
		configPath  = flag.String("config", "", "path to the configuration file")
		listenAddr  = flag.String("addr", "", "listen address, overriding the configuration")
		showVersion = flag.Bool("version", false, "print the version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("loupe %s\n", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	logger := observability.NewStandardLoggerAt("server", observability.ParseLevel(cfg.LogLevel))
	m := metrics.New()

	db, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	st := store.New(db, cfg.Embedding.Dimensions, logger)
	defer func() { _ = st.Close() }()

	if err := st.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	cacheClient, err := cache.New(ctx, cfg.Cache, logger)
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer func() { _ = cacheClient.Close() }()

	embedClient, err := embedding.NewFromConfig(ctx, cfg.Embedding, logger)
	if err != nil {
		log.Fatalf("Failed to initialize embedding client: %v", err)
	}

	adapters, err := mirror.BuildAll(cfg.Mirrors, logger)
	if err != nil {
		log.Fatalf("Failed to initialize mirror adapters: %v", err)
	}
	fanout := mirror.NewFanout(adapters, m, logger)

	ret := retriever.New(st, embedClient, cfg.Search, m, logger)
	searchSvc := search.New(cacheClient, ret, nil, cfg.Search, m, logger)
	idx := indexer.New(st, embedClient, fanout, cfg.Indexer, m, logger)

	server := api.NewServer(cfg.Server, api.Deps{
		Search:  searchSvc,
		Indexer: idx,
		Store:   st,
		Cache:   cacheClient,
		Metrics: m,
		Logger:  logger,
		Version: version,
	})

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Received shutdown signal", nil)

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", map[string]interface{}{
			"error": err.Error(),
		})
	}
	logger.Info("Server stopped gracefully", nil)
}
