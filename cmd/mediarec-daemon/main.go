// Package main implements the mediarec-daemon service binary.
// It reconciles the object store against the metadata catalog on a
// schedule and exposes health, trigger, and status endpoints.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/mediarec/mediarec/internal/catalog"
	"github.com/mediarec/mediarec/internal/config"
	"github.com/mediarec/mediarec/internal/lister"
	"github.com/mediarec/mediarec/internal/pathconv"
	"github.com/mediarec/mediarec/internal/recon"
	"github.com/mediarec/mediarec/internal/repair"
	"github.com/mediarec/mediarec/internal/server"
	"github.com/mediarec/mediarec/internal/storage"
	"github.com/mediarec/mediarec/internal/usage"
	"github.com/mediarec/mediarec/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML or JSON)")
	flag.Parse()

	_ = godotenv.Load()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("Failed to create directories: %v", err)
	}

	log.Printf("Starting mediarec-daemon...")
	log.Printf("HTTP address: %s", cfg.Daemon.Addr)
	log.Printf("Check interval: %v", cfg.Daemon.CheckInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := buildStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	cat, err := catalog.NewCatalog(cfg.Catalog.Path)
	if err != nil {
		log.Fatalf("Failed to initialize catalog: %v", err)
	}
	log.Printf("Catalog initialized at: %s", cfg.Catalog.Path)

	engineCfg := recon.EngineConfig{
		Convention: pathconv.Convention{BasePrefix: cfg.Convention.BasePrefix},
		Lister: lister.Config{
			PageSize:   cfg.Lister.PageSize,
			Workers:    cfg.Lister.Workers,
			MaxRetries: cfg.Lister.MaxRetries,
			DeepHash:   cfg.Lister.DeepHash,
		},
		Executor: repair.ExecutorConfig{
			Workers:    cfg.Repair.Workers,
			MaxRetries: cfg.Repair.MaxRetries,
		},
	}
	if cfg.Usage.Enabled {
		lookup, lookupErr := usage.NewSQLiteLookup(cfg.Usage.Path)
		if lookupErr != nil {
			log.Fatalf("Failed to open usage lookup: %v", lookupErr)
		}
		engineCfg.Usage = lookup
		defer lookup.Close()
	}
	engine := recon.NewEngine(cat, store, engineCfg)

	scopes, err := cfg.Scopes()
	if err != nil {
		log.Fatalf("Invalid daemon scopes: %v", err)
	}
	daemonCfg := recon.DaemonConfig{
		CheckInterval:       cfg.Daemon.CheckInterval,
		Scopes:              scopes,
		DryRun:              cfg.Daemon.DryRun,
		AllowPhysicalDelete: cfg.Repair.AllowPhysicalDelete,
		ReportPrefix:        cfg.Daemon.ReportPrefix,
	}
	daemon := recon.NewDaemon(daemonCfg, engine, store)
	log.Printf("Reconciler daemon initialized with %d scope(s), dry_run=%v", len(scopes), cfg.Daemon.DryRun)

	shutdownMgr := server.NewShutdownManager(server.DefaultShutdownConfig())
	shutdownMgr.RegisterCloser(cat)
	shutdownMgr.RegisterCloser(server.CloserFunc(daemon.Stop))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/trigger", triggerHandler(daemon))
	mux.HandleFunc("/status", statusHandler(daemon))

	httpServer := &http.Server{
		Addr:         cfg.Daemon.Addr,
		Handler:      server.ShutdownMiddleware(shutdownMgr)(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	gracefulServer := server.NewGracefulHTTPServer(httpServer, shutdownMgr)

	go func() {
		log.Printf("HTTP server listening on %s", cfg.Daemon.Addr)
		if serveErr := gracefulServer.ListenAndServe(); serveErr != nil {
			log.Printf("HTTP server error: %v", serveErr)
		}
	}()

	if err := daemon.Start(ctx); err != nil {
		log.Fatalf("Failed to start reconciler daemon: %v", err)
	}
	log.Printf("Reconciler daemon started")

	if err := shutdownMgr.ListenForSignals(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Printf("mediarec-daemon stopped")
}

func buildStorage(ctx context.Context, cfg *config.Config) (storage.ObjectStorage, error) {
	switch cfg.Storage.Type {
	case "s3":
		return storage.NewS3Storage(ctx, cfg.Storage.S3.Bucket, storage.S3Config{
			Region:       cfg.Storage.S3.Region,
			Endpoint:     cfg.Storage.S3.Endpoint,
			UsePathStyle: cfg.Storage.S3.UsePathStyle,
		})
	default:
		return storage.NewLocalStorage(cfg.Storage.Path)
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"mediarec-daemon"}`))
}

// triggerHandler runs one reconciliation immediately and returns its
// report. The scope query parameter defaults to the full tree.
func triggerHandler(daemon *recon.Daemon) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		scopeArg := r.URL.Query().Get("scope")
		scope := types.ScopeAll
		if scopeArg != "" {
			parsed, err := types.ParseScope(scopeArg)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid scope %q: %v", scopeArg, err), http.StatusBadRequest)
				return
			}
			scope = parsed
		}

		log.Printf("Manual reconciliation triggered for scope=%s", scope)
		report, err := daemon.Trigger(r.Context(), scope)
		if err != nil {
			log.Printf("Manual reconciliation failed for %s: %v", scope, err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(report)
	}
}

// statusHandler reports recent run history.
func statusHandler(daemon *recon.Daemon) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := daemon.Stats()
		payload := struct {
			TotalRuns  int                `json:"total_runs"`
			RecentRuns []recon.RunSummary `json:"recent_runs"`
		}{
			TotalRuns:  stats.TotalRuns(),
			RecentRuns: stats.Recent(20),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(payload)
	}
}
