// Package main implements the mediarec command line tool.
// It runs a single reconciliation pass over one scope and prints the
// report as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mediarec/mediarec/internal/catalog"
	"github.com/mediarec/mediarec/internal/config"
	"github.com/mediarec/mediarec/internal/lister"
	"github.com/mediarec/mediarec/internal/pathconv"
	"github.com/mediarec/mediarec/internal/recon"
	"github.com/mediarec/mediarec/internal/repair"
	"github.com/mediarec/mediarec/internal/storage"
	"github.com/mediarec/mediarec/internal/usage"
	"github.com/mediarec/mediarec/pkg/types"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to config file (YAML or JSON)")
		scopeArg    = flag.String("scope", "all", `Scope to reconcile, e.g. "all", "customer:a", "customer:a@2026-01-05"`)
		dryRun      = flag.Bool("dry-run", false, "Compute and print the plan without applying it")
		allowDelete = flag.Bool("allow-physical-delete", false, "Authorize physical deletion of duplicate losers")
		concurrency = flag.Int("concurrency", 0, "Listing and execution parallelism (0 uses config defaults)")
		deepHash    = flag.Bool("deep-hash", false, "Hash object contents during listing instead of trusting etags")
	)
	flag.Parse()

	// A .env file is optional; explicit environment always wins.
	_ = godotenv.Load()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *deepHash {
		cfg.Lister.DeepHash = true
	}

	scope, err := types.ParseScope(*scopeArg)
	if err != nil {
		log.Fatalf("Invalid scope %q: %v", *scopeArg, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	store, err := buildStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	cat, err := catalog.NewCatalog(cfg.Catalog.Path)
	if err != nil {
		log.Fatalf("Failed to initialize catalog: %v", err)
	}
	defer cat.Close()

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
		defer lookup.Close()
		engineCfg.Usage = lookup
	}

	engine := recon.NewEngine(cat, store, engineCfg)
	report, err := engine.Reconcile(ctx, recon.Params{
		Scope:               scope,
		DryRun:              *dryRun,
		AllowPhysicalDelete: *allowDelete || cfg.Repair.AllowPhysicalDelete,
		Concurrency:         *concurrency,
	})
	if report != nil {
		out, marshalErr := json.MarshalIndent(report, "", "  ")
		if marshalErr != nil {
			log.Fatalf("Failed to encode report: %v", marshalErr)
		}
		fmt.Println(string(out))
	}
	if err != nil {
		log.Fatalf("Reconciliation failed: %v", err)
	}
	if len(report.ActionsFailed) > 0 {
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	return cfg, nil
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
