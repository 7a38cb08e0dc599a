// Package main implements the docrune server binary. It serves one
// document container over HTTP and gRPC.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/arkilian/docrune/internal/app"
	"github.com/arkilian/docrune/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		mode        string
		httpAddr    string
		grpcAddr    string
		pkPath      string
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for the catalog, journal and snapshots")
	flag.StringVar(&mode, "mode", "", "API surfaces to run: all, http, grpc")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP API address")
	flag.StringVar(&grpcAddr, "grpc-addr", "", "gRPC API address")
	flag.StringVar(&pkPath, "partition-key", "", "Partition key path of the container, e.g. /foodGroup")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "docrune - a partitioned JSON document store with a SQL query engine\n\n")
		fmt.Fprintf(os.Stderr, "Usage: docrune [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  DOCRUNE_MODE                API surfaces (all, http, grpc)\n")
		fmt.Fprintf(os.Stderr, "  DOCRUNE_DATA_DIR            Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  DOCRUNE_PARTITION_KEY_PATH  Partition key path\n")
		fmt.Fprintf(os.Stderr, "  DOCRUNE_HTTP_ADDR           HTTP API address\n")
		fmt.Fprintf(os.Stderr, "  DOCRUNE_GRPC_ADDR           gRPC API address\n")
		fmt.Fprintf(os.Stderr, "  DOCRUNE_STORAGE_TYPE        Snapshot storage (local, s3)\n")
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("docrune version %s (commit: %s)\n", version, commit)
		return
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if mode != "" {
		cfg.Mode = config.Mode(mode)
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if grpcAddr != "" {
		cfg.GRPC.Addr = grpcAddr
	}
	if pkPath != "" {
		cfg.Container.PartitionKeyPath = pkPath
	}

	application, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create application: %v\n", err)
		os.Exit(1)
	}
	log := application.Logger()
	log.Info("starting docrune",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("data_dir", cfg.DataDir),
		zap.String("storage", cfg.Storage.Type),
	)

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		log.Fatal("failed to start", zap.Error(err))
	}

	if err := application.WaitForShutdown(ctx); err != nil {
		log.Error("shutdown error", zap.Error(err))
		os.Exit(1)
	}
}

// loadConfig layers the file (or defaults) under the environment.
func loadConfig(configFile string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(configFile); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}
