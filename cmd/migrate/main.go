package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"BPSGateway/internal/config"
	"BPSGateway/internal/db"
)

func main() {
	dir := flag.String("dir", "migrations", "directory holding *.sql migrations")
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.DB.DSN == "" {
		logger.Error("db.dsn is not set; nothing to migrate")
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	applied, err := db.Migrate(ctx, pool, *dir, logger)
	if err != nil {
		logger.Error("Migration failed", "error", err)
		pool.Close()
		os.Exit(1)
	}
	logger.Info("Migrations complete", "applied", len(applied))
}
