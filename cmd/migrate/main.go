package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"reorder-engine/internal/config"
	"reorder-engine/internal/db"
	"reorder-engine/internal/logger"
	"reorder-engine/migrations"
)

func main() {
	_ = godotenv.Load()

	log, err := logger.New(config.String("LOG_MODE", "development"))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx := context.Background()
	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	applied, err := db.Migrate(ctx, pool, migrations.FS, log)
	if err != nil {
		log.Error("migration failed", "error", err, "applied", applied)
		pool.Close()
		os.Exit(1)
	}
	log.Info("all migrations processed", "applied", applied)
}
