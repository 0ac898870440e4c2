package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"taskboard/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("load .env")
	}
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if connStr := os.Getenv("STORAGE_CONNECTION_STRING"); connStr != "" {
		if err := storage.Provision(ctx, connStr, os.Getenv("TASKS_TABLE"), os.Getenv("STATUS_QUEUE")); err != nil {
			log.Fatalf("provision azure storage: %v", err)
		}
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pg, pool, err := storage.OpenPostgres(ctx, dsn)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pool.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatalf("ensure schema: %v", err)
		}
		log.Info("postgres schema ready")
	}

	log.Info("storage init complete")
}
