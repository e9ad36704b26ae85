// Command hadron-controller runs the HTTP API: it accepts CR submissions,
// serves run status and event streams, and spawns a Worker process per CR
// via the Job Spawner.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hadron-sdlc/hadron/pkg/api"
	"github.com/hadron-sdlc/hadron/pkg/config"
	"github.com/hadron-sdlc/hadron/pkg/database"
	"github.com/hadron-sdlc/hadron/pkg/events"
	"github.com/hadron-sdlc/hadron/pkg/intervention"
	"github.com/hadron-sdlc/hadron/pkg/kvs"
	"github.com/hadron-sdlc/hadron/pkg/spawner"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	flag.Parse()

	boot, warnings, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("hadron-controller: load config: %v", err)
	}
	for _, w := range warnings {
		log.Printf("hadron-controller: %s", w)
	}
	if err := boot.Validate(); err != nil {
		log.Fatalf("hadron-controller: invalid config: %v", err)
	}

	ctx := context.Background()

	rdb, err := kvs.NewClient(ctx, boot.Redis)
	if err != nil {
		log.Fatalf("hadron-controller: %v", err)
	}
	defer func() { _ = rdb.Close() }()

	db, err := database.NewClient(ctx, boot.Database)
	if err != nil {
		log.Fatalf("hadron-controller: connect database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("hadron-controller: error closing database: %v", err)
		}
	}()

	repo := database.NewCRRepository(db)
	bus := events.New(rdb)
	interventions := intervention.New(rdb)
	sp := spawner.NewLocalSpawner(boot.WorkerBinary, rdb)

	server := api.NewServer(boot.GinMode, rdb, db, repo, bus, interventions, sp)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("hadron-controller: listening on :%s", boot.HTTPPort)
		errCh <- server.Start(":" + boot.HTTPPort)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("hadron-controller: server exited: %v", err)
		}
	case sig := <-sigCh:
		log.Printf("hadron-controller: received %s, shutting down", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("hadron-controller: shutdown error: %v", err)
		}
	}
}
