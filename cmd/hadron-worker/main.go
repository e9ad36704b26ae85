// Command hadron-worker runs exactly one CR's pipeline to a terminal state,
// then exits. It is spawned by a Job Spawner (pkg/spawner), one process per
// active CR.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/hadron-sdlc/hadron/pkg/config"
	"github.com/hadron-sdlc/hadron/pkg/worker"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	crID := flag.String("cr-id", "", "CR id to run")
	flag.Parse()

	if *crID == "" {
		log.Fatal("hadron-worker: --cr-id is required")
	}

	boot, warnings, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("hadron-worker: load config: %v", err)
	}
	for _, w := range warnings {
		log.Printf("hadron-worker: %s", w)
	}
	if err := boot.Validate(); err != nil {
		log.Fatalf("hadron-worker: invalid config: %v", err)
	}

	ctx := context.Background()

	w, err := worker.New(ctx, boot)
	if err != nil {
		log.Fatalf("hadron-worker: bootstrap: %v", err)
	}
	defer func() {
		if err := w.Close(); err != nil {
			log.Printf("hadron-worker: error closing resources: %v", err)
		}
	}()

	log.Printf("hadron-worker: running cr %s", *crID)
	if err := w.Run(ctx, *crID); err != nil {
		log.Fatalf("hadron-worker: cr %s run failed: %v", *crID, err)
	}
	log.Printf("hadron-worker: cr %s finished", *crID)
}
