package main

import (
	"log"

	"github.com/edwin0419/particlelab/internal/api"
	"github.com/edwin0419/particlelab/internal/config"
	"github.com/edwin0419/particlelab/internal/db"
	"github.com/edwin0419/particlelab/internal/fsstore"
	"github.com/edwin0419/particlelab/internal/preview"
	"github.com/edwin0419/particlelab/internal/stages"
	"github.com/edwin0419/particlelab/internal/store"
)

func main() {
	log.Println("Starting particle segmentation pipeline service...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	pg, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("FATAL: failed to connect to PostgreSQL: %v", err)
	}
	defer pg.Close()

	if err := pg.InitSchema(cfg.SchemaPath); err != nil {
		log.Fatalf("FATAL: failed to initialize schema: %v", err)
	}

	blob, err := fsstore.New(cfg.StorageRoot)
	if err != nil {
		log.Fatalf("FATAL: failed to initialize storage root: %v", err)
	}

	artifactStore := store.New(pg, blob)
	executor := stages.NewExecutor(artifactStore, pg, pg)
	renderer := preview.NewRenderer(executor)

	handler := &api.APIHandler{
		DB:       pg,
		Store:    artifactStore,
		Executor: executor,
		Preview:  renderer,
	}

	r := api.SetupRouter(handler, cfg.AuthToken, cfg.GinMode, cfg.RateLimitPerMin, cfg.RateLimitBurst)

	log.Printf("Listening on :%s\n", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("FATAL: server exited: %v", err)
	}
}
