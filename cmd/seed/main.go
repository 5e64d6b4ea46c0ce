// Command seed loads a YAML seed file into the configured storage provider.
// It defaults to the local Firestore emulator.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/levenlabs/go-lflag"

	"github.com/jameshartig/mygas/pkg/log"
	"github.com/jameshartig/mygas/pkg/storage"
)

func main() {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	}
	db := storage.Configured()
	seedFile := lflag.String("seed-file", "seed.yaml", "YAML file with the entries and devices to create")
	lflag.Configure()

	ctx := context.Background()
	defer db.Close()

	seed, err := storage.LoadSeedFile(*seedFile)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load seed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "seeding storage", slog.String("file", *seedFile), slog.Int("entries", len(seed.Entries)))
	if err := storage.ApplySeed(ctx, db, seed); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed storage", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "seeding complete")
}
