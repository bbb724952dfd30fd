package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rawsym/symdex-engine/internal/db"
	"github.com/rawsym/symdex-engine/internal/disasm"
	"github.com/rawsym/symdex-engine/internal/fingerprint"
	"github.com/rawsym/symdex-engine/internal/ingest"
	"github.com/rawsym/symdex-engine/internal/storage"
	"github.com/rawsym/symdex-engine/pkg/models"
)

// Exit codes are the CLI contract:
//
//	0 success
//	1 user error (bad descriptor, missing object file)
//	2 integrity error (conflicting hash under a different name)
//	3 backing store unavailable
const (
	exitOK          = 0
	exitUserError   = 1
	exitIntegrity   = 2
	exitUnavailable = 3
)

func main() {
	var (
		descriptorPath string
		dbUrl          string
		blobRoot       string
		seedStr        string
		window         int
	)

	root := &cobra.Command{
		Use:   "symdex-ingest",
		Short: "Index disassembly dumps described by a YAML project descriptor",
		Long: `symdex-ingest reads a project descriptor listing disassembly dumps,
fingerprints every symbol at three fidelities, and commits each dump as one
source into the Symdex index.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), descriptorPath, dbUrl, blobRoot, seedStr, window)
		},
	}

	root.Flags().StringVarP(&descriptorPath, "descriptor", "d", "project.yaml", "path to the YAML project descriptor")
	root.Flags().StringVar(&dbUrl, "db", os.Getenv("DATABASE_URL"), "PostgreSQL connection string (defaults to DATABASE_URL)")
	root.Flags().StringVar(&blobRoot, "blob-root", envOr("BLOB_ROOT", "./blobs"), "object blob storage root")
	root.Flags().StringVar(&seedStr, "hash-seed", envOr("HASH_SEED", "0x5eed"), "deployment hash seed (must match the engine)")
	root.Flags().IntVar(&window, "window-size", fingerprint.DefaultWindowSize, "window width W (must match the engine)")

	if err := root.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func run(ctx context.Context, descriptorPath, dbUrl, blobRoot, seedStr string, window int) error {
	if dbUrl == "" {
		return fmt.Errorf("%w: no database URL (set --db or DATABASE_URL)", models.ErrInvalidArgument)
	}
	seed, err := strconv.ParseUint(seedStr, 0, 64)
	if err != nil {
		return fmt.Errorf("%w: hash seed %q is not an unsigned integer", models.ErrInvalidArgument, seedStr)
	}

	descriptor, err := ingest.LoadDescriptor(descriptorPath)
	if err != nil {
		return err
	}

	store, err := db.Connect(dbUrl)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.InitSchema(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrBackingStoreUnavailable, err)
	}

	blobs, err := storage.NewBlobStore(blobRoot)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
	}

	pipeline := ingest.NewPipeline(store, blobs, disasm.DumpCodec{}, fingerprint.NewHasher(seed), window, nil)

	for _, obj := range descriptor.Objects {
		data, err := os.ReadFile(obj.Path)
		if err != nil {
			return fmt.Errorf("%w: object %s: %v", models.ErrInvalidArgument, obj.Path, err)
		}

		slug, nsym, err := pipeline.IngestDump(ctx, ingest.SourceMeta{
			Project:  descriptor.Project,
			Repo:     descriptor.Repo,
			Source:   obj.Name,
			Version:  obj.Version,
			Platform: descriptor.PlatformFor(obj),
			Upstream: obj.Upstream,
		}, data)
		if err != nil {
			return fmt.Errorf("object %s: %w", obj.Path, err)
		}
		log.Printf("[Ingest] %s → source %s (%d symbols)", obj.Path, slug, nsym)
	}

	progress := pipeline.GetProgress()
	log.Printf("[Ingest] Done: %d sources, %d symbols, %d windows",
		progress.SourcesIngested, progress.SymbolsIngested, progress.WindowsIndexed)
	return nil
}

func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrIntegrity):
		return exitIntegrity
	case errors.Is(err, models.ErrBackingStoreUnavailable):
		return exitUnavailable
	default:
		return exitUserError
	}
}

func envOr(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
