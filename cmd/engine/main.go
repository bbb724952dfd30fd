package main

import (
	"context"
	"log"
	"os"
	"strconv"

	"github.com/rawsym/symdex-engine/internal/api"
	"github.com/rawsym/symdex-engine/internal/audit"
	"github.com/rawsym/symdex-engine/internal/db"
	"github.com/rawsym/symdex-engine/internal/disasm"
	"github.com/rawsym/symdex-engine/internal/fingerprint"
	"github.com/rawsym/symdex-engine/internal/ingest"
	"github.com/rawsym/symdex-engine/internal/spool"
	"github.com/rawsym/symdex-engine/internal/storage"
	"github.com/rawsym/symdex-engine/pkg/models"
)

// defaultHashSeed is the development fallback. Production deployments set
// HASH_SEED explicitly and never change it afterwards.
const defaultHashSeed uint64 = 0x5eed

func main() {
	log.Println("Starting Symdex Engine (symbol similarity index)...")

	// ─── Required Environment Variables ─────────────────────────────────
	// DATABASE_URL must be set; everything else has a development default.
	// The hash seed and window width are deployment-wide constants: change
	// either and every fingerprint in the index stops comparing — re-ingest.
	// ────────────────────────────────────────────────────────────────────

	dbUrl := requireEnv("DATABASE_URL")

	dbConn, err := db.Connect(dbUrl)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer dbConn.Close()
	if err := dbConn.InitSchema(); err != nil {
		log.Fatalf("DB schema init failed: %v", err)
	}

	blobRoot := getEnvOrDefault("BLOB_ROOT", "./blobs")
	blobs, err := storage.NewBlobStore(blobRoot)
	if err != nil {
		log.Fatalf("Failed to open blob root %s: %v", blobRoot, err)
	}

	seed := parseUintEnv("HASH_SEED", defaultHashSeed)
	window := int(parseUintEnv("WINDOW_SIZE", fingerprint.DefaultWindowSize))
	hasher := fingerprint.NewHasher(seed)
	codec := disasm.DumpCodec{}

	// WebSocket hub for ingest/audit events; subscribers run their own
	// write pumps, so the hub needs no goroutine of its own.
	wsHub := api.NewHub()

	pipeline := ingest.NewPipeline(dbConn, blobs, codec, hasher, window, func(ev ingest.Event) {
		wsHub.Publish(ev.Type, ev)
	})
	auditor := audit.NewAuditor(dbConn, blobs, codec, hasher, window)

	// Optional spool watcher: drop dump files into SPOOL_DIR and they get
	// ingested without touching the HTTP surface.
	if spoolDir := os.Getenv("SPOOL_DIR"); spoolDir != "" {
		project := getEnvOrDefault("SPOOL_PROJECT", "spool")
		version := os.Getenv("SPOOL_VERSION")
		platform := models.PlatformTag(os.Getenv("SPOOL_PLATFORM"))
		watcher := spool.NewPoller(spoolDir, project, version, platform, pipeline)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go watcher.Run(ctx)
	}

	// Setup the Gin Router
	r := api.SetupRouter(dbConn, blobs, codec, pipeline, auditor, wsHub, window)

	port := getEnvOrDefault("PORT", "5340")

	log.Printf("Engine running on :%s (window width %d)\n", port, window)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// requireEnv reads a required environment variable and exits if it is not set.
func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set.", key)
	}
	return val
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// parseUintEnv reads an unsigned integer env var (decimal or 0x-hex).
func parseUintEnv(key string, fallback uint64) uint64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseUint(val, 0, 64)
	if err != nil {
		log.Fatalf("FATAL: %s must be an unsigned integer, got %q", key, val)
	}
	return parsed
}
