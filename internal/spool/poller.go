package spool

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rawsym/symdex-engine/internal/ingest"
	"github.com/rawsym/symdex-engine/pkg/models"
)

const pollInterval = 5 * time.Second

// Poller watches a drop directory for disassembly dumps and ingests them as
// they appear, so disassembler integrations can feed the index without
// speaking HTTP. An ingested dump moves to done/; one that conflicts with the
// index or is not a valid dump moves to failed/; on any other error it stays
// in place for a later sweep. The seen map guards against re-processing a
// file mid-move.
type Poller struct {
	dir      string
	project  string
	version  string
	platform int
	pipeline *ingest.Pipeline
	seen     map[string]bool
}

func NewPoller(dir, project, version string, platform int, pipeline *ingest.Pipeline) *Poller {
	return &Poller{
		dir:      dir,
		project:  project,
		version:  version,
		platform: platform,
		pipeline: pipeline,
		seen:     make(map[string]bool),
	}
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	for _, sub := range []string{"done", "failed"} {
		if err := os.MkdirAll(filepath.Join(p.dir, sub), 0o755); err != nil {
			log.Printf("[Spool] Cannot prepare %s dir: %v", sub, err)
			return
		}
	}
	log.Printf("[Spool] Watching %s for dumps (project %q)", p.dir, p.project)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("[Spool] Watcher stopped")
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *Poller) sweep(ctx context.Context) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		log.Printf("[Spool] Read dir failed: %v", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") || p.seen[entry.Name()] {
			continue
		}
		p.seen[entry.Name()] = true
		p.process(ctx, entry.Name())
	}
}

func (p *Poller) process(ctx context.Context, name string) {
	path := filepath.Join(p.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[Spool] Read %s failed: %v", name, err)
		return
	}

	sourceName := strings.TrimSuffix(name, ".json")
	slug, nsym, err := p.pipeline.IngestDump(ctx, ingest.SourceMeta{
		Project:  p.project,
		Source:   sourceName,
		Version:  p.version,
		Platform: p.platform,
	}, data)

	switch {
	case err == nil:
		log.Printf("[Spool] Ingested %s as source %s (%d symbols)", name, slug, nsym)
		p.finish(name, "done")
	case errors.Is(err, models.ErrConflict):
		// Already indexed under this or another identity; park it so the
		// operator can inspect, but don't retry forever.
		log.Printf("[Spool] %s conflicts with the index: %v", name, err)
		p.finish(name, "failed")
	case errors.Is(err, models.ErrInvalidArgument):
		log.Printf("[Spool] %s is not a valid dump: %v", name, err)
		p.finish(name, "failed")
	default:
		// Transient (store down, cancellation): leave in place and allow a
		// later sweep to retry.
		log.Printf("[Spool] Ingest of %s failed, will retry: %v", name, err)
		delete(p.seen, name)
	}
}

func (p *Poller) finish(name, sub string) {
	if err := os.Rename(filepath.Join(p.dir, name), filepath.Join(p.dir, sub, name)); err != nil {
		log.Printf("[Spool] Move %s to %s/ failed: %v", name, sub, err)
	}
}
