package ingest

import (
	"bytes"
	"context"
	"log"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rawsym/symdex-engine/internal/db"
	"github.com/rawsym/symdex-engine/internal/disasm"
	"github.com/rawsym/symdex-engine/internal/fingerprint"
	"github.com/rawsym/symdex-engine/internal/storage"
)

// Event is one ingestion notification, broadcast to stream subscribers.
type Event struct {
	Type       string `json:"type"` // "source_ingested"
	Project    string `json:"project"`
	Source     string `json:"source"`
	SourceSlug string `json:"sourceSlug"`
	NumSymbols int    `json:"numSymbols"`
	Timestamp  string `json:"timestamp"`
}

// Progress is the pipeline's counters for the API (thread-safe reads).
type Progress struct {
	SourcesIngested int64 `json:"sourcesIngested"`
	SymbolsIngested int64 `json:"symbolsIngested"`
	WindowsIndexed  int64 `json:"windowsIndexed"`
}

// Pipeline turns disassembly dumps into indexed sources: blob storage,
// parsing, normalization and hashing on a CPU worker pool, then one atomic
// InsertSource. Normalization is CPU-bound, so it fans out over NumCPU
// workers separate from the store's I/O.
type Pipeline struct {
	store  *db.PostgresStore
	blobs  *storage.BlobStore
	codec  disasm.Adapter
	hasher *fingerprint.Hasher
	window int

	eventFunc func(Event) // optional broadcast callback

	sourcesIngested atomic.Int64
	symbolsIngested atomic.Int64
	windowsIndexed  atomic.Int64
}

func NewPipeline(store *db.PostgresStore, blobs *storage.BlobStore, codec disasm.Adapter, hasher *fingerprint.Hasher, window int, eventFunc func(Event)) *Pipeline {
	return &Pipeline{
		store:     store,
		blobs:     blobs,
		codec:     codec,
		hasher:    hasher,
		window:    window,
		eventFunc: eventFunc,
	}
}

// GetProgress returns the pipeline counters (thread-safe).
func (p *Pipeline) GetProgress() Progress {
	return Progress{
		SourcesIngested: p.sourcesIngested.Load(),
		SymbolsIngested: p.symbolsIngested.Load(),
		WindowsIndexed:  p.windowsIndexed.Load(),
	}
}

// SourceMeta names the destination of one dump ingestion.
type SourceMeta struct {
	Project  string
	Repo     string
	Source   string
	Version  string
	Platform int
	Upstream string
}

// IngestDump stores the dump blob, fingerprints every symbol, and commits
// the source. Returns the new source's slug and its symbol count.
func (p *Pipeline) IngestDump(ctx context.Context, meta SourceMeta, data []byte) (string, int, error) {
	hash, path, err := p.blobs.Put(data)
	if err != nil {
		return "", 0, err
	}

	listings, err := p.codec.Disassemble(bytes.NewReader(data))
	if err != nil {
		return "", 0, err
	}

	symbols, err := p.buildSymbols(ctx, listings)
	if err != nil {
		return "", 0, err
	}

	slug, err := p.store.InsertSource(ctx, db.SourceIngest{
		ProjectName: meta.Project,
		ProjectRepo: meta.Repo,
		SourceName:  meta.Source,
		VersionName: meta.Version,
		Platform:    meta.Platform,
		Upstream:    meta.Upstream,
		ObjectHash:  hash,
		DiskPath:    path,
	}, symbols)
	if err != nil {
		return "", 0, err
	}

	p.sourcesIngested.Add(1)
	p.symbolsIngested.Add(int64(len(symbols)))
	for _, sym := range symbols {
		p.windowsIndexed.Add(int64(len(sym.Windows)))
	}
	log.Printf("[Ingest] Source %q (%s) committed: %d symbols", meta.Source, slug, len(symbols))

	if p.eventFunc != nil {
		p.eventFunc(Event{
			Type:       "source_ingested",
			Project:    meta.Project,
			Source:     meta.Source,
			SourceSlug: slug,
			NumSymbols: len(symbols),
			Timestamp:  time.Now().Format(time.RFC3339),
		})
	}
	return slug, len(symbols), nil
}

// buildSymbols fingerprints every listing concurrently, preserving link
// order by writing into an indexed slice.
func (p *Pipeline) buildSymbols(ctx context.Context, listings []disasm.Listing) ([]db.SymbolIngest, error) {
	symbols := make([]db.SymbolIngest, len(listings))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, listing := range listings {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			equiv := p.hasher.EquivStream(listing.Instructions)
			symbols[i] = db.SymbolIngest{
				Name:         listing.Name,
				Idx:          i,
				Len:          len(listing.Instructions),
				IsDecompiled: listing.IsDecompiled,
				Fingerprints: p.hasher.Fingerprints(listing.Instructions),
				Windows:      p.hasher.ExtractWindows(equiv, p.window),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return symbols, nil
}
