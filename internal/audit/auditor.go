package audit

import (
	"context"
	"fmt"
	"log"

	"github.com/rawsym/symdex-engine/internal/db"
	"github.com/rawsym/symdex-engine/internal/disasm"
	"github.com/rawsym/symdex-engine/internal/fingerprint"
	"github.com/rawsym/symdex-engine/internal/storage"
	"github.com/rawsym/symdex-engine/pkg/models"
)

// Auditor re-derives fingerprints and window counts from the stored object
// blob and diffs them against the persisted index. A clean index reproduces
// byte-identically; any drift means the blob, the seed, or the window width
// changed underneath the index and the source must be re-ingested.
type Auditor struct {
	store  *db.PostgresStore
	blobs  *storage.BlobStore
	codec  disasm.Adapter
	hasher *fingerprint.Hasher
	window int
}

// Mismatch is one symbol whose persisted index state disagrees with the
// blob-derived truth.
type Mismatch struct {
	SymbolSlug string `json:"symbolSlug"`
	SymbolName string `json:"symbolName"`
	Field      string `json:"field"` // "fingerprints", "len", "window_count", "missing_listing"
	Detail     string `json:"detail"`
}

// Result summarizes one source audit.
type Result struct {
	SourceSlug      string     `json:"sourceSlug"`
	SymbolsAudited  int        `json:"symbolsAudited"`
	WindowsVerified int64      `json:"windowsVerified"`
	Mismatches      []Mismatch `json:"mismatches"`
}

func NewAuditor(store *db.PostgresStore, blobs *storage.BlobStore, codec disasm.Adapter, hasher *fingerprint.Hasher, window int) *Auditor {
	return &Auditor{store: store, blobs: blobs, codec: codec, hasher: hasher, window: window}
}

// AuditSource verifies every symbol of one source. Mismatches are reported,
// not repaired; a non-empty mismatch list is the IntegrityError signal.
func (a *Auditor) AuditSource(ctx context.Context, sourceSlug string) (Result, error) {
	result := Result{SourceSlug: sourceSlug, Mismatches: []Mismatch{}}

	sourceID, err := a.store.SourceID(ctx, sourceSlug)
	if err != nil {
		return result, err
	}
	symbols, err := a.store.SourceSymbols(ctx, sourceID)
	if err != nil {
		return result, err
	}
	if len(symbols) == 0 {
		return result, nil
	}

	// One blob read covers the whole source.
	diskPath, _, err := a.store.ObjectRef(ctx, symbols[0].Slug)
	if err != nil {
		return result, err
	}
	r, err := a.blobs.Open(diskPath)
	if err != nil {
		return result, err
	}
	defer r.Close()
	listings, err := a.codec.Disassemble(r)
	if err != nil {
		return result, fmt.Errorf("%w: blob unparseable: %v", models.ErrIntegrity, err)
	}

	for _, sym := range symbols {
		select {
		case <-ctx.Done():
			return result, fmt.Errorf("%w: %v", models.ErrCancelled, ctx.Err())
		default:
		}
		result.SymbolsAudited++

		if sym.SymbolIdx >= len(listings) {
			result.Mismatches = append(result.Mismatches, Mismatch{
				SymbolSlug: sym.Slug, SymbolName: sym.Name, Field: "missing_listing",
				Detail: fmt.Sprintf("ordinal %d outside blob's %d listings", sym.SymbolIdx, len(listings)),
			})
			continue
		}
		listing := listings[sym.SymbolIdx]

		if len(listing.Instructions) != sym.Len {
			result.Mismatches = append(result.Mismatches, Mismatch{
				SymbolSlug: sym.Slug, SymbolName: sym.Name, Field: "len",
				Detail: fmt.Sprintf("index says %d, blob says %d", sym.Len, len(listing.Instructions)),
			})
			continue
		}

		derived := a.hasher.Fingerprints(listing.Instructions)
		if derived != sym.Fingerprints {
			result.Mismatches = append(result.Mismatches, Mismatch{
				SymbolSlug: sym.Slug, SymbolName: sym.Name, Field: "fingerprints",
				Detail: fmt.Sprintf("derived exact %#x, indexed %#x", derived.Exact, sym.Fingerprints.Exact),
			})
			continue
		}

		wantWindows := 0
		if sym.Len >= a.window {
			wantWindows = sym.Len - a.window + 1
		}
		gotWindows, err := a.store.WindowCount(ctx, sym.ID)
		if err != nil {
			return result, err
		}
		if gotWindows != wantWindows {
			result.Mismatches = append(result.Mismatches, Mismatch{
				SymbolSlug: sym.Slug, SymbolName: sym.Name, Field: "window_count",
				Detail: fmt.Sprintf("expected %d windows, found %d", wantWindows, gotWindows),
			})
			continue
		}
		result.WindowsVerified += int64(gotWindows)
	}

	if n := len(result.Mismatches); n > 0 {
		log.Printf("[Audit] Source %s: %d/%d symbols inconsistent", sourceSlug, n, result.SymbolsAudited)
	}
	return result, nil
}
