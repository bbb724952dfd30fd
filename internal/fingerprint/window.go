package fingerprint

import "github.com/rawsym/symdex-engine/pkg/models"

// DefaultWindowSize is the deployment default for W — the minimum submatch
// length the index can answer.
const DefaultWindowSize = 8

// ExtractWindows produces the window set for one equivalence hash stream:
// one window per contiguous run of w instructions, pos strictly increasing
// from 0. A stream shorter than w yields no windows. The per-window hash
// depends only on the covered hashes, never on pos, so equal runs at
// different offsets collide by construction.
func (h *Hasher) ExtractWindows(equiv []uint64, w int) []models.Window {
	if w <= 0 || len(equiv) < w {
		return nil
	}
	out := make([]models.Window, 0, len(equiv)-w+1)
	for i := 0; i+w <= len(equiv); i++ {
		v := h.basis
		for _, e := range equiv[i : i+w] {
			v = foldWord(v, e)
		}
		out = append(out, models.Window{Pos: i, Hash: v})
	}
	return out
}
