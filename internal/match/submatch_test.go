package match

import (
	"errors"
	"sort"
	"testing"

	"github.com/rawsym/symdex-engine/internal/fingerprint"
	"github.com/rawsym/symdex-engine/pkg/models"
)

const testW = 8

var hasher = fingerprint.NewHasher(0x5eed)

// stream builds an equivalence hash stream from abstract instruction ids.
func stream(ids ...uint64) []uint64 {
	out := make([]uint64, len(ids))
	for i, id := range ids {
		// Spread ids so distinct ids never collide in tests.
		out[i] = id*0x9e3779b97f4a7c15 + 1
	}
	return out
}

// seq appends ids base+0 .. base+n-1.
func seq(base uint64, n int) []uint64 {
	ids := make([]uint64, n)
	for i := range ids {
		ids[i] = base + uint64(i)
	}
	return ids
}

func cat(parts ...[]uint64) []uint64 {
	var out []uint64
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// anchorsBetween joins the query window set against candidate symbols by
// hash, the way the index self-join does, and returns anchors in
// (symbol, diagonal, qpos) order.
func anchorsBetween(query []uint64, candidates map[int64][]uint64) []Anchor {
	qw := hasher.ExtractWindows(query, testW)
	var anchors []Anchor
	for symID, cand := range candidates {
		cw := hasher.ExtractWindows(cand, testW)
		for _, q := range qw {
			for _, m := range cw {
				if q.Hash == m.Hash {
					anchors = append(anchors, Anchor{SymbolID: symID, QPos: q.Pos, MPos: m.Pos})
				}
			}
		}
	}
	sort.Slice(anchors, func(i, j int) bool {
		a, b := anchors[i], anchors[j]
		if a.SymbolID != b.SymbolID {
			return a.SymbolID < b.SymbolID
		}
		if a.Diagonal() != b.Diagonal() {
			return a.Diagonal() < b.Diagonal()
		}
		return a.QPos < b.QPos
	})
	return anchors
}

func defaultParams(minLen int) Params {
	return Params{Start: -1, End: -1, MinLen: minLen, Page: 0, PageSize: 100}
}

func TestSubmatch_ExactDuplicate(t *testing.T) {
	// Two identical 20-instruction symbols: one run spanning the whole
	// symbol.
	a := stream(seq(100, 20)...)
	anchors := anchorsBetween(a, map[int64][]uint64{2: a})

	total, runs := Execute(anchors, mustNormalize(t, defaultParams(testW), 20), testW, nil)

	if total != 1 || len(runs) != 1 {
		t.Fatalf("Expected exactly one run, got total=%d runs=%v", total, runs)
	}
	got := runs[0]
	if got.QueryStart != 0 || got.MatchStart != 0 || got.Len != 20 {
		t.Errorf("Expected (0, 0, 20), got (%d, %d, %d)", got.QueryStart, got.MatchStart, got.Len)
	}
}

func TestSubmatch_PartialOverlap(t *testing.T) {
	// A = X0..X39; B = Y0..Y9, X10..X29, Z0..Z9. W=8, L=10: one run
	// (q0=10, m0=10, len=20).
	x := seq(1000, 40)
	a := stream(x...)
	b := stream(cat(seq(2000, 10), x[10:30], seq(3000, 10))...)

	anchors := anchorsBetween(a, map[int64][]uint64{7: b})
	total, runs := Execute(anchors, mustNormalize(t, defaultParams(10), 40), testW, nil)

	if total != 1 {
		t.Fatalf("Expected one run, got %d: %v", total, runs)
	}
	got := runs[0]
	if got.QueryStart != 10 || got.MatchStart != 10 || got.Len != 20 {
		t.Errorf("Expected (10, 10, 20), got (%d, %d, %d)", got.QueryStart, got.MatchStart, got.Len)
	}
}

func TestSubmatch_TwoDiagonals(t *testing.T) {
	// A carries the same 16-instruction block at 0 and 30; B carries it once
	// at 5. Each diagonal yields an independent row.
	block := seq(500, 16)
	a := stream(cat(block, seq(600, 14), block)...)
	b := stream(cat(seq(700, 5), block, seq(800, 9))...)

	anchors := anchorsBetween(a, map[int64][]uint64{3: b})
	total, runs := Execute(anchors, mustNormalize(t, defaultParams(testW), 46), testW, nil)

	if total != 2 {
		t.Fatalf("Expected two runs (one per diagonal), got %d: %v", total, runs)
	}
	// Equal lengths fall through to the query-start tiebreak.
	if runs[0].QueryStart != 0 || runs[0].MatchStart != 5 || runs[0].Len != 16 {
		t.Errorf("First run: expected (0, 5, 16), got %+v", runs[0])
	}
	if runs[1].QueryStart != 30 || runs[1].MatchStart != 5 || runs[1].Len != 16 {
		t.Errorf("Second run: expected (30, 5, 16), got %+v", runs[1])
	}
}

func TestSubmatch_BelowThreshold(t *testing.T) {
	// Shared run of 9 < L=16: nothing comes back, total 0.
	shared := seq(900, 9)
	a := stream(cat(shared, seq(910, 20))...)
	b := stream(cat(seq(950, 20), shared)...)

	anchors := anchorsBetween(a, map[int64][]uint64{4: b})
	total, runs := Execute(anchors, mustNormalize(t, defaultParams(16), 29), testW, nil)

	if total != 0 || len(runs) != 0 {
		t.Errorf("Expected empty result below threshold, got total=%d runs=%v", total, runs)
	}
}

func TestSubmatch_RunsAreMaximal(t *testing.T) {
	// B shares X0..X19 except position 10 differs: two separate maximal
	// runs on the same diagonal, not one.
	x := seq(1100, 20)
	bIDs := append([]uint64{}, x...)
	bIDs[10] = 9999
	a := stream(x...)
	b := stream(bIDs...)

	anchors := anchorsBetween(a, map[int64][]uint64{5: b})
	total, runs := Execute(anchors, mustNormalize(t, defaultParams(testW), 20), testW, nil)

	if total != 2 {
		t.Fatalf("Expected two maximal runs split at the divergence, got %d: %v", total, runs)
	}
	for _, r := range runs {
		if r.QueryStart != r.MatchStart {
			t.Errorf("Same-diagonal runs must align: %+v", r)
		}
		if !(r.QueryStart == 0 && r.Len == 10 || r.QueryStart == 11 && r.Len == 9) {
			t.Errorf("Unexpected run %+v", r)
		}
	}
}

func TestSubmatch_RangeRestriction(t *testing.T) {
	// Restricting the query range to [0, 17] keeps only window starts in
	// [0, 10] and so only the run anchored there.
	x := seq(1200, 40)
	a := stream(x...)
	b := stream(cat(x[:18], seq(1300, 22))...)

	all := anchorsBetween(a, map[int64][]uint64{6: b})
	var restricted []Anchor
	for _, an := range all {
		if an.QPos <= 17-testW+1 {
			restricted = append(restricted, an)
		}
	}

	p := defaultParams(testW)
	p.Start, p.End = 0, 17
	total, runs := Execute(restricted, mustNormalize(t, p, 40), testW, nil)

	if total != 1 {
		t.Fatalf("Expected one run within the range, got %d: %v", total, runs)
	}
	if runs[0].QueryStart != 0 || runs[0].Len != 18 {
		t.Errorf("Expected (0, 0, 18), got %+v", runs[0])
	}
}

func TestSubmatch_SortAndTiebreak(t *testing.T) {
	runs := []Run{
		{SymbolID: 2, QueryStart: 4, MatchStart: 0, Len: 12},
		{SymbolID: 1, QueryStart: 0, MatchStart: 8, Len: 12},
		{SymbolID: 3, QueryStart: 2, MatchStart: 2, Len: 30},
	}
	refs := map[int64]SymbolRef{
		1: {ProjectID: 1, SourceID: 1},
		2: {ProjectID: 1, SourceID: 2},
		3: {ProjectID: 2, SourceID: 9},
	}

	SortRuns(runs, SortByLength, true, refs)
	if runs[0].SymbolID != 3 {
		t.Errorf("Longest run must sort first, got %+v", runs[0])
	}
	// Equal lengths break on (project, source).
	if runs[1].SymbolID != 1 || runs[2].SymbolID != 2 {
		t.Errorf("Tiebreak order wrong: %v", runs)
	}

	SortRuns(runs, SortByQueryStart, false, refs)
	if runs[0].QueryStart != 0 || runs[1].QueryStart != 2 || runs[2].QueryStart != 4 {
		t.Errorf("query_start ascending order wrong: %v", runs)
	}
}

func TestSubmatch_PaginationAndTotal(t *testing.T) {
	var runs []Run
	for i := 0; i < 25; i++ {
		runs = append(runs, Run{SymbolID: int64(i), QueryStart: i, Len: testW})
	}

	total, page := Paginate(runs, 2, 10)
	if total != 25 {
		t.Errorf("total_count must be the unpaginated cardinality, got %d", total)
	}
	if len(page) != 5 || page[0].QueryStart != 20 {
		t.Errorf("Expected the 5-row tail page, got %v", page)
	}

	total, page = Paginate(runs, 9, 10)
	if total != 25 || page != nil {
		t.Errorf("Out-of-range page must be empty with the true total, got %d/%v", total, page)
	}
}

func TestSubmatch_Symmetry(t *testing.T) {
	// Role-swap: every (S, q0, m0, l) against Q has a (Q, m0, q0, l)
	// against S.
	x := seq(1400, 15)
	a := stream(cat(seq(1500, 6), x)...)
	b := stream(cat(x, seq(1600, 12))...)

	fromA := Reconstruct(anchorsBetween(a, map[int64][]uint64{2: b}), testW)
	fromB := Reconstruct(anchorsBetween(b, map[int64][]uint64{1: a}), testW)

	if len(fromA) != len(fromB) {
		t.Fatalf("Asymmetric result counts: %d vs %d", len(fromA), len(fromB))
	}
	for _, ra := range fromA {
		found := false
		for _, rb := range fromB {
			if rb.QueryStart == ra.MatchStart && rb.MatchStart == ra.QueryStart && rb.Len == ra.Len {
				found = true
			}
		}
		if !found {
			t.Errorf("No role-swapped counterpart for %+v in %v", ra, fromB)
		}
	}
}

func TestNormalizeParams(t *testing.T) {
	if _, _, err := NormalizeParams(Params{Start: 9, End: 3, MinLen: 8, PageSize: 10}, 20, testW); !errors.Is(err, models.ErrInvalidRange) {
		t.Errorf("start > end must be ErrInvalidRange, got %v", err)
	}
	if _, _, err := NormalizeParams(Params{Start: -1, End: -1, MinLen: 8, Page: -1, PageSize: 10}, 20, testW); !errors.Is(err, models.ErrInvalidArgument) {
		t.Errorf("negative page must be ErrInvalidArgument, got %v", err)
	}
	if _, _, err := NormalizeParams(Params{Start: -1, End: -1, MinLen: 8, PageSize: 10, SortBy: "bogus"}, 20, testW); !errors.Is(err, models.ErrInvalidArgument) {
		t.Errorf("unknown sort key must be ErrInvalidArgument, got %v", err)
	}

	p, clamped, err := NormalizeParams(Params{Start: -1, End: -1, MinLen: 3, PageSize: 10}, 20, testW)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !clamped || p.MinLen != testW {
		t.Errorf("MinLen below W must clamp to W with a warning, got %+v clamped=%v", p, clamped)
	}
	if p.Start != 0 || p.End != 19 || p.SortBy != SortByLength {
		t.Errorf("Defaults not applied: %+v", p)
	}
}

func mustNormalize(t *testing.T, p Params, qLen int) Params {
	t.Helper()
	np, _, err := NormalizeParams(p, qLen, testW)
	if err != nil {
		t.Fatalf("NormalizeParams failed: %v", err)
	}
	return np
}
