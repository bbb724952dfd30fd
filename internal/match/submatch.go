package match

import (
	"fmt"
	"sort"

	"github.com/rawsym/symdex-engine/pkg/models"
)

// An Anchor is one window-level hit from the index self-join: the query
// symbol's window at QPos hashed equal to another symbol's window at MPos.
type Anchor struct {
	SymbolID int64
	QPos     int
	MPos     int
}

// Diagonal is the invariant q − m shared by every anchor of one contiguous
// run.
func (a Anchor) Diagonal() int { return a.QPos - a.MPos }

// A Run is a maximal contiguous shared run reconstructed from anchors, in
// instruction units.
type Run struct {
	SymbolID   int64
	QueryStart int
	MatchStart int
	Len        int
}

// SymbolRef carries the owning-context ids used for deterministic tiebreak
// ordering.
type SymbolRef struct {
	ProjectID int64
	SourceID  int64
}

// Sort keys for submatch output.
const (
	SortByLength     = "length"
	SortByQueryStart = "query_start"
)

// Params are the normalized inputs of one submatch query.
type Params struct {
	Start    int // first query instruction index considered
	End      int // last query instruction index considered, inclusive
	MinLen   int // minimum run length in instructions, ≥ window size
	SortBy   string
	SortDesc bool
	Page     int
	PageSize int
}

// NormalizeParams validates and defaults query parameters against the query
// symbol's length. start/end of -1 mean "unset". MinLen below the window
// width is clamped up: the index cannot answer shorter runs. Returns
// clamped=true when that happened so callers can log the warning.
func NormalizeParams(p Params, qLen, w int) (Params, bool, error) {
	if p.Start == -1 {
		p.Start = 0
	}
	if p.End == -1 {
		p.End = qLen - 1
		if p.End < 0 {
			p.End = 0
		}
	}
	if p.Start < 0 || p.End < 0 {
		return p, false, fmt.Errorf("%w: negative instruction index", models.ErrInvalidArgument)
	}
	if p.Start > p.End {
		return p, false, fmt.Errorf("%w: start %d > end %d", models.ErrInvalidRange, p.Start, p.End)
	}
	if p.Page < 0 || p.PageSize <= 0 {
		return p, false, fmt.Errorf("%w: bad page %d/%d", models.ErrInvalidArgument, p.Page, p.PageSize)
	}
	switch p.SortBy {
	case "":
		p.SortBy = SortByLength
	case SortByLength, SortByQueryStart:
	default:
		return p, false, fmt.Errorf("%w: unknown sort key %q", models.ErrInvalidArgument, p.SortBy)
	}
	clamped := false
	if p.MinLen < w {
		p.MinLen = w
		clamped = true
	}
	return p, clamped, nil
}

// Reconstruct groups anchors into maximal runs. Anchors must be sorted by
// (SymbolID, diagonal, QPos) — the order the index self-join produces.
// Anchors on the same (symbol, diagonal) with consecutive QPos values merge
// into one run of k anchors spanning k+w−1 instructions; any gap starts a
// new run, so every emitted run is maximal by construction.
func Reconstruct(anchors []Anchor, w int) []Run {
	var runs []Run
	var cur Run
	open := false
	prevQ, prevD := 0, 0

	flush := func() {
		if open {
			runs = append(runs, cur)
			open = false
		}
	}

	for _, a := range anchors {
		d := a.Diagonal()
		if open && a.SymbolID == cur.SymbolID && d == prevD && a.QPos == prevQ+1 {
			cur.Len += 1
		} else {
			flush()
			cur = Run{SymbolID: a.SymbolID, QueryStart: a.QPos, MatchStart: a.MPos, Len: 1}
			open = true
		}
		prevQ, prevD = a.QPos, d
	}
	flush()

	// Anchor counts → instruction lengths.
	for i := range runs {
		runs[i].Len += w - 1
	}
	return runs
}

// FilterMinLen drops runs shorter than minLen instructions.
func FilterMinLen(runs []Run, minLen int) []Run {
	out := runs[:0]
	for _, r := range runs {
		if r.Len >= minLen {
			out = append(out, r)
		}
	}
	return out
}

// SortRuns orders the full result set: primary key as requested, then the
// deterministic tiebreak (project, source, symbol, query start, match
// start). refs may be nil when tiebreak context is unavailable.
func SortRuns(runs []Run, sortBy string, desc bool, refs map[int64]SymbolRef) {
	sort.SliceStable(runs, func(i, j int) bool {
		a, b := runs[i], runs[j]

		var less, eq bool
		switch sortBy {
		case SortByQueryStart:
			less, eq = a.QueryStart < b.QueryStart, a.QueryStart == b.QueryStart
		default:
			less, eq = a.Len < b.Len, a.Len == b.Len
		}
		if !eq {
			if desc {
				return !less
			}
			return less
		}

		ra, rb := refs[a.SymbolID], refs[b.SymbolID]
		if ra.ProjectID != rb.ProjectID {
			return ra.ProjectID < rb.ProjectID
		}
		if ra.SourceID != rb.SourceID {
			return ra.SourceID < rb.SourceID
		}
		if a.SymbolID != b.SymbolID {
			return a.SymbolID < b.SymbolID
		}
		if a.QueryStart != b.QueryStart {
			return a.QueryStart < b.QueryStart
		}
		return a.MatchStart < b.MatchStart
	})
}

// Paginate slices one page out of the sorted result set and reports the
// unpaginated total.
func Paginate(runs []Run, page, pageSize int) (total int, out []Run) {
	total = len(runs)
	lo := page * pageSize
	if lo >= total {
		return total, nil
	}
	hi := lo + pageSize
	if hi > total {
		hi = total
	}
	return total, runs[lo:hi]
}

// Execute runs the post-retrieval pipeline: reconstruct, filter, globally
// sort, paginate. Anchors must be in self-join order.
func Execute(anchors []Anchor, p Params, w int, refs map[int64]SymbolRef) (int, []Run) {
	runs := FilterMinLen(Reconstruct(anchors, w), p.MinLen)
	SortRuns(runs, p.SortBy, p.SortDesc, refs)
	return Paginate(runs, p.Page, p.PageSize)
}
