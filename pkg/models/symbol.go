package models

// Instruction is one disassembled machine instruction as emitted by the
// disassembler adapter. Arguments are kept as printed operand strings;
// branch and relocation metadata ride alongside so the normalizer can
// abstract them without re-parsing operand syntax.
type Instruction struct {
	Opcode     string   `json:"opcode"`
	Arguments  []string `json:"arguments,omitempty"`
	Address    uint64   `json:"address,omitempty"`
	BranchDest *uint64  `json:"branchDest,omitempty"` // set iff this is a PC-relative branch
	Symbol     string   `json:"symbol,omitempty"`     // relocation target, if any
	Addend     int64    `json:"addend,omitempty"`
}

// IsBranch reports whether the instruction carries a PC-relative branch target.
func (ins Instruction) IsBranch() bool {
	return ins.BranchDest != nil
}

// FingerprintSet holds the three per-symbol 64-bit fingerprints at
// increasing fidelity: opcode-only, equivalence-class, exact.
type FingerprintSet struct {
	Opcode uint64 `json:"opcodeHash"`
	Equiv  uint64 `json:"equivHash"`
	Exact  uint64 `json:"exactHash"`
}

// Window is one indexed sliding window over a symbol's equivalence stream.
// Pos is the start offset in instructions; Hash covers W consecutive
// per-instruction equivalence hashes.
type Window struct {
	Pos  int    `json:"pos"`
	Hash uint64 `json:"hash"`
}

// Platform tags. Small integers in the schema; names on the wire.
const (
	PlatformUnknown = iota
	PlatformMIPS
	PlatformPPC
	PlatformARM
	PlatformX86
)

var platformNames = map[int]string{
	PlatformUnknown: "unknown",
	PlatformMIPS:    "mips",
	PlatformPPC:     "ppc",
	PlatformARM:     "arm",
	PlatformX86:     "x86",
}

// PlatformName returns the wire name for a platform tag.
func PlatformName(tag int) string {
	if name, ok := platformNames[tag]; ok {
		return name
	}
	return "unknown"
}

// PlatformTag parses a wire name back to its tag. Unrecognized names map to
// PlatformUnknown; descriptor validation decides whether that is an error.
func PlatformTag(name string) int {
	for tag, n := range platformNames {
		if n == name {
			return tag
		}
	}
	return PlatformUnknown
}

// SymbolMeta is the API-facing view of a symbol with its owning context.
type SymbolMeta struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Len         int    `json:"len"`
	SourceID    int64  `json:"source_id"`
	SourceName  string `json:"source_name"`
	VersionID   *int64 `json:"version_id,omitempty"`
	VersionName string `json:"version_name,omitempty"`
	ProjectID   int64  `json:"project_id"`
	ProjectName string `json:"project_name"`
	ProjectRepo string `json:"project_repo,omitempty"`
	Platform    string `json:"platform"`
}

// SymbolFull extends SymbolMeta with index-internal fields needed by the
// match services.
type SymbolFull struct {
	SymbolMeta
	ID           int64          `json:"-"`
	SymbolIdx    int            `json:"symbol_idx"`
	IsDecompiled bool           `json:"is_decompiled"`
	Fingerprints FingerprintSet `json:"fingerprints"`
}

// SourceMeta is the API-facing view of a source.
type SourceMeta struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	ProjectID   int64  `json:"project_id"`
	ProjectName string `json:"project_name"`
	VersionName string `json:"version_name,omitempty"`
	ObjectHash  string `json:"object_hash"`
	Upstream    string `json:"upstream,omitempty"`
	NumSymbols  int    `json:"num_symbols"`
}

// ProjectMeta is the API-facing view of a project.
type ProjectMeta struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Repo string `json:"repo,omitempty"`
}

// FullMatches holds the three independently computed full-symbol match
// buckets. Buckets may overlap; the consumer picks the highest-fidelity tag.
type FullMatches struct {
	Exact      []SymbolMeta `json:"exact"`
	Equivalent []SymbolMeta `json:"equivalent"`
	Opcode     []SymbolMeta `json:"opcode"`
}

// Submatch is one maximal contiguous shared run between the query symbol and
// another symbol, in instruction units.
type Submatch struct {
	Symbol     SymbolMeta `json:"symbol"`
	QueryStart int        `json:"query_start"`
	MatchStart int        `json:"match_start"`
	Len        int        `json:"len"`
}

// SubmatchPage is one page of submatch results with the unpaginated total.
type SubmatchPage struct {
	TotalCount int        `json:"total_count"`
	Submatches []Submatch `json:"submatches"`
}

// Cluster is a group of symbols within one scope sharing an exact
// fingerprint.
type Cluster struct {
	ExactHash uint64       `json:"exactHash"`
	Size      int          `json:"size"`
	Members   []SymbolMeta `json:"members"`
}
