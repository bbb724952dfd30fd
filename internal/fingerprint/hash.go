package fingerprint

import "github.com/rawsym/symdex-engine/pkg/models"

// Seeded FNV-1a folding. The seed is XORed into the offset basis so every
// deployment hashes into its own space; the same seed MUST be used on every
// ingestion and lookup path or fingerprints stop comparing.
const (
	fnvOffset uint64 = 0xcbf29ce484222325
	fnvPrime  uint64 = 0x00000100000001b3
)

// Hasher folds canonical forms into 64-bit fingerprints. All methods are
// pure; a Hasher is safe for concurrent use.
type Hasher struct {
	basis uint64
}

// NewHasher returns a Hasher for the given deployment seed.
func NewHasher(seed uint64) *Hasher {
	return &Hasher{basis: fnvOffset ^ seed}
}

// HashString folds one canonical form.
func (h *Hasher) HashString(s string) uint64 {
	v := h.basis
	for i := 0; i < len(s); i++ {
		v ^= uint64(s[i])
		v *= fnvPrime
	}
	return v
}

// foldWord folds one 64-bit value into a running hash, little-end first.
func foldWord(v, w uint64) uint64 {
	for i := 0; i < 8; i++ {
		v ^= w & 0xff
		v *= fnvPrime
		w >>= 8
	}
	return v
}

// HashStream folds an ordered sequence of per-instruction hashes into one
// fingerprint. Order-sensitive: a permuted stream hashes differently.
func (h *Hasher) HashStream(hashes []uint64) uint64 {
	v := h.basis
	for _, w := range hashes {
		v = foldWord(v, w)
	}
	return v
}

// InstructionHashes returns the per-instruction hash stream at one fidelity.
func (h *Hasher) InstructionHashes(instrs []models.Instruction, form func(models.Instruction) string) []uint64 {
	out := make([]uint64, len(instrs))
	for i, ins := range instrs {
		out[i] = h.HashString(form(ins))
	}
	return out
}

// EquivStream returns the per-instruction equivalence hash stream — the
// input to the window extractor.
func (h *Hasher) EquivStream(instrs []models.Instruction) []uint64 {
	return h.InstructionHashes(instrs, EquivForm)
}

// Fingerprints computes the three whole-function fingerprints for an
// instruction stream.
func (h *Hasher) Fingerprints(instrs []models.Instruction) models.FingerprintSet {
	return models.FingerprintSet{
		Opcode: h.HashStream(h.InstructionHashes(instrs, OpcodeForm)),
		Equiv:  h.HashStream(h.EquivStream(instrs)),
		Exact:  h.HashStream(h.InstructionHashes(instrs, ExactForm)),
	}
}
