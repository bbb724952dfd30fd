package disasm

import (
	"io"

	"github.com/rawsym/symdex-engine/pkg/models"
)

// Listing is one symbol as emitted by a disassembler: the function name and
// its ordered instruction stream. IsDecompiled carries the upstream
// decompilation status when the producer knows it.
type Listing struct {
	Name         string               `json:"name"`
	IsDecompiled bool                 `json:"isDecompiled,omitempty"`
	Instructions []models.Instruction `json:"instructions"`
}

// Adapter turns an object blob into symbol listings. Concrete disassembler
// integrations live outside the core; the engine ships with the dump-file
// codec, which reads the interchange format those integrations produce.
type Adapter interface {
	Disassemble(r io.Reader) ([]Listing, error)
}
