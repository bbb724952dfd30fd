package disasm

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rawsym/symdex-engine/pkg/models"
)

// dump is the interchange document: a JSON object listing every symbol of
// one translation object in link order.
type dump struct {
	Symbols []Listing `json:"symbols"`
}

// DumpCodec reads and writes the disassembly interchange format. It is the
// default Adapter: upstream disassembler integrations serialize into this
// format and the engine stores the document as the object blob, so symbol
// instruction streams can be rehydrated without re-running the disassembler.
type DumpCodec struct{}

// Disassemble parses a dump document into listings.
func (DumpCodec) Disassemble(r io.Reader) ([]Listing, error) {
	var d dump
	dec := json.NewDecoder(r)
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("parse disassembly dump: %w", err)
	}
	for i, sym := range d.Symbols {
		if sym.Name == "" {
			return nil, fmt.Errorf("symbol %d: %w: missing name", i, models.ErrInvalidArgument)
		}
		for j, ins := range sym.Instructions {
			if ins.Opcode == "" {
				return nil, fmt.Errorf("symbol %q instruction %d: %w: missing opcode", sym.Name, j, models.ErrInvalidArgument)
			}
		}
	}
	return d.Symbols, nil
}

// Encode writes listings back out as a dump document.
func (DumpCodec) Encode(w io.Writer, listings []Listing) error {
	enc := json.NewEncoder(w)
	return enc.Encode(dump{Symbols: listings})
}
