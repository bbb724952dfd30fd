package fingerprint

import (
	"strconv"
	"strings"

	"github.com/rawsym/symdex-engine/pkg/models"
)

// Canonical forms per instruction, at three fidelities:
//
//	opcode — the mnemonic alone
//	equiv  — mnemonic + argument shape: registers keep identity, numeric
//	         immediates collapse to one sentinel, branch targets collapse to
//	         a branch sentinel, relocation references collapse to a symbol
//	         sentinel, addends are dropped
//	exact  — mnemonic + operands verbatim, including the relocation symbol
//	         and addend
//
// Two instructions that assemble to the same code modulo relocations and
// immediate values share the equiv form.

const (
	immSentinel    = "<imm>"
	branchSentinel = "<branch>"
	symSentinel    = "<sym>"
)

// OpcodeForm returns the opcode-only canonical form.
func OpcodeForm(ins models.Instruction) string {
	return ins.Opcode
}

// EquivForm returns the equivalence-class canonical form.
func EquivForm(ins models.Instruction) string {
	if len(ins.Arguments) == 0 {
		return ins.Opcode
	}
	var b strings.Builder
	b.WriteString(ins.Opcode)
	b.WriteByte(' ')
	for i, arg := range ins.Arguments {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(abstractArg(ins, arg))
	}
	return b.String()
}

// ExactForm returns the verbatim canonical form, relocation included.
func ExactForm(ins models.Instruction) string {
	var b strings.Builder
	b.WriteString(ins.Opcode)
	if len(ins.Arguments) > 0 {
		b.WriteByte(' ')
		b.WriteString(strings.Join(ins.Arguments, ","))
	}
	if ins.Symbol != "" {
		b.WriteByte('@')
		b.WriteString(ins.Symbol)
		if ins.Addend != 0 {
			b.WriteByte('+')
			b.WriteString(strconv.FormatInt(ins.Addend, 10))
		}
	}
	return b.String()
}

// abstractArg collapses one operand for the equiv form. Operands that
// mention the relocation symbol become the symbol sentinel; numeric literals
// become the branch sentinel on branches and the immediate sentinel
// otherwise; everything else (registers, addressing-mode shorthand) is kept.
func abstractArg(ins models.Instruction, arg string) string {
	if ins.Symbol != "" && strings.Contains(arg, ins.Symbol) {
		return symSentinel
	}
	if isNumeric(arg) {
		if ins.IsBranch() {
			return branchSentinel
		}
		return immSentinel
	}
	return arg
}

// isNumeric reports whether an operand is a bare numeric literal: decimal or
// 0x-hex, optionally negated.
func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	t := strings.TrimPrefix(s, "-")
	if rest, ok := strings.CutPrefix(t, "0x"); ok {
		if rest == "" {
			return false
		}
		_, err := strconv.ParseUint(rest, 16, 64)
		return err == nil
	}
	_, err := strconv.ParseUint(t, 10, 64)
	return err == nil
}
