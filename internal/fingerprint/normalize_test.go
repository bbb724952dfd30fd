package fingerprint

import (
	"testing"

	"github.com/rawsym/symdex-engine/pkg/models"
)

func branchTo(addr uint64) *uint64 { return &addr }

func TestEquivForm_CollapsesImmediates(t *testing.T) {
	a := models.Instruction{Opcode: "addiu", Arguments: []string{"a0", "a0", "0x10"}}
	b := models.Instruction{Opcode: "addiu", Arguments: []string{"a0", "a0", "0x20"}}

	if EquivForm(a) != EquivForm(b) {
		t.Errorf("Expected equal equiv forms for immediate-only divergence. Got %q vs %q", EquivForm(a), EquivForm(b))
	}
	if ExactForm(a) == ExactForm(b) {
		t.Errorf("Expected distinct exact forms for different immediates. Both: %q", ExactForm(a))
	}
}

func TestEquivForm_KeepsRegisterIdentity(t *testing.T) {
	a := models.Instruction{Opcode: "move", Arguments: []string{"v0", "a1"}}
	b := models.Instruction{Opcode: "move", Arguments: []string{"v0", "a2"}}

	if EquivForm(a) == EquivForm(b) {
		t.Errorf("Register operands must keep identity in the equiv form. Both: %q", EquivForm(a))
	}
}

func TestEquivForm_CollapsesBranchTargets(t *testing.T) {
	a := models.Instruction{Opcode: "beq", Arguments: []string{"v0", "zero", "0x1000"}, BranchDest: branchTo(0x1000)}
	b := models.Instruction{Opcode: "beq", Arguments: []string{"v0", "zero", "0x2000"}, BranchDest: branchTo(0x2000)}

	if EquivForm(a) != EquivForm(b) {
		t.Errorf("Branch targets must collapse in the equiv form. Got %q vs %q", EquivForm(a), EquivForm(b))
	}
}

func TestEquivForm_CollapsesRelocations(t *testing.T) {
	// Same call site relocated against different symbols, with and without
	// an addend: equiv forms agree, exact forms do not.
	a := models.Instruction{Opcode: "jal", Arguments: []string{"func_a"}, Symbol: "func_a"}
	b := models.Instruction{Opcode: "jal", Arguments: []string{"func_b"}, Symbol: "func_b", Addend: 8}

	if EquivForm(a) != EquivForm(b) {
		t.Errorf("Relocation references must collapse in the equiv form. Got %q vs %q", EquivForm(a), EquivForm(b))
	}
	if ExactForm(a) == ExactForm(b) {
		t.Errorf("Exact forms must distinguish relocation targets. Both: %q", ExactForm(a))
	}
}

func TestOpcodeForm_IgnoresArguments(t *testing.T) {
	a := models.Instruction{Opcode: "lw", Arguments: []string{"v0", "0x4(sp)"}}
	b := models.Instruction{Opcode: "lw", Arguments: []string{"t9", "0x18(a0)"}}

	if OpcodeForm(a) != OpcodeForm(b) {
		t.Errorf("Opcode form must ignore operands. Got %q vs %q", OpcodeForm(a), OpcodeForm(b))
	}
}

func TestIsNumeric(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"0x10", true},
		{"-0x10", true},
		{"42", true},
		{"-42", true},
		{"0x", false},
		{"sp", false},
		{"0x4(sp)", false},
		{"", false},
	}
	for _, c := range cases {
		if got := isNumeric(c.in); got != c.want {
			t.Errorf("isNumeric(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
