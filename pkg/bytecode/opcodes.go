// Package bytecode names the single-byte instructions the capture engine
// reports at unattributed call sites. It is a lookup table, not a
// disassembler: no instruction lengths or operands are decoded.
package bytecode

import (
	"fmt"
	"sort"
)

// Opcode is one instruction byte.
type Opcode byte

const (
	// Constant loads
	OpLdc  Opcode = 0x12 // ldc <index:u8>
	OpLdcW Opcode = 0x13 // ldc_w <index:u16>

	// Static field access
	OpGetStatic Opcode = 0xB2
	OpPutStatic Opcode = 0xB3

	// Invocation
	OpInvokeVirtual   Opcode = 0xB6
	OpInvokeSpecial   Opcode = 0xB7
	OpInvokeStatic    Opcode = 0xB8
	OpInvokeInterface Opcode = 0xB9
	OpInvokeDynamic   Opcode = 0xBA

	// Allocation
	OpNew       Opcode = 0xBB
	OpANewArray Opcode = 0xBD

	OpAThrow Opcode = 0xBF

	// Type checks
	OpCheckCast  Opcode = 0xC0
	OpInstanceOf Opcode = 0xC1

	OpMultiANewArray Opcode = 0xC5
)

var opcodeNames = map[Opcode]string{
	OpLdc:             "ldc",
	OpLdcW:            "ldc_w",
	OpGetStatic:       "getstatic",
	OpPutStatic:       "putstatic",
	OpInvokeVirtual:   "invokevirtual",
	OpInvokeSpecial:   "invokespecial",
	OpInvokeStatic:    "invokestatic",
	OpInvokeInterface: "invokeinterface",
	OpInvokeDynamic:   "invokedynamic",
	OpNew:             "new",
	OpANewArray:       "anewarray",
	OpAThrow:          "athrow",
	OpCheckCast:       "checkcast",
	OpInstanceOf:      "instanceof",
	OpMultiANewArray:  "multianewarray",
}

// String returns the mnemonic, or "bytecode-<n>" for opcodes outside the table.
func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("bytecode-%d", byte(op))
}

// Known reports whether op has a mnemonic in the table.
func (op Opcode) Known() bool {
	_, ok := opcodeNames[op]
	return ok
}

// Table returns the opcodes with mnemonics in ascending order.
func Table() []Opcode {
	ops := make([]Opcode, 0, len(opcodeNames))
	for op := range opcodeNames {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}

// At returns the opcode at offset in code.
func At(code []byte, offset int64) (Opcode, error) {
	if offset < 0 || offset >= int64(len(code)) {
		return 0, fmt.Errorf("bytecode offset %d out of range [0,%d)", offset, len(code))
	}
	return Opcode(code[offset]), nil
}
