// Package il provides instruction-level analysis of CIL method bodies:
// a fixed operand-shape table for the standard opcode set and a scanner
// that computes exact instruction boundaries.
package il

// TwoByteEscape is the first byte of every two-byte opcode.
const TwoByteEscape = 0xFE

// OperandKind categorizes the bytes that follow an opcode.
type OperandKind uint8

const (
	// OperandNone means the opcode has no operand.
	OperandNone OperandKind = iota

	// OperandInt8 is a 1-byte operand (short branch target, short
	// immediate, or short variable index).
	OperandInt8

	// OperandInt16 is a 2-byte operand (wide variable index).
	OperandInt16

	// OperandInt32 is a 4-byte operand (immediate, branch target,
	// metadata token, or 32-bit real).
	OperandInt32

	// OperandInt64 is an 8-byte operand (64-bit immediate or real).
	OperandInt64

	// OperandSwitch is a variable-length operand: a 4-byte case count n
	// followed by n 4-byte jump targets.
	OperandSwitch
)

// FixedSize returns the operand size in bytes for fixed-size kinds.
// For OperandSwitch the size depends on the case count; FixedSize returns
// the size of the leading count field.
func (k OperandKind) FixedSize() int {
	switch k {
	case OperandInt8:
		return 1
	case OperandInt16:
		return 2
	case OperandInt32, OperandSwitch:
		return 4
	case OperandInt64:
		return 8
	default:
		return 0
	}
}

// Opcode describes a single entry in the opcode table.
// The zero value (empty name) marks an undefined encoding.
type Opcode struct {
	Name    string
	Operand OperandKind
}

// Defined reports whether this table slot holds a real opcode.
func (op Opcode) Defined() bool {
	return op.Name != ""
}

// Lookup resolves a one-byte opcode value.
func Lookup(b byte) (Opcode, bool) {
	op := singleByte[b]
	return op, op.Defined()
}

// LookupTwoByte resolves the second byte of a 0xFE-prefixed opcode.
func LookupTwoByte(b byte) (Opcode, bool) {
	op := twoByte[b]
	return op, op.Defined()
}

// singleByte is the operand-shape table for one-byte opcodes, indexed by
// the opcode value. Slots left at the zero value are undefined encodings.
// The catalogue is fixed by ECMA-335 III.1.2 and is never mutated after
// process start, so concurrent readers need no locking.
var singleByte = [256]Opcode{
	0x00: {"nop", OperandNone},
	0x01: {"break", OperandNone},
	0x02: {"ldarg.0", OperandNone},
	0x03: {"ldarg.1", OperandNone},
	0x04: {"ldarg.2", OperandNone},
	0x05: {"ldarg.3", OperandNone},
	0x06: {"ldloc.0", OperandNone},
	0x07: {"ldloc.1", OperandNone},
	0x08: {"ldloc.2", OperandNone},
	0x09: {"ldloc.3", OperandNone},
	0x0A: {"stloc.0", OperandNone},
	0x0B: {"stloc.1", OperandNone},
	0x0C: {"stloc.2", OperandNone},
	0x0D: {"stloc.3", OperandNone},
	0x0E: {"ldarg.s", OperandInt8},
	0x0F: {"ldarga.s", OperandInt8},
	0x10: {"starg.s", OperandInt8},
	0x11: {"ldloc.s", OperandInt8},
	0x12: {"ldloca.s", OperandInt8},
	0x13: {"stloc.s", OperandInt8},
	0x14: {"ldnull", OperandNone},
	0x15: {"ldc.i4.m1", OperandNone},
	0x16: {"ldc.i4.0", OperandNone},
	0x17: {"ldc.i4.1", OperandNone},
	0x18: {"ldc.i4.2", OperandNone},
	0x19: {"ldc.i4.3", OperandNone},
	0x1A: {"ldc.i4.4", OperandNone},
	0x1B: {"ldc.i4.5", OperandNone},
	0x1C: {"ldc.i4.6", OperandNone},
	0x1D: {"ldc.i4.7", OperandNone},
	0x1E: {"ldc.i4.8", OperandNone},
	0x1F: {"ldc.i4.s", OperandInt8},
	0x20: {"ldc.i4", OperandInt32},
	0x21: {"ldc.i8", OperandInt64},
	0x22: {"ldc.r4", OperandInt32},
	0x23: {"ldc.r8", OperandInt64},
	0x25: {"dup", OperandNone},
	0x26: {"pop", OperandNone},
	0x27: {"jmp", OperandInt32},
	0x28: {"call", OperandInt32},
	0x29: {"calli", OperandInt32},
	0x2A: {"ret", OperandNone},
	0x2B: {"br.s", OperandInt8},
	0x2C: {"brfalse.s", OperandInt8},
	0x2D: {"brtrue.s", OperandInt8},
	0x2E: {"beq.s", OperandInt8},
	0x2F: {"bge.s", OperandInt8},
	0x30: {"bgt.s", OperandInt8},
	0x31: {"ble.s", OperandInt8},
	0x32: {"blt.s", OperandInt8},
	0x33: {"bne.un.s", OperandInt8},
	0x34: {"bge.un.s", OperandInt8},
	0x35: {"bgt.un.s", OperandInt8},
	0x36: {"ble.un.s", OperandInt8},
	0x37: {"blt.un.s", OperandInt8},
	0x38: {"br", OperandInt32},
	0x39: {"brfalse", OperandInt32},
	0x3A: {"brtrue", OperandInt32},
	0x3B: {"beq", OperandInt32},
	0x3C: {"bge", OperandInt32},
	0x3D: {"bgt", OperandInt32},
	0x3E: {"ble", OperandInt32},
	0x3F: {"blt", OperandInt32},
	0x40: {"bne.un", OperandInt32},
	0x41: {"bge.un", OperandInt32},
	0x42: {"bgt.un", OperandInt32},
	0x43: {"ble.un", OperandInt32},
	0x44: {"blt.un", OperandInt32},
	0x45: {"switch", OperandSwitch},
	0x46: {"ldind.i1", OperandNone},
	0x47: {"ldind.u1", OperandNone},
	0x48: {"ldind.i2", OperandNone},
	0x49: {"ldind.u2", OperandNone},
	0x4A: {"ldind.i4", OperandNone},
	0x4B: {"ldind.u4", OperandNone},
	0x4C: {"ldind.i8", OperandNone},
	0x4D: {"ldind.i", OperandNone},
	0x4E: {"ldind.r4", OperandNone},
	0x4F: {"ldind.r8", OperandNone},
	0x50: {"ldind.ref", OperandNone},
	0x51: {"stind.ref", OperandNone},
	0x52: {"stind.i1", OperandNone},
	0x53: {"stind.i2", OperandNone},
	0x54: {"stind.i4", OperandNone},
	0x55: {"stind.i8", OperandNone},
	0x56: {"stind.r4", OperandNone},
	0x57: {"stind.r8", OperandNone},
	0x58: {"add", OperandNone},
	0x59: {"sub", OperandNone},
	0x5A: {"mul", OperandNone},
	0x5B: {"div", OperandNone},
	0x5C: {"div.un", OperandNone},
	0x5D: {"rem", OperandNone},
	0x5E: {"rem.un", OperandNone},
	0x5F: {"and", OperandNone},
	0x60: {"or", OperandNone},
	0x61: {"xor", OperandNone},
	0x62: {"shl", OperandNone},
	0x63: {"shr", OperandNone},
	0x64: {"shr.un", OperandNone},
	0x65: {"neg", OperandNone},
	0x66: {"not", OperandNone},
	0x67: {"conv.i1", OperandNone},
	0x68: {"conv.i2", OperandNone},
	0x69: {"conv.i4", OperandNone},
	0x6A: {"conv.i8", OperandNone},
	0x6B: {"conv.r4", OperandNone},
	0x6C: {"conv.r8", OperandNone},
	0x6D: {"conv.u4", OperandNone},
	0x6E: {"conv.u8", OperandNone},
	0x6F: {"callvirt", OperandInt32},
	0x70: {"cpobj", OperandInt32},
	0x71: {"ldobj", OperandInt32},
	0x72: {"ldstr", OperandInt32},
	0x73: {"newobj", OperandInt32},
	0x74: {"castclass", OperandInt32},
	0x75: {"isinst", OperandInt32},
	0x76: {"conv.r.un", OperandNone},
	0x79: {"unbox", OperandInt32},
	0x7A: {"throw", OperandNone},
	0x7B: {"ldfld", OperandInt32},
	0x7C: {"ldflda", OperandInt32},
	0x7D: {"stfld", OperandInt32},
	0x7E: {"ldsfld", OperandInt32},
	0x7F: {"ldsflda", OperandInt32},
	0x80: {"stsfld", OperandInt32},
	0x81: {"stobj", OperandInt32},
	0x82: {"conv.ovf.i1.un", OperandNone},
	0x83: {"conv.ovf.i2.un", OperandNone},
	0x84: {"conv.ovf.i4.un", OperandNone},
	0x85: {"conv.ovf.i8.un", OperandNone},
	0x86: {"conv.ovf.u1.un", OperandNone},
	0x87: {"conv.ovf.u2.un", OperandNone},
	0x88: {"conv.ovf.u4.un", OperandNone},
	0x89: {"conv.ovf.u8.un", OperandNone},
	0x8A: {"conv.ovf.i.un", OperandNone},
	0x8B: {"conv.ovf.u.un", OperandNone},
	0x8C: {"box", OperandInt32},
	0x8D: {"newarr", OperandInt32},
	0x8E: {"ldlen", OperandNone},
	0x8F: {"ldelema", OperandInt32},
	0x90: {"ldelem.i1", OperandNone},
	0x91: {"ldelem.u1", OperandNone},
	0x92: {"ldelem.i2", OperandNone},
	0x93: {"ldelem.u2", OperandNone},
	0x94: {"ldelem.i4", OperandNone},
	0x95: {"ldelem.u4", OperandNone},
	0x96: {"ldelem.i8", OperandNone},
	0x97: {"ldelem.i", OperandNone},
	0x98: {"ldelem.r4", OperandNone},
	0x99: {"ldelem.r8", OperandNone},
	0x9A: {"ldelem.ref", OperandNone},
	0x9B: {"stelem.i", OperandNone},
	0x9C: {"stelem.i1", OperandNone},
	0x9D: {"stelem.i2", OperandNone},
	0x9E: {"stelem.i4", OperandNone},
	0x9F: {"stelem.i8", OperandNone},
	0xA0: {"stelem.r4", OperandNone},
	0xA1: {"stelem.r8", OperandNone},
	0xA2: {"stelem.ref", OperandNone},
	0xA3: {"ldelem", OperandInt32},
	0xA4: {"stelem", OperandInt32},
	0xA5: {"unbox.any", OperandInt32},
	0xB3: {"conv.ovf.i1", OperandNone},
	0xB4: {"conv.ovf.u1", OperandNone},
	0xB5: {"conv.ovf.i2", OperandNone},
	0xB6: {"conv.ovf.u2", OperandNone},
	0xB7: {"conv.ovf.i4", OperandNone},
	0xB8: {"conv.ovf.u4", OperandNone},
	0xB9: {"conv.ovf.i8", OperandNone},
	0xBA: {"conv.ovf.u8", OperandNone},
	0xC2: {"refanyval", OperandInt32},
	0xC3: {"ckfinite", OperandNone},
	0xC6: {"mkrefany", OperandInt32},
	0xD0: {"ldtoken", OperandInt32},
	0xD1: {"conv.u2", OperandNone},
	0xD2: {"conv.u1", OperandNone},
	0xD3: {"conv.i", OperandNone},
	0xD4: {"conv.ovf.i", OperandNone},
	0xD5: {"conv.ovf.u", OperandNone},
	0xD6: {"add.ovf", OperandNone},
	0xD7: {"add.ovf.un", OperandNone},
	0xD8: {"mul.ovf", OperandNone},
	0xD9: {"mul.ovf.un", OperandNone},
	0xDA: {"sub.ovf", OperandNone},
	0xDB: {"sub.ovf.un", OperandNone},
	0xDC: {"endfinally", OperandNone},
	0xDD: {"leave", OperandInt32},
	0xDE: {"leave.s", OperandInt8},
	0xDF: {"stind.i", OperandNone},
	0xE0: {"conv.u", OperandNone},
}

// twoByte is the operand-shape table for 0xFE-prefixed opcodes, indexed by
// the second byte.
var twoByte = [256]Opcode{
	0x00: {"arglist", OperandNone},
	0x01: {"ceq", OperandNone},
	0x02: {"cgt", OperandNone},
	0x03: {"cgt.un", OperandNone},
	0x04: {"clt", OperandNone},
	0x05: {"clt.un", OperandNone},
	0x06: {"ldftn", OperandInt32},
	0x07: {"ldvirtftn", OperandInt32},
	0x09: {"ldarg", OperandInt16},
	0x0A: {"ldarga", OperandInt16},
	0x0B: {"starg", OperandInt16},
	0x0C: {"ldloc", OperandInt16},
	0x0D: {"ldloca", OperandInt16},
	0x0E: {"stloc", OperandInt16},
	0x0F: {"localloc", OperandNone},
	0x11: {"endfilter", OperandNone},
	0x12: {"unaligned.", OperandInt8},
	0x13: {"volatile.", OperandNone},
	0x14: {"tail.", OperandNone},
	0x15: {"initobj", OperandInt32},
	0x16: {"constrained.", OperandInt32},
	0x17: {"cpblk", OperandNone},
	0x18: {"initblk", OperandNone},
	0x19: {"no.", OperandInt8},
	0x1A: {"rethrow", OperandNone},
	0x1C: {"sizeof", OperandInt32},
	0x1D: {"refanytype", OperandNone},
	0x1E: {"readonly.", OperandNone},
}
