package il

import "encoding/binary"

// Inst is a single decoded instruction boundary.
type Inst struct {
	// Offset is the byte offset of the opcode within the method body.
	Offset int

	// Op is the resolved opcode.
	Op Opcode
}

// Scan walks a raw method-body buffer and returns the byte offsets of every
// instruction start, in strictly increasing order. The first offset is 0
// for non-empty buffers.
//
// If the buffer ends mid-instruction (truncated operand, dangling escape
// byte, or a switch whose jump table runs past the end) the scan stops at
// the last complete instruction instead of reading out of bounds. An
// undefined opcode value likewise stops the scan; malformed input degrades
// the result, it never faults.
func Scan(body []byte) []int {
	offsets := make([]int, 0, len(body))
	pos := 0

	for pos < len(body) {
		start := pos

		op, size, ok := decodeAt(body, &pos)
		if !ok {
			break
		}

		offsets = append(offsets, start)

		if op.Operand == OperandSwitch {
			if pos+4 > len(body) {
				// Truncated case count: the switch itself still
				// starts a valid instruction, but nothing follows.
				break
			}
			n := binary.LittleEndian.Uint32(body[pos:])
			operand := 4 + int(n)*4
			if pos+operand > len(body) {
				break
			}
			pos += operand
			continue
		}

		if pos+size > len(body) {
			break
		}
		pos += size
	}

	return offsets
}

// Decode walks a raw method-body buffer and returns the decoded
// instruction sequence. It applies the same boundary rules as Scan.
func Decode(body []byte) []Inst {
	insts := make([]Inst, 0, len(body))
	pos := 0

	for pos < len(body) {
		start := pos

		op, size, ok := decodeAt(body, &pos)
		if !ok {
			break
		}

		if op.Operand == OperandSwitch {
			if pos+4 > len(body) {
				insts = append(insts, Inst{Offset: start, Op: op})
				break
			}
			n := binary.LittleEndian.Uint32(body[pos:])
			operand := 4 + int(n)*4
			if pos+operand > len(body) {
				insts = append(insts, Inst{Offset: start, Op: op})
				break
			}
			pos += operand
			insts = append(insts, Inst{Offset: start, Op: op})
			continue
		}

		if pos+size > len(body) {
			insts = append(insts, Inst{Offset: start, Op: op})
			break
		}
		pos += size
		insts = append(insts, Inst{Offset: start, Op: op})
	}

	return insts
}

// decodeAt reads the opcode at *pos, advances *pos past the opcode bytes
// (not the operand), and returns the opcode plus its fixed operand size.
func decodeAt(body []byte, pos *int) (Opcode, int, bool) {
	b := body[*pos]

	if b == TwoByteEscape {
		if *pos+1 >= len(body) {
			return Opcode{}, 0, false
		}
		op, ok := LookupTwoByte(body[*pos+1])
		if !ok {
			return Opcode{}, 0, false
		}
		*pos += 2
		return op, op.Operand.FixedSize(), true
	}

	op, ok := Lookup(b)
	if !ok {
		return Opcode{}, 0, false
	}
	*pos++
	return op, op.Operand.FixedSize(), true
}
