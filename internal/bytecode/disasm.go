package bytecode

import (
	"fmt"
	"io"
	"strings"
)

// Disasm writes a readable listing of the module's code stream. Used by
// `bog build -l` and by tests when a compiled shape is surprising.
func Disasm(w io.Writer, m *Module) {
	r := &Reader{Code: m.Code}
	for r.IP < len(m.Code) && r.Err == nil {
		at := r.IP
		text := disasmOne(r, m)
		fmt.Fprintf(w, "%04d  %s\n", at, text)
	}
	if r.Err != nil {
		fmt.Fprintf(w, "!! %v\n", r.Err)
	}
}

func disasmOne(r *Reader, m *Module) string {
	op := Op(r.U8())
	switch op {
	case OpConstInt8:
		return fmt.Sprintf("%-16s r%d, %d", op, r.U8(), r.I8())
	case OpConstInt32:
		return fmt.Sprintf("%-16s r%d, %d", op, r.U8(), r.I32())
	case OpConstInt64:
		return fmt.Sprintf("%-16s r%d, %d", op, r.U8(), r.I64())
	case OpConstNum:
		return fmt.Sprintf("%-16s r%d, %g", op, r.U8(), r.F64())
	case OpConstPrimitive:
		return fmt.Sprintf("%-16s r%d, %d", op, r.U8(), r.U8())
	case OpConstString, OpImport, OpBuildNative:
		a := r.U8()
		ref := r.U32()
		s, err := m.GetString(ref)
		if err != nil {
			s = "<bad ref>"
		}
		return fmt.Sprintf("%-16s r%d, %q", op, a, s)
	case OpAdd, OpSub, OpMul, OpPow, OpDivFloor, OpDiv, OpMod,
		OpBitAnd, OpBitOr, OpBitXor, OpBoolAnd, OpBoolOr,
		OpLShift, OpRShift,
		OpEqual, OpNotEqual, OpLessThan, OpLessThanEqual,
		OpGreaterThan, OpGreaterThanEqual, OpIn,
		OpGet, OpSet, OpBuildRange:
		return fmt.Sprintf("%-16s r%d, r%d, r%d", op, r.U8(), r.U8(), r.U8())
	case OpBitNot, OpBoolNot, OpNegate, OpMove, OpCopy, OpTry,
		OpBuildError, OpUnwrapError, OpIterInit, OpIterNext:
		return fmt.Sprintf("%-16s r%d, r%d", op, r.U8(), r.U8())
	case OpJump:
		return fmt.Sprintf("%-16s %+d", op, r.I32())
	case OpJumpTrue, OpJumpFalse, OpJumpNone, OpJumpNotError:
		return fmt.Sprintf("%-16s r%d, +%d", op, r.U8(), r.U32())
	case OpBuildTuple, OpBuildList, OpBuildMap:
		return fmt.Sprintf("%-16s r%d, r%d, #%d", op, r.U8(), r.U8(), r.U16())
	case OpBuildFn:
		return fmt.Sprintf("%-16s r%d, args=%d, caps=%d, entry=%d", op, r.U8(), r.U8(), r.U8(), r.U32())
	case OpLoadCapture:
		return fmt.Sprintf("%-16s r%d, [%d]", op, r.U8(), r.U8())
	case OpStoreCapture:
		return fmt.Sprintf("%-16s r%d, r%d, [%d]", op, r.U8(), r.U8(), r.U8())
	case OpAs, OpIs:
		return fmt.Sprintf("%-16s r%d, r%d, %s", op, r.U8(), r.U8(), TypeID(r.U8()))
	case OpCall:
		return fmt.Sprintf("%-16s ret=r%d, fn=r%d, base=r%d, #%d", op, r.U8(), r.U8(), r.U8(), r.U16())
	case OpReturn, OpLoadThis, OpDiscard:
		return fmt.Sprintf("%-16s r%d", op, r.U8())
	case OpReturnNone:
		return op.String()
	case OpLineInfo:
		return fmt.Sprintf("%-16s line %d", op, r.U32())
	default:
		return fmt.Sprintf("%-16s ?", op)
	}
}

// DisasmString is Disasm into a string, for tests.
func DisasmString(m *Module) string {
	var b strings.Builder
	Disasm(&b, m)
	return b.String()
}
