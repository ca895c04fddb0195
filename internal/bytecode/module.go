package bytecode

import (
	"encoding/binary"
	"math"

	bogerr "bog/internal/errors"
)

// Module is one compiled unit: a packed code stream, a strings blob and
// the entry offset of the module body. Function bodies produced at runtime
// refer back into the same code stream by entry offset.
type Module struct {
	Name    string
	Code    []byte
	Strings []byte
	Entry   uint32
}

// GetString resolves a string reference: a u32 offset into the strings
// blob addressing `len: u32 || payload`.
func (m *Module) GetString(ref uint32) (string, error) {
	if int(ref)+4 > len(m.Strings) {
		return "", bogerr.New(bogerr.MalformedByteCode, "string reference out of bounds")
	}
	n := binary.LittleEndian.Uint32(m.Strings[ref:])
	start := int(ref) + 4
	if start+int(n) > len(m.Strings) {
		return "", bogerr.New(bogerr.MalformedByteCode, "string reference out of bounds")
	}
	return string(m.Strings[start : start+int(n)]), nil
}

// Builder accumulates a module's code and strings blobs. The compiler and
// tests assemble instructions through it; jump patching works on the raw
// byte positions it reports.
type Builder struct {
	Code    []byte
	Strings []byte
	strings map[string]uint32
}

func NewBuilder() *Builder {
	return &Builder{strings: make(map[string]uint32)}
}

// Pos reports the current end of the code stream.
func (b *Builder) Pos() int {
	return len(b.Code)
}

func (b *Builder) Op(op Op) *Builder {
	b.Code = append(b.Code, byte(op))
	return b
}

func (b *Builder) Reg(r byte) *Builder {
	b.Code = append(b.Code, r)
	return b
}

func (b *Builder) U8(v byte) *Builder {
	b.Code = append(b.Code, v)
	return b
}

func (b *Builder) I8(v int8) *Builder {
	b.Code = append(b.Code, byte(v))
	return b
}

func (b *Builder) U16(v uint16) *Builder {
	b.Code = binary.LittleEndian.AppendUint16(b.Code, v)
	return b
}

func (b *Builder) U32(v uint32) *Builder {
	b.Code = binary.LittleEndian.AppendUint32(b.Code, v)
	return b
}

func (b *Builder) I32(v int32) *Builder {
	return b.U32(uint32(v))
}

func (b *Builder) I64(v int64) *Builder {
	b.Code = binary.LittleEndian.AppendUint64(b.Code, uint64(v))
	return b
}

func (b *Builder) F64(v float64) *Builder {
	b.Code = binary.LittleEndian.AppendUint64(b.Code, math.Float64bits(v))
	return b
}

// StrRef interns s in the strings blob and appends its u32 reference.
func (b *Builder) StrRef(s string) *Builder {
	return b.U32(b.Intern(s))
}

// Intern adds s to the strings blob once and returns its offset.
func (b *Builder) Intern(s string) uint32 {
	if ref, ok := b.strings[s]; ok {
		return ref
	}
	ref := uint32(len(b.Strings))
	b.Strings = binary.LittleEndian.AppendUint32(b.Strings, uint32(len(s)))
	b.Strings = append(b.Strings, s...)
	b.strings[s] = ref
	return ref
}

// PatchU32 overwrites a previously emitted u32 at byte position at.
func (b *Builder) PatchU32(at int, v uint32) {
	binary.LittleEndian.PutUint32(b.Code[at:], v)
}

// Module finalizes the builder into a Module with the given entry offset.
func (b *Builder) Module(name string, entry uint32) *Module {
	return &Module{Name: name, Code: b.Code, Strings: b.Strings, Entry: entry}
}

// Reader decodes operands from a code stream. Reads past the end set a
// sticky malformed-bytecode error and yield zero values; callers check
// Err once per decoded instruction before acting on the operands.
type Reader struct {
	Code []byte
	IP   int
	Err  error
}

func (r *Reader) truncated() {
	if r.Err == nil {
		r.Err = bogerr.New(bogerr.MalformedByteCode, "truncated instruction at offset %d", r.IP)
	}
}

func (r *Reader) U8() byte {
	if r.IP+1 > len(r.Code) {
		r.truncated()
		return 0
	}
	v := r.Code[r.IP]
	r.IP++
	return v
}

func (r *Reader) I8() int8 {
	return int8(r.U8())
}

func (r *Reader) U16() uint16 {
	if r.IP+2 > len(r.Code) {
		r.truncated()
		return 0
	}
	v := binary.LittleEndian.Uint16(r.Code[r.IP:])
	r.IP += 2
	return v
}

func (r *Reader) U32() uint32 {
	if r.IP+4 > len(r.Code) {
		r.truncated()
		return 0
	}
	v := binary.LittleEndian.Uint32(r.Code[r.IP:])
	r.IP += 4
	return v
}

func (r *Reader) I32() int32 {
	return int32(r.U32())
}

func (r *Reader) I64() int64 {
	if r.IP+8 > len(r.Code) {
		r.truncated()
		return 0
	}
	v := binary.LittleEndian.Uint64(r.Code[r.IP:])
	r.IP += 8
	return int64(v)
}

func (r *Reader) F64() float64 {
	if r.IP+8 > len(r.Code) {
		r.truncated()
		return 0
	}
	v := binary.LittleEndian.Uint64(r.Code[r.IP:])
	r.IP += 8
	return math.Float64frombits(v)
}
