package bytecode

import (
	"bytes"
	"strings"
	"testing"
)

func TestBuilderOperandEncoding(t *testing.T) {
	b := NewBuilder()
	b.Op(OpConstInt32).Reg(1).I32(-2)
	r := &Reader{Code: b.Code}
	if op := Op(r.U8()); op != OpConstInt32 {
		t.Fatalf("op = %s", op)
	}
	if reg := r.U8(); reg != 1 {
		t.Fatalf("reg = %d", reg)
	}
	if v := r.I32(); v != -2 {
		t.Fatalf("value = %d", v)
	}
	if r.Err != nil {
		t.Fatal(r.Err)
	}
}

func TestOperandsAreLittleEndian(t *testing.T) {
	b := NewBuilder()
	b.U32(0x11223344)
	want := []byte{0x44, 0x33, 0x22, 0x11}
	if !bytes.Equal(b.Code, want) {
		t.Fatalf("encoded % x, want % x", b.Code, want)
	}
}

func TestReaderTruncation(t *testing.T) {
	r := &Reader{Code: []byte{0x01}}
	r.U32()
	if r.Err == nil {
		t.Fatal("short read should set the error")
	}
	// The error is sticky.
	r.U8()
	if r.Err == nil {
		t.Fatal("error should stay set")
	}
}

func TestStringInterning(t *testing.T) {
	b := NewBuilder()
	first := b.Intern("hello")
	second := b.Intern("hello")
	other := b.Intern("world")
	if first != second {
		t.Fatalf("same string interned twice: %d, %d", first, second)
	}
	if other == first {
		t.Fatal("distinct strings share a reference")
	}
	m := b.Module("test", 0)
	for ref, want := range map[uint32]string{first: "hello", other: "world"} {
		got, err := m.GetString(ref)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("GetString(%d) = %q, want %q", ref, got, want)
		}
	}
}

func TestGetStringBounds(t *testing.T) {
	m := &Module{Strings: []byte{0xff, 0xff, 0xff, 0xff}}
	if _, err := m.GetString(0); err == nil {
		t.Fatal("oversized length should fail")
	}
	if _, err := m.GetString(100); err == nil {
		t.Fatal("offset past the blob should fail")
	}
}

func TestPatchU32(t *testing.T) {
	b := NewBuilder()
	b.Op(OpJump)
	at := b.Pos()
	b.U32(0)
	b.Op(OpReturnNone)
	b.PatchU32(at, 7)
	r := &Reader{Code: b.Code, IP: 1}
	if v := r.U32(); v != 7 {
		t.Fatalf("patched value = %d", v)
	}
}

func TestBogcRoundTrip(t *testing.T) {
	b := NewBuilder()
	b.Op(OpConstString).Reg(0).StrRef("payload")
	b.Op(OpReturn).Reg(0)
	m := b.Module("round", 0)

	var buf bytes.Buffer
	if err := WriteFile(&buf, m); err != nil {
		t.Fatal(err)
	}
	back, err := ReadFile(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if back.Name != m.Name || back.Entry != m.Entry {
		t.Fatalf("header mismatch: %q/%d", back.Name, back.Entry)
	}
	if !bytes.Equal(back.Code, m.Code) || !bytes.Equal(back.Strings, m.Strings) {
		t.Fatal("blob mismatch")
	}
	// The buffers are duplicated, not aliased.
	back.Code[0] = 0xff
	if m.Code[0] == 0xff {
		t.Fatal("decoded module aliases the input")
	}
}

func TestBogcRejectsGarbage(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte("BOG"),
		[]byte("NOPE12345678"),
		append([]byte{'B', 'O', 'G', 'C', 0xff, 0xff}, 0x00),
	}
	for _, data := range cases {
		if _, err := Decode(data); err == nil {
			t.Fatalf("%q should fail", data)
		}
	}
}

func TestDisasmSmoke(t *testing.T) {
	b := NewBuilder()
	b.Op(OpConstInt8).Reg(0).I8(40)
	b.Op(OpConstInt8).Reg(1).I8(2)
	b.Op(OpAdd).Reg(2).Reg(0).Reg(1)
	b.Op(OpReturn).Reg(2)
	listing := DisasmString(b.Module("test", 0))
	for _, want := range []string{"ConstInt8", "Add", "Return"} {
		if !strings.Contains(listing, want) {
			t.Fatalf("listing missing %q:\n%s", want, listing)
		}
	}
}
