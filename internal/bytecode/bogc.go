package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	pkgerrors "github.com/pkg/errors"

	bogerr "bog/internal/errors"
)

// On-disk precompiled module format (.bogc): a fixed header followed by a
// canonical CBOR envelope of the module's blobs.
var bogcMagic = [4]byte{'B', 'O', 'G', 'C'}

const bogcVersion uint16 = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type bogcEnvelope struct {
	Name    string `cbor:"1,keyasint"`
	Code    []byte `cbor:"2,keyasint"`
	Strings []byte `cbor:"3,keyasint"`
	Entry   uint32 `cbor:"4,keyasint"`
}

// WriteFile serializes a module in .bogc form.
func WriteFile(w io.Writer, m *Module) error {
	if _, err := w.Write(bogcMagic[:]); err != nil {
		return pkgerrors.Wrap(err, "write bytecode header")
	}
	var version [2]byte
	binary.LittleEndian.PutUint16(version[:], bogcVersion)
	if _, err := w.Write(version[:]); err != nil {
		return pkgerrors.Wrap(err, "write bytecode header")
	}
	payload, err := cborEncMode.Marshal(&bogcEnvelope{
		Name:    m.Name,
		Code:    m.Code,
		Strings: m.Strings,
		Entry:   m.Entry,
	})
	if err != nil {
		return pkgerrors.Wrap(err, "encode module")
	}
	_, err = w.Write(payload)
	return pkgerrors.Wrap(err, "write module")
}

// ReadFile deserializes a .bogc module. The returned module owns its own
// code and strings buffers.
func ReadFile(r io.Reader) (*Module, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, bogerr.New(bogerr.IoError, "read bytecode: %v", err)
	}
	return Decode(data)
}

// Decode links a .bogc byte buffer into a Module.
func Decode(data []byte) (*Module, error) {
	if len(data) < 6 || !bytes.Equal(data[:4], bogcMagic[:]) {
		return nil, bogerr.New(bogerr.MalformedByteCode, "not a bog bytecode file")
	}
	if v := binary.LittleEndian.Uint16(data[4:]); v != bogcVersion {
		return nil, bogerr.New(bogerr.MalformedByteCode, "unsupported bytecode version %d", v)
	}
	var env bogcEnvelope
	if err := cbor.Unmarshal(data[6:], &env); err != nil {
		return nil, bogerr.New(bogerr.MalformedByteCode, "corrupt bytecode payload: %v", err)
	}
	m := &Module{
		Name:    env.Name,
		Code:    append([]byte(nil), env.Code...),
		Strings: append([]byte(nil), env.Strings...),
		Entry:   env.Entry,
	}
	if int(m.Entry) > len(m.Code) {
		return nil, bogerr.New(bogerr.MalformedByteCode, "entry offset out of bounds")
	}
	return m, nil
}
