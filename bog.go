// Package bog is the host embedding surface of the Bog scripting
// language: compile and run source, register natives, call script
// functions and render diagnostics.
package bog

import (
	"io"

	"bog/internal/bytecode"
	"bog/internal/compiler"
	bogerr "bog/internal/errors"
	"bog/internal/parser"
	"bog/internal/stdlib"
	"bog/internal/vm"
)

// Options configure an interpreter instance; see vm.Options.
type Options = vm.Options

// Value is a runtime value handle.
type Value = vm.Value

// NativeFn is the native function ABI.
type NativeFn = vm.NativeFn

// Error kinds hosts can switch on.
const (
	TokenizeError     = bogerr.TokenizeError
	ParseError        = bogerr.ParseError
	CompileError      = bogerr.CompileError
	RuntimeError      = bogerr.RuntimeError
	MalformedByteCode = bogerr.MalformedByteCode
	OutOfMemory       = bogerr.OutOfMemory
	IoError           = bogerr.IoError
)

// ErrorKind classifies an error returned by Run and friends.
func ErrorKind(err error) bogerr.Kind {
	return bogerr.KindOf(err)
}

// Bog is one interpreter instance: a VM plus its diagnostics list. Not
// safe for concurrent use; run one instance per goroutine.
type Bog struct {
	vm   *vm.VM
	errs *bogerr.List
}

// New creates an interpreter with the default native modules registered
// and source imports wired to the compiler.
func New(opts Options) *Bog {
	errs := bogerr.NewList()
	v := vm.New(opts, errs)
	v.CompileImport = CompileSource
	stdlib.Register(v)
	return &Bog{vm: v, errs: errs}
}

// VM exposes the underlying virtual machine for advanced hosts.
func (b *Bog) VM() *vm.VM {
	return b.vm
}

// SetStdout redirects native print output.
func (b *Bog) SetStdout(w io.Writer) {
	b.vm.Stdout = w
}

// RegisterNative makes a host function callable from scripts. Arity -1
// accepts any argument count.
func (b *Bog) RegisterNative(name string, arity int, fn NativeFn) {
	b.vm.RegisterNative(name, arity, fn)
}

// CompileSource runs the tokenize/parse/compile pipeline on a source
// buffer.
func CompileSource(name string, source []byte, errs *bogerr.List) (*bytecode.Module, error) {
	tree, err := parser.Parse(name, source, errs)
	if err != nil {
		return nil, err
	}
	return compiler.Compile(tree, errs)
}

// Run compiles and executes a source buffer, returning the module's
// final value. The value may be a language-level err; inspect it with
// IsError.
func (b *Bog) Run(name string, source []byte) (Value, error) {
	module, err := CompileSource(name, source, b.errs)
	if err != nil {
		return nil, err
	}
	return b.vm.Exec(module)
}

// RunModule executes a precompiled module, e.g. one read from a .bogc
// file.
func (b *Bog) RunModule(m *bytecode.Module) (Value, error) {
	return b.vm.Exec(m)
}

// CallMember calls the named function member of a map value, passing the
// map as `this`.
func (b *Bog) CallMember(container Value, name string, args ...Value) (Value, error) {
	m, ok := container.(*vm.Map)
	if !ok {
		return nil, bogerr.New(bogerr.RuntimeError, "expected a map, found '%s'", container.Type())
	}
	member, found := m.Get(b.vm.NewStr(name))
	if !found {
		return nil, bogerr.New(bogerr.RuntimeError, "map has no member '%s'", name)
	}
	return b.vm.CallFunction(member, container, args)
}

// IsError reports whether a result value is a language-level err.
func IsError(v Value) bool {
	return v != nil && v.Type() == vm.TypeErr
}

// IsNone reports whether a result value is none.
func IsNone(v Value) bool {
	return v == nil || v.Type() == vm.TypeNone
}

// Errors exposes the accumulated diagnostics.
func (b *Bog) Errors() *bogerr.List {
	return b.errs
}

// RenderErrors writes the accumulated diagnostics with line/column
// positions resolved against source.
func (b *Bog) RenderErrors(w io.Writer, filename string, source []byte) {
	b.errs.Render(w, filename, source)
}

// FormatValue renders a value the way the REPL echoes results.
func FormatValue(v Value) string {
	if v == nil {
		return ""
	}
	return vm.String(v)
}
