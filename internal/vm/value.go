package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"bog/internal/bytecode"
)

// Type is the runtime tag of a Value.
type Type uint8

const (
	TypeNone Type = iota
	TypeBool
	TypeInt
	TypeNum
	TypeStr
	TypeTuple
	TypeList
	TypeMap
	TypeRange
	TypeErr
	TypeFunc
	TypeNative
	TypeIterator
)

var typeNames = [...]string{
	TypeNone:     "none",
	TypeBool:     "bool",
	TypeInt:      "int",
	TypeNum:      "num",
	TypeStr:      "str",
	TypeTuple:    "tuple",
	TypeList:     "list",
	TypeMap:      "map",
	TypeRange:    "range",
	TypeErr:      "err",
	TypeFunc:     "func",
	TypeNative:   "native",
	TypeIterator: "iterator",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "invalid"
}

// Value is a tagged runtime value. The singletons None, True and False
// live outside the GC heap; everything else is allocated through the GC
// and carries an object header.
type Value interface {
	Type() Type
}

// object is the header of every heap value: a mark bit and the intrusive
// allocation list link the collector sweeps.
type object struct {
	marked bool
	next   heapValue
}

// heapValue is implemented by all GC-managed values.
type heapValue interface {
	Value
	header() *object
	// markChildren marks the values this one keeps alive.
	markChildren(g *GC)
}

func (o *object) header() *object { return o }

type noneValue struct{}

func (noneValue) Type() Type { return TypeNone }

type boolValue bool

func (boolValue) Type() Type { return TypeBool }

// Process-wide singletons.
var (
	None  Value = noneValue{}
	True  Value = boolValue(true)
	False Value = boolValue(false)
)

// Boolean returns the singleton for b.
func Boolean(b bool) Value {
	if b {
		return True
	}
	return False
}

// Int is a 64-bit integer value.
type Int struct {
	object
	V int64
}

func (*Int) Type() Type          { return TypeInt }
func (*Int) markChildren(g *GC)  {}

// Num is a 64-bit float value.
type Num struct {
	object
	V float64
}

func (*Num) Type() Type         { return TypeNum }
func (*Num) markChildren(g *GC) {}

// Str is an immutable byte string, UTF-8 by convention.
type Str struct {
	object
	V string
}

func (*Str) Type() Type         { return TypeStr }
func (*Str) markChildren(g *GC) {}

// Tuple is an ordered, fixed-length sequence.
type Tuple struct {
	object
	Items []Value
}

func (*Tuple) Type() Type { return TypeTuple }
func (t *Tuple) markChildren(g *GC) {
	for _, v := range t.Items {
		g.markValue(v)
	}
}

// List is an ordered, growable sequence.
type List struct {
	object
	Items []Value
}

func (*List) Type() Type { return TypeList }
func (l *List) markChildren(g *GC) {
	for _, v := range l.Items {
		g.markValue(v)
	}
}

// Range is a half-open integer range with a step.
type Range struct {
	object
	Start, End, Step int64
}

func (*Range) Type() Type         { return TypeRange }
func (*Range) markChildren(g *GC) {}

// Err wraps another value as a language-level error.
type Err struct {
	object
	V Value
}

func (*Err) Type() Type { return TypeErr }
func (e *Err) markChildren(g *GC) {
	g.markValue(e.V)
}

// Func is a bytecode function: an entry offset into its module plus the
// values captured at creation.
type Func struct {
	object
	ArgCount int
	Entry    uint32
	Module   *bytecode.Module
	Captures []Value
}

func (*Func) Type() Type { return TypeFunc }
func (f *Func) markChildren(g *GC) {
	for _, v := range f.Captures {
		g.markValue(v)
	}
}

// NativeFn is the host function ABI: the running VM and the argument
// slice, which aliases the register stack and must not be retained.
type NativeFn func(v *VM, args []Value) (Value, error)

// Native is a registered host function.
type Native struct {
	object
	Name string
	// Arity is the declared argument count; -1 accepts any.
	Arity int
	Fn    NativeFn
}

func (*Native) Type() Type         { return TypeNative }
func (*Native) markChildren(g *GC) {}

// Iterator is a stateful cursor over str, tuple, list, map or range.
type Iterator struct {
	object
	Over Value
	// i is the byte offset for str, element index for tuple/list/map,
	// and the current value for range.
	i int64
}

func (*Iterator) Type() Type { return TypeIterator }
func (it *Iterator) markChildren(g *GC) {
	g.markValue(it.Over)
}

// typeOfID maps a bytecode type operand to a runtime tag.
func typeOfID(id bytecode.TypeID) (Type, bool) {
	switch id {
	case bytecode.TypeIDNone:
		return TypeNone, true
	case bytecode.TypeIDInt:
		return TypeInt, true
	case bytecode.TypeIDNum:
		return TypeNum, true
	case bytecode.TypeIDBool:
		return TypeBool, true
	case bytecode.TypeIDStr:
		return TypeStr, true
	case bytecode.TypeIDTuple:
		return TypeTuple, true
	case bytecode.TypeIDMap:
		return TypeMap, true
	case bytecode.TypeIDList:
		return TypeList, true
	case bytecode.TypeIDErr:
		return TypeErr, true
	case bytecode.TypeIDRange:
		return TypeRange, true
	case bytecode.TypeIDFunc:
		return TypeFunc, true
	}
	return 0, false
}

// String renders a value for host output. Strings render raw at the top
// level and quoted inside collections, the way the REPL echoes values.
func String(v Value) string {
	return valueString(v, false)
}

func valueString(v Value, nested bool) string {
	switch t := v.(type) {
	case noneValue:
		return "()"
	case boolValue:
		if t {
			return "true"
		}
		return "false"
	case *Int:
		return strconv.FormatInt(t.V, 10)
	case *Num:
		if math.Floor(t.V) == t.V && !math.IsInf(t.V, 0) && math.Abs(t.V) < 1e15 {
			return strconv.FormatFloat(t.V, 'f', 1, 64)
		}
		return strconv.FormatFloat(t.V, 'g', -1, 64)
	case *Str:
		if nested {
			return strconv.Quote(t.V)
		}
		return t.V
	case *Tuple:
		return seqString("(", t.Items, ")")
	case *List:
		return seqString("[", t.Items, "]")
	case *Map:
		var b strings.Builder
		b.WriteByte('{')
		for i, e := range t.entries {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(valueString(e.Key, true))
			b.WriteString(": ")
			b.WriteString(valueString(e.Value, true))
		}
		b.WriteByte('}')
		return b.String()
	case *Range:
		if t.Step != 1 {
			return fmt.Sprintf("%d...%d@%d", t.Start, t.End, t.Step)
		}
		return fmt.Sprintf("%d...%d", t.Start, t.End)
	case *Err:
		return "error(" + valueString(t.V, true) + ")"
	case *Func:
		return fmt.Sprintf("fn(%d)@%d", t.ArgCount, t.Entry)
	case *Native:
		return "native " + t.Name
	case *Iterator:
		return "iterator"
	}
	return "invalid"
}

func seqString(open string, items []Value, close string) string {
	var b strings.Builder
	b.WriteString(open)
	for i, v := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(valueString(v, true))
	}
	b.WriteString(close)
	return b.String()
}
