package vm

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"bog/internal/bytecode"
)

// Eql implements structural value equality. int and num compare
// numerically; sequences compare element-wise; map equality is
// order-independent over entries; err compares the wrapped value.
func Eql(a, b Value) bool {
	switch x := a.(type) {
	case noneValue:
		return b.Type() == TypeNone
	case boolValue:
		y, ok := b.(boolValue)
		return ok && x == y
	case *Int:
		switch y := b.(type) {
		case *Int:
			return x.V == y.V
		case *Num:
			return float64(x.V) == y.V
		}
		return false
	case *Num:
		switch y := b.(type) {
		case *Int:
			return x.V == float64(y.V)
		case *Num:
			return x.V == y.V
		}
		return false
	case *Str:
		y, ok := b.(*Str)
		return ok && x.V == y.V
	case *Tuple:
		y, ok := b.(*Tuple)
		return ok && eqlItems(x.Items, y.Items)
	case *List:
		y, ok := b.(*List)
		return ok && eqlItems(x.Items, y.Items)
	case *Map:
		y, ok := b.(*Map)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for _, e := range x.entries {
			other, found := y.Get(e.Key)
			if !found || !Eql(e.Value, other) {
				return false
			}
		}
		return true
	case *Range:
		y, ok := b.(*Range)
		return ok && x.Start == y.Start && x.End == y.End && x.Step == y.Step
	case *Err:
		y, ok := b.(*Err)
		return ok && Eql(x.V, y.V)
	}
	return a == b
}

func eqlItems(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Eql(a[i], b[i]) {
			return false
		}
	}
	return true
}

// contains implements the `in` operator.
func (v *VM) contains(item, container Value) (bool, error) {
	switch c := container.(type) {
	case *Str:
		s, ok := item.(*Str)
		if !ok {
			return false, v.runtimeError("expected a string, found '%s'", item.Type())
		}
		return strings.Contains(c.V, s.V), nil
	case *Tuple:
		return itemsContain(c.Items, item), nil
	case *List:
		return itemsContain(c.Items, item), nil
	case *Map:
		_, found := c.Get(item)
		return found, nil
	case *Range:
		i, ok := item.(*Int)
		if !ok {
			return false, v.runtimeError("expected an integer, found '%s'", item.Type())
		}
		if i.V < c.Start || i.V >= c.End {
			return false, nil
		}
		return (i.V-c.Start)%c.Step == 0, nil
	}
	return false, v.runtimeError("'in' is not valid for '%s'", container.Type())
}

func itemsContain(items []Value, item Value) bool {
	for _, candidate := range items {
		if Eql(candidate, item) {
			return true
		}
	}
	return false
}

// valueGet implements indexing and member access: B[C].
func (v *VM) valueGet(container, key Value) (Value, error) {
	switch c := container.(type) {
	case *Tuple:
		at, err := v.seqIndex(key, len(c.Items))
		if err != nil {
			return nil, err
		}
		return c.Items[at], nil
	case *List:
		at, err := v.seqIndex(key, len(c.Items))
		if err != nil {
			return nil, err
		}
		return c.Items[at], nil
	case *Map:
		if val, found := c.Get(key); found {
			return val, nil
		}
		return None, nil
	case *Str:
		runes := utf8.RuneCountInString(c.V)
		at, err := v.seqIndex(key, runes)
		if err != nil {
			return nil, err
		}
		for i, r := range c.V {
			if at == 0 {
				return v.newStr(c.V[i : i+utf8.RuneLen(r)]), nil
			}
			at--
		}
		return nil, v.runtimeError("index out of bounds")
	}
	return nil, v.runtimeError("cannot index '%s'", container.Type())
}

// seqIndex checks an integer index against a sequence length; negative
// indexes count from the end.
func (v *VM) seqIndex(key Value, length int) (int, error) {
	i, ok := key.(*Int)
	if !ok {
		return 0, v.runtimeError("expected an integer index, found '%s'", key.Type())
	}
	at := i.V
	if at < 0 {
		at += int64(length)
	}
	if at < 0 || at >= int64(length) {
		return 0, v.runtimeError("index %d out of bounds, length %d", i.V, length)
	}
	return int(at), nil
}

// valueSet implements A[B] = C. Tuples have fixed length but assignable
// slots; strings are immutable.
func (v *VM) valueSet(container, key, value Value) error {
	switch c := container.(type) {
	case *Tuple:
		at, err := v.seqIndex(key, len(c.Items))
		if err != nil {
			return err
		}
		c.Items[at] = value
		return nil
	case *List:
		at, err := v.seqIndex(key, len(c.Items))
		if err != nil {
			return err
		}
		c.Items[at] = value
		return nil
	case *Map:
		c.Set(key, value)
		return nil
	}
	return v.runtimeError("cannot assign into '%s'", container.Type())
}

// valueAs coerces a value to the target type.
func (v *VM) valueAs(val Value, target Type) (Value, error) {
	if val.Type() == target {
		return val, nil
	}
	switch target {
	case TypeNone:
		return None, nil
	case TypeInt:
		switch t := val.(type) {
		case *Num:
			return v.newInt(int64(t.V)), nil
		case boolValue:
			if t {
				return v.newInt(1), nil
			}
			return v.newInt(0), nil
		case *Str:
			i, err := strconv.ParseInt(strings.TrimSpace(t.V), 0, 64)
			if err != nil {
				return nil, v.runtimeError("cannot parse '%s' as int", t.V)
			}
			return v.newInt(i), nil
		}
	case TypeNum:
		switch t := val.(type) {
		case *Int:
			return v.newNum(float64(t.V)), nil
		case boolValue:
			if t {
				return v.newNum(1), nil
			}
			return v.newNum(0), nil
		case *Str:
			f, err := strconv.ParseFloat(strings.TrimSpace(t.V), 64)
			if err != nil {
				return nil, v.runtimeError("cannot parse '%s' as num", t.V)
			}
			return v.newNum(f), nil
		}
	case TypeBool:
		switch t := val.(type) {
		case noneValue:
			return False, nil
		case *Int:
			return Boolean(t.V != 0), nil
		case *Num:
			return Boolean(t.V != 0), nil
		case *Str:
			return Boolean(len(t.V) != 0), nil
		}
	case TypeStr:
		switch val.(type) {
		case *Int, *Num, boolValue, noneValue:
			return v.newStr(String(val)), nil
		}
	case TypeTuple:
		if t, ok := val.(*List); ok {
			return v.newTuple(append([]Value(nil), t.Items...)), nil
		}
	case TypeList:
		if t, ok := val.(*Tuple); ok {
			return v.newList(append([]Value(nil), t.Items...)), nil
		}
	}
	return nil, v.runtimeError("cannot cast '%s' to '%s'", val.Type(), target)
}

// makeIterator builds a fresh iterator over an iterable value.
func (v *VM) makeIterator(over Value) (*Iterator, error) {
	switch t := over.(type) {
	case *Str, *Tuple, *List, *Map:
		return v.newIterator(over, 0), nil
	case *Range:
		if t.Step == 0 {
			return nil, v.runtimeError("range step cannot be zero")
		}
		return v.newIterator(over, t.Start), nil
	}
	return nil, v.runtimeError("cannot iterate '%s'", over.Type())
}

// iterNext advances the iterator, returning nil at exhaustion; an
// exhausted iterator keeps yielding nil.
func (v *VM) iterNext(it *Iterator) (Value, error) {
	switch t := it.Over.(type) {
	case *Str:
		if it.i >= int64(len(t.V)) {
			return nil, nil
		}
		_, size := utf8.DecodeRuneInString(t.V[it.i:])
		val := v.newStr(t.V[it.i : it.i+int64(size)])
		it.i += int64(size)
		return val, nil
	case *Tuple:
		if it.i >= int64(len(t.Items)) {
			return nil, nil
		}
		val := t.Items[it.i]
		it.i++
		return val, nil
	case *List:
		if it.i >= int64(len(t.Items)) {
			return nil, nil
		}
		val := t.Items[it.i]
		it.i++
		return val, nil
	case *Map:
		if it.i >= int64(len(t.entries)) {
			return nil, nil
		}
		entry := t.entries[it.i]
		it.i++
		return v.newTuple([]Value{entry.Key, entry.Value}), nil
	case *Range:
		if t.Step > 0 && it.i >= t.End {
			return nil, nil
		}
		if t.Step < 0 && it.i <= t.End {
			return nil, nil
		}
		val := v.newInt(it.i)
		it.i += t.Step
		return val, nil
	}
	return nil, v.runtimeError("cannot iterate '%s'", it.Over.Type())
}

// Operand accessors: type-mismatch failures surface as runtime errors
// with the current line location.

func (v *VM) getBool(val Value) (bool, error) {
	b, ok := val.(boolValue)
	if !ok {
		return false, v.runtimeError("expected a bool, found '%s'", val.Type())
	}
	return bool(b), nil
}

func (v *VM) getInt(val Value) (int64, error) {
	i, ok := val.(*Int)
	if !ok {
		return 0, v.runtimeError("expected an integer, found '%s'", val.Type())
	}
	return i.V, nil
}

// numericPair promotes two numeric operands: if either is num, both
// convert to f64.
func (v *VM) numericPair(a, b Value) (isNum bool, ai, bi int64, af, bf float64, err error) {
	switch x := a.(type) {
	case *Int:
		switch y := b.(type) {
		case *Int:
			return false, x.V, y.V, 0, 0, nil
		case *Num:
			return true, 0, 0, float64(x.V), y.V, nil
		}
	case *Num:
		switch y := b.(type) {
		case *Int:
			return true, 0, 0, x.V, float64(y.V), nil
		case *Num:
			return true, 0, 0, x.V, y.V, nil
		}
	}
	if _, ok := a.(*Int); !ok {
		if _, ok := a.(*Num); !ok {
			return false, 0, 0, 0, 0, v.runtimeError("expected a number, found '%s'", a.Type())
		}
	}
	return false, 0, 0, 0, 0, v.runtimeError("expected a number, found '%s'", b.Type())
}

// typeID converts a bytecode type operand, failing on garbage encodings.
func (v *VM) typeID(id bytecode.TypeID) (Type, error) {
	t, ok := typeOfID(id)
	if !ok {
		return 0, errMalformed("invalid type id %d", byte(id))
	}
	return t, nil
}
