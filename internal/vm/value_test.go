package vm

import (
	"testing"

	bogerr "bog/internal/errors"
)

func valueVM() *VM {
	return New(Options{}, bogerr.NewList())
}

func TestEql(t *testing.T) {
	v := valueVM()
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"none", None, None, true},
		{"bools", True, False, false},
		{"ints", v.newInt(3), v.newInt(3), true},
		{"int num", v.newInt(1), v.newNum(1.0), true},
		{"num int", v.newNum(2.5), v.newInt(2), false},
		{"strs", v.newStr("ab"), v.newStr("ab"), true},
		{"str int", v.newStr("1"), v.newInt(1), false},
		{"tuples", v.newTuple([]Value{v.newInt(1), v.newStr("x")}),
			v.newTuple([]Value{v.newInt(1), v.newStr("x")}), true},
		{"tuple list", v.newTuple([]Value{v.newInt(1)}), v.newList([]Value{v.newInt(1)}), false},
		{"ranges", v.newRange(0, 5, 1), v.newRange(0, 5, 1), true},
		{"range step", v.newRange(0, 5, 1), v.newRange(0, 5, 2), false},
		{"errs", v.newErr(v.newInt(1)), v.newErr(v.newInt(1)), true},
		{"err inner", v.newErr(v.newInt(1)), v.newErr(v.newInt(2)), false},
	}
	for _, tt := range tests {
		if got := Eql(tt.a, tt.b); got != tt.want {
			t.Errorf("%s: Eql = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestMapEqualityOrderIndependent(t *testing.T) {
	v := valueVM()
	a := v.newMap()
	a.Set(v.newStr("x"), v.newInt(1))
	a.Set(v.newStr("y"), v.newInt(2))
	b := v.newMap()
	b.Set(v.newStr("y"), v.newInt(2))
	b.Set(v.newStr("x"), v.newInt(1))
	if !Eql(a, b) {
		t.Fatal("maps with the same entries should be equal regardless of order")
	}
	b.Set(v.newStr("z"), v.newInt(3))
	if Eql(a, b) {
		t.Fatal("maps with different sizes should not be equal")
	}
}

func TestMapInsertionOrder(t *testing.T) {
	v := valueVM()
	m := v.newMap()
	keys := []string{"c", "a", "b"}
	for i, k := range keys {
		m.Set(v.newStr(k), v.newInt(int64(i)))
	}
	// Replacing keeps the original position.
	m.Set(v.newStr("a"), v.newInt(42))
	entries := m.Entries()
	for i, k := range keys {
		if entries[i].Key.(*Str).V != k {
			t.Fatalf("entry %d key = %q, want %q", i, entries[i].Key.(*Str).V, k)
		}
	}
	if got, _ := m.Get(v.newStr("a")); got.(*Int).V != 42 {
		t.Fatalf("a = %s", String(got))
	}
}

func TestMapNumericKeysUnify(t *testing.T) {
	v := valueVM()
	m := v.newMap()
	m.Set(v.newInt(1), v.newStr("int"))
	m.Set(v.newNum(1.0), v.newStr("num"))
	if m.Len() != 1 {
		t.Fatalf("len = %d, want 1 (1 and 1.0 are the same key)", m.Len())
	}
	got, ok := m.Get(v.newInt(1))
	if !ok || got.(*Str).V != "num" {
		t.Fatalf("lookup = %v, %v", got, ok)
	}
}

func TestContains(t *testing.T) {
	v := valueVM()
	if ok, err := v.contains(v.newStr("ell"), v.newStr("hello")); err != nil || !ok {
		t.Fatalf("substring: %v, %v", ok, err)
	}
	list := v.newList([]Value{v.newInt(1), v.newInt(2)})
	if ok, _ := v.contains(v.newNum(2.0), list); !ok {
		t.Fatal("2.0 should be found in [1, 2]")
	}
	r := v.newRange(0, 10, 2)
	if ok, _ := v.contains(v.newInt(4), r); !ok {
		t.Fatal("4 should be in 0...10 step 2")
	}
	if ok, _ := v.contains(v.newInt(5), r); ok {
		t.Fatal("5 should not be in 0...10 step 2")
	}
	if ok, _ := v.contains(v.newInt(10), r); ok {
		t.Fatal("the end is exclusive")
	}
	if _, err := v.contains(v.newInt(1), v.newInt(2)); err == nil {
		t.Fatal("in on an int container should fail")
	}
}

func TestValueGet(t *testing.T) {
	v := valueVM()
	list := v.newList([]Value{v.newInt(10), v.newInt(20), v.newInt(30)})
	if got, _ := v.valueGet(list, v.newInt(-1)); got.(*Int).V != 30 {
		t.Fatalf("negative index: %s", String(got))
	}
	if _, err := v.valueGet(list, v.newInt(3)); err == nil {
		t.Fatal("out of bounds should fail")
	}
	s := v.newStr("héllo")
	got, err := v.valueGet(s, v.newInt(1))
	if err != nil {
		t.Fatal(err)
	}
	if got.(*Str).V != "é" {
		t.Fatalf("string index works on code points, got %q", got.(*Str).V)
	}
	m := v.newMap()
	if got, _ := v.valueGet(m, v.newStr("missing")); got != None {
		t.Fatalf("missing key: %s", String(got))
	}
	if _, err := v.valueGet(v.newInt(1), v.newInt(0)); err == nil {
		t.Fatal("indexing an int should fail")
	}
}

func TestValueSet(t *testing.T) {
	v := valueVM()
	tup := v.newTuple([]Value{v.newInt(1), v.newInt(2)})
	if err := v.valueSet(tup, v.newInt(0), v.newInt(9)); err != nil {
		t.Fatal(err)
	}
	if tup.Items[0].(*Int).V != 9 {
		t.Fatal("tuple slot should be assignable")
	}
	if err := v.valueSet(v.newStr("abc"), v.newInt(0), v.newStr("x")); err == nil {
		t.Fatal("strings are immutable")
	}
}

func TestValueAs(t *testing.T) {
	v := valueVM()
	if got, _ := v.valueAs(v.newStr(" 12 "), TypeInt); got.(*Int).V != 12 {
		t.Fatalf("str as int: %s", String(got))
	}
	if got, _ := v.valueAs(v.newNum(3.9), TypeInt); got.(*Int).V != 3 {
		t.Fatalf("num as int truncates: %s", String(got))
	}
	if got, _ := v.valueAs(v.newInt(3), TypeNum); got.(*Num).V != 3 {
		t.Fatalf("int as num: %s", String(got))
	}
	if got, _ := v.valueAs(v.newInt(0), TypeBool); got != False {
		t.Fatal("0 as bool should be false")
	}
	if got, _ := v.valueAs(v.newStr(""), TypeBool); got != False {
		t.Fatal("empty str as bool should be false")
	}
	if got, _ := v.valueAs(v.newStr("x"), TypeBool); got != True {
		t.Fatal("non-empty str as bool should be true")
	}
	if got, _ := v.valueAs(v.newInt(7), TypeStr); got.(*Str).V != "7" {
		t.Fatalf("int as str: %s", String(got))
	}
	list := v.newList([]Value{v.newInt(1)})
	if got, _ := v.valueAs(list, TypeTuple); got.Type() != TypeTuple {
		t.Fatal("list as tuple")
	}
	if _, err := v.valueAs(v.newStr("nope"), TypeInt); err == nil {
		t.Fatal("unparsable str as int should fail")
	}
	if _, err := v.valueAs(v.newInt(1), TypeMap); err == nil {
		t.Fatal("int as map should fail")
	}
}

func TestIterators(t *testing.T) {
	v := valueVM()

	it, err := v.makeIterator(v.newStr("hé"))
	if err != nil {
		t.Fatal(err)
	}
	first, _ := v.iterNext(it)
	second, _ := v.iterNext(it)
	third, _ := v.iterNext(it)
	if first.(*Str).V != "h" || second.(*Str).V != "é" || third != nil {
		t.Fatalf("str iteration: %v %v %v", first, second, third)
	}

	m := v.newMap()
	m.Set(v.newStr("k"), v.newInt(1))
	it, _ = v.makeIterator(m)
	pair, _ := v.iterNext(it)
	entry := pair.(*Tuple)
	if entry.Items[0].(*Str).V != "k" || entry.Items[1].(*Int).V != 1 {
		t.Fatalf("map iteration: %s", String(pair))
	}

	it, _ = v.makeIterator(v.newRange(3, 0, -1))
	var got []int64
	for {
		val, _ := v.iterNext(it)
		if val == nil {
			break
		}
		got = append(got, val.(*Int).V)
	}
	if len(got) != 3 || got[0] != 3 || got[2] != 1 {
		t.Fatalf("reverse range iteration: %v", got)
	}

	if _, err := v.makeIterator(v.newInt(1)); err == nil {
		t.Fatal("ints are not iterable")
	}
}

func TestValueString(t *testing.T) {
	v := valueVM()
	tests := []struct {
		val  Value
		want string
	}{
		{None, "()"},
		{True, "true"},
		{v.newInt(42), "42"},
		{v.newNum(1.5), "1.5"},
		{v.newStr("hi"), "hi"},
		{v.newList([]Value{v.newInt(1), v.newStr("a")}), `[1, "a"]`},
		{v.newTuple([]Value{v.newInt(1), v.newInt(2)}), "(1, 2)"},
		{v.newErr(v.newStr("oops")), `error("oops")`},
		{v.newRange(0, 5, 1), "0...5"},
	}
	for _, tt := range tests {
		if got := String(tt.val); got != tt.want {
			t.Errorf("String(%s) = %q, want %q", tt.val.Type(), got, tt.want)
		}
	}
}
