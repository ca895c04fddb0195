package vm

import (
	"math"
	"strconv"
	"strings"
)

// MapEntry is one key-value pair of a Map.
type MapEntry struct {
	Key   Value
	Value Value
}

// Map is an ordered mapping. Iteration follows insertion order; keys
// compare by value equality, so int 1 and num 1.0 address the same slot.
// Hashable keys go through an index of canonical encodings; the rest fall
// back to a linear scan.
type Map struct {
	object
	entries []MapEntry
	index   map[string]int
}

func (*Map) Type() Type { return TypeMap }
func (m *Map) markChildren(g *GC) {
	for _, e := range m.entries {
		g.markValue(e.Key)
		g.markValue(e.Value)
	}
}

// keyFor builds a canonical encoding for hashable keys. Numeric keys that
// compare equal encode identically regardless of int/num tag.
func keyFor(v Value) (string, bool) {
	switch t := v.(type) {
	case noneValue:
		return "n", true
	case boolValue:
		if t {
			return "b1", true
		}
		return "b0", true
	case *Int:
		return "i" + strconv.FormatInt(t.V, 10), true
	case *Num:
		if math.Floor(t.V) == t.V && t.V >= math.MinInt64 && t.V <= math.MaxInt64 {
			return "i" + strconv.FormatInt(int64(t.V), 10), true
		}
		return "f" + strconv.FormatUint(math.Float64bits(t.V), 16), true
	case *Str:
		return "s" + t.V, true
	case *Range:
		return "r" + strconv.FormatInt(t.Start, 10) + "," +
			strconv.FormatInt(t.End, 10) + "," + strconv.FormatInt(t.Step, 10), true
	case *Tuple:
		var b strings.Builder
		b.WriteString("t(")
		for _, item := range t.Items {
			k, ok := keyFor(item)
			if !ok {
				return "", false
			}
			b.WriteString(strconv.Itoa(len(k)))
			b.WriteByte(':')
			b.WriteString(k)
		}
		b.WriteByte(')')
		return b.String(), true
	}
	return "", false
}

// Len reports the number of entries.
func (m *Map) Len() int {
	return len(m.entries)
}

// Entries exposes the ordered entries; callers must not mutate.
func (m *Map) Entries() []MapEntry {
	return m.entries
}

// Get looks up key by value equality.
func (m *Map) Get(key Value) (Value, bool) {
	if k, ok := keyFor(key); ok {
		if m.index != nil {
			if at, ok := m.index[k]; ok {
				return m.entries[at].Value, true
			}
		}
		return nil, false
	}
	for _, e := range m.entries {
		if Eql(e.Key, key) {
			return e.Value, true
		}
	}
	return nil, false
}

// Set inserts or replaces key. A replaced key keeps its original
// insertion position.
func (m *Map) Set(key, value Value) {
	if k, ok := keyFor(key); ok {
		if m.index == nil {
			m.index = make(map[string]int)
		}
		if at, exists := m.index[k]; exists {
			m.entries[at].Value = value
			return
		}
		m.index[k] = len(m.entries)
		m.entries = append(m.entries, MapEntry{Key: key, Value: value})
		return
	}
	for i, e := range m.entries {
		if Eql(e.Key, key) {
			m.entries[i].Value = value
			return
		}
	}
	m.entries = append(m.entries, MapEntry{Key: key, Value: value})
}
