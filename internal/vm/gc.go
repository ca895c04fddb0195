package vm

import "bog/internal/bytecode"

// GC is a precise mark-sweep collector over the VM's heap values. The
// register stack, every live call frame's captures and `this`, the
// member-access scratch slot and the import caches are roots. Freed
// values are unlinked from the allocation list so the host runtime can
// reclaim them.
type GC struct {
	vm        *VM
	head      heapValue
	liveCount int
	nextGC    int
}

const gcInitialThreshold = 1024

func newGC(vm *VM) *GC {
	return &GC{vm: vm, nextGC: gcInitialThreshold}
}

// alloc links a freshly constructed heap value, collecting first when the
// live count crosses the threshold. Every allocation site can trigger a
// collection, so values must be rooted before the next alloc call.
func (g *GC) alloc(v heapValue) {
	if g.liveCount >= g.nextGC {
		g.Collect()
	}
	v.header().next = g.head
	g.head = v
	g.liveCount++
}

// Collect runs a full mark-sweep cycle.
func (g *GC) Collect() {
	g.vm.markRoots(g)
	g.sweep()
}

func (g *GC) markValue(v Value) {
	hv, ok := v.(heapValue)
	if !ok || hv == nil {
		return
	}
	h := hv.header()
	if h.marked {
		return
	}
	h.marked = true
	hv.markChildren(g)
}

func (g *GC) sweep() {
	var prev heapValue
	cur := g.head
	live := 0
	for cur != nil {
		h := cur.header()
		next := h.next
		if h.marked {
			h.marked = false
			prev = cur
			live++
		} else {
			if prev == nil {
				g.head = next
			} else {
				prev.header().next = next
			}
			h.next = nil
		}
		cur = next
	}
	g.liveCount = live
	g.nextGC = live * 2
	if g.nextGC < gcInitialThreshold {
		g.nextGC = gcInitialThreshold
	}
}

// Constructors. All heap values are created through these so every
// allocation is visible to the collector.

func (v *VM) newInt(i int64) *Int {
	val := &Int{V: i}
	v.gc.alloc(val)
	return val
}

func (v *VM) newNum(f float64) *Num {
	val := &Num{V: f}
	v.gc.alloc(val)
	return val
}

func (v *VM) newStr(s string) *Str {
	val := &Str{V: s}
	v.gc.alloc(val)
	return val
}

func (v *VM) newTuple(items []Value) *Tuple {
	val := &Tuple{Items: items}
	v.gc.alloc(val)
	return val
}

func (v *VM) newList(items []Value) *List {
	val := &List{Items: items}
	v.gc.alloc(val)
	return val
}

func (v *VM) newMap() *Map {
	val := &Map{}
	v.gc.alloc(val)
	return val
}

func (v *VM) newRange(start, end, step int64) *Range {
	val := &Range{Start: start, End: end, Step: step}
	v.gc.alloc(val)
	return val
}

func (v *VM) newErr(inner Value) *Err {
	val := &Err{V: inner}
	v.gc.alloc(val)
	return val
}

func (v *VM) newFunc(argCount int, entry uint32, module *bytecode.Module, captures []Value) *Func {
	val := &Func{ArgCount: argCount, Entry: entry, Module: module, Captures: captures}
	v.gc.alloc(val)
	return val
}

func (v *VM) newIterator(over Value, start int64) *Iterator {
	val := &Iterator{Over: over, i: start}
	v.gc.alloc(val)
	return val
}
