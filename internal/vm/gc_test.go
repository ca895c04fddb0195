package vm

import (
	"testing"

	bogerr "bog/internal/errors"
)

func TestCollectFreesUnrootedValues(t *testing.T) {
	v := New(Options{}, bogerr.NewList())
	kept := v.newStr("kept")
	v.stack = append(v.stack, kept)
	for i := 0; i < 1000; i++ {
		v.newStr("garbage")
	}
	v.gc.Collect()
	if v.gc.liveCount > 10 {
		t.Fatalf("live count = %d after collect, want only the rooted values", v.gc.liveCount)
	}
	if kept.V != "kept" {
		t.Fatal("rooted value corrupted")
	}
	v.stack = v.stack[:0]
}

func TestCollectTracesChildren(t *testing.T) {
	v := New(Options{}, bogerr.NewList())
	inner := v.newStr("inner")
	list := v.newList([]Value{inner})
	outer := v.newTuple([]Value{list})
	v.stack = append(v.stack, outer)
	v.gc.Collect()
	// All three survive: the tuple roots the list which roots the string.
	if v.gc.liveCount != 3 {
		t.Fatalf("live count = %d, want 3", v.gc.liveCount)
	}
}

func TestCollectKeepsCaptures(t *testing.T) {
	v := New(Options{}, bogerr.NewList())
	captured := v.newStr("captured")
	fn := v.newFunc(0, 0, nil, []Value{captured})
	v.stack = append(v.stack, fn)
	v.gc.Collect()
	if captured.V != "captured" {
		t.Fatal("captured value corrupted")
	}
	if v.gc.liveCount != 2 {
		t.Fatalf("live count = %d, want 2", v.gc.liveCount)
	}
}

func TestAllocationTriggersCollection(t *testing.T) {
	v := New(Options{}, bogerr.NewList())
	for i := 0; i < gcInitialThreshold*3; i++ {
		v.newInt(int64(i))
	}
	if v.gc.liveCount >= gcInitialThreshold*3 {
		t.Fatalf("live count = %d, collection never ran", v.gc.liveCount)
	}
}
