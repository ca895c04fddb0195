package vm

// Exported constructors for hosts and native functions. All heap values
// must be created through the owning VM so the collector sees them.

func (v *VM) NewInt(i int64) Value          { return v.newInt(i) }
func (v *VM) NewNum(f float64) Value        { return v.newNum(f) }
func (v *VM) NewStr(s string) Value         { return v.newStr(s) }
func (v *VM) NewTuple(items []Value) Value  { return v.newTuple(items) }
func (v *VM) NewList(items []Value) Value   { return v.newList(items) }
func (v *VM) NewMap() *Map                  { return v.newMap() }
func (v *VM) NewError(inner Value) Value    { return v.newErr(inner) }
func (v *VM) NewRange(start, end, step int64) Value {
	return v.newRange(start, end, step)
}
