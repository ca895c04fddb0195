// internal/vm/vm.go
package vm

import (
	"io"
	"math"
	"os"

	"bog/internal/bytecode"
	bogerr "bog/internal/errors"
)

// Options configure one VM instance.
type Options struct {
	// ImportFiles allows import() to load .bog and .bogc files.
	ImportFiles bool
	// Repl makes a module-level Discard return its value instead of
	// dropping it, so the REPL can echo results.
	Repl bool
	// MaxImportSize bounds the size of an imported source file.
	MaxImportSize uint32
}

// DefaultMaxImportSize is 1 MiB.
const DefaultMaxImportSize = 1 << 20

// maxCallDepth bounds the call stack.
const maxCallDepth = 512

// maxTraceEntries bounds the trace rows recorded while unwinding.
const maxTraceEntries = 32

// CompileFn compiles an imported source file into a module. The root bog
// package wires the real pipeline in; the VM stays decoupled from the
// compiler.
type CompileFn func(name string, source []byte, errs *bogerr.List) (*bytecode.Module, error)

// frame is the saved caller state a Call pushes and a Return pops.
type frame struct {
	retIP    int
	retSP    int
	retLine  uint32
	retReg   byte
	module   *bytecode.Module
	captures []Value
	this     Value
}

// VM is the register-stack bytecode interpreter. One VM is single
// threaded; hosts run independent VMs for parallelism.
type VM struct {
	opts Options
	errs *bogerr.List
	gc   *GC

	// Execution state for the current frame.
	stack    []Value
	ip       int
	sp       int
	lineLoc  uint32
	module   *bytecode.Module
	captures []Value
	this     Value

	frames []frame

	// Member-access scratch: the container of the latest Get, consumed
	// as `this` by the Call on the immediately following instruction.
	// Kept in the VM struct so it stays a GC root.
	lastGet   Value
	thisArmed bool

	natives       map[string]*Native
	nativeModules map[string][]*Native

	imported      map[string]*bytecode.Module
	importResults map[string]Value

	// CompileImport compiles imported .bog sources; nil disables source
	// imports.
	CompileImport CompileFn

	// Stdout is the sink natives print to.
	Stdout io.Writer
}

// New creates a VM with the given options and diagnostics sink.
func New(opts Options, errs *bogerr.List) *VM {
	if opts.MaxImportSize == 0 {
		opts.MaxImportSize = DefaultMaxImportSize
	}
	v := &VM{
		opts:          opts,
		errs:          errs,
		natives:       make(map[string]*Native),
		nativeModules: make(map[string][]*Native),
		imported:      make(map[string]*bytecode.Module),
		importResults: make(map[string]Value),
		Stdout:        os.Stdout,
	}
	v.gc = newGC(v)
	return v
}

// Errors exposes the diagnostics sink.
func (v *VM) Errors() *bogerr.List {
	return v.errs
}

// RegisterNative associates a name with a host function. Arity -1 makes
// the native variadic. Must be called before execution starts.
func (v *VM) RegisterNative(name string, arity int, fn NativeFn) {
	v.natives[name] = &Native{Name: name, Arity: arity, Fn: fn}
}

// RegisterNativeModule groups natives under a module id, so that
// `import(id)` yields a map of them. Each native is also registered under
// "id.name" for direct reference.
func (v *VM) RegisterNativeModule(id string, natives []*Native) {
	v.nativeModules[id] = natives
	for _, n := range natives {
		v.natives[id+"."+n.Name] = n
	}
}

// markRoots marks everything the interpreter holds alive.
func (v *VM) markRoots(g *GC) {
	for _, val := range v.stack {
		if val != nil {
			g.markValue(val)
		}
	}
	for i := range v.frames {
		f := &v.frames[i]
		if f.this != nil {
			g.markValue(f.this)
		}
		for _, c := range f.captures {
			if c != nil {
				g.markValue(c)
			}
		}
	}
	for _, c := range v.captures {
		if c != nil {
			g.markValue(c)
		}
	}
	if v.this != nil {
		g.markValue(v.this)
	}
	if v.lastGet != nil {
		g.markValue(v.lastGet)
	}
	for _, val := range v.importResults {
		g.markValue(val)
	}
}

func (v *VM) runtimeError(format string, args ...interface{}) error {
	v.errs.Add(v.lineLoc, format, args...)
	return bogerr.New(bogerr.RuntimeError, format, args...)
}

func errMalformed(format string, args ...interface{}) error {
	return bogerr.New(bogerr.MalformedByteCode, format, args...)
}

// regIndex resolves a register reference against the current frame,
// growing the stack as needed.
func (v *VM) regIndex(r byte) int {
	at := v.sp + int(r)
	for at >= len(v.stack) {
		v.stack = append(v.stack, None)
	}
	return at
}

func (v *VM) getReg(r byte) Value {
	return v.stack[v.regIndex(r)]
}

func (v *VM) setReg(r byte, val Value) {
	v.stack[v.regIndex(r)] = val
}

// Exec runs a module to completion and returns its final value. The
// register stack is restored to its pre-exec length on return.
func (v *VM) Exec(m *bytecode.Module) (Value, error) {
	return v.enter(m, int(m.Entry), nil, nil, len(v.stack))
}

// CallFunction invokes a func or native value from the host with the
// given arguments.
func (v *VM) CallFunction(fn Value, this Value, args []Value) (Value, error) {
	switch f := fn.(type) {
	case *Native:
		if f.Arity >= 0 && len(args) != f.Arity {
			return nil, v.runtimeError("'%s' expects %d arguments, found %d", f.Name, f.Arity, len(args))
		}
		return f.Fn(v, args)
	case *Func:
		if len(args) != f.ArgCount {
			return nil, v.runtimeError("expected %d arguments, found %d", f.ArgCount, len(args))
		}
		return v.enterFunc(f, this, args)
	}
	return nil, v.runtimeError("cannot call '%s'", fn.Type())
}

// enter runs code at entry in module m in a fresh frame based at sp,
// re-entrantly with respect to the interpreter loop. The stack shrinks
// back to sp on return.
func (v *VM) enter(m *bytecode.Module, entry int, captures []Value, this Value, sp int) (Value, error) {
	savedIP, savedSP, savedLine := v.ip, v.sp, v.lineLoc
	savedModule, savedCaptures, savedThis := v.module, v.captures, v.this

	v.module = m
	v.ip = entry
	v.sp = sp
	v.captures = captures
	v.this = this

	result, err := v.run(len(v.frames))

	v.ip, v.sp, v.lineLoc = savedIP, savedSP, savedLine
	v.module, v.captures, v.this = savedModule, savedCaptures, savedThis
	if len(v.stack) > sp {
		v.stack = v.stack[:sp]
	}
	return result, err
}

// enterFunc pushes args as the callee's first registers and runs it.
func (v *VM) enterFunc(f *Func, this Value, args []Value) (Value, error) {
	base := len(v.stack)
	v.stack = append(v.stack, args...)
	return v.enter(f.Module, int(f.Entry), f.Captures, this, base)
}

// unwind pops frames down to base while recording trace entries, used on
// the runtime-error exit path.
func (v *VM) unwind(base int) {
	traced := 0
	for len(v.frames) > base {
		f := v.frames[len(v.frames)-1]
		v.frames = v.frames[:len(v.frames)-1]
		if traced < maxTraceEntries {
			v.errs.Trace(f.retLine, "called from here")
			traced++
		} else if traced == maxTraceEntries {
			v.errs.Note(f.retLine, "%d more frames omitted", len(v.frames)-base+1)
			traced++
		}
		v.ip, v.sp, v.lineLoc = f.retIP, f.retSP, f.retLine
		v.module, v.captures, v.this = f.module, f.captures, f.this
	}
}

// popFrame restores the caller's state and delivers the callee's result
// into the caller's return register.
func (v *VM) popFrame(result Value) {
	f := v.frames[len(v.frames)-1]
	v.frames = v.frames[:len(v.frames)-1]
	if len(v.stack) > v.sp {
		v.stack = v.stack[:v.sp]
	}
	v.ip, v.sp, v.lineLoc = f.retIP, f.retSP, f.retLine
	v.module, v.captures, v.this = f.module, f.captures, f.this
	v.setReg(f.retReg, result)
}

// run is the interpreter loop. It returns when the frame depth drops
// back to base via Return, ReturnNone or an error propagated by Try.
func (v *VM) run(base int) (result Value, err error) {
	defer func() {
		if err == nil {
			return
		}
		if bogerr.KindOf(err) == bogerr.RuntimeError {
			v.unwind(base)
			return
		}
		// Other failures clean up the frames without a trace.
		if len(v.frames) > base {
			v.frames = v.frames[:base]
		}
	}()
	for {
		r := bytecode.Reader{Code: v.module.Code, IP: v.ip}
		if r.IP >= len(r.Code) {
			return nil, errMalformed("execution ran off the end of the code stream")
		}
		op := bytecode.Op(r.U8())
		armed := v.thisArmed

		switch op {
		case bytecode.OpConstInt8:
			a, val := r.U8(), r.I8()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			v.setReg(a, v.newInt(int64(val)))
		case bytecode.OpConstInt32:
			a, val := r.U8(), r.I32()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			v.setReg(a, v.newInt(int64(val)))
		case bytecode.OpConstInt64:
			a, val := r.U8(), r.I64()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			v.setReg(a, v.newInt(val))
		case bytecode.OpConstNum:
			a, val := r.U8(), r.F64()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			v.setReg(a, v.newNum(val))
		case bytecode.OpConstPrimitive:
			a, which := r.U8(), r.U8()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			switch which {
			case bytecode.PrimitiveNone:
				v.setReg(a, None)
			case bytecode.PrimitiveFalse:
				v.setReg(a, False)
			case bytecode.PrimitiveTrue:
				v.setReg(a, True)
			default:
				return nil, errMalformed("invalid primitive %d", which)
			}
		case bytecode.OpConstString:
			a, ref := r.U8(), r.U32()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			s, err := v.module.GetString(ref)
			if err != nil {
				return nil, err
			}
			v.setReg(a, v.newStr(s))

		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpPow,
			bytecode.OpDivFloor, bytecode.OpDiv, bytecode.OpMod:
			a, b, c := r.U8(), r.U8(), r.U8()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			val, err := v.arith(op, v.getReg(b), v.getReg(c))
			if err != nil {
				return nil, err
			}
			v.setReg(a, val)

		case bytecode.OpBitNot:
			a, b := r.U8(), r.U8()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			i, err := v.getInt(v.getReg(b))
			if err != nil {
				return nil, err
			}
			v.setReg(a, v.newInt(^i))
		case bytecode.OpBitAnd, bytecode.OpBitOr, bytecode.OpBitXor:
			a, b, c := r.U8(), r.U8(), r.U8()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			x, err := v.getInt(v.getReg(b))
			if err != nil {
				return nil, err
			}
			y, err := v.getInt(v.getReg(c))
			if err != nil {
				return nil, err
			}
			var val int64
			switch op {
			case bytecode.OpBitAnd:
				val = x & y
			case bytecode.OpBitOr:
				val = x | y
			default:
				val = x ^ y
			}
			v.setReg(a, v.newInt(val))

		case bytecode.OpBoolNot:
			a, b := r.U8(), r.U8()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			x, err := v.getBool(v.getReg(b))
			if err != nil {
				return nil, err
			}
			v.setReg(a, Boolean(!x))
		case bytecode.OpBoolAnd, bytecode.OpBoolOr:
			a, b, c := r.U8(), r.U8(), r.U8()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			x, err := v.getBool(v.getReg(b))
			if err != nil {
				return nil, err
			}
			y, err := v.getBool(v.getReg(c))
			if err != nil {
				return nil, err
			}
			if op == bytecode.OpBoolAnd {
				v.setReg(a, Boolean(x && y))
			} else {
				v.setReg(a, Boolean(x || y))
			}

		case bytecode.OpLShift, bytecode.OpRShift:
			a, b, c := r.U8(), r.U8(), r.U8()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			x, err := v.getInt(v.getReg(b))
			if err != nil {
				return nil, err
			}
			y, err := v.getInt(v.getReg(c))
			if err != nil {
				return nil, err
			}
			if y < 0 {
				return nil, v.runtimeError("shift by negative amount")
			}
			var val int64
			if y < 64 {
				if op == bytecode.OpLShift {
					val = x << uint(y)
				} else {
					val = x >> uint(y)
				}
			}
			v.setReg(a, v.newInt(val))

		case bytecode.OpEqual, bytecode.OpNotEqual:
			a, b, c := r.U8(), r.U8(), r.U8()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			eq := Eql(v.getReg(b), v.getReg(c))
			if op == bytecode.OpNotEqual {
				eq = !eq
			}
			v.setReg(a, Boolean(eq))
		case bytecode.OpLessThan, bytecode.OpLessThanEqual,
			bytecode.OpGreaterThan, bytecode.OpGreaterThanEqual:
			a, b, c := r.U8(), r.U8(), r.U8()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			val, err := v.compare(op, v.getReg(b), v.getReg(c))
			if err != nil {
				return nil, err
			}
			v.setReg(a, val)
		case bytecode.OpIn:
			a, b, c := r.U8(), r.U8(), r.U8()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			found, err := v.contains(v.getReg(b), v.getReg(c))
			if err != nil {
				return nil, err
			}
			v.setReg(a, Boolean(found))

		case bytecode.OpMove:
			a, b := r.U8(), r.U8()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			v.setReg(a, v.getReg(b))
		case bytecode.OpCopy:
			a, b := r.U8(), r.U8()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			val, err := v.copyValue(v.getReg(b))
			if err != nil {
				return nil, err
			}
			v.setReg(a, val)

		case bytecode.OpNegate:
			a, b := r.U8(), r.U8()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			switch t := v.getReg(b).(type) {
			case *Int:
				if t.V == math.MinInt64 {
					return nil, v.runtimeError("integer overflow")
				}
				v.setReg(a, v.newInt(-t.V))
			case *Num:
				v.setReg(a, v.newNum(-t.V))
			default:
				return nil, v.runtimeError("expected a number, found '%s'", t.Type())
			}

		case bytecode.OpTry:
			a, b := r.U8(), r.U8()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			val := v.getReg(b)
			if e, isErr := val.(*Err); isErr {
				// Propagate: pop frames down to the module frame, then
				// surface the error as the module result.
				for len(v.frames) > base {
					f := v.frames[len(v.frames)-1]
					v.frames = v.frames[:len(v.frames)-1]
					if len(v.stack) > v.sp {
						v.stack = v.stack[:v.sp]
					}
					v.ip, v.sp, v.lineLoc = f.retIP, f.retSP, f.retLine
					v.module, v.captures, v.this = f.module, f.captures, f.this
				}
				return e, nil
			}
			v.setReg(a, val)

		case bytecode.OpBuildError:
			a, b := r.U8(), r.U8()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			v.setReg(a, v.newErr(v.getReg(b)))
		case bytecode.OpUnwrapError:
			a, b := r.U8(), r.U8()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			e, isErr := v.getReg(b).(*Err)
			if !isErr {
				return nil, v.runtimeError("expected an error, found '%s'", v.getReg(b).Type())
			}
			v.setReg(a, e.V)

		case bytecode.OpJump:
			off := r.I32()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP + int(off)
			if v.ip < 0 || v.ip > len(v.module.Code) {
				return nil, errMalformed("jump target out of bounds")
			}
		case bytecode.OpJumpTrue, bytecode.OpJumpFalse:
			a, off := r.U8(), r.U32()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			cond, err := v.getBool(v.getReg(a))
			if err != nil {
				return nil, err
			}
			if cond == (op == bytecode.OpJumpTrue) {
				v.ip += int(off)
				if v.ip > len(v.module.Code) {
					return nil, errMalformed("jump target out of bounds")
				}
			}
		case bytecode.OpJumpNone:
			a, off := r.U8(), r.U32()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			if v.getReg(a).Type() == TypeNone {
				v.ip += int(off)
				if v.ip > len(v.module.Code) {
					return nil, errMalformed("jump target out of bounds")
				}
			}
		case bytecode.OpJumpNotError:
			a, off := r.U8(), r.U32()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			if v.getReg(a).Type() != TypeErr {
				v.ip += int(off)
				if v.ip > len(v.module.Code) {
					return nil, errMalformed("jump target out of bounds")
				}
			}

		case bytecode.OpIterInit:
			a, b := r.U8(), r.U8()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			it, err := v.makeIterator(v.getReg(b))
			if err != nil {
				return nil, err
			}
			v.setReg(a, it)
		case bytecode.OpIterNext:
			a, b := r.U8(), r.U8()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			it, ok := v.getReg(b).(*Iterator)
			if !ok {
				return nil, errMalformed("IterNext on a non-iterator register")
			}
			val, err := v.iterNext(it)
			if err != nil {
				return nil, err
			}
			if val == nil {
				val = None
			}
			v.setReg(a, val)

		case bytecode.OpImport:
			a, ref := r.U8(), r.U32()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			id, err := v.module.GetString(ref)
			if err != nil {
				return nil, err
			}
			val, err := v.importModule(id)
			if err != nil {
				return nil, err
			}
			v.setReg(a, val)
		case bytecode.OpBuildNative:
			a, ref := r.U8(), r.U32()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			name, err := v.module.GetString(ref)
			if err != nil {
				return nil, err
			}
			native, ok := v.natives[name]
			if !ok {
				return nil, v.runtimeError("unknown native '%s'", name)
			}
			v.setReg(a, native)

		case bytecode.OpBuildTuple, bytecode.OpBuildList:
			a, baseReg, count := r.U8(), r.U8(), r.U16()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			items := make([]Value, count)
			for i := range items {
				items[i] = v.getReg(baseReg + byte(i))
			}
			if op == bytecode.OpBuildTuple {
				v.setReg(a, v.newTuple(items))
			} else {
				v.setReg(a, v.newList(items))
			}
		case bytecode.OpBuildMap:
			a, baseReg, count := r.U8(), r.U8(), r.U16()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			if count%2 != 0 {
				return nil, errMalformed("BuildMap requires an even slot count")
			}
			m := v.newMap()
			// Root the map before Set allocations by writing it out
			// first; the source slots stay live on the stack.
			v.setReg(a, m)
			for i := uint16(0); i < count; i += 2 {
				m.Set(v.getReg(baseReg+byte(i)), v.getReg(baseReg+byte(i+1)))
			}
		case bytecode.OpBuildRange:
			a, b, c := r.U8(), r.U8(), r.U8()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			start, err := v.getInt(v.getReg(b))
			if err != nil {
				return nil, err
			}
			end, err := v.getInt(v.getReg(c))
			if err != nil {
				return nil, err
			}
			v.setReg(a, v.newRange(start, end, 1))

		case bytecode.OpBuildFn:
			a, argCount, capCount, entry := r.U8(), r.U8(), r.U8(), r.U32()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			if int(entry) > len(v.module.Code) {
				return nil, errMalformed("function entry out of bounds")
			}
			captures := make([]Value, capCount)
			for i := range captures {
				captures[i] = None
			}
			v.setReg(a, v.newFunc(int(argCount), entry, v.module, captures))
		case bytecode.OpLoadCapture:
			a, n := r.U8(), r.U8()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			if int(n) >= len(v.captures) {
				return nil, errMalformed("capture index out of bounds")
			}
			v.setReg(a, v.captures[n])
		case bytecode.OpStoreCapture:
			fnReg, valReg, n := r.U8(), r.U8(), r.U8()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			fn, ok := v.getReg(fnReg).(*Func)
			if !ok {
				return nil, errMalformed("StoreCapture on a non-function register")
			}
			if int(n) >= len(fn.Captures) {
				return nil, errMalformed("capture index out of bounds")
			}
			fn.Captures[n] = v.getReg(valReg)

		case bytecode.OpGet:
			a, b, c := r.U8(), r.U8(), r.U8()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			container := v.getReg(b)
			val, err := v.valueGet(container, v.getReg(c))
			if err != nil {
				return nil, err
			}
			v.setReg(a, val)
			v.lastGet = container
			v.thisArmed = true
		case bytecode.OpSet:
			a, b, c := r.U8(), r.U8(), r.U8()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			if err := v.valueSet(v.getReg(a), v.getReg(b), v.getReg(c)); err != nil {
				return nil, err
			}

		case bytecode.OpAs:
			a, b, id := r.U8(), r.U8(), bytecode.TypeID(r.U8())
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			target, err := v.typeID(id)
			if err != nil {
				return nil, err
			}
			val, err := v.valueAs(v.getReg(b), target)
			if err != nil {
				return nil, err
			}
			v.setReg(a, val)
		case bytecode.OpIs:
			a, b, id := r.U8(), r.U8(), bytecode.TypeID(r.U8())
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			target, err := v.typeID(id)
			if err != nil {
				return nil, err
			}
			v.setReg(a, Boolean(v.getReg(b).Type() == target))

		case bytecode.OpCall:
			retReg, fnReg, argBase, argCount := r.U8(), r.U8(), r.U8(), r.U16()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			callee := v.getReg(fnReg)
			var this Value
			if armed {
				this = v.lastGet
			}
			switch fn := callee.(type) {
			case *Native:
				if fn.Arity >= 0 && int(argCount) != fn.Arity {
					return nil, v.runtimeError("'%s' expects %d arguments, found %d", fn.Name, fn.Arity, argCount)
				}
				start := v.regIndex(argBase)
				if argCount > 0 {
					v.regIndex(argBase + byte(argCount-1))
				}
				val, err := fn.Fn(v, v.stack[start:start+int(argCount)])
				if err != nil {
					if _, ok := err.(*bogerr.Error); ok {
						return nil, err
					}
					return nil, v.runtimeError("%s", err.Error())
				}
				if val == nil {
					val = None
				}
				v.setReg(retReg, val)
			case *Func:
				if int(argCount) != fn.ArgCount {
					return nil, v.runtimeError("expected %d arguments, found %d", fn.ArgCount, argCount)
				}
				if len(v.frames) >= maxCallDepth {
					return nil, v.runtimeError("maximum call depth of %d exceeded", maxCallDepth)
				}
				v.frames = append(v.frames, frame{
					retIP:    v.ip,
					retSP:    v.sp,
					retLine:  v.lineLoc,
					retReg:   retReg,
					module:   v.module,
					captures: v.captures,
					this:     v.this,
				})
				v.sp += int(argBase)
				v.ip = int(fn.Entry)
				v.module = fn.Module
				v.captures = fn.Captures
				v.this = this
			default:
				return nil, v.runtimeError("cannot call '%s'", callee.Type())
			}

		case bytecode.OpReturn:
			a := r.U8()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			val := v.getReg(a)
			if len(v.frames) == base {
				return val, nil
			}
			v.popFrame(val)
		case bytecode.OpReturnNone:
			v.ip = r.IP
			if len(v.frames) == base {
				return None, nil
			}
			v.popFrame(None)

		case bytecode.OpLoadThis:
			a := r.U8()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			if v.this == nil {
				return nil, v.runtimeError("'this' is not set")
			}
			v.setReg(a, v.this)
		case bytecode.OpDiscard:
			a := r.U8()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			val := v.getReg(a)
			if val.Type() == TypeErr {
				return nil, v.runtimeError("error discarded")
			}
			if v.opts.Repl && len(v.frames) == base {
				return val, nil
			}
		case bytecode.OpLineInfo:
			loc := r.U32()
			if r.Err != nil {
				return nil, r.Err
			}
			v.ip = r.IP
			v.lineLoc = loc

		default:
			return nil, errMalformed("unknown opcode 0x%02x", byte(op))
		}

		// `this` is only valid on the instruction immediately following
		// its producing Get.
		if op != bytecode.OpGet && armed {
			v.thisArmed = false
			v.lastGet = nil
		}
	}
}

// copyValue implements Copy: aggregates copy shallowly, everything else
// is immutable and shared.
func (v *VM) copyValue(val Value) (Value, error) {
	switch t := val.(type) {
	case *List:
		return v.newList(append([]Value(nil), t.Items...)), nil
	case *Tuple:
		return v.newTuple(append([]Value(nil), t.Items...)), nil
	case *Map:
		m := v.newMap()
		for _, e := range t.entries {
			m.Set(e.Key, e.Value)
		}
		return m, nil
	}
	return val, nil
}

// arith dispatches the binary arithmetic opcodes with numeric promotion.
func (v *VM) arith(op bytecode.Op, a, b Value) (Value, error) {
	isNum, ai, bi, af, bf, err := v.numericPair(a, b)
	if err != nil {
		return nil, err
	}
	if op == bytecode.OpDiv {
		// `/` always yields num.
		if !isNum {
			af, bf = float64(ai), float64(bi)
		}
		if bf == 0 {
			return nil, v.runtimeError("division by zero")
		}
		return v.newNum(af / bf), nil
	}
	if isNum {
		switch op {
		case bytecode.OpAdd:
			return v.newNum(af + bf), nil
		case bytecode.OpSub:
			return v.newNum(af - bf), nil
		case bytecode.OpMul:
			return v.newNum(af * bf), nil
		case bytecode.OpPow:
			return v.newNum(math.Pow(af, bf)), nil
		case bytecode.OpDivFloor:
			if bf == 0 {
				return nil, v.runtimeError("division by zero")
			}
			return v.newInt(int64(math.Floor(af / bf))), nil
		case bytecode.OpMod:
			if bf == 0 {
				return nil, v.runtimeError("division by zero")
			}
			m := math.Mod(af, bf)
			if m != 0 && (m < 0) != (bf < 0) {
				m += bf
			}
			return v.newNum(m), nil
		}
	}
	switch op {
	case bytecode.OpAdd:
		val, ok := addChecked(ai, bi)
		if !ok {
			return nil, v.runtimeError("integer overflow")
		}
		return v.newInt(val), nil
	case bytecode.OpSub:
		val, ok := subChecked(ai, bi)
		if !ok {
			return nil, v.runtimeError("integer overflow")
		}
		return v.newInt(val), nil
	case bytecode.OpMul:
		val, ok := mulChecked(ai, bi)
		if !ok {
			return nil, v.runtimeError("integer overflow")
		}
		return v.newInt(val), nil
	case bytecode.OpPow:
		val, err := v.powInt(ai, bi)
		if err != nil {
			return nil, err
		}
		return v.newInt(val), nil
	case bytecode.OpDivFloor:
		if bi == 0 {
			return nil, v.runtimeError("division by zero")
		}
		if ai == math.MinInt64 && bi == -1 {
			return nil, v.runtimeError("integer overflow")
		}
		q := ai / bi
		if (ai%bi != 0) && ((ai < 0) != (bi < 0)) {
			q--
		}
		return v.newInt(q), nil
	case bytecode.OpMod:
		if bi == 0 {
			return nil, v.runtimeError("division by zero")
		}
		m := ai % bi
		if m != 0 && (m < 0) != (bi < 0) {
			m += bi
		}
		return v.newInt(m), nil
	}
	return nil, errMalformed("not an arithmetic opcode")
}

func (v *VM) compare(op bytecode.Op, a, b Value) (Value, error) {
	isNum, ai, bi, af, bf, err := v.numericPair(a, b)
	if err != nil {
		return nil, err
	}
	var lt, le, gt, ge bool
	if isNum {
		lt, le, gt, ge = af < bf, af <= bf, af > bf, af >= bf
	} else {
		lt, le, gt, ge = ai < bi, ai <= bi, ai > bi, ai >= bi
	}
	switch op {
	case bytecode.OpLessThan:
		return Boolean(lt), nil
	case bytecode.OpLessThanEqual:
		return Boolean(le), nil
	case bytecode.OpGreaterThan:
		return Boolean(gt), nil
	default:
		return Boolean(ge), nil
	}
}

func addChecked(a, b int64) (int64, bool) {
	r := a + b
	if (b > 0 && r < a) || (b < 0 && r > a) {
		return 0, false
	}
	return r, true
}

func subChecked(a, b int64) (int64, bool) {
	r := a - b
	if (b < 0 && r < a) || (b > 0 && r > a) {
		return 0, false
	}
	return r, true
}

func mulChecked(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if (a == math.MinInt64 && b == -1) || (b == math.MinInt64 && a == -1) {
		return 0, false
	}
	r := a * b
	if r/b != a {
		return 0, false
	}
	return r, true
}

// powInt is integer exponentiation by squaring with overflow reporting.
func (v *VM) powInt(base, exp int64) (int64, error) {
	if exp < 0 {
		return 0, v.runtimeError("negative exponent")
	}
	result := int64(1)
	for exp > 0 {
		if exp&1 == 1 {
			r, ok := mulChecked(result, base)
			if !ok {
				return 0, v.runtimeError("integer overflow")
			}
			result = r
		}
		exp >>= 1
		if exp > 0 {
			b, ok := mulChecked(base, base)
			if !ok {
				return 0, v.runtimeError("integer overflow")
			}
			base = b
		}
	}
	return result, nil
}
