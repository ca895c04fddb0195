package compiler

import (
	"strings"
	"testing"

	"bog/internal/bytecode"
	bogerr "bog/internal/errors"
	"bog/internal/parser"
	"bog/internal/vm"
)

func compile(t *testing.T, src string) *bytecode.Module {
	t.Helper()
	errs := bogerr.NewList()
	tree, err := parser.Parse("test", []byte(src), errs)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	module, err := Compile(tree, errs)
	if err != nil {
		t.Fatalf("compile %q: %v", src, err)
	}
	return module
}

func runSource(t *testing.T, src string) (vm.Value, error) {
	t.Helper()
	return vm.New(vm.Options{}, bogerr.NewList()).Exec(compile(t, src))
}

func wantIntResult(t *testing.T, src string, want int64) {
	t.Helper()
	result, err := runSource(t, src)
	if err != nil {
		t.Fatalf("%q: %v", src, err)
	}
	i, ok := result.(*vm.Int)
	if !ok {
		t.Fatalf("%q: got %s %q, want int", src, result.Type(), vm.String(result))
	}
	if i.V != want {
		t.Fatalf("%q: got %d, want %d", src, i.V, want)
	}
}

func TestCompileArithmetic(t *testing.T) {
	wantIntResult(t, "return 1 + 2 * 3", 7)
	wantIntResult(t, "return (1 + 2) * 3", 9)
	wantIntResult(t, "return 2 ** 3 ** 2", 512)
	wantIntResult(t, "return 7 // 2", 3)
	wantIntResult(t, "return -7 // 2", -4)
	wantIntResult(t, "return 7 % 3", 1)
	wantIntResult(t, "return 1 << 4", 16)
	wantIntResult(t, "return ~0 & 15", 15)
}

func TestCompileLetAndAssign(t *testing.T) {
	wantIntResult(t, "let x = 1 + 2\nreturn x", 3)
	wantIntResult(t, "let x = 1\nx = 5\nreturn x", 5)
	wantIntResult(t, "let x = 1\nx += 2\nx *= 3\nreturn x", 9)
	// The shadowed binding stays visible while the new one is computed.
	wantIntResult(t, "let x = 1\nlet x = x + 1\nreturn x", 2)
}

func TestCompileLastStatementIsModuleResult(t *testing.T) {
	wantIntResult(t, "1 + 2", 3)
	result, err := runSource(t, "let x = 1")
	if err != nil {
		t.Fatal(err)
	}
	if result != vm.None {
		t.Fatalf("a trailing let should yield none, got %s", vm.String(result))
	}
}

func TestCompileBool(t *testing.T) {
	wantIntResult(t, "return if (true and false) 1 else 2", 2)
	wantIntResult(t, "return if (false or true) 1 else 2", 1)
	wantIntResult(t, "return if (not false) 1 else 2", 1)
	// The right side is skipped entirely when the left decides.
	wantIntResult(t, "let xs = [1]\nreturn if (false and xs[9] == 0) 1 else 2", 2)
}

func TestCompileIf(t *testing.T) {
	wantIntResult(t, "return if (1 < 2) 10 else 20", 10)
	result, err := runSource(t, "return if (false) 1")
	if err != nil {
		t.Fatal(err)
	}
	if result != vm.None {
		t.Fatalf("if without else yields none, got %s", vm.String(result))
	}
	wantIntResult(t, "let x = ()\nreturn if (let v = x) v else 9", 9)
	wantIntResult(t, "let x = 4\nreturn if (let v = x) v else 9", 4)
}

func TestCompileWhile(t *testing.T) {
	wantIntResult(t, "let i = 0\nwhile (i < 5) i += 1\nreturn i", 5)
	wantIntResult(t, "let i = 0\nreturn while (true) {\n\ti += 1\n\tif (i == 3) break i\n}", 3)
	wantIntResult(t, "let s = 0\nlet i = 0\nwhile (i < 5) {\n\ti += 1\n\tif (i == 2) continue\n\ts += i\n}\nreturn s", 13)
}

func TestCompileForLoop(t *testing.T) {
	wantIntResult(t, "let xs = [1,2,3]\nlet s = 0\nfor (let v in xs) s += v\nreturn s", 6)
	wantIntResult(t, "let s = 0\nfor (let i in 0...4) s += i\nreturn s", 6)
	wantIntResult(t, "let s = 0\nfor (let c in \"abc\") s += 1\nreturn s", 3)
	wantIntResult(t, "let m = {a: 1, b: 2}\nlet s = 0\nfor (let (k, v) in m) s += v\nreturn s", 3)
}

func TestCompileFunctions(t *testing.T) {
	wantIntResult(t, "fn pow(x) x * x\nreturn pow(pow(2))", 16)
	wantIntResult(t, "let add = fn(a, b) a + b\nreturn add(1, 2)", 3)
	wantIntResult(t, "fn fib(n) if (n < 2) n else fib(n - 1) + fib(n - 2)\nreturn fib(10)", 55)
}

func TestCompileCaptures(t *testing.T) {
	wantIntResult(t, "let n = 10\nfn addN(x) x + n\nreturn addN(5)", 15)
	// Captures bind by value at creation time.
	wantIntResult(t, "let n = 1\nfn get() n\nn = 2\nreturn get()", 1)
	wantIntResult(t, `
let a = 7
fn outer() {
	fn inner() a
	return inner()
}
return outer()`, 7)
}

func TestCompilePatterns(t *testing.T) {
	wantIntResult(t, "let (a, b) = (1, 2)\nreturn a + b", 3)
	wantIntResult(t, "let [x, _, z] = [1, 2, 3]\nreturn x + z", 4)
	wantIntResult(t, "let {a, b: c} = {a: 1, b: 2}\nreturn a + c", 3)
	wantIntResult(t, "let error(e) = error(42)\nreturn e", 42)
	wantIntResult(t, "fn first((a, b)) a\nreturn first((5, 6))", 5)
}

func TestCompileMatch(t *testing.T) {
	src := `
fn describe(x) match (x) {
	0, 1: 10
	2: 20
	_: 30
}
return describe(2)`
	wantIntResult(t, src, 20)
	wantIntResult(t, strings.Replace(src, "describe(2)", "describe(1)", 1), 10)
	wantIntResult(t, strings.Replace(src, "describe(2)", "describe(9)", 1), 30)
	wantIntResult(t, "return match (5) {\n\tlet n: n + 1\n}", 6)
	result, err := runSource(t, "return match (5) {\n\t1: 1\n}")
	if err != nil {
		t.Fatal(err)
	}
	if result != vm.None {
		t.Fatalf("unmatched match yields none, got %s", vm.String(result))
	}
}

func TestCompileErrorsAndCatch(t *testing.T) {
	wantIntResult(t, "return error(1) catch 9", 9)
	wantIntResult(t, "return error(5) catch let e: e + 1", 6)
	wantIntResult(t, "return 3 catch 9", 3)
	result, err := runSource(t, `error("oops")`)
	if err != nil {
		t.Fatal(err)
	}
	if result.Type() != vm.TypeErr {
		t.Fatalf("got %s, want err", result.Type())
	}
}

func TestCompileTryPropagates(t *testing.T) {
	result, err := runSource(t, "fn f() try error(1)\nf()\nreturn 5")
	if err != nil {
		t.Fatal(err)
	}
	if result.Type() != vm.TypeErr {
		t.Fatalf("got %s %q, want the propagated err", result.Type(), vm.String(result))
	}
}

func TestCompileCollections(t *testing.T) {
	wantIntResult(t, "let xs = [10, 20]\nreturn xs[1]", 20)
	wantIntResult(t, "let xs = [10, 20]\nreturn xs[-1]", 20)
	wantIntResult(t, "let xs = [1, 2]\nxs[0] = 9\nreturn xs[0]", 9)
	wantIntResult(t, "let m = {a: 1}\nreturn m.a", 1)
	wantIntResult(t, "let m = {a: 1}\nm.b = 5\nreturn m.b", 5)
	wantIntResult(t, "let m = {}\nm[\"k\"] = 3\nreturn m[\"k\"]", 3)
	wantIntResult(t, "let t = (1, 2, 3)\nreturn t[2]", 3)
	wantIntResult(t, "return if (2 in [1, 2]) 1 else 0", 1)
}

func TestCompileMemberCall(t *testing.T) {
	wantIntResult(t, "let m = {double: fn(x) x * 2}\nreturn m.double(21)", 42)
}

func TestCompileTypeOps(t *testing.T) {
	wantIntResult(t, "return if (1 is int) 1 else 0", 1)
	wantIntResult(t, "return if (1.5 is int) 1 else 0", 0)
	wantIntResult(t, "return if (error(1) is err) 1 else 0", 1)
	wantIntResult(t, "return \"12\" as int", 12)
	wantIntResult(t, "return 3.9 as int", 3)
}

func TestCompileBlocksScope(t *testing.T) {
	wantIntResult(t, "let x = 1\n{\n\tlet x = 2\n\tx = 3\n}\nreturn x", 1)
	result, err := runSource(t, "{\n\tlet y = 1\n}")
	if err != nil {
		t.Fatal(err)
	}
	if result != vm.None {
		t.Fatalf("block value is none, got %s", vm.String(result))
	}
}

func TestCompileFailures(t *testing.T) {
	bad := []string{
		"x = 1",
		"break",
		"continue",
		"let n = 1\nfn set() n = 2\nreturn 0",
	}
	for _, src := range bad {
		errs := bogerr.NewList()
		tree, err := parser.Parse("test", []byte(src), errs)
		if err != nil {
			t.Fatalf("parse %q: %v", src, err)
		}
		if _, err := Compile(tree, errs); err == nil {
			t.Fatalf("%q should fail to compile", src)
		} else if kind := bogerr.KindOf(err); kind != bogerr.CompileError {
			t.Fatalf("%q: kind = %s, want CompileError", src, kind)
		}
	}
}

func TestCompiledShape(t *testing.T) {
	listing := bytecode.DisasmString(compile(t, "let x = 1\nreturn x"))
	for _, want := range []string{"ConstInt8", "Return", "LineInfo"} {
		if !strings.Contains(listing, want) {
			t.Fatalf("listing missing %q:\n%s", want, listing)
		}
	}
}

func TestCompileUndeclaredBecomesNative(t *testing.T) {
	// Free identifiers compile to native lookups and fail at runtime
	// when nothing is registered under the name.
	_, err := runSource(t, "return no_such_thing")
	if err == nil {
		t.Fatal("expected a runtime failure")
	}
	if kind := bogerr.KindOf(err); kind != bogerr.RuntimeError {
		t.Fatalf("kind = %s, want RuntimeError", kind)
	}
}
