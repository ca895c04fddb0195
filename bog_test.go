package bog

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bog/internal/bytecode"
	bogerr "bog/internal/errors"
	"bog/internal/vm"
)

func runSrc(t *testing.T, opts Options, src string) (Value, error) {
	t.Helper()
	return New(opts).Run("test.bog", []byte(src))
}

func wantInt(t *testing.T, val Value, want int64) {
	t.Helper()
	i, ok := val.(*vm.Int)
	if !ok {
		t.Fatalf("got %s %q, want int", val.Type(), FormatValue(val))
	}
	if i.V != want {
		t.Fatalf("got %d, want %d", i.V, want)
	}
}

func TestRunSimpleProgram(t *testing.T) {
	result, err := runSrc(t, Options{}, "let x = 1 + 2\nreturn x")
	if err != nil {
		t.Fatal(err)
	}
	wantInt(t, result, 3)
}

func TestRunForLoop(t *testing.T) {
	result, err := runSrc(t, Options{}, "let xs = [1,2,3]\nlet s = 0\nfor (let v in xs) s += v\nreturn s")
	if err != nil {
		t.Fatal(err)
	}
	wantInt(t, result, 6)
}

func TestRunNestedCalls(t *testing.T) {
	result, err := runSrc(t, Options{}, "fn pow(x) x * x\nreturn pow(pow(2))")
	if err != nil {
		t.Fatal(err)
	}
	wantInt(t, result, 16)
}

func TestImportDisabledFails(t *testing.T) {
	_, err := runSrc(t, Options{}, `import("m.bog")`)
	if err == nil {
		t.Fatal("expected an error")
	}
	if kind := ErrorKind(err); kind != RuntimeError {
		t.Fatalf("kind = %s, want RuntimeError", kind)
	}
	if !strings.Contains(err.Error(), "import failed") {
		t.Fatalf("message = %q, want it to mention import failed", err.Error())
	}
}

func TestModuleLevelErrorValue(t *testing.T) {
	result, err := runSrc(t, Options{}, `error("oops")`)
	if err != nil {
		t.Fatal(err)
	}
	if !IsError(result) {
		t.Fatalf("got %s, want an err value", result.Type())
	}
	inner := result.(*vm.Err).V
	if s, ok := inner.(*vm.Str); !ok || s.V != "oops" {
		t.Fatalf("wrapped value = %s", FormatValue(inner))
	}
}

func TestNegativeShift(t *testing.T) {
	_, err := runSrc(t, Options{}, "1 << -1")
	if err == nil {
		t.Fatal("expected an error")
	}
	if kind := ErrorKind(err); kind != RuntimeError {
		t.Fatalf("kind = %s, want RuntimeError", kind)
	}
	if !strings.Contains(err.Error(), "shift by negative amount") {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		src  string
		kind bogerr.Kind
	}{
		{"09", TokenizeError},
		{"let = 1", ParseError},
		{"break", CompileError},
		{"1 + true", RuntimeError},
	}
	for _, tt := range tests {
		_, err := runSrc(t, Options{}, tt.src)
		if err == nil {
			t.Fatalf("%q should fail", tt.src)
		}
		if kind := ErrorKind(err); kind != tt.kind {
			t.Fatalf("%q: kind = %s, want %s", tt.src, kind, tt.kind)
		}
	}
}

func TestRegisterNative(t *testing.T) {
	b := New(Options{})
	b.RegisterNative("answer", 0, func(v *vm.VM, args []Value) (Value, error) {
		return v.NewInt(42), nil
	})
	result, err := b.Run("test.bog", []byte("return answer()"))
	if err != nil {
		t.Fatal(err)
	}
	wantInt(t, result, 42)
}

func TestStdlibImport(t *testing.T) {
	var out bytes.Buffer
	b := New(Options{})
	b.SetStdout(&out)
	src := "let io = import(\"io\")\nio.println(\"hi\")\nreturn len(\"abc\")"
	result, err := b.Run("test.bog", []byte(src))
	if err != nil {
		t.Fatal(err)
	}
	wantInt(t, result, 3)
	if out.String() != "hi\n" {
		t.Fatalf("output = %q", out.String())
	}
}

func TestMathModule(t *testing.T) {
	result, err := runSrc(t, Options{}, "let m = import(\"math\")\nreturn m.sqrt(81.0) as int")
	if err != nil {
		t.Fatal(err)
	}
	wantInt(t, result, 9)
}

func TestCallMember(t *testing.T) {
	b := New(Options{})
	result, err := b.Run("test.bog", []byte("return {add: fn(a, b) a + b}"))
	if err != nil {
		t.Fatal(err)
	}
	v := b.VM()
	sum, err := b.CallMember(result, "add", v.NewInt(2), v.NewInt(3))
	if err != nil {
		t.Fatal(err)
	}
	wantInt(t, sum, 5)

	if _, err := b.CallMember(result, "missing"); err == nil {
		t.Fatal("missing member should fail")
	}
	if _, err := b.CallMember(v.NewInt(1), "add"); err == nil {
		t.Fatal("non-map receiver should fail")
	}
}

func TestImportSourceFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mod.bog")
	if err := os.WriteFile(path, []byte("return 7"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := "let a = import(\"" + path + "\")\nlet b = import(\"" + path + "\")\nreturn a + b"
	result, err := runSrc(t, Options{ImportFiles: true}, src)
	if err != nil {
		t.Fatal(err)
	}
	wantInt(t, result, 14)
}

func TestImportSizeLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.bog")
	if err := os.WriteFile(path, []byte("return 1 + 1 + 1 + 1"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := runSrc(t, Options{ImportFiles: true, MaxImportSize: 4}, "return import(\""+path+"\")")
	if err == nil {
		t.Fatal("oversized import should fail")
	}
	if kind := ErrorKind(err); kind != RuntimeError {
		t.Fatalf("kind = %s", kind)
	}
}

func TestImportCompiledFile(t *testing.T) {
	errs := bogerr.NewList()
	module, err := CompileSource("mod.bog", []byte("return 11"), errs)
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "mod.bogc")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := bytecode.WriteFile(f, module); err != nil {
		t.Fatal(err)
	}
	f.Close()

	result, err := runSrc(t, Options{ImportFiles: true}, "return import(\""+path+"\")")
	if err != nil {
		t.Fatal(err)
	}
	wantInt(t, result, 11)
}

func TestRunModule(t *testing.T) {
	errs := bogerr.NewList()
	module, err := CompileSource("m.bog", []byte("return 2 + 3"), errs)
	if err != nil {
		t.Fatal(err)
	}
	result, err := New(Options{}).RunModule(module)
	if err != nil {
		t.Fatal(err)
	}
	wantInt(t, result, 5)
}

func TestRenderErrors(t *testing.T) {
	b := New(Options{})
	src := []byte("let x = 1\nx = 09")
	_, err := b.Run("bad.bog", src)
	if err == nil {
		t.Fatal("expected an error")
	}
	var out bytes.Buffer
	b.RenderErrors(&out, "bad.bog", src)
	rendered := out.String()
	if !strings.Contains(rendered, "bad.bog:2:") {
		t.Fatalf("rendered output missing location:\n%s", rendered)
	}
	if !strings.Contains(rendered, "error:") {
		t.Fatalf("rendered output missing label:\n%s", rendered)
	}
}

func TestDeterminism(t *testing.T) {
	src := "let s = 0\nfor (let i in 0...101) s += i\nreturn s"
	first, err := runSrc(t, Options{}, src)
	if err != nil {
		t.Fatal(err)
	}
	second, err := runSrc(t, Options{}, src)
	if err != nil {
		t.Fatal(err)
	}
	if !vm.Eql(first, second) {
		t.Fatalf("results differ: %s vs %s", FormatValue(first), FormatValue(second))
	}
	wantInt(t, first, 5050)
}
