package stdlib

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"bog/internal/vm"
)

// coreNatives are available without an import.
func coreNatives() []*vm.Native {
	return []*vm.Native{
		{Name: "print", Arity: -1, Fn: printFn},
		{Name: "println", Arity: -1, Fn: printlnFn},
		{Name: "len", Arity: 1, Fn: lenFn},
	}
}

func ioNatives() []*vm.Native {
	return []*vm.Native{
		{Name: "print", Arity: -1, Fn: printFn},
		{Name: "println", Arity: -1, Fn: printlnFn},
		{Name: "input", Arity: 1, Fn: inputFn},
		{Name: "readFile", Arity: 1, Fn: readFileFn},
		{Name: "writeFile", Arity: 2, Fn: writeFileFn},
	}
}

func printFn(v *vm.VM, args []vm.Value) (vm.Value, error) {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = vm.String(arg)
	}
	fmt.Fprint(v.Stdout, strings.Join(parts, " "))
	return vm.None, nil
}

func printlnFn(v *vm.VM, args []vm.Value) (vm.Value, error) {
	if _, err := printFn(v, args); err != nil {
		return nil, err
	}
	fmt.Fprintln(v.Stdout)
	return vm.None, nil
}

func lenFn(v *vm.VM, args []vm.Value) (vm.Value, error) {
	switch t := args[0].(type) {
	case *vm.Str:
		return v.NewInt(int64(len(t.V))), nil
	case *vm.Tuple:
		return v.NewInt(int64(len(t.Items))), nil
	case *vm.List:
		return v.NewInt(int64(len(t.Items))), nil
	case *vm.Map:
		return v.NewInt(int64(t.Len())), nil
	}
	return nil, fmt.Errorf("cannot take length of '%s'", args[0].Type())
}

func inputFn(v *vm.VM, args []vm.Value) (vm.Value, error) {
	prompt, ok := args[0].(*vm.Str)
	if !ok {
		return nil, fmt.Errorf("expected a string prompt, found '%s'", args[0].Type())
	}
	fmt.Fprint(v.Stdout, prompt.V)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return v.NewError(v.NewStr(err.Error())), nil
	}
	return v.NewStr(strings.TrimRight(line, "\r\n")), nil
}

// readFileFn returns the file contents, or a language-level error value
// the script can catch.
func readFileFn(v *vm.VM, args []vm.Value) (vm.Value, error) {
	path, ok := args[0].(*vm.Str)
	if !ok {
		return nil, fmt.Errorf("expected a string path, found '%s'", args[0].Type())
	}
	data, err := os.ReadFile(path.V)
	if err != nil {
		return v.NewError(v.NewStr(err.Error())), nil
	}
	return v.NewStr(string(data)), nil
}

func writeFileFn(v *vm.VM, args []vm.Value) (vm.Value, error) {
	path, ok := args[0].(*vm.Str)
	if !ok {
		return nil, fmt.Errorf("expected a string path, found '%s'", args[0].Type())
	}
	content, ok := args[1].(*vm.Str)
	if !ok {
		return nil, fmt.Errorf("expected string contents, found '%s'", args[1].Type())
	}
	if err := os.WriteFile(path.V, []byte(content.V), 0o644); err != nil {
		return v.NewError(v.NewStr(err.Error())), nil
	}
	return vm.None, nil
}
