package stdlib

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"bog/internal/vm"
)

func osNatives() []*vm.Native {
	return []*vm.Native{
		{Name: "getenv", Arity: 1, Fn: getenvFn},
		{Name: "setenv", Arity: 2, Fn: setenvFn},
		{Name: "args", Arity: 0, Fn: argsFn},
		{Name: "time", Arity: 0, Fn: timeFn},
		{Name: "uuid", Arity: 0, Fn: uuidFn},
	}
}

func getenvFn(v *vm.VM, args []vm.Value) (vm.Value, error) {
	name, ok := args[0].(*vm.Str)
	if !ok {
		return nil, fmt.Errorf("expected a string, found '%s'", args[0].Type())
	}
	value, found := os.LookupEnv(name.V)
	if !found {
		return vm.None, nil
	}
	return v.NewStr(value), nil
}

func setenvFn(v *vm.VM, args []vm.Value) (vm.Value, error) {
	name, ok := args[0].(*vm.Str)
	if !ok {
		return nil, fmt.Errorf("expected a string, found '%s'", args[0].Type())
	}
	value, ok := args[1].(*vm.Str)
	if !ok {
		return nil, fmt.Errorf("expected a string, found '%s'", args[1].Type())
	}
	if err := os.Setenv(name.V, value.V); err != nil {
		return v.NewError(v.NewStr(err.Error())), nil
	}
	return vm.None, nil
}

func argsFn(v *vm.VM, args []vm.Value) (vm.Value, error) {
	items := make([]vm.Value, len(os.Args))
	for i, arg := range os.Args {
		items[i] = v.NewStr(arg)
	}
	return v.NewList(items), nil
}

func timeFn(v *vm.VM, args []vm.Value) (vm.Value, error) {
	return v.NewNum(float64(time.Now().UnixNano()) / 1e9), nil
}

func uuidFn(v *vm.VM, args []vm.Value) (vm.Value, error) {
	return v.NewStr(uuid.NewString()), nil
}
