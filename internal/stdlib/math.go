package stdlib

import (
	"fmt"
	"math"

	"bog/internal/vm"
)

func mathNatives() []*vm.Native {
	return []*vm.Native{
		{Name: "pi", Arity: 0, Fn: constFn(math.Pi)},
		{Name: "e", Arity: 0, Fn: constFn(math.E)},
		{Name: "ln", Arity: 1, Fn: floatFn(math.Log)},
		{Name: "log2", Arity: 1, Fn: floatFn(math.Log2)},
		{Name: "log10", Arity: 1, Fn: floatFn(math.Log10)},
		{Name: "sqrt", Arity: 1, Fn: floatFn(math.Sqrt)},
		{Name: "sin", Arity: 1, Fn: floatFn(math.Sin)},
		{Name: "cos", Arity: 1, Fn: floatFn(math.Cos)},
		{Name: "floor", Arity: 1, Fn: floatFn(math.Floor)},
		{Name: "ceil", Arity: 1, Fn: floatFn(math.Ceil)},
		{Name: "abs", Arity: 1, Fn: absFn},
		{Name: "min", Arity: 2, Fn: pickFn(true)},
		{Name: "max", Arity: 2, Fn: pickFn(false)},
	}
}

func constFn(value float64) vm.NativeFn {
	return func(v *vm.VM, args []vm.Value) (vm.Value, error) {
		return v.NewNum(value), nil
	}
}

func numArg(arg vm.Value) (float64, error) {
	switch t := arg.(type) {
	case *vm.Int:
		return float64(t.V), nil
	case *vm.Num:
		return t.V, nil
	}
	return 0, fmt.Errorf("expected a number, found '%s'", arg.Type())
}

func floatFn(fn func(float64) float64) vm.NativeFn {
	return func(v *vm.VM, args []vm.Value) (vm.Value, error) {
		x, err := numArg(args[0])
		if err != nil {
			return nil, err
		}
		return v.NewNum(fn(x)), nil
	}
}

func absFn(v *vm.VM, args []vm.Value) (vm.Value, error) {
	switch t := args[0].(type) {
	case *vm.Int:
		if t.V == math.MinInt64 {
			return nil, fmt.Errorf("integer overflow")
		}
		if t.V < 0 {
			return v.NewInt(-t.V), nil
		}
		return args[0], nil
	case *vm.Num:
		return v.NewNum(math.Abs(t.V)), nil
	}
	return nil, fmt.Errorf("expected a number, found '%s'", args[0].Type())
}

func pickFn(min bool) vm.NativeFn {
	return func(v *vm.VM, args []vm.Value) (vm.Value, error) {
		x, err := numArg(args[0])
		if err != nil {
			return nil, err
		}
		y, err := numArg(args[1])
		if err != nil {
			return nil, err
		}
		if (x < y) == min {
			return args[0], nil
		}
		return args[1], nil
	}
}
