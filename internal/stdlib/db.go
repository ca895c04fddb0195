package stdlib

import (
	"fmt"

	"bog/internal/database"
	"bog/internal/vm"
)

// Connections are process-wide, matching the lifetime of registered
// natives.
var dbManager = database.NewManager()

func dbNatives() []*vm.Native {
	return []*vm.Native{
		{Name: "open", Arity: 3, Fn: dbOpenFn},
		{Name: "exec", Arity: 2, Fn: dbExecFn},
		{Name: "query", Arity: 2, Fn: dbQueryFn},
		{Name: "close", Arity: 1, Fn: dbCloseFn},
	}
}

func strArg(args []vm.Value, i int) (string, error) {
	s, ok := args[i].(*vm.Str)
	if !ok {
		return "", fmt.Errorf("expected a string, found '%s'", args[i].Type())
	}
	return s.V, nil
}

// dbOpenFn opens a named connection: db.open("main", "sqlite", "file.db").
func dbOpenFn(v *vm.VM, args []vm.Value) (vm.Value, error) {
	id, err := strArg(args, 0)
	if err != nil {
		return nil, err
	}
	kind, err := strArg(args, 1)
	if err != nil {
		return nil, err
	}
	dsn, err := strArg(args, 2)
	if err != nil {
		return nil, err
	}
	if err := dbManager.Connect(id, kind, dsn); err != nil {
		return v.NewError(v.NewStr(err.Error())), nil
	}
	return vm.None, nil
}

func dbExecFn(v *vm.VM, args []vm.Value) (vm.Value, error) {
	id, err := strArg(args, 0)
	if err != nil {
		return nil, err
	}
	query, err := strArg(args, 1)
	if err != nil {
		return nil, err
	}
	affected, err := dbManager.Exec(id, query)
	if err != nil {
		return v.NewError(v.NewStr(err.Error())), nil
	}
	return v.NewInt(affected), nil
}

// dbQueryFn returns a list of row maps keyed by column name.
func dbQueryFn(v *vm.VM, args []vm.Value) (vm.Value, error) {
	id, err := strArg(args, 0)
	if err != nil {
		return nil, err
	}
	query, err := strArg(args, 1)
	if err != nil {
		return nil, err
	}
	rows, err := dbManager.Query(id, query)
	if err != nil {
		return v.NewError(v.NewStr(err.Error())), nil
	}
	items := make([]vm.Value, 0, len(rows))
	for _, row := range rows {
		m := v.NewMap()
		items = append(items, m)
		for col, cell := range row {
			m.Set(v.NewStr(col), cellValue(v, cell))
		}
	}
	return v.NewList(items), nil
}

func cellValue(v *vm.VM, cell interface{}) vm.Value {
	switch t := cell.(type) {
	case nil:
		return vm.None
	case bool:
		return vm.Boolean(t)
	case int64:
		return v.NewInt(t)
	case float64:
		return v.NewNum(t)
	case string:
		return v.NewStr(t)
	default:
		return v.NewStr(fmt.Sprint(t))
	}
}

func dbCloseFn(v *vm.VM, args []vm.Value) (vm.Value, error) {
	id, err := strArg(args, 0)
	if err != nil {
		return nil, err
	}
	if err := dbManager.Close(id); err != nil {
		return v.NewError(v.NewStr(err.Error())), nil
	}
	return vm.None, nil
}
