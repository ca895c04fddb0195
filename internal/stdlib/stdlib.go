// Package stdlib registers the default native modules. Importing a
// module id like "io" yields a map of its natives; every native is also
// reachable directly as "io.print".
package stdlib

import "bog/internal/vm"

// Register installs all default native modules into a VM. Must run
// before execution starts.
func Register(v *vm.VM) {
	v.RegisterNativeModule("io", ioNatives())
	v.RegisterNativeModule("os", osNatives())
	v.RegisterNativeModule("math", mathNatives())
	v.RegisterNativeModule("db", dbNatives())
	v.RegisterNativeModule("net", netNatives())

	// Core conveniences available without an import.
	for _, n := range coreNatives() {
		v.RegisterNative(n.Name, n.Arity, n.Fn)
	}
}
