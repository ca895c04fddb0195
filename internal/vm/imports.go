// internal/vm/imports.go
package vm

import (
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	pkgerrors "github.com/pkg/errors"

	"bog/internal/bytecode"
	bogerr "bog/internal/errors"
)

// importModule resolves an import id: first the memoized results, then
// registered native modules, then (when file imports are enabled) .bog
// sources compiled through CompileImport and precompiled .bogc files.
//
// Results are memoized per id. A cyclic import observes the first-touch
// partial result (none until the first import of the cycle finishes).
func (v *VM) importModule(id string) (Value, error) {
	if result, ok := v.importResults[id]; ok {
		return result, nil
	}

	if natives, ok := v.nativeModules[id]; ok {
		m := v.newMap()
		v.importResults[id] = m
		for _, n := range natives {
			m.Set(v.newStr(n.Name), n)
		}
		return m, nil
	}

	module, ok := v.imported[id]
	if !ok {
		if !v.opts.ImportFiles {
			return nil, v.runtimeError("import failed")
		}
		var err error
		switch {
		case strings.HasSuffix(id, ".bog"):
			module, err = v.loadSource(id)
		case strings.HasSuffix(id, ".bogc"):
			module, err = v.loadCompiled(id)
		default:
			return nil, v.runtimeError("import failed")
		}
		if err != nil {
			return nil, err
		}
		v.imported[id] = module
	}

	// First touch: a cycle back into this id sees none.
	v.importResults[id] = None
	result, err := v.Exec(module)
	if err != nil {
		delete(v.importResults, id)
		return nil, err
	}
	v.importResults[id] = result
	return result, nil
}

// loadSource reads and compiles a .bog file, bounded by MaxImportSize.
func (v *VM) loadSource(id string) (*bytecode.Module, error) {
	if v.CompileImport == nil {
		return nil, v.runtimeError("import failed")
	}
	info, err := os.Stat(id)
	if err != nil {
		v.errs.Add(v.lineLoc, "import failed: %v", err)
		return nil, bogerr.New(bogerr.IoError, "%s", pkgerrors.Wrapf(err, "import %q", id))
	}
	if info.Size() > int64(v.opts.MaxImportSize) {
		return nil, v.runtimeError("imported file exceeds the %s limit",
			humanize.IBytes(uint64(v.opts.MaxImportSize)))
	}
	source, err := os.ReadFile(id)
	if err != nil {
		v.errs.Add(v.lineLoc, "import failed: %v", err)
		return nil, bogerr.New(bogerr.IoError, "%s", pkgerrors.Wrapf(err, "import %q", id))
	}
	return v.CompileImport(id, source, v.errs)
}

// loadCompiled links a .bogc file into a fresh module with its own
// code and strings buffers.
func (v *VM) loadCompiled(id string) (*bytecode.Module, error) {
	f, err := os.Open(id)
	if err != nil {
		v.errs.Add(v.lineLoc, "import failed: %v", err)
		return nil, bogerr.New(bogerr.IoError, "%s", pkgerrors.Wrapf(err, "import %q", id))
	}
	defer f.Close()
	module, err := bytecode.ReadFile(f)
	if err != nil {
		v.errs.Add(v.lineLoc, "import failed: %v", err)
		return nil, err
	}
	module.Name = id
	return module, nil
}
