// cmd/bog/main.go
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"bog"
	"bog/internal/bytecode"
	bogerr "bog/internal/errors"
	"bog/internal/repl"
)

const version = "0.1.0"

// Exit codes: 0 success, 1 usage, then one per error kind.
var exitCodes = map[bogerr.Kind]int{
	bogerr.TokenizeError:     10,
	bogerr.ParseError:        11,
	bogerr.CompileError:      12,
	bogerr.RuntimeError:      13,
	bogerr.MalformedByteCode: 14,
	bogerr.OutOfMemory:       15,
	bogerr.IoError:           16,
}

// config mirrors the optional bog.toml next to the invocation.
type config struct {
	ImportFiles   *bool  `toml:"import_files"`
	MaxImportSize uint32 `toml:"max_import_size"`
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}
	switch args[0] {
	case "help", "--help", "-h":
		usage()
	case "version", "--version", "-v":
		fmt.Printf("bog %s\n", version)
	case "run":
		if len(args) < 2 {
			usage()
			os.Exit(1)
		}
		os.Exit(runFile(args[1]))
	case "build":
		rest := args[1:]
		list := false
		if len(rest) > 0 && rest[0] == "-l" {
			list = true
			rest = rest[1:]
		}
		if len(rest) < 1 {
			usage()
			os.Exit(1)
		}
		os.Exit(buildFile(rest[0], list))
	case "repl":
		repl.Start(os.Stdin, os.Stdout)
	default:
		// `bog script.bog` runs the script directly.
		if strings.HasSuffix(args[0], ".bog") || strings.HasSuffix(args[0], ".bogc") {
			os.Exit(runFile(args[0]))
		}
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`usage: bog <command> [arguments]

commands:
  run <file>        run a .bog source file or .bogc bytecode file
  build [-l] <file> compile a source file to <file>c; -l lists the bytecode
  repl              start an interactive session
  version           print the version
  help              print this help

options are read from an optional bog.toml (import_files, max_import_size).
`)
}

// options loads bog.toml when present.
func options() bog.Options {
	opts := bog.Options{ImportFiles: true}
	var cfg config
	if _, err := toml.DecodeFile("bog.toml", &cfg); err == nil {
		if cfg.ImportFiles != nil {
			opts.ImportFiles = *cfg.ImportFiles
		}
		opts.MaxImportSize = cfg.MaxImportSize
	}
	return opts
}

func exitCode(err error) int {
	if code, ok := exitCodes[bog.ErrorKind(err)]; ok {
		return code
	}
	return 1
}

func runFile(path string) int {
	b := bog.New(options())
	var result bog.Value
	var err error
	var source []byte

	if strings.HasSuffix(path, ".bogc") {
		f, ferr := os.Open(path)
		if ferr != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", ferr)
			return exitCodes[bogerr.IoError]
		}
		module, merr := bytecode.ReadFile(f)
		f.Close()
		if merr != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", merr)
			return exitCode(merr)
		}
		result, err = b.RunModule(module)
	} else {
		source, err = os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return exitCodes[bogerr.IoError]
		}
		result, err = b.Run(path, source)
	}
	if err != nil {
		b.RenderErrors(os.Stderr, path, source)
		return exitCode(err)
	}
	if bog.IsError(result) {
		fmt.Fprintf(os.Stderr, "script returned %s\n", bog.FormatValue(result))
		return exitCodes[bogerr.RuntimeError]
	}
	return 0
}

func buildFile(path string, list bool) int {
	source, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitCodes[bogerr.IoError]
	}
	errs := bogerr.NewList()
	module, err := bog.CompileSource(path, source, errs)
	if err != nil {
		errs.Render(os.Stderr, path, source)
		return exitCode(err)
	}
	if list {
		bytecode.Disasm(os.Stdout, module)
		return 0
	}
	out := strings.TrimSuffix(path, filepath.Ext(path)) + ".bogc"
	f, err := os.Create(out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitCodes[bogerr.IoError]
	}
	defer f.Close()
	if err := bytecode.WriteFile(f, module); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitCodes[bogerr.IoError]
	}
	return 0
}
