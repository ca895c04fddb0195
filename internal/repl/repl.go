// internal/repl/repl.go
package repl

import (
	"bufio"
	"fmt"
	"io"

	"bog"
)

// Start runs a line-oriented read-eval-print loop. Each line executes as
// its own module against one shared interpreter, so bindings do not
// carry across lines; `exit` quits.
func Start(in io.Reader, out io.Writer) {
	fmt.Fprintln(out, "bog repl | type 'exit' to quit")
	b := bog.New(bog.Options{ImportFiles: true, Repl: true})
	b.SetStdout(out)
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, ">>> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return
		}
		line := scanner.Text()
		if line == "exit" {
			return
		}
		if line == "" {
			continue
		}
		source := []byte(line)
		result, err := b.Run("repl", source)
		if err != nil {
			b.RenderErrors(out, "repl", source)
			b.Errors().Reset()
			continue
		}
		if !bog.IsNone(result) {
			fmt.Fprintln(out, bog.FormatValue(result))
		}
	}
}
