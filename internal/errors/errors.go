// internal/errors/errors.go
package errors

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Kind classifies an error surfaced to the host. The kinds are disjoint:
// a failure belongs to exactly one stage of the pipeline.
type Kind string

const (
	TokenizeError     Kind = "TokenizeError"
	ParseError        Kind = "ParseError"
	CompileError      Kind = "CompileError"
	RuntimeError      Kind = "RuntimeError"
	MalformedByteCode Kind = "MalformedByteCode"
	OutOfMemory       Kind = "OutOfMemory"
	IoError           Kind = "IoError"
)

// Error is the host-facing error type. The rendered detail (source line,
// caret, trace) lives in the List; Error carries only the kind and the
// first message so hosts can switch on it.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New creates a host error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from an error, or RuntimeError if the error
// did not originate in this package.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return RuntimeError
}

// EntryKind distinguishes the rows of the diagnostics list.
type EntryKind uint8

const (
	EntryErr EntryKind = iota
	EntryTrace
	EntryNote
)

// Entry is one diagnostic row: a message anchored to a byte offset in the
// source that produced it.
type Entry struct {
	Kind    EntryKind
	Message string
	Offset  uint32
}

// List is the append-only diagnostics sink shared by the tokenizer, parser,
// compiler and VM. Entries are rendered in insertion order.
type List struct {
	entries []Entry
}

func NewList() *List {
	return &List{}
}

// Add appends an err entry.
func (l *List) Add(offset uint32, format string, args ...interface{}) {
	l.entries = append(l.entries, Entry{Kind: EntryErr, Message: fmt.Sprintf(format, args...), Offset: offset})
}

// Trace appends a trace entry, used while unwinding call frames.
func (l *List) Trace(offset uint32, format string, args ...interface{}) {
	l.entries = append(l.entries, Entry{Kind: EntryTrace, Message: fmt.Sprintf(format, args...), Offset: offset})
}

// Note appends a note entry.
func (l *List) Note(offset uint32, format string, args ...interface{}) {
	l.entries = append(l.entries, Entry{Kind: EntryNote, Message: fmt.Sprintf(format, args...), Offset: offset})
}

// Len reports the number of entries.
func (l *List) Len() int {
	return len(l.entries)
}

// Entries returns the recorded entries in order.
func (l *List) Entries() []Entry {
	return l.entries
}

// Reset drops all entries, keeping the backing storage.
func (l *List) Reset() {
	l.entries = l.entries[:0]
}

const (
	colorRed    = "\x1b[31;1m"
	colorCyan   = "\x1b[36;1m"
	colorYellow = "\x1b[33;1m"
	colorBold   = "\x1b[1m"
	colorReset  = "\x1b[0m"
)

// Render writes every entry to w with line/column information derived from
// the offset and the original source. Output is colored when w is a
// terminal.
func (l *List) Render(w io.Writer, filename string, source []byte) {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	for _, e := range l.entries {
		line, col, text := locate(source, e.Offset)
		label, tint := "error", colorRed
		switch e.Kind {
		case EntryTrace:
			label, tint = "trace", colorCyan
		case EntryNote:
			label, tint = "note", colorYellow
		}
		reset, bold := colorReset, colorBold
		if !color {
			tint, reset, bold = "", "", ""
		}
		fmt.Fprintf(w, "%s%s:%s %s\n", tint, label, reset, e.Message)
		fmt.Fprintf(w, "  %s-->%s %s:%d:%d\n", bold, reset, filename, line, col)
		if text != "" {
			fmt.Fprintf(w, "   %d | %s\n", line, text)
			pad := len(fmt.Sprintf("%d", line))
			fmt.Fprintf(w, "   %s | %s%s^%s\n", strings.Repeat(" ", pad), strings.Repeat(" ", col-1), tint, reset)
		}
	}
}

// locate maps a byte offset to a 1-based line and column plus the line's
// text. Columns count bytes, matching the tokenizer's offsets.
func locate(source []byte, offset uint32) (line, col int, text string) {
	if int(offset) > len(source) {
		offset = uint32(len(source))
	}
	line, col = 1, 1
	start := 0
	for i := 0; i < int(offset); i++ {
		if source[i] == '\n' {
			line++
			col = 1
			start = i + 1
		} else {
			col++
		}
	}
	end := start
	for end < len(source) && source[end] != '\n' {
		end++
	}
	return line, col, string(source[start:end])
}
