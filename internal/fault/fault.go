// Package fault turns interpreter faults into diagnostics that can be logged
// without ever raising a second fault.
package fault

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"scriptfilter/internal/interp"
	"scriptfilter/internal/logging"
)

const noDescription = "no error description."

// Diagnostic is the normalized type/value/trace triple of a fault plus the
// source position when the fault carries one.
type Diagnostic struct {
	Type   string
	Value  string
	Trace  string
	File   string
	Line   int
	Column int
	// Text is the offending source line, when known.
	Text string
}

func (d *Diagnostic) String() string {
	var b strings.Builder
	b.WriteString(d.Type)
	b.WriteString(": ")
	b.WriteString(d.Value)
	if d.Line > 0 {
		fmt.Fprintf(&b, " (line %d", d.Line)
		if d.Column > 0 {
			fmt.Fprintf(&b, ", column %d", d.Column)
		}
		b.WriteByte(')')
	}
	if d.Text != "" {
		b.WriteString(": ")
		b.WriteString(d.Text)
	}
	return b.String()
}

func (d *Diagnostic) attrs() []any {
	out := []any{"fault_type", d.Type, "fault", d.Value}
	if d.Line > 0 {
		out = append(out, "line", d.Line)
	}
	if d.Text != "" {
		out = append(out, "source", d.Text)
	}
	if d.Trace != "" {
		out = append(out, "trace", d.Trace)
	}
	return out
}

// Normalize builds a Diagnostic from an interpreter fault. It never panics:
// a failure while extracting details yields a generic diagnostic.
func Normalize(f *interp.Fault) (d *Diagnostic) {
	defer func() {
		if r := recover(); r != nil {
			d = &Diagnostic{Type: "Error", Value: noDescription}
		}
	}()
	if f == nil || f.Err == nil {
		return &Diagnostic{Type: "Error", Value: noDescription}
	}
	d = &Diagnostic{Type: classify(f.Err), Value: f.Err.Error(), File: f.Path}

	var (
		synErr  syntax.Error
		resErrs resolve.ErrorList
		evalErr *starlark.EvalError
	)
	switch {
	case errors.As(f.Err, &synErr):
		d.Value = synErr.Msg
		setPos(d, synErr.Pos, f.Source)
	case errors.As(f.Err, &resErrs) && len(resErrs) > 0:
		msgs := make([]string, len(resErrs))
		for i, e := range resErrs {
			msgs[i] = e.Msg
		}
		d.Value = strings.Join(msgs, "; ")
		setPos(d, resErrs[0].Pos, f.Source)
	case errors.As(f.Err, &evalErr):
		d.Value = evalErr.Msg
		d.Trace = evalErr.Backtrace()
		// innermost frame with a position; builtins have none
		for i := len(evalErr.CallStack) - 1; i >= 0; i-- {
			if pos := evalErr.CallStack[i].Pos; pos.IsValid() {
				setPos(d, pos, f.Source)
				break
			}
		}
	}
	if d.Value == "" {
		d.Value = noDescription
	}
	return d
}

func classify(err error) string {
	var (
		synErr  syntax.Error
		resErrs resolve.ErrorList
		evalErr *starlark.EvalError
	)
	switch {
	case errors.As(err, &synErr), errors.As(err, &resErrs):
		return "SyntaxError"
	case errors.Is(err, interp.ErrStaleEntry):
		return "StaleEntryError"
	case errors.As(err, &evalErr):
		return "EvalError"
	case errors.Is(err, interp.ErrLookup):
		return "AttributeError"
	case errors.Is(err, interp.ErrImport):
		return "ImportError"
	default:
		return "Error"
	}
}

func setPos(d *Diagnostic, pos syntax.Position, src []byte) {
	if !pos.IsValid() {
		return
	}
	d.Line, d.Column = int(pos.Line), int(pos.Col)
	if name := pos.Filename(); name != "" {
		d.File = name
	}
	d.Text = sourceLine(src, d.Line)
}

func sourceLine(src []byte, line int) string {
	if line <= 0 || len(src) == 0 {
		return ""
	}
	lines := bytes.Split(src, []byte("\n"))
	if line > len(lines) {
		return ""
	}
	return strings.TrimSpace(string(lines[line-1]))
}

// Reporter logs diagnostics for one filter. The logger is expected to carry
// the filter's name already.
type Reporter struct {
	log *slog.Logger
}

func NewReporter(log *slog.Logger) *Reporter {
	if log == nil {
		log = logging.L()
	}
	return &Reporter{log: log}
}

// Report fetches the session's pending fault, logs it and clears the fault
// state. It returns nil when nothing was pending.
func (r *Reporter) Report(s *interp.Session, script string) *Diagnostic {
	f := s.TakeFault()
	s.ClearFault()
	if f == nil {
		return nil
	}
	d := Normalize(f)
	logging.Fatal(r.log, "script fault", append([]any{"script", script}, d.attrs()...)...)
	return d
}

// ReportError logs a failure that did not originate inside the interpreter,
// such as a malformed script result.
func (r *Reporter) ReportError(script string, err error) *Diagnostic {
	d := &Diagnostic{Type: "Error", Value: noDescription}
	if err != nil {
		d.Value = err.Error()
	}
	r.log.Error("script result rejected", "script", script, "err", d.Value)
	return d
}
