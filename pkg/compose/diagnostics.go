package compose

import "fmt"

// Severity distinguishes a hard failure from a warning (spec.md §4.1:
// "error unless stated").
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

// Diagnostic is one localized static-analysis finding: file, line,
// column, code and kind (spec.md §4.1 contract).
type Diagnostic struct {
	Code     string
	Severity Severity
	Message  string
	Pos      Pos
}

func (d Diagnostic) String() string {
	sev := "error"
	if d.Severity == SeverityWarning {
		sev = "warning"
	}
	return fmt.Sprintf("%s:%d:%d: %s %s: %s", d.Pos.File, d.Pos.Line, d.Pos.Column, sev, d.Code, d.Message)
}

func errf(code string, pos Pos, format string, args ...interface{}) Diagnostic {
	return Diagnostic{Code: code, Severity: SeverityError, Message: fmt.Sprintf(format, args...), Pos: pos}
}

func warnf(code string, pos Pos, format string, args ...interface{}) Diagnostic {
	return Diagnostic{Code: code, Severity: SeverityWarning, Message: fmt.Sprintf(format, args...), Pos: pos}
}

// Diagnostics is a collection of Diagnostic with a convenience check for
// whether any are fatal errors. Full-file validation aggregates every
// diagnostic before reporting (spec.md §4.1).
type Diagnostics []Diagnostic

func (ds Diagnostics) HasErrors() bool {
	for _, d := range ds {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

func (ds Diagnostics) Error() string {
	if len(ds) == 0 {
		return "no diagnostics"
	}
	msg := ds[0].String()
	if len(ds) > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, len(ds)-1)
	}
	return msg
}
