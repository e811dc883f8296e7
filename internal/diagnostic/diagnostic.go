// Package diagnostic collects non-fatal findings produced while merging
// mapping tables, so callers can report a count instead of scrolling logs.
package diagnostic

import (
	"errors"
	"fmt"
	"strings"
)

// Severity of a diagnostic.
type Severity int

const (
	Info Severity = iota
	Warning
	Error
)

// String returns a human-readable severity name.
func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Codes emitted by the mapping package.
const (
	CodeUnresolvedField  = "unresolved-field"
	CodeUnresolvedClass  = "unresolved-class"
	CodeSkippedLine      = "skipped-line"
	CodeMissingMember    = "missing-intermediary-member"
	CodeDuplicateMapping = "duplicate-mapping"
)

// Diagnostic is a single finding.
type Diagnostic struct {
	Severity Severity
	Code     string
	Message  string
	// Source is "file:line" when known.
	Source string
}

// String returns a formatted diagnostic string.
func (d Diagnostic) String() string {
	msg := d.Message
	if d.Code != "" {
		msg = fmt.Sprintf("[%s] %s", d.Code, msg)
	}
	if d.Source != "" {
		return d.Source + ": " + msg
	}
	return msg
}

// Diagnostics holds findings grouped by severity.
type Diagnostics struct {
	Errors   []Diagnostic
	Warnings []Diagnostic
	Infos    []Diagnostic
}

// Add records d under its severity.
func (d *Diagnostics) Add(diag Diagnostic) {
	switch diag.Severity {
	case Error:
		d.Errors = append(d.Errors, diag)
	case Warning:
		d.Warnings = append(d.Warnings, diag)
	default:
		d.Infos = append(d.Infos, diag)
	}
}

// AddWarning adds a warning diagnostic.
func (d *Diagnostics) AddWarning(code, source, format string, args ...any) {
	d.Add(Diagnostic{Severity: Warning, Code: code, Source: source, Message: fmt.Sprintf(format, args...)})
}

// AddError adds an error diagnostic.
func (d *Diagnostics) AddError(code, source, format string, args ...any) {
	d.Add(Diagnostic{Severity: Error, Code: code, Source: source, Message: fmt.Sprintf(format, args...)})
}

// Count returns how many diagnostics carry code, across all severities.
func (d *Diagnostics) Count(code string) int {
	n := 0
	for _, group := range [][]Diagnostic{d.Errors, d.Warnings, d.Infos} {
		for _, diag := range group {
			if diag.Code == code {
				n++
			}
		}
	}
	return n
}

// HasErrors returns true if there are any error diagnostics.
func (d *Diagnostics) HasErrors() bool {
	return len(d.Errors) > 0
}

// Merge appends other's findings.
func (d *Diagnostics) Merge(other Diagnostics) {
	d.Errors = append(d.Errors, other.Errors...)
	d.Warnings = append(d.Warnings, other.Warnings...)
	d.Infos = append(d.Infos, other.Infos...)
}

// Err returns a combined error from all error diagnostics, or nil.
func (d *Diagnostics) Err() error {
	if !d.HasErrors() {
		return nil
	}
	parts := make([]string, 0, len(d.Errors))
	for _, e := range d.Errors {
		parts = append(parts, e.String())
	}
	return errors.New(strings.Join(parts, "; "))
}
