package invoke

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"huawei.com/wasm-runner/wasm/interfaces"
)

var ErrNoExportedFunctions = errors.New("The module has no exported functions to call.")

// ExportNotFoundError is returned when the requested export does not exist.
type ExportNotFoundError struct {
	Name        string
	Suggestions []string
	Command     string
}

func (e *ExportNotFoundError) Error() string {
	return fmt.Sprintf("No export `%s` found in the module.\n%s", e.Name, suggestion(e.Suggestions, e.Command))
}

func (e *ExportNotFoundError) Unwrap() error {
	return interfaces.ErrExportMissing
}

// ExportTypeError is returned when the requested export is not a function.
type ExportTypeError struct {
	Name        string
	Suggestions []string
	Command     string
}

func (e *ExportTypeError) Error() string {
	return fmt.Sprintf("Export `%s` found, but is not a function.\n%s", e.Name, suggestion(e.Suggestions, e.Command))
}

func (e *ExportTypeError) Unwrap() error {
	return interfaces.ErrExportIncompatible
}

func suggestion(names []string, command string) string {
	quoted := make([]string, 0, len(names))
	for _, name := range names {
		quoted = append(quoted, "`"+name+"`")
	}

	return fmt.Sprintf("Similar functions found: %s.\nTry with: %s", strings.Join(quoted, ", "), command)
}

type ArityMismatchError struct {
	Raw      string
	Expected int
	Received int
}

func (e *ArityMismatchError) Error() string {
	return fmt.Sprintf("Function expected %d arguments, but received %d: \"%s\"", e.Expected, e.Received, e.Raw)
}

type ArgumentConversionError struct {
	Err  error
	Arg  string
	Kind interfaces.ValueKind
	// Unsupported is set when no textual grammar exists for Kind.
	Unsupported bool
}

func (e *ArgumentConversionError) Error() string {
	if e.Unsupported {
		return fmt.Sprintf("Don't know how to convert %s into %s", e.Arg, e.Kind)
	}

	return fmt.Sprintf("Can't convert `%s` into a %s", e.Arg, e.Kind)
}

func (e *ArgumentConversionError) Unwrap() error {
	return e.Err
}
