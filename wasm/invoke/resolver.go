package invoke

import (
	"strings"

	"github.com/pkg/errors"

	"huawei.com/wasm-runner/wasm/interfaces"
)

// DefaultCommand prefixes the corrected invocation offered on a miss.
const DefaultCommand = "wasm-runner run"

// Resolver looks exported functions up by name and builds "did you mean"
// diagnostics on a miss.
type Resolver struct {
	Scorer  Scorer
	Module  interfaces.Module
	Command string
	Path    string
	Args    []string
}

func NewResolver(module interfaces.Module, path string, args []string) *Resolver {
	return &Resolver{
		Scorer:  LevenshteinScorer{},
		Module:  module,
		Command: DefaultCommand,
		Path:    path,
		Args:    args,
	}
}

func (r *Resolver) Resolve(instance interfaces.Instance, name string) (interfaces.Function, error) {
	fn, err := instance.Function(name)
	if err == nil {
		return fn, nil
	}

	functions := interfaces.FunctionExports(r.Module)
	if len(functions) == 0 {
		return nil, ErrNoExportedFunctions
	}

	suggestions := Suggest(r.Scorer, functions, name, maxSuggestions)
	command := r.suggestedCommand(suggestions[0])

	if errors.Is(err, interfaces.ErrExportIncompatible) {
		return nil, &ExportTypeError{Name: name, Suggestions: suggestions, Command: command}
	}

	return nil, &ExportNotFoundError{Name: name, Suggestions: suggestions, Command: command}
}

func (r *Resolver) suggestedCommand(function string) string {
	parts := []string{r.Command, "-i", function, r.Path}
	parts = append(parts, r.Args...)

	return strings.TrimSpace(strings.Join(parts, " "))
}
