package interfaces

import (
	"errors"
	"fmt"
)

var (
	ErrExportMissing      = errors.New("export not found")
	ErrExportIncompatible = errors.New("export is not a function")
)

type ValueKind byte

const (
	KindI32 ValueKind = iota + 1
	KindI64
	KindF32
	KindF64
	KindV128
	KindFuncRef
	KindExternRef
)

func (k ValueKind) String() string {
	switch k {
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	case KindV128:
		return "v128"
	case KindFuncRef:
		return "funcref"
	case KindExternRef:
		return "externref"
	default:
		return fmt.Sprintf("unknown(%d)", byte(k))
	}
}

type Signature struct {
	Params  []ValueKind
	Results []ValueKind
}

type ExternKind byte

const (
	ExternFunc ExternKind = iota + 1
	ExternTable
	ExternMemory
	ExternGlobal
)

type Import struct {
	Module string
	Name   string
	Kind   ExternKind
}

type Export struct {
	// Signature is set for function exports only.
	Signature *Signature
	Name      string
	Kind      ExternKind
}

// ExitError is returned when the guest requested process exit with a
// non-zero status.
type ExitError struct {
	Code uint32
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("module exited with code %d", e.Code)
}

// FunctionExports returns the names of the function exports in declaration order.
func FunctionExports(module Module) []string {
	var names []string

	for _, export := range module.Exports() {
		if export.Kind == ExternFunc {
			names = append(names, export.Name)
		}
	}

	return names
}
