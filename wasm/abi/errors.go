package abi

import (
	"fmt"
	"strings"
)

// InstantiationError is returned when a module cannot be bound to the
// import set built for its environment.
type InstantiationError struct {
	Err    error
	Reason string
}

func (e *InstantiationError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "unable to instantiate module"
	}

	return fmt.Sprintf("%s: %v", reason, e.Err)
}

func (e *InstantiationError) Unwrap() error {
	return e.Err
}

// DualABIError is returned when a module importing both Emscripten and WASI
// functions fails to instantiate.
type DualABIError struct {
	Err error
}

func (e *DualABIError) Error() string {
	return fmt.Sprintf("This module has both Emscripten and WASI imports. "+
		"Emscripten modules using WASI imports are not supported: %v", e.Err)
}

func (e *DualABIError) Unwrap() error {
	return e.Err
}

// VersionConflictError is returned under the deny policy when a module
// references more than one WASI version.
type VersionConflictError struct {
	Versions []WasiVersion
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("Found more than 1 WASI version in this module (%s) and `--deny-multiple-wasi-versions` is enabled.",
		versionList(e.Versions))
}

func versionList(versions []WasiVersion) string {
	quoted := make([]string, len(versions))
	for i, v := range versions {
		quoted[i] = "`" + v.Namespace() + "`"
	}

	return strings.Join(quoted, ", ")
}
