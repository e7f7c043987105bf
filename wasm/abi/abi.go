package abi

import (
	"context"
	"io"
	"sort"

	"huawei.com/wasm-runner/wasm/interfaces"
	"huawei.com/wasm-runner/wasm/invoke"
)

type Kind int

const (
	KindBare Kind = iota + 1
	KindWasi
	KindEmscripten
)

func (k Kind) String() string {
	switch k {
	case KindBare:
		return "bare"
	case KindWasi:
		return "wasi"
	case KindEmscripten:
		return "emscripten"
	default:
		return "unknown"
	}
}

// RunContext carries what an environment needs to build imports and start
// the guest.
type RunContext struct {
	Stdin    io.Reader
	Stdout   io.Writer
	Stderr   io.Writer
	Resolver *invoke.Resolver
	// ProgramName is passed to the guest as its first argument.
	ProgramName string
	Args        []string
	Env         []string
}

// Environment is the guest ABI a module runs under.
type Environment interface {
	Kind() Kind
	Imports(rc *RunContext) interfaces.ImportSet
	Instantiate(ctx context.Context, module interfaces.Module, rc *RunContext) (interfaces.Instance, error)
	Run(ctx context.Context, instance interfaces.Instance, rc *RunContext) error
}

type WasiVersion int

const (
	Snapshot0 WasiVersion = iota + 1
	Snapshot1
)

func (v WasiVersion) Namespace() string {
	switch v {
	case Snapshot0:
		return "wasi_unstable"
	case Snapshot1:
		return "wasi_snapshot_preview1"
	default:
		return ""
	}
}

func (v WasiVersion) String() string {
	return v.Namespace()
}

func wasiVersion(namespace string) (WasiVersion, bool) {
	switch namespace {
	case "wasi_unstable":
		return Snapshot0, true
	case "wasi_snapshot_preview1":
		return Snapshot1, true
	default:
		return 0, false
	}
}

// WasiVersions returns the distinct WASI versions imported by module, oldest first.
func WasiVersions(module interfaces.Module) []WasiVersion {
	seen := make(map[WasiVersion]bool)

	var versions []WasiVersion

	for _, imp := range module.Imports() {
		if v, ok := wasiVersion(imp.Module); ok && !seen[v] {
			seen[v] = true
			versions = append(versions, v)
		}
	}

	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

	return versions
}

var emscriptenMarkers = map[string]bool{
	"_emscripten_memcpy_big": true,
	"emscripten_memcpy_big":  true,
	"__map_file":             true,
}

func IsEmscripten(module interfaces.Module) bool {
	for _, imp := range module.Imports() {
		if imp.Module == "env" && imp.Kind == interfaces.ExternFunc && emscriptenMarkers[imp.Name] {
			return true
		}
	}

	return false
}

func instantiate(ctx context.Context, module interfaces.Module, imports interfaces.ImportSet) (interfaces.Instance, error) {
	instance, err := module.Instantiate(ctx, imports)
	if err != nil {
		return nil, &InstantiationError{Err: err}
	}

	return instance, nil
}
