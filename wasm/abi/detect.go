package abi

import (
	"github.com/hashicorp/go-hclog"

	"huawei.com/wasm-runner/wasm/interfaces"
)

// Policy decides what happens when a module imports several WASI versions.
// With neither flag set a warning is logged and the run proceeds.
type Policy struct {
	DenyMultiple  bool
	AllowMultiple bool
}

// Detect picks the environment module runs under: Emscripten first, then
// WASI, then bare.
func Detect(logger hclog.Logger, module interfaces.Module, policy Policy) (Environment, error) {
	if IsEmscripten(module) {
		return &Emscripten{}, nil
	}

	versions := WasiVersions(module)

	switch {
	case len(versions) == 0:
		return Bare{}, nil
	case len(versions) >= 2 && policy.DenyMultiple:
		return nil, &VersionConflictError{Versions: versions}
	case len(versions) >= 2 && !policy.AllowMultiple:
		logger.Warn("found more than 1 WASI version in this module; if this is intentional, pass --allow-multiple-wasi-versions to suppress this warning",
			"versions", versionList(versions))
	}

	return &Wasi{Versions: versions}, nil
}
