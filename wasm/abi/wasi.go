package abi

import (
	"context"

	"github.com/pkg/errors"

	"huawei.com/wasm-runner/wasm/interfaces"
)

// Wasi runs modules importing one or more WASI versions. Every referenced
// version's namespace is linked.
type Wasi struct {
	Versions []WasiVersion
}

func (*Wasi) Kind() Kind {
	return KindWasi
}

// Version returns the newest referenced version.
func (w *Wasi) Version() WasiVersion {
	if len(w.Versions) == 0 {
		return Snapshot1
	}

	return w.Versions[len(w.Versions)-1]
}

func (w *Wasi) Imports(rc *RunContext) interfaces.ImportSet {
	namespaces := make([]string, 0, len(w.Versions))
	for _, v := range w.Versions {
		namespaces = append(namespaces, v.Namespace())
	}

	return interfaces.ImportSet{
		Wasi: &interfaces.WasiImports{
			Stdin:      rc.Stdin,
			Stdout:     rc.Stdout,
			Stderr:     rc.Stderr,
			Namespaces: namespaces,
			Args:       append([]string{rc.ProgramName}, rc.Args...),
			Env:        rc.Env,
		},
	}
}

func (w *Wasi) Instantiate(ctx context.Context, module interfaces.Module, rc *RunContext) (interfaces.Instance, error) {
	return instantiate(ctx, module, w.Imports(rc))
}

// Run calls the entrypoint defined by the WASI version, _start for all
// current versions. A zero exit status is success.
func (w *Wasi) Run(ctx context.Context, instance interfaces.Instance, rc *RunContext) error {
	start, err := rc.Resolver.Resolve(instance, StartFunction)
	if err != nil {
		return err
	}

	_, err = start.Call(ctx)

	var exitErr *interfaces.ExitError
	if errors.As(err, &exitErr) && exitErr.Code == 0 {
		return nil
	}

	if err != nil {
		return errors.Wrap(err, "WASI execution failed")
	}

	return nil
}
