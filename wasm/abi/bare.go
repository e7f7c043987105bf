package abi

import (
	"context"

	"huawei.com/wasm-runner/wasm/interfaces"
)

// StartFunction is the conventional default entrypoint export.
const StartFunction = "_start"

// Bare runs modules that import nothing from the host.
type Bare struct{}

func (Bare) Kind() Kind {
	return KindBare
}

func (Bare) Imports(_ *RunContext) interfaces.ImportSet {
	return interfaces.ImportSet{}
}

func (b Bare) Instantiate(ctx context.Context, module interfaces.Module, rc *RunContext) (interfaces.Instance, error) {
	return instantiate(ctx, module, b.Imports(rc))
}

func (Bare) Run(ctx context.Context, instance interfaces.Instance, rc *RunContext) error {
	start, err := rc.Resolver.Resolve(instance, StartFunction)
	if err != nil {
		return err
	}

	_, err = start.Call(ctx)

	return err
}
