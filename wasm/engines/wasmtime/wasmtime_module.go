//go:build cgo

package wasmtime

import (
	"context"

	"github.com/bytecodealliance/wasmtime-go"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"huawei.com/wasm-runner/wasm/interfaces"
)

type wasmtimeModule struct {
	logger hclog.Logger
	engine *wasmtime.Engine
	module *wasmtime.Module
	name   string
}

func newModule(logger hclog.Logger, engine *wasmtime.Engine, module *wasmtime.Module) *wasmtimeModule {
	return &wasmtimeModule{
		logger: logger,
		engine: engine,
		module: module,
	}
}

func (m *wasmtimeModule) Name() string {
	return m.name
}

func (m *wasmtimeModule) SetName(name string) {
	m.name = name
}

func (m *wasmtimeModule) Imports() []interfaces.Import {
	imports := make([]interfaces.Import, 0, len(m.module.Imports()))

	for _, imp := range m.module.Imports() {
		var name string
		if imp.Name() != nil {
			name = *imp.Name()
		}

		imports = append(imports, interfaces.Import{
			Module: imp.Module(),
			Name:   name,
			Kind:   externKind(imp.Type()),
		})
	}

	return imports
}

func (m *wasmtimeModule) Exports() []interfaces.Export {
	exports := make([]interfaces.Export, 0, len(m.module.Exports()))

	for _, exp := range m.module.Exports() {
		export := interfaces.Export{
			Name: exp.Name(),
			Kind: externKind(exp.Type()),
		}

		if funcType := exp.Type().FuncType(); funcType != nil {
			sig := signature(funcType)
			export.Signature = &sig
		}

		exports = append(exports, export)
	}

	return exports
}

func (m *wasmtimeModule) Instantiate(_ context.Context, imports interfaces.ImportSet) (interfaces.Instance, error) {
	m.logger.Debug("instantiate new module", "module", m.name)

	store := wasmtime.NewStore(m.engine)
	linker := wasmtime.NewLinker(m.engine)

	newInstance := &wasmtimeInstance{store: store}

	if imports.Wasi != nil {
		wasiConfig, err := newInstance.wasiConfig(imports.Wasi)
		if err != nil {
			return nil, err
		}

		store.SetWasi(wasiConfig)

		if err := linker.DefineWasi(); err != nil {
			newInstance.release()

			return nil, errors.Wrap(err, "unable to define WASI imports")
		}
	}

	if imports.Emscripten {
		if err := defineEmscripten(linker); err != nil {
			newInstance.release()

			return nil, errors.Wrap(err, "unable to define emscripten imports")
		}
	}

	instance, err := linker.Instantiate(store, m.module)
	if err != nil {
		newInstance.release()

		return nil, errors.Wrapf(err, "unable to create new instance from module: %s", m.name)
	}

	newInstance.instance = instance

	return newInstance, nil
}

func (m *wasmtimeModule) Close(_ context.Context) error {
	return nil
}

func externKind(ty *wasmtime.ExternType) interfaces.ExternKind {
	switch {
	case ty.FuncType() != nil:
		return interfaces.ExternFunc
	case ty.MemoryType() != nil:
		return interfaces.ExternMemory
	case ty.TableType() != nil:
		return interfaces.ExternTable
	default:
		return interfaces.ExternGlobal
	}
}

func signature(funcType *wasmtime.FuncType) interfaces.Signature {
	var sig interfaces.Signature

	for _, param := range funcType.Params() {
		sig.Params = append(sig.Params, valueKind(param.Kind()))
	}

	for _, result := range funcType.Results() {
		sig.Results = append(sig.Results, valueKind(result.Kind()))
	}

	return sig
}

func valueKind(kind wasmtime.ValKind) interfaces.ValueKind {
	switch kind {
	case wasmtime.KindI32:
		return interfaces.KindI32
	case wasmtime.KindI64:
		return interfaces.KindI64
	case wasmtime.KindF32:
		return interfaces.KindF32
	case wasmtime.KindF64:
		return interfaces.KindF64
	case wasmtime.KindFuncref:
		return interfaces.KindFuncRef
	case wasmtime.KindExternref:
		return interfaces.KindExternRef
	default:
		return interfaces.KindV128
	}
}
