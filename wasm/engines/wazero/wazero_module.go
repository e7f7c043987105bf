package wazero

import (
	"context"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"huawei.com/wasm-runner/wasm/interfaces"
)

type wazeroModule struct {
	logger   hclog.Logger
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	name     string
}

func (m *wazeroModule) Name() string {
	return m.name
}

func (m *wazeroModule) SetName(name string) {
	m.name = name
}

func (m *wazeroModule) Imports() []interfaces.Import {
	var imports []interfaces.Import

	for _, def := range m.compiled.ImportedFunctions() {
		moduleName, name, _ := def.Import()
		imports = append(imports, interfaces.Import{
			Module: moduleName,
			Name:   name,
			Kind:   interfaces.ExternFunc,
		})
	}

	for _, def := range m.compiled.ImportedMemories() {
		moduleName, name, _ := def.Import()
		imports = append(imports, interfaces.Import{
			Module: moduleName,
			Name:   name,
			Kind:   interfaces.ExternMemory,
		})
	}

	return imports
}

// Exports lists function exports in index order followed by memory exports.
func (m *wazeroModule) Exports() []interfaces.Export {
	type indexed struct {
		export interfaces.Export
		index  uint32
	}

	functions := make([]indexed, 0, len(m.compiled.ExportedFunctions()))

	for name, def := range m.compiled.ExportedFunctions() {
		sig := signature(def)
		functions = append(functions, indexed{
			export: interfaces.Export{
				Name:      name,
				Kind:      interfaces.ExternFunc,
				Signature: &sig,
			},
			index: def.Index(),
		})
	}

	sort.Slice(functions, func(i, j int) bool {
		if functions[i].index != functions[j].index {
			return functions[i].index < functions[j].index
		}

		return functions[i].export.Name < functions[j].export.Name
	})

	exports := make([]interfaces.Export, 0, len(functions)+len(m.compiled.ExportedMemories()))
	for _, fn := range functions {
		exports = append(exports, fn.export)
	}

	memories := make([]string, 0, len(m.compiled.ExportedMemories()))
	for name := range m.compiled.ExportedMemories() {
		memories = append(memories, name)
	}

	sort.Strings(memories)

	for _, name := range memories {
		exports = append(exports, interfaces.Export{
			Name: name,
			Kind: interfaces.ExternMemory,
		})
	}

	return exports
}

func (m *wazeroModule) Instantiate(ctx context.Context, imports interfaces.ImportSet) (interfaces.Instance, error) {
	m.logger.Debug("instantiate new module", "module", m.name)

	// Start functions are called by the runner, not on instantiation.
	moduleConfig := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions().
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep()

	if wasi := imports.Wasi; wasi != nil {
		for _, namespace := range wasi.Namespaces {
			if err := instantiateWasi(ctx, m.runtime, namespace); err != nil {
				return nil, errors.Wrapf(err, "unable to define WASI imports under %s", namespace)
			}
		}

		moduleConfig = withWasi(moduleConfig, wasi)
	}

	if imports.Emscripten {
		if err := instantiateEmscripten(ctx, m.runtime, m.compiled); err != nil {
			return nil, errors.Wrap(err, "unable to define emscripten imports")
		}
	}

	module, err := m.runtime.InstantiateModule(ctx, m.compiled, moduleConfig)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to create new instance from module: %s", m.name)
	}

	return &wazeroInstance{module: module}, nil
}

func (m *wazeroModule) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

func withWasi(moduleConfig wazero.ModuleConfig, wasi *interfaces.WasiImports) wazero.ModuleConfig {
	moduleConfig = moduleConfig.WithArgs(wasi.Args...)

	for _, kv := range wasi.Env {
		if k, v, found := strings.Cut(kv, "="); found {
			moduleConfig = moduleConfig.WithEnv(k, v)
		}
	}

	if wasi.Stdin != nil {
		moduleConfig = moduleConfig.WithStdin(wasi.Stdin)
	}

	if wasi.Stdout != nil {
		moduleConfig = moduleConfig.WithStdout(wasi.Stdout)
	}

	if wasi.Stderr != nil {
		moduleConfig = moduleConfig.WithStderr(wasi.Stderr)
	}

	return moduleConfig
}

func signature(def api.FunctionDefinition) interfaces.Signature {
	var sig interfaces.Signature

	for _, param := range def.ParamTypes() {
		sig.Params = append(sig.Params, valueKind(param))
	}

	for _, result := range def.ResultTypes() {
		sig.Results = append(sig.Results, valueKind(result))
	}

	return sig
}

// valueTypeFuncref is the binary encoding of funcref, which api does not name.
const valueTypeFuncref api.ValueType = 0x70

func valueKind(valueType api.ValueType) interfaces.ValueKind {
	switch valueType {
	case api.ValueTypeI32:
		return interfaces.KindI32
	case api.ValueTypeI64:
		return interfaces.KindI64
	case api.ValueTypeF32:
		return interfaces.KindF32
	case api.ValueTypeF64:
		return interfaces.KindF64
	case api.ValueTypeExternref:
		return interfaces.KindExternRef
	case valueTypeFuncref:
		return interfaces.KindFuncRef
	default:
		return interfaces.KindV128
	}
}
