//go:build wasmedge

package wasmedge

import (
	"context"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/second-state/WasmEdge-go/wasmedge"

	"huawei.com/wasm-runner/wasm/interfaces"
)

type wasmedgeModule struct {
	logger   hclog.Logger
	ast      *wasmedge.AST
	artifact []byte
	name     string
}

func (m *wasmedgeModule) Name() string {
	return m.name
}

func (m *wasmedgeModule) SetName(name string) {
	m.name = name
}

func (m *wasmedgeModule) Imports() []interfaces.Import {
	var imports []interfaces.Import

	for _, imp := range m.ast.ListImports() {
		imports = append(imports, interfaces.Import{
			Module: imp.GetModuleName(),
			Name:   imp.GetExternalName(),
			Kind:   externKind(imp.GetExternalType()),
		})
	}

	return imports
}

func (m *wasmedgeModule) Exports() []interfaces.Export {
	var exports []interfaces.Export

	for _, exp := range m.ast.ListExports() {
		export := interfaces.Export{
			Name: exp.GetExternalName(),
			Kind: externKind(exp.GetExternalType()),
		}

		if funcType, ok := exp.GetExternalValue().(*wasmedge.FunctionType); ok {
			sig := signature(funcType)
			export.Signature = &sig
		}

		exports = append(exports, export)
	}

	return exports
}

// Instantiate creates a VM per instance. WASI guests share the process
// standard streams.
func (m *wasmedgeModule) Instantiate(_ context.Context, imports interfaces.ImportSet) (interfaces.Instance, error) {
	m.logger.Debug("instantiate new module", "module", m.name)

	if imports.Emscripten {
		return nil, errors.New("emscripten imports are not supported by the native engine")
	}

	var conf *wasmedge.Configure
	if imports.Wasi != nil {
		conf = wasmedge.NewConfigure(wasmedge.WASI)
	} else {
		conf = wasmedge.NewConfigure()
	}

	store := wasmedge.NewStore()
	vm := wasmedge.NewVMWithConfigAndStore(conf, store)

	newInstance := &wasmedgeInstance{
		conf:  conf,
		store: store,
		vm:    vm,
	}

	if imports.Wasi != nil {
		newInstance.wasi = vm.GetImportModule(wasmedge.WASI)
		newInstance.wasi.InitWasi(imports.Wasi.Args, imports.Wasi.Env, nil)
	}

	module, err := vm.GetExecutor().Instantiate(store, m.ast)
	if err != nil {
		newInstance.release()

		return nil, errors.Wrapf(err, "unable to instantiate executor for module: %s", m.name)
	}

	newInstance.module = module

	return newInstance, nil
}

func (m *wasmedgeModule) Close(_ context.Context) error {
	m.ast.Release()

	return nil
}

type wasmedgeInstance struct {
	conf   *wasmedge.Configure
	store  *wasmedge.Store
	vm     *wasmedge.VM
	module *wasmedge.Module
	wasi   *wasmedge.Module
}

func (i *wasmedgeInstance) Function(name string) (interfaces.Function, error) {
	moduleFunc := i.module.FindFunction(name)
	if moduleFunc == nil {
		for _, export := range i.module.ListMemory() {
			if export == name {
				return nil, errors.Wrapf(interfaces.ErrExportIncompatible, "%s is not a function", name)
			}
		}

		return nil, errors.Wrapf(interfaces.ErrExportMissing, "no %s func", name)
	}

	return &wasmedgeFunction{
		instance:  i,
		function:  moduleFunc,
		signature: signature(moduleFunc.GetFunctionType()),
	}, nil
}

func (i *wasmedgeInstance) MemoryRange(start, size uint32) ([]byte, error) {
	memory := i.module.FindMemory("memory")
	if memory == nil {
		return nil, errors.Wrap(interfaces.ErrExportMissing, "no memory export")
	}

	ioBuf, err := memory.GetData(uint(start), uint(size))
	if err != nil {
		return nil, errors.Wrap(err, "unable to get data of memory")
	}

	return ioBuf, nil
}

func (i *wasmedgeInstance) Close(_ context.Context) error {
	i.release()

	return nil
}

func (i *wasmedgeInstance) release() {
	if i.module != nil {
		i.module.Release()
	}

	i.vm.Release()
	i.store.Release()
	i.conf.Release()
}

type wasmedgeFunction struct {
	instance  *wasmedgeInstance
	function  *wasmedge.Function
	signature interfaces.Signature
}

func (f *wasmedgeFunction) Signature() interfaces.Signature {
	return f.signature
}

func (f *wasmedgeFunction) Call(_ context.Context, args ...interface{}) ([]interface{}, error) {
	funcResult, err := f.instance.vm.GetExecutor().Invoke(f.function, args...)

	if wasi := f.instance.wasi; wasi != nil {
		if err == nil || strings.Contains(err.Error(), "terminated") {
			if code := wasi.WasiGetExitCode(); code != 0 || err != nil {
				//nolint:gosec
				return nil, &interfaces.ExitError{Code: uint32(code)}
			}
		}
	}

	if err != nil {
		return nil, errors.Wrap(err, "unable to call function")
	}

	return funcResult, nil
}

func externKind(kind wasmedge.ExternType) interfaces.ExternKind {
	switch kind {
	case wasmedge.ExternType_Function:
		return interfaces.ExternFunc
	case wasmedge.ExternType_Table:
		return interfaces.ExternTable
	case wasmedge.ExternType_Memory:
		return interfaces.ExternMemory
	default:
		return interfaces.ExternGlobal
	}
}

func signature(funcType *wasmedge.FunctionType) interfaces.Signature {
	var sig interfaces.Signature

	for _, param := range funcType.GetParameters() {
		sig.Params = append(sig.Params, valueKind(param))
	}

	for _, result := range funcType.GetReturns() {
		sig.Results = append(sig.Results, valueKind(result))
	}

	return sig
}

func valueKind(valType *wasmedge.ValType) interfaces.ValueKind {
	switch {
	case valType.IsI32():
		return interfaces.KindI32
	case valType.IsI64():
		return interfaces.KindI64
	case valType.IsF32():
		return interfaces.KindF32
	case valType.IsF64():
		return interfaces.KindF64
	case valType.IsFuncRef():
		return interfaces.KindFuncRef
	case valType.IsExternRef():
		return interfaces.KindExternRef
	default:
		return interfaces.KindV128
	}
}
