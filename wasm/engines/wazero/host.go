package wazero

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/emscripten"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

const (
	emscriptenModule  = "env"
	errnoNotSupported = -52
)

// instantiateWasi defines the WASI functions under namespace once per runtime.
func instantiateWasi(ctx context.Context, runtime wazero.Runtime, namespace string) error {
	if runtime.Module(namespace) != nil {
		return nil
	}

	builder := runtime.NewHostModuleBuilder(namespace)
	wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(builder)

	_, err := builder.Instantiate(ctx)

	return err
}

// instantiateEmscripten defines the "env" functions emscripten guests expect,
// including the invoke_* trampolines the guest imports.
func instantiateEmscripten(ctx context.Context, runtime wazero.Runtime, guest wazero.CompiledModule) error {
	if runtime.Module(emscriptenModule) != nil {
		return nil
	}

	exporter, err := emscripten.NewFunctionExporterForModule(guest)
	if err != nil {
		return err
	}

	builder := runtime.NewHostModuleBuilder(emscriptenModule)
	exporter.ExportFunctions(builder)

	for _, name := range []string{"emscripten_memcpy_big", "_emscripten_memcpy_big"} {
		builder.NewFunctionBuilder().WithFunc(memcpyBig).Export(name)
	}

	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, _addr, _size int32) int32 {
			return errnoNotSupported
		}).
		Export("__map_file")

	_, err = builder.Instantiate(ctx)

	return err
}

func memcpyBig(_ context.Context, module api.Module, dest, src, num uint32) uint32 {
	memory := module.Memory()
	if memory == nil {
		return dest
	}

	from, ok := memory.Read(src, num)
	if !ok {
		return dest
	}

	memory.Write(dest, from)

	return dest
}
