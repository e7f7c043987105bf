package wazero

import (
	"context"

	"github.com/pkg/errors"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"huawei.com/wasm-runner/wasm/interfaces"
)

type wazeroInstance struct {
	module api.Module
}

func (i *wazeroInstance) Function(name string) (interfaces.Function, error) {
	moduleFunc := i.module.ExportedFunction(name)
	if moduleFunc == nil {
		if i.module.ExportedMemory(name) != nil || i.module.ExportedGlobal(name) != nil {
			return nil, errors.Wrapf(interfaces.ErrExportIncompatible, "%s is not a function", name)
		}

		return nil, errors.Wrapf(interfaces.ErrExportMissing, "no %s export", name)
	}

	return &wazeroFunction{
		function:  moduleFunc,
		signature: signature(moduleFunc.Definition()),
	}, nil
}

func (i *wazeroInstance) MemoryRange(start, size uint32) ([]byte, error) {
	memory := i.module.ExportedMemory("memory")
	if memory == nil {
		memory = i.module.Memory()
	}

	if memory == nil {
		return nil, errors.Wrap(interfaces.ErrExportMissing, "no memory export")
	}

	data, ok := memory.Read(start, size)
	if !ok {
		return nil, errors.Errorf("memory range [%d, %d) is out of bounds", start, uint64(start)+uint64(size))
	}

	return data, nil
}

func (i *wazeroInstance) Close(ctx context.Context) error {
	return i.module.Close(ctx)
}

type wazeroFunction struct {
	function  api.Function
	signature interfaces.Signature
}

func (f *wazeroFunction) Signature() interfaces.Signature {
	return f.signature
}

func (f *wazeroFunction) Call(ctx context.Context, args ...interface{}) ([]interface{}, error) {
	params, err := encode(args)
	if err != nil {
		return nil, err
	}

	funcResult, err := f.function.Call(ctx, params...)
	if err != nil {
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) {
			if exitErr.ExitCode() == 0 {
				return nil, nil
			}

			return nil, &interfaces.ExitError{Code: exitErr.ExitCode()}
		}

		return nil, errors.Wrap(err, "unable to call function")
	}

	return decode(f.signature.Results, funcResult), nil
}

func encode(args []interface{}) ([]uint64, error) {
	params := make([]uint64, len(args))

	for idx, arg := range args {
		switch value := arg.(type) {
		case int32:
			params[idx] = api.EncodeI32(value)
		case int64:
			params[idx] = api.EncodeI64(value)
		case float32:
			params[idx] = api.EncodeF32(value)
		case float64:
			params[idx] = api.EncodeF64(value)
		default:
			return nil, errors.Errorf("unsupported argument type %T", arg)
		}
	}

	return params, nil
}

func decode(kinds []interfaces.ValueKind, values []uint64) []interface{} {
	results := make([]interface{}, len(values))

	for idx, value := range values {
		var kind interfaces.ValueKind
		if idx < len(kinds) {
			kind = kinds[idx]
		}

		switch kind {
		case interfaces.KindI32:
			//nolint:gosec
			results[idx] = int32(uint32(value))
		case interfaces.KindI64:
			//nolint:gosec
			results[idx] = int64(value)
		case interfaces.KindF32:
			results[idx] = api.DecodeF32(value)
		case interfaces.KindF64:
			results[idx] = api.DecodeF64(value)
		default:
			results[idx] = value
		}
	}

	return results
}
