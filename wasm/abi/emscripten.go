package abi

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"huawei.com/wasm-runner/wasm/interfaces"
)

var (
	emscriptenEntrypoints = []string{StartFunction, "main", "_main"}
	emscriptenAllocators  = []string{"malloc", "_malloc"}
)

// Emscripten runs modules built by Emscripten against the "env" host module.
type Emscripten struct{}

func (*Emscripten) Kind() Kind {
	return KindEmscripten
}

func (*Emscripten) Imports(_ *RunContext) interfaces.ImportSet {
	return interfaces.ImportSet{Emscripten: true}
}

func (e *Emscripten) Instantiate(ctx context.Context, module interfaces.Module, rc *RunContext) (interfaces.Instance, error) {
	instance, err := module.Instantiate(ctx, e.Imports(rc))
	if err == nil {
		return instance, nil
	}

	if len(WasiVersions(module)) > 0 {
		return nil, &DualABIError{Err: err}
	}

	return nil, &InstantiationError{Err: err, Reason: "can't instantiate emscripten module"}
}

// Run calls _start when exported, main otherwise. A main taking (argc, argv)
// gets the program name and arguments copied into guest memory.
func (e *Emscripten) Run(ctx context.Context, instance interfaces.Instance, rc *RunContext) error {
	entry, err := e.entrypoint(instance, rc)
	if err != nil {
		return err
	}

	params := entry.Signature().Params

	switch {
	case len(params) == 0:
		_, err = entry.Call(ctx)
	case len(params) == 2 && params[0] == interfaces.KindI32 && params[1] == interfaces.KindI32:
		var argv int32

		args := append([]string{rc.ProgramName}, rc.Args...)

		argv, err = writeArgv(ctx, instance, args)
		if err != nil {
			return errors.Wrap(err, "unable to pass arguments to emscripten main")
		}

		//nolint:gosec
		_, err = entry.Call(ctx, int32(len(args)), argv)
	default:
		return fmt.Errorf("unsupported emscripten entrypoint signature: %v", params)
	}

	var exitErr *interfaces.ExitError
	if errors.As(err, &exitErr) && exitErr.Code == 0 {
		return nil
	}

	return err
}

func (e *Emscripten) entrypoint(instance interfaces.Instance, rc *RunContext) (interfaces.Function, error) {
	for _, name := range emscriptenEntrypoints {
		if fn, err := instance.Function(name); err == nil {
			return fn, nil
		}
	}

	return rc.Resolver.Resolve(instance, "main")
}

// writeArgv allocates every argument and the argv pointer array with the
// guest allocator and returns the address of the array.
func writeArgv(ctx context.Context, instance interfaces.Instance, args []string) (int32, error) {
	var (
		malloc interfaces.Function
		err    error
	)

	for _, name := range emscriptenAllocators {
		if malloc, err = instance.Function(name); err == nil {
			break
		}
	}

	if malloc == nil {
		return 0, errors.New("module does not export malloc")
	}

	pointers := make([]uint32, 0, len(args)+1)

	for _, arg := range args {
		ptr, err := alloc(ctx, malloc, uint32(len(arg)+1))
		if err != nil {
			return 0, err
		}

		mem, err := instance.MemoryRange(ptr, uint32(len(arg)+1))
		if err != nil {
			return 0, errors.Wrap(err, "unable to get memory")
		}

		n := copy(mem, arg)
		mem[n] = 0

		pointers = append(pointers, ptr)
	}

	pointers = append(pointers, 0)

	//nolint:gosec
	size := uint32(len(pointers) * 4)

	argv, err := alloc(ctx, malloc, size)
	if err != nil {
		return 0, err
	}

	mem, err := instance.MemoryRange(argv, size)
	if err != nil {
		return 0, errors.Wrap(err, "unable to get memory")
	}

	for i, ptr := range pointers {
		binary.LittleEndian.PutUint32(mem[i*4:], ptr)
	}

	//nolint:gosec
	return int32(argv), nil
}

func alloc(ctx context.Context, malloc interfaces.Function, size uint32) (uint32, error) {
	//nolint:gosec
	result, err := malloc.Call(ctx, int32(size))
	if err != nil {
		return 0, errors.Wrap(err, "unable to call malloc")
	}

	if len(result) != 1 {
		return 0, fmt.Errorf("malloc returned %d values", len(result))
	}

	ptr, ok := result[0].(int32)
	if !ok || ptr == 0 {
		return 0, fmt.Errorf("malloc failed to allocate %d bytes", size)
	}

	//nolint:gosec
	return uint32(ptr), nil
}
