//go:build cgo

package wasmtime

import (
	"context"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/bytecodealliance/wasmtime-go"
	"github.com/pkg/errors"

	"huawei.com/wasm-runner/wasm/interfaces"
)

// capture is a temporary file standing in for a guest stream that is not a
// file; its content is copied to writer when the instance is closed.
type capture struct {
	file   *os.File
	writer io.Writer
}

type wasmtimeInstance struct {
	store    *wasmtime.Store
	instance *wasmtime.Instance
	captures []capture
	temps    []string
}

func (i *wasmtimeInstance) Function(name string) (interfaces.Function, error) {
	export := i.instance.GetExport(i.store, name)
	if export == nil {
		return nil, errors.Wrapf(interfaces.ErrExportMissing, "no %s export", name)
	}

	moduleFunc := export.Func()
	if moduleFunc == nil {
		return nil, errors.Wrapf(interfaces.ErrExportIncompatible, "%s is not a function", name)
	}

	return &wasmtimeFunction{
		store:     i.store,
		function:  moduleFunc,
		signature: signature(moduleFunc.Type(i.store)),
	}, nil
}

func (i *wasmtimeInstance) MemoryRange(start, size uint32) ([]byte, error) {
	export := i.instance.GetExport(i.store, "memory")
	if export == nil || export.Memory() == nil {
		return nil, errors.Wrap(interfaces.ErrExportMissing, "no memory export")
	}

	data := export.Memory().UnsafeData(i.store)
	if uint64(start)+uint64(size) > uint64(len(data)) {
		return nil, errors.Errorf("memory range [%d, %d) is out of bounds", start, uint64(start)+uint64(size))
	}

	return data[start : start+size], nil
}

func (i *wasmtimeInstance) Close(_ context.Context) error {
	var firstErr error

	for _, c := range i.captures {
		if _, err := c.file.Seek(0, io.SeekStart); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "unable to read guest output")

			continue
		}

		if _, err := io.Copy(c.writer, c.file); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "unable to copy guest output")
		}
	}

	i.release()

	return firstErr
}

func (i *wasmtimeInstance) release() {
	for _, c := range i.captures {
		c.file.Close()
	}

	for _, path := range i.temps {
		os.Remove(path)
	}

	i.captures = nil
	i.temps = nil
}

func (i *wasmtimeInstance) wasiConfig(imports *interfaces.WasiImports) (*wasmtime.WasiConfig, error) {
	wasiConfig := wasmtime.NewWasiConfig()
	wasiConfig.SetArgv(imports.Args)

	keys := make([]string, 0, len(imports.Env))
	values := make([]string, 0, len(imports.Env))

	for _, kv := range imports.Env {
		if k, v, found := strings.Cut(kv, "="); found {
			keys = append(keys, k)
			values = append(values, v)
		}
	}

	wasiConfig.SetEnv(keys, values)

	if err := i.setStdin(wasiConfig, imports.Stdin); err != nil {
		i.release()

		return nil, err
	}

	if err := i.setOutput(imports.Stdout, os.Stdout, wasiConfig.InheritStdout, wasiConfig.SetStdoutFile); err != nil {
		i.release()

		return nil, err
	}

	if err := i.setOutput(imports.Stderr, os.Stderr, wasiConfig.InheritStderr, wasiConfig.SetStderrFile); err != nil {
		i.release()

		return nil, err
	}

	return wasiConfig, nil
}

func (i *wasmtimeInstance) setStdin(wasiConfig *wasmtime.WasiConfig, stdin io.Reader) error {
	switch {
	case stdin == nil:
		return nil
	case stdin == os.Stdin:
		wasiConfig.InheritStdin()

		return nil
	}

	tmp, err := os.CreateTemp("", "wasm-runner-stdin-*")
	if err != nil {
		return errors.Wrap(err, "unable to create guest stdin")
	}
	defer tmp.Close()

	i.temps = append(i.temps, tmp.Name())

	if _, err := io.Copy(tmp, stdin); err != nil {
		return errors.Wrap(err, "unable to copy guest stdin")
	}

	return errors.Wrap(wasiConfig.SetStdinFile(tmp.Name()), "unable to set guest stdin")
}

func (i *wasmtimeInstance) setOutput(writer io.Writer, inherited *os.File, inherit func(), setFile func(string) error) error {
	switch {
	case writer == nil:
		return nil
	case writer == inherited:
		inherit()

		return nil
	}

	tmp, err := os.CreateTemp("", "wasm-runner-output-*")
	if err != nil {
		return errors.Wrap(err, "unable to create guest output")
	}

	i.temps = append(i.temps, tmp.Name())
	i.captures = append(i.captures, capture{file: tmp, writer: writer})

	return errors.Wrap(setFile(tmp.Name()), "unable to set guest output")
}

type wasmtimeFunction struct {
	store     *wasmtime.Store
	function  *wasmtime.Func
	signature interfaces.Signature
}

func (f *wasmtimeFunction) Signature() interfaces.Signature {
	return f.signature
}

func (f *wasmtimeFunction) Call(_ context.Context, args ...interface{}) ([]interface{}, error) {
	funcResult, err := f.function.Call(f.store, args...)
	if err != nil {
		if code, ok := exitStatus(err); ok {
			if code == 0 {
				return nil, nil
			}

			return nil, &interfaces.ExitError{Code: code}
		}

		return nil, errors.Wrap(err, "unable to call function")
	}

	switch result := funcResult.(type) {
	case nil:
		return nil, nil
	case []wasmtime.Val:
		results := make([]interface{}, len(result))
		for idx := range result {
			results[idx] = result[idx].Get()
		}

		return results, nil
	default:
		return []interface{}{result}, nil
	}
}

// exitPattern matches the trap raised by WASI proc_exit.
var exitPattern = regexp.MustCompile(`Exited with i32 exit status (\d+)`)

// exitStatus extracts the proc_exit code from a trap raised by a WASI guest.
func exitStatus(err error) (uint32, bool) {
	match := exitPattern.FindStringSubmatch(err.Error())
	if match == nil {
		return 0, false
	}

	code, parseErr := strconv.ParseUint(match[1], 10, 32)
	if parseErr != nil {
		return 0, false
	}

	return uint32(code), true
}
