package abi

import (
	"bytes"
	"context"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huawei.com/wasm-runner/wasm/interfaces"
	"huawei.com/wasm-runner/wasm/invoke"
)

var (
	failedInstantiateErr = errors.New("unknown import")

	i32 = interfaces.KindI32
)

type mockModule struct {
	imports        []interfaces.Import
	functions      map[string]*mockFunction
	instantiateErr error
	lastImports    interfaces.ImportSet
	memory         []byte
}

func (m *mockModule) Name() string {
	return "mock"
}

func (m *mockModule) SetName(_name string) {}

func (m *mockModule) Imports() []interfaces.Import {
	return m.imports
}

func (m *mockModule) Exports() []interfaces.Export {
	var exports []interfaces.Export

	for name, fn := range m.functions {
		sig := fn.signature
		exports = append(exports, interfaces.Export{Name: name, Kind: interfaces.ExternFunc, Signature: &sig})
	}

	return exports
}

func (m *mockModule) Instantiate(_ context.Context, imports interfaces.ImportSet) (interfaces.Instance, error) {
	m.lastImports = imports

	if m.instantiateErr != nil {
		return nil, m.instantiateErr
	}

	return &mockInstance{module: m}, nil
}

func (m *mockModule) Close(_ context.Context) error {
	return nil
}

type mockInstance struct {
	module *mockModule
}

func (i *mockInstance) Function(name string) (interfaces.Function, error) {
	if fn, ok := i.module.functions[name]; ok {
		return fn, nil
	}

	return nil, interfaces.ErrExportMissing
}

func (i *mockInstance) MemoryRange(start, size uint32) ([]byte, error) {
	if int(start+size) > len(i.module.memory) {
		return nil, errors.New("out of bounds")
	}

	return i.module.memory[start : start+size], nil
}

func (i *mockInstance) Close(_ context.Context) error {
	return nil
}

type mockFunction struct {
	signature interfaces.Signature
	call      func(args []interface{}) ([]interface{}, error)
	calls     [][]interface{}
}

func (f *mockFunction) Signature() interfaces.Signature {
	return f.signature
}

func (f *mockFunction) Call(_ context.Context, args ...interface{}) ([]interface{}, error) {
	f.calls = append(f.calls, args)

	if f.call != nil {
		return f.call(args)
	}

	return nil, nil
}

func funcImport(module, name string) interfaces.Import {
	return interfaces.Import{Module: module, Name: name, Kind: interfaces.ExternFunc}
}

func newRunContext(module interfaces.Module, args ...string) *RunContext {
	return &RunContext{
		Stdout:      &bytes.Buffer{},
		Stderr:      &bytes.Buffer{},
		Resolver:    invoke.NewResolver(module, "module.wasm", args),
		ProgramName: "module.wasm",
		Args:        args,
	}
}

func countingLogger() (hclog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}

	return hclog.New(&hclog.LoggerOptions{Output: buf, Level: hclog.Warn}), buf
}

func TestDetect(t *testing.T) {
	tCases := []struct {
		name             string
		imports          []interfaces.Import
		policy           Policy
		expectedKind     Kind
		expectedVersions []WasiVersion
		expectedWarnings int
		expectedErrMsg   string
	}{
		{
			name:         "no imports",
			expectedKind: KindBare,
		},
		{
			name:         "unrelated imports",
			imports:      []interfaces.Import{funcImport("env", "log")},
			expectedKind: KindBare,
		},
		{
			name:         "emscripten marker",
			imports:      []interfaces.Import{funcImport("env", "emscripten_memcpy_big")},
			expectedKind: KindEmscripten,
		},
		{
			name: "emscripten wins over wasi",
			imports: []interfaces.Import{
				funcImport("wasi_snapshot_preview1", "fd_write"),
				funcImport("env", "__map_file"),
			},
			expectedKind: KindEmscripten,
		},
		{
			name: "single wasi version",
			imports: []interfaces.Import{
				funcImport("wasi_snapshot_preview1", "fd_write"),
				funcImport("wasi_snapshot_preview1", "proc_exit"),
			},
			expectedKind:     KindWasi,
			expectedVersions: []WasiVersion{Snapshot1},
		},
		{
			name: "two versions warn by default",
			imports: []interfaces.Import{
				funcImport("wasi_snapshot_preview1", "fd_write"),
				funcImport("wasi_unstable", "proc_exit"),
			},
			expectedKind:     KindWasi,
			expectedVersions: []WasiVersion{Snapshot0, Snapshot1},
			expectedWarnings: 1,
		},
		{
			name: "two versions allowed",
			imports: []interfaces.Import{
				funcImport("wasi_snapshot_preview1", "fd_write"),
				funcImport("wasi_unstable", "proc_exit"),
			},
			policy:           Policy{AllowMultiple: true},
			expectedKind:     KindWasi,
			expectedVersions: []WasiVersion{Snapshot0, Snapshot1},
		},
		{
			name: "two versions denied",
			imports: []interfaces.Import{
				funcImport("wasi_snapshot_preview1", "fd_write"),
				funcImport("wasi_unstable", "proc_exit"),
			},
			policy:         Policy{DenyMultiple: true},
			expectedErrMsg: "Found more than 1 WASI version in this module (`wasi_unstable`, `wasi_snapshot_preview1`) and `--deny-multiple-wasi-versions` is enabled.",
		},
	}

	for _, tCase := range tCases {
		t.Run(tCase.name, func(t *testing.T) {
			logger, buf := countingLogger()

			env, err := Detect(logger, &mockModule{imports: tCase.imports}, tCase.policy)

			assert.Equal(t, tCase.expectedWarnings, strings.Count(buf.String(), "[WARN]"))

			if tCase.expectedErrMsg != "" {
				var conflictErr *VersionConflictError
				require.True(t, errors.As(err, &conflictErr))
				assert.Equal(t, tCase.expectedErrMsg, err.Error())

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tCase.expectedKind, env.Kind())

			if wasi, ok := env.(*Wasi); ok {
				assert.Equal(t, tCase.expectedVersions, wasi.Versions)
			}
		})
	}
}

func TestWasiImports(t *testing.T) {
	module := &mockModule{
		imports: []interfaces.Import{
			funcImport("wasi_unstable", "fd_write"),
			funcImport("wasi_snapshot_preview1", "proc_exit"),
		},
	}

	env := &Wasi{Versions: WasiVersions(module)}
	rc := newRunContext(module, "--flag", "value")

	assert.Equal(t, Snapshot1, env.Version())

	imports := env.Imports(rc)
	require.NotNil(t, imports.Wasi)
	assert.False(t, imports.Emscripten)
	assert.Equal(t, []string{"wasi_unstable", "wasi_snapshot_preview1"}, imports.Wasi.Namespaces)
	assert.Equal(t, []string{"module.wasm", "--flag", "value"}, imports.Wasi.Args)
}

func TestWasiRun(t *testing.T) {
	tCases := []struct {
		name           string
		startErr       error
		expectedErrMsg string
		expectedExit   uint32
	}{
		{
			name: "start returns",
		},
		{
			name:     "exit code zero",
			startErr: &interfaces.ExitError{Code: 0},
		},
		{
			name:           "non zero exit code",
			startErr:       &interfaces.ExitError{Code: 3},
			expectedErrMsg: "WASI execution failed: module exited with code 3",
			expectedExit:   3,
		},
	}

	for _, tCase := range tCases {
		t.Run(tCase.name, func(t *testing.T) {
			start := &mockFunction{call: func(_ []interface{}) ([]interface{}, error) {
				return nil, tCase.startErr
			}}
			module := &mockModule{
				imports:   []interfaces.Import{funcImport("wasi_snapshot_preview1", "proc_exit")},
				functions: map[string]*mockFunction{"_start": start},
			}

			env := &Wasi{Versions: []WasiVersion{Snapshot1}}
			rc := newRunContext(module)

			instance, err := env.Instantiate(context.Background(), module, rc)
			require.NoError(t, err)
			require.NotNil(t, module.lastImports.Wasi)

			err = env.Run(context.Background(), instance, rc)
			assert.Len(t, start.calls, 1)

			if tCase.expectedErrMsg == "" {
				assert.NoError(t, err)

				return
			}

			assert.Equal(t, tCase.expectedErrMsg, err.Error())

			var exitErr *interfaces.ExitError
			require.True(t, errors.As(err, &exitErr))
			assert.Equal(t, tCase.expectedExit, exitErr.Code)
		})
	}
}

func TestBareRun(t *testing.T) {
	start := &mockFunction{}
	module := &mockModule{functions: map[string]*mockFunction{"_start": start}}
	rc := newRunContext(module)

	env := Bare{}

	instance, err := env.Instantiate(context.Background(), module, rc)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ImportSet{}, module.lastImports)

	require.NoError(t, env.Run(context.Background(), instance, rc))
	require.Len(t, start.calls, 1)
	assert.Empty(t, start.calls[0])
}

func TestBareRunMissingStart(t *testing.T) {
	module := &mockModule{functions: map[string]*mockFunction{"_star": {}}}
	rc := newRunContext(module)

	instance, err := Bare{}.Instantiate(context.Background(), module, rc)
	require.NoError(t, err)

	err = Bare{}.Run(context.Background(), instance, rc)

	var notFound *invoke.ExportNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, []string{"_star"}, notFound.Suggestions)
}

func TestInstantiationErrors(t *testing.T) {
	tCases := []struct {
		name     string
		env      Environment
		imports  []interfaces.Import
		checkErr func(t *testing.T, err error)
	}{
		{
			name: "bare instantiation error",
			env:  Bare{},
			checkErr: func(t *testing.T, err error) {
				var instErr *InstantiationError
				require.True(t, errors.As(err, &instErr))
				assert.Equal(t, "unable to instantiate module: unknown import", err.Error())
			},
		},
		{
			name:    "emscripten instantiation error",
			env:     &Emscripten{},
			imports: []interfaces.Import{funcImport("env", "emscripten_memcpy_big")},
			checkErr: func(t *testing.T, err error) {
				var instErr *InstantiationError
				require.True(t, errors.As(err, &instErr))
				assert.Equal(t, "can't instantiate emscripten module: unknown import", err.Error())
			},
		},
		{
			name: "emscripten with wasi imports",
			env:  &Emscripten{},
			imports: []interfaces.Import{
				funcImport("env", "emscripten_memcpy_big"),
				funcImport("wasi_snapshot_preview1", "fd_write"),
			},
			checkErr: func(t *testing.T, err error) {
				var dualErr *DualABIError
				require.True(t, errors.As(err, &dualErr))
				assert.True(t, errors.Is(err, failedInstantiateErr))
			},
		},
	}

	for _, tCase := range tCases {
		t.Run(tCase.name, func(t *testing.T) {
			module := &mockModule{imports: tCase.imports, instantiateErr: failedInstantiateErr}

			_, err := tCase.env.Instantiate(context.Background(), module, newRunContext(module))
			tCase.checkErr(t, err)
		})
	}
}

func TestEmscriptenRunWithArgv(t *testing.T) {
	var next int32 = 16

	malloc := &mockFunction{
		signature: interfaces.Signature{Params: []interfaces.ValueKind{i32}, Results: []interfaces.ValueKind{i32}},
		call: func(args []interface{}) ([]interface{}, error) {
			ptr := next
			next += args[0].(int32)

			return []interface{}{ptr}, nil
		},
	}
	main := &mockFunction{
		signature: interfaces.Signature{Params: []interfaces.ValueKind{i32, i32}, Results: []interfaces.ValueKind{i32}},
	}
	module := &mockModule{
		imports:   []interfaces.Import{funcImport("env", "__map_file")},
		functions: map[string]*mockFunction{"main": main, "malloc": malloc},
		memory:    make([]byte, 256),
	}

	env := &Emscripten{}
	rc := newRunContext(module, "hi")

	instance, err := env.Instantiate(context.Background(), module, rc)
	require.NoError(t, err)
	assert.True(t, module.lastImports.Emscripten)
	assert.Nil(t, module.lastImports.Wasi)

	require.NoError(t, env.Run(context.Background(), instance, rc))
	require.Len(t, main.calls, 1)

	argc := main.calls[0][0].(int32)
	argv := main.calls[0][1].(int32)

	assert.Equal(t, int32(2), argc)

	readString := func(ptr uint32) string {
		end := bytes.IndexByte(module.memory[ptr:], 0)

		return string(module.memory[ptr : ptr+uint32(end)])
	}

	first := binary.LittleEndian.Uint32(module.memory[argv:])
	second := binary.LittleEndian.Uint32(module.memory[argv+4:])
	terminator := binary.LittleEndian.Uint32(module.memory[argv+8:])

	assert.Equal(t, "module.wasm", readString(first))
	assert.Equal(t, "hi", readString(second))
	assert.Zero(t, terminator)
}

func TestEmscriptenRunPrefersStart(t *testing.T) {
	start := &mockFunction{}
	main := &mockFunction{}
	module := &mockModule{functions: map[string]*mockFunction{"_start": start, "main": main}}
	rc := newRunContext(module)

	instance, err := (&Emscripten{}).Instantiate(context.Background(), module, rc)
	require.NoError(t, err)

	require.NoError(t, (&Emscripten{}).Run(context.Background(), instance, rc))
	assert.Len(t, start.calls, 1)
	assert.Empty(t, main.calls)
}
