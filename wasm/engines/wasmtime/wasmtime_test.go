//go:build cgo

package wasmtime

import (
	"bytes"
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huawei.com/wasm-runner/wasm/engines"
	"huawei.com/wasm-runner/wasm/interfaces"
)

func section(id byte, content ...byte) []byte {
	return append([]byte{id, byte(len(content))}, content...)
}

func encodeName(s string) []byte {
	return append([]byte{byte(len(s))}, s...)
}

func encodeModule(sections ...[]byte) []byte {
	payload := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	for _, s := range sections {
		payload = append(payload, s...)
	}

	return payload
}

func concat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

// addModule exports add(i32, i32) -> i32 and one page of memory.
func addModule() []byte {
	return encodeModule(
		section(0x01, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f),
		section(0x03, 0x01, 0x00),
		section(0x05, 0x01, 0x00, 0x01),
		section(0x07, concat(
			[]byte{0x02},
			encodeName("add"), []byte{0x00, 0x00},
			encodeName("memory"), []byte{0x02, 0x00},
		)...),
		section(0x0a, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b),
	)
}

// exitModule exports _start, which calls proc_exit(code).
func exitModule(code byte) []byte {
	return encodeModule(
		section(0x01, 0x02, 0x60, 0x01, 0x7f, 0x00, 0x60, 0x00, 0x00),
		section(0x02, concat(
			[]byte{0x01},
			encodeName("wasi_snapshot_preview1"), encodeName("proc_exit"), []byte{0x00, 0x00},
		)...),
		section(0x03, 0x01, 0x01),
		section(0x05, 0x01, 0x00, 0x01),
		section(0x07, concat(
			[]byte{0x02},
			encodeName("_start"), []byte{0x00, 0x01},
			encodeName("memory"), []byte{0x02, 0x00},
		)...),
		section(0x0a, 0x01, 0x06, 0x00, 0x41, code, 0x10, 0x00, 0x0b),
	)
}

// mapFileModule imports env.__map_file and exports one page of memory.
func mapFileModule() []byte {
	return encodeModule(
		section(0x01, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f),
		section(0x02, concat(
			[]byte{0x01},
			encodeName("env"), encodeName("__map_file"), []byte{0x00, 0x00},
		)...),
		section(0x05, 0x01, 0x00, 0x01),
		section(0x07, concat(
			[]byte{0x01},
			encodeName("memory"), []byte{0x02, 0x00},
		)...),
	)
}

func newStore(t *testing.T) interfaces.Store {
	t.Helper()

	engine, err := engines.Get(engineName)
	require.NoError(t, err)

	store, err := engine.NewStore(interfaces.StoreOptions{Compiler: compilerName})
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close(context.Background())
	})

	return store
}

func callAdd(t *testing.T, module interfaces.Module) {
	t.Helper()

	ctx := context.Background()

	instance, err := module.Instantiate(ctx, interfaces.ImportSet{})
	require.NoError(t, err)

	defer instance.Close(ctx)

	add, err := instance.Function("add")
	require.NoError(t, err)

	results, err := add.Call(ctx, int32(40), int32(2))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(42)}, results)
}

func TestRegistered(t *testing.T) {
	engine, err := engines.Get(engineName)
	require.NoError(t, err)

	assert.Equal(t, []string{compilerName}, engine.Compilers())

	_, err = engine.NewStore(interfaces.StoreOptions{Compiler: "llvm"})
	assert.ErrorIs(t, err, engines.ErrUnsupportedCompiler)
}

func TestCompile(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	assert.Equal(t, engineName, store.Engine())
	assert.Equal(t, compilerName, store.Compiler())
	assert.Equal(t, artifactExtension, store.ArtifactExtension())

	_, err := store.Compile(ctx, []byte("not a module"))
	assert.Error(t, err)

	module, err := store.Compile(ctx, addModule())
	require.NoError(t, err)

	assert.Empty(t, module.Imports())
	assert.Equal(t, []interfaces.Export{
		{
			Name: "add",
			Kind: interfaces.ExternFunc,
			Signature: &interfaces.Signature{
				Params:  []interfaces.ValueKind{interfaces.KindI32, interfaces.KindI32},
				Results: []interfaces.ValueKind{interfaces.KindI32},
			},
		},
		{
			Name: "memory",
			Kind: interfaces.ExternMemory,
		},
	}, module.Exports())

	callAdd(t, module)

	module, err = store.Compile(ctx, exitModule(3))
	require.NoError(t, err)

	assert.Equal(t, []interfaces.Import{
		{Module: "wasi_snapshot_preview1", Name: "proc_exit", Kind: interfaces.ExternFunc},
	}, module.Imports())
}

func TestInstance(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	module, err := store.Compile(ctx, addModule())
	require.NoError(t, err)

	instance, err := module.Instantiate(ctx, interfaces.ImportSet{})
	require.NoError(t, err)

	defer instance.Close(ctx)

	_, err = instance.Function("memory")
	assert.ErrorIs(t, err, interfaces.ErrExportIncompatible)

	_, err = instance.Function("sub")
	assert.ErrorIs(t, err, interfaces.ErrExportMissing)

	mem, err := instance.MemoryRange(16, 4)
	require.NoError(t, err)
	assert.Len(t, mem, 4)

	_, err = instance.MemoryRange(65535, 2)
	assert.Error(t, err)
}

func TestSerialize(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	module, err := store.Compile(ctx, addModule())
	require.NoError(t, err)

	artifact, err := store.Serialize(module)
	require.NoError(t, err)

	engine := &wasmtimeEngine{}

	tCases := []struct {
		name     string
		payload  []byte
		expected bool
	}{
		{
			name:     "serialized artifact",
			payload:  artifact,
			expected: true,
		},
		{
			name:    "wasm binary",
			payload: addModule(),
		},
		{
			name:    "unrelated elf object",
			payload: []byte("\x7fELF\x02\x01\x01\x00"),
		},
		{
			name: "empty payload",
		},
	}

	for _, tCase := range tCases {
		t.Run(tCase.name, func(t *testing.T) {
			assert.Equal(t, tCase.expected, engine.IsDeserializable(tCase.payload))
		})
	}

	loader, name, ok := engines.Headless(artifact)
	require.True(t, ok)
	assert.Equal(t, engineName, name)

	headless, err := loader.LoadHeadless(ctx, "add.wjit", artifact)
	require.NoError(t, err)
	callAdd(t, headless)

	deserialized, err := store.Deserialize(ctx, artifact)
	require.NoError(t, err)
	callAdd(t, deserialized)

	_, err = store.Deserialize(ctx, addModule())
	assert.Error(t, err)
}

func TestWasiExit(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	tCases := []struct {
		name         string
		code         byte
		expectedExit bool
	}{
		{
			name: "exit zero",
			code: 0,
		},
		{
			name:         "exit non-zero",
			code:         3,
			expectedExit: true,
		},
	}

	for _, tCase := range tCases {
		t.Run(tCase.name, func(t *testing.T) {
			module, err := store.Compile(ctx, exitModule(tCase.code))
			require.NoError(t, err)

			var stdout bytes.Buffer

			instance, err := module.Instantiate(ctx, interfaces.ImportSet{
				Wasi: &interfaces.WasiImports{
					Namespaces: []string{"wasi_snapshot_preview1"},
					Args:       []string{"exit.wasm"},
					Env:        []string{"KEY=value"},
					Stdout:     &stdout,
				},
			})
			require.NoError(t, err)

			defer instance.Close(ctx)

			start, err := instance.Function("_start")
			require.NoError(t, err)

			results, err := start.Call(ctx)
			if !tCase.expectedExit {
				require.NoError(t, err)
				assert.Empty(t, results)

				return
			}

			var exitErr *interfaces.ExitError
			require.True(t, errors.As(err, &exitErr))
			assert.Equal(t, uint32(tCase.code), exitErr.Code)
		})
	}
}

func TestExitStatus(t *testing.T) {
	tCases := []struct {
		name         string
		message      string
		expectedCode uint32
		expectedOk   bool
	}{
		{
			name:         "non-zero status",
			message:      "Exited with i32 exit status 3\nwasm backtrace:\n    0: 0x2a - <unknown>!_start",
			expectedCode: 3,
			expectedOk:   true,
		},
		{
			name:       "zero status",
			message:    "Exited with i32 exit status 0",
			expectedOk: true,
		},
		{
			name:    "trap",
			message: "wasm trap: wasm `unreachable` instruction executed",
		},
		{
			name:    "status out of range",
			message: "Exited with i32 exit status 99999999999",
		},
	}

	for _, tCase := range tCases {
		t.Run(tCase.name, func(t *testing.T) {
			code, ok := exitStatus(errors.New(tCase.message))

			assert.Equal(t, tCase.expectedOk, ok)
			assert.Equal(t, tCase.expectedCode, code)
		})
	}
}

func TestEmscriptenImports(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	module, err := store.Compile(ctx, mapFileModule())
	require.NoError(t, err)

	_, err = module.Instantiate(ctx, interfaces.ImportSet{})
	assert.Error(t, err)

	instance, err := module.Instantiate(ctx, interfaces.ImportSet{Emscripten: true})
	require.NoError(t, err)

	assert.NoError(t, instance.Close(ctx))
}
