package wasm

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"

	"huawei.com/wasm-runner/wasm/engines"
	"huawei.com/wasm-runner/wasm/interfaces"
)

const (
	mockedEngineName   = "mock"
	mockedCompilerName = "mockc"
	mockedExtension    = "mart"
	artifactPrefix     = "artifact:"
)

var errMockedCompile = errors.New("invalid magic number")

// mockedFunction is a guest export of a mocked module.
type mockedFunction struct {
	signature interfaces.Signature
	call      func(args []interface{}) ([]interface{}, error)
	calls     int32
}

// mockedModuleDef describes what a mocked payload compiles to.
type mockedModuleDef struct {
	imports   []interfaces.Import
	functions map[string]*mockedFunction
}

type mockedEngine struct {
	defs         map[string]*mockedModuleDef
	compiles     int32
	deserializes int32
	headless     int32
}

// newMockedEngine registers a fresh mocked engine, replacing the previous one.
func newMockedEngine(defs map[string]*mockedModuleDef) *mockedEngine {
	engine := &mockedEngine{defs: defs}
	engines.Register(engine)

	return engine
}

func (e *mockedEngine) Name() string {
	return mockedEngineName
}

func (e *mockedEngine) Compilers() []string {
	return []string{mockedCompilerName}
}

func (e *mockedEngine) NewStore(opts interfaces.StoreOptions) (interfaces.Store, error) {
	return &mockedStore{engine: e, compiler: opts.Compiler}, nil
}

func (e *mockedEngine) IsDeserializable(payload []byte) bool {
	return bytes.HasPrefix(payload, []byte(artifactPrefix))
}

func (e *mockedEngine) LoadHeadless(_ context.Context, _path string, payload []byte) (interfaces.Module, error) {
	atomic.AddInt32(&e.headless, 1)

	return e.module(strings.TrimPrefix(string(payload), artifactPrefix))
}

func (e *mockedEngine) module(name string) (interfaces.Module, error) {
	def, ok := e.defs[name]
	if !ok {
		return nil, errMockedCompile
	}

	return &mockedModule{id: name, def: def}, nil
}

type mockedStore struct {
	engine   *mockedEngine
	compiler string
}

func (s *mockedStore) Engine() string {
	return mockedEngineName
}

func (s *mockedStore) Compiler() string {
	return s.compiler
}

// Compile resolves the module named by the payload up to its first NUL byte.
func (s *mockedStore) Compile(_ context.Context, payload []byte) (interfaces.Module, error) {
	atomic.AddInt32(&s.engine.compiles, 1)

	name := string(payload)
	if i := bytes.IndexByte(payload, 0); i >= 0 {
		name = string(payload[:i])
	}

	return s.engine.module(name)
}

func (s *mockedStore) Close(_ context.Context) error {
	return nil
}

func (s *mockedStore) Serialize(module interfaces.Module) ([]byte, error) {
	return []byte(artifactPrefix + module.(*mockedModule).id), nil
}

func (s *mockedStore) Deserialize(_ context.Context, artifact []byte) (interfaces.Module, error) {
	atomic.AddInt32(&s.engine.deserializes, 1)

	if !bytes.HasPrefix(artifact, []byte(artifactPrefix)) {
		return nil, errors.New("artifact has unknown header")
	}

	return s.engine.module(strings.TrimPrefix(string(artifact), artifactPrefix))
}

func (s *mockedStore) ArtifactExtension() string {
	return mockedExtension
}

type mockedModule struct {
	id   string
	name string
	def  *mockedModuleDef
}

func (m *mockedModule) Name() string {
	return m.name
}

func (m *mockedModule) SetName(name string) {
	m.name = name
}

func (m *mockedModule) Imports() []interfaces.Import {
	return m.def.imports
}

func (m *mockedModule) Exports() []interfaces.Export {
	exports := make([]interfaces.Export, 0, len(m.def.functions))

	for name, fn := range m.def.functions {
		sig := fn.signature
		exports = append(exports, interfaces.Export{Name: name, Kind: interfaces.ExternFunc, Signature: &sig})
	}

	return exports
}

func (m *mockedModule) Instantiate(_ context.Context, _imports interfaces.ImportSet) (interfaces.Instance, error) {
	return &mockedInstance{module: m}, nil
}

func (m *mockedModule) Close(_ context.Context) error {
	return nil
}

type mockedInstance struct {
	module *mockedModule
}

func (i *mockedInstance) Function(name string) (interfaces.Function, error) {
	fn, ok := i.module.def.functions[name]
	if !ok {
		return nil, interfaces.ErrExportMissing
	}

	return fn, nil
}

func (i *mockedInstance) MemoryRange(_start, _size uint32) ([]byte, error) {
	return nil, errors.New("mocked instance has no memory")
}

func (i *mockedInstance) Close(_ context.Context) error {
	return nil
}

func (f *mockedFunction) Signature() interfaces.Signature {
	return f.signature
}

func (f *mockedFunction) Call(_ context.Context, args ...interface{}) ([]interface{}, error) {
	atomic.AddInt32(&f.calls, 1)

	if f.call != nil {
		return f.call(args)
	}

	return nil, nil
}
