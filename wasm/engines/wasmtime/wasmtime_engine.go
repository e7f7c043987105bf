//go:build cgo

package wasmtime

import (
	"bytes"
	"context"

	"github.com/bytecodealliance/wasmtime-go"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"huawei.com/wasm-runner/wasm/engines"
	"huawei.com/wasm-runner/wasm/interfaces"
)

const (
	engineName         = "jit"
	compilerName       = "cranelift"
	artifactExtension  = "wjit"
	artifactMarker     = "wasmtime-aot"
	elfMagic           = "\x7fELF"
	headlessLoggerName = "headless"
)

func init() {
	engines.Register(&wasmtimeEngine{})
}

type wasmtimeEngine struct{}

func (e *wasmtimeEngine) Name() string {
	return engineName
}

func (e *wasmtimeEngine) Compilers() []string {
	return []string{compilerName}
}

func (e *wasmtimeEngine) NewStore(opts interfaces.StoreOptions) (interfaces.Store, error) {
	if opts.Compiler != compilerName {
		return nil, errors.Wrapf(engines.ErrUnsupportedCompiler, "%s engine does not support compiler %s", engineName, opts.Compiler)
	}

	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &wasmtimeStore{
		logger: logger,
		engine: newEngine(),
	}, nil
}

// IsDeserializable reports whether payload is a module serialized by this engine:
// an ELF object carrying the wasmtime-aot version header.
func (e *wasmtimeEngine) IsDeserializable(payload []byte) bool {
	return bytes.HasPrefix(payload, []byte(elfMagic)) && bytes.Contains(payload, []byte(artifactMarker))
}

func (e *wasmtimeEngine) LoadHeadless(_ context.Context, path string, payload []byte) (interfaces.Module, error) {
	engine := newEngine()

	module, err := wasmtime.NewModuleDeserialize(engine, payload)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to deserialize WASM module: %s", path)
	}

	return newModule(hclog.NewNullLogger().Named(headlessLoggerName), engine, module), nil
}

func newEngine() *wasmtime.Engine {
	engineConfig := wasmtime.NewConfig()
	engineConfig.SetCraneliftOptLevel(wasmtime.OptLevelSpeed)

	return wasmtime.NewEngineWithConfig(engineConfig)
}

type wasmtimeStore struct {
	logger hclog.Logger
	engine *wasmtime.Engine
}

func (s *wasmtimeStore) Engine() string {
	return engineName
}

func (s *wasmtimeStore) Compiler() string {
	return compilerName
}

func (s *wasmtimeStore) Compile(_ context.Context, payload []byte) (interfaces.Module, error) {
	module, err := wasmtime.NewModule(s.engine, payload)
	if err != nil {
		s.logger.Error("unable to load WASM module", "error", hclog.Fmt("%+v", err))

		return nil, errors.Wrap(err, "unable to load WASM module")
	}

	return newModule(s.logger, s.engine, module), nil
}

func (s *wasmtimeStore) Serialize(module interfaces.Module) ([]byte, error) {
	wasmtimeModule, ok := module.(*wasmtimeModule)
	if !ok {
		return nil, errors.Errorf("unable to serialize module compiled by another engine")
	}

	serModule, err := wasmtimeModule.module.Serialize()
	if err != nil {
		return nil, errors.Wrap(err, "unable to serialize WASM module")
	}

	return serModule, nil
}

func (s *wasmtimeStore) Deserialize(_ context.Context, artifact []byte) (interfaces.Module, error) {
	module, err := wasmtime.NewModuleDeserialize(s.engine, artifact)
	if err != nil {
		return nil, errors.Wrap(err, "unable to deserialize WASM module")
	}

	return newModule(s.logger, s.engine, module), nil
}

func (s *wasmtimeStore) ArtifactExtension() string {
	return artifactExtension
}

func (s *wasmtimeStore) Close(_ context.Context) error {
	return nil
}
