//go:build wasmedge

package wasmedge

import (
	"context"
	"os"
	"path/filepath"
	"runtime"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/second-state/WasmEdge-go/wasmedge"

	"huawei.com/wasm-runner/wasm/engines"
	"huawei.com/wasm-runner/wasm/interfaces"
)

const (
	engineName   = "native"
	compilerName = "llvm"
)

func init() {
	engines.Register(&wasmedgeEngine{})
}

// artifactExtension is the shared library extension of the host platform.
func artifactExtension() string {
	switch runtime.GOOS {
	case "darwin":
		return "dylib"
	case "windows":
		return "dll"
	default:
		return "so"
	}
}

type wasmedgeEngine struct{}

func (e *wasmedgeEngine) Name() string {
	return engineName
}

func (e *wasmedgeEngine) Compilers() []string {
	return []string{compilerName}
}

func (e *wasmedgeEngine) NewStore(opts interfaces.StoreOptions) (interfaces.Store, error) {
	if opts.Compiler != compilerName {
		return nil, errors.Wrapf(engines.ErrUnsupportedCompiler, "%s engine does not support compiler %s", engineName, opts.Compiler)
	}

	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	conf := wasmedge.NewConfigure(wasmedge.WASI)
	conf.SetCompilerOutputFormat(wasmedge.CompilerOutputFormat_Native)

	return &wasmedgeStore{
		logger: logger,
		conf:   conf,
	}, nil
}

// wasmedgeStore compiles modules ahead of time into native shared libraries.
type wasmedgeStore struct {
	logger hclog.Logger
	conf   *wasmedge.Configure
}

func (s *wasmedgeStore) Engine() string {
	return engineName
}

func (s *wasmedgeStore) Compiler() string {
	return compilerName
}

func (s *wasmedgeStore) Compile(_ context.Context, payload []byte) (interfaces.Module, error) {
	workDir, err := os.MkdirTemp("", "wasm-runner-llvm-*")
	if err != nil {
		return nil, errors.Wrap(err, "unable to create compilation directory")
	}
	defer os.RemoveAll(workDir)

	inPath := filepath.Join(workDir, "module.wasm")
	outPath := filepath.Join(workDir, "module."+artifactExtension())

	if err := os.WriteFile(inPath, payload, 0o600); err != nil {
		return nil, errors.Wrap(err, "unable to write module for compilation")
	}

	compiler := wasmedge.NewCompilerWithConfig(s.conf)
	defer compiler.Release()

	if err := compiler.Compile(inPath, outPath); err != nil {
		s.logger.Error("unable to compile WASM module", "error", hclog.Fmt("%+v", err))

		return nil, errors.Wrap(err, "unable to compile WASM module")
	}

	artifact, err := os.ReadFile(outPath)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read compiled module")
	}

	return s.loadModule(outPath, artifact)
}

func (s *wasmedgeStore) Serialize(module interfaces.Module) ([]byte, error) {
	wasmedgeModule, ok := module.(*wasmedgeModule)
	if !ok {
		return nil, errors.Errorf("unable to serialize module compiled by another engine")
	}

	return wasmedgeModule.artifact, nil
}

func (s *wasmedgeStore) Deserialize(_ context.Context, artifact []byte) (interfaces.Module, error) {
	workDir, err := os.MkdirTemp("", "wasm-runner-llvm-*")
	if err != nil {
		return nil, errors.Wrap(err, "unable to create loading directory")
	}
	defer os.RemoveAll(workDir)

	path := filepath.Join(workDir, "module."+artifactExtension())
	if err := os.WriteFile(path, artifact, 0o600); err != nil {
		return nil, errors.Wrap(err, "unable to write compiled module")
	}

	return s.loadModule(path, artifact)
}

func (s *wasmedgeStore) ArtifactExtension() string {
	return artifactExtension()
}

func (s *wasmedgeStore) Close(_ context.Context) error {
	s.conf.Release()

	return nil
}

// loadModule loads and validates the shared library at path.
func (s *wasmedgeStore) loadModule(path string, artifact []byte) (*wasmedgeModule, error) {
	loader := wasmedge.NewLoaderWithConfig(s.conf)
	defer loader.Release()

	ast, err := loader.LoadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to load compiled module")
	}

	validator := wasmedge.NewValidatorWithConfig(s.conf)
	defer validator.Release()

	if err := validator.Validate(ast); err != nil {
		ast.Release()

		return nil, errors.Wrap(err, "unable to validate module")
	}

	return &wasmedgeModule{
		logger:   s.logger,
		ast:      ast,
		artifact: artifact,
	}, nil
}
