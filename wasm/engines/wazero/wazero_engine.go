package wazero

import (
	"context"
	"path/filepath"
	"runtime"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/tetratelabs/wazero"

	"huawei.com/wasm-runner/wasm/engines"
	"huawei.com/wasm-runner/wasm/interfaces"
)

const (
	engineName          = "wazero"
	compilerName        = "wazevo"
	interpreterName     = "interpreter"
	compilationCacheDir = "wazero"
)

func init() {
	engines.Register(&wazeroEngine{})
}

type wazeroEngine struct{}

func (e *wazeroEngine) Name() string {
	return engineName
}

// Compilers lists wazevo only where wazero can generate native code.
func (e *wazeroEngine) Compilers() []string {
	if compilerSupported() {
		return []string{compilerName, interpreterName}
	}

	return []string{interpreterName}
}

func compilerSupported() bool {
	switch runtime.GOARCH {
	case "amd64", "arm64":
	default:
		return false
	}

	switch runtime.GOOS {
	case "linux", "darwin", "freebsd", "netbsd", "windows":
		return true
	default:
		return false
	}
}

func (e *wazeroEngine) NewStore(opts interfaces.StoreOptions) (interfaces.Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	var runtimeConfig wazero.RuntimeConfig

	switch {
	case opts.Compiler == interpreterName:
		runtimeConfig = wazero.NewRuntimeConfigInterpreter()
	case opts.Compiler == compilerName && compilerSupported():
		runtimeConfig = wazero.NewRuntimeConfigCompiler()
	default:
		return nil, errors.Wrapf(engines.ErrUnsupportedCompiler, "%s engine does not support compiler %s", engineName, opts.Compiler)
	}

	store := &wazeroStore{
		logger:   logger,
		compiler: opts.Compiler,
	}

	if opts.CacheDir != "" && opts.Compiler == compilerName {
		cacheDir := filepath.Join(opts.CacheDir, opts.Compiler, compilationCacheDir)

		compilationCache, err := wazero.NewCompilationCacheWithDir(cacheDir)
		if err != nil {
			logger.Warn("unable to open compilation cache, compiling without it", "dir", cacheDir, "error", hclog.Fmt("%+v", err))
		} else {
			store.compilationCache = compilationCache
			runtimeConfig = runtimeConfig.WithCompilationCache(compilationCache)
		}
	}

	store.runtime = wazero.NewRuntimeWithConfig(context.Background(), runtimeConfig)

	return store, nil
}

// wazeroStore owns one runtime. Modules compiled by it can only be
// instantiated in that runtime.
type wazeroStore struct {
	logger           hclog.Logger
	compiler         string
	runtime          wazero.Runtime
	compilationCache wazero.CompilationCache
}

func (s *wazeroStore) Engine() string {
	return engineName
}

func (s *wazeroStore) Compiler() string {
	return s.compiler
}

func (s *wazeroStore) Compile(ctx context.Context, payload []byte) (interfaces.Module, error) {
	compiled, err := s.runtime.CompileModule(ctx, payload)
	if err != nil {
		s.logger.Error("unable to compile WASM module", "error", hclog.Fmt("%+v", err))

		return nil, errors.Wrap(err, "unable to compile WASM module")
	}

	return &wazeroModule{
		logger:   s.logger,
		runtime:  s.runtime,
		compiled: compiled,
	}, nil
}

func (s *wazeroStore) Close(ctx context.Context) error {
	err := s.runtime.Close(ctx)

	if s.compilationCache != nil {
		if cacheErr := s.compilationCache.Close(ctx); cacheErr != nil && err == nil {
			err = cacheErr
		}
	}

	return err
}
