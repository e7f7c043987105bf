package wasm

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bluele/gcache"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"huawei.com/wasm-runner/config"
	"huawei.com/wasm-runner/wasm/cache"
	"huawei.com/wasm-runner/wasm/engines"
	"huawei.com/wasm-runner/wasm/interfaces"
)

// cacheThreshold is the payload size up to which modules are always compiled
// without touching the cache.
const cacheThreshold = 0x1000

// CompileError is returned when the selected engine rejects a payload.
type CompileError struct {
	Err      error
	Engine   string
	Compiler string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("unable to compile module with %s/%s: %v", e.Engine, e.Compiler, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// loaded is a module ready to be instantiated together with what produced it.
type loaded struct {
	module interfaces.Module
	// store is nil for modules loaded headless.
	store    interfaces.Store
	engine   string
	compiler string
	cached   bool
}

func (l *loaded) Close(ctx context.Context) {
	_ = l.module.Close(ctx)

	if l.store != nil {
		_ = l.store.Close(ctx)
	}
}

type loader struct {
	logger hclog.Logger
	conf   *config.Config
	// memory is shared by every cache opened by this loader.
	memory gcache.Cache
}

func newLoader(logger hclog.Logger, conf *config.Config) (*loader, error) {
	l := &loader{
		logger: logger,
		conf:   conf,
	}

	if memoryConf, enabled := conf.Memory(); enabled && !conf.DisableCache {
		memory, err := cache.NewMemory(memoryConf)
		if err != nil {
			return nil, errors.Wrap(err, "unable to create memory cache")
		}

		l.memory = memory
	}

	return l, nil
}

// cacheable reports whether a payload of this size goes through the cache.
func (l *loader) cacheable(payload []byte) bool {
	return !l.conf.DisableCache && l.conf.CacheDir != "" && len(payload) > cacheThreshold
}

// load turns payload into a compiled module. Serialized artifacts recognised by
// a headless loader skip selection and the cache entirely.
func (l *loader) load(ctx context.Context, path string, payload []byte, cacheKey string, onSelect func(engine, compiler string)) (*loaded, error) {
	if headless, engine, ok := engines.Headless(payload); ok {
		l.logger.Debug("loading precompiled module", "engine", engine, "path", path)

		module, err := headless.LoadHeadless(ctx, path, payload)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to load precompiled module with %s", engine)
		}

		module.SetName(filepath.Base(path))

		return &loaded{module: module, engine: engine}, nil
	}

	cacheable := l.cacheable(payload)

	prefs := engines.Preferences{
		Disabled: l.conf.Disabled(),
		Engine:   l.conf.Engine,
		Compiler: l.conf.Compiler,
	}

	if cacheable {
		prefs.CacheDir = l.conf.CacheDir
	}

	selection, err := engines.Select(l.logger, prefs)
	if err != nil {
		return nil, err
	}

	if onSelect != nil {
		onSelect(selection.Engine, selection.Compiler)
	}

	result := &loaded{
		store:    selection.Store,
		engine:   selection.Engine,
		compiler: selection.Compiler,
	}

	artifacts, hasArtifacts := selection.Store.(interfaces.ArtifactStore)

	if cacheable && hasArtifacts {
		result.module, result.cached, err = l.fromCache(ctx, selection, artifacts, payload, cacheKey)
	} else {
		result.module, err = compile(ctx, selection, payload)
	}

	if err != nil {
		_ = selection.Store.Close(ctx)

		return nil, err
	}

	result.module.SetName(filepath.Base(path))

	return result, nil
}

// fromCache returns the cached module for payload, compiling and storing it on
// a miss. Entries that fail to load are replaced.
func (l *loader) fromCache(ctx context.Context, selection *engines.Selection, artifacts interfaces.ArtifactStore,
	payload []byte, cacheKey string,
) (interfaces.Module, bool, error) {
	fsCache, err := l.openCache(selection.Compiler, artifacts.ArtifactExtension())
	if err != nil {
		return nil, false, err
	}

	key := cache.KeyFor(cacheKey, payload)

	artifact, err := fsCache.Load(key)
	if err == nil {
		module, err := artifacts.Deserialize(ctx, artifact)
		if err == nil {
			l.logger.Debug("loaded module from cache", "key", key.String(), "compiler", selection.Compiler)

			return module, true, nil
		}

		l.logger.Warn("cached module is corrupted", "path", fsCache.Path(key), "error", hclog.Fmt("%+v", err))
	} else if !errors.Is(err, cache.ErrNotFound) {
		l.logger.Warn("cached module is corrupted", "path", fsCache.Path(key), "error", hclog.Fmt("%+v", err))
	}

	module, err := compile(ctx, selection, payload)
	if err != nil {
		return nil, false, err
	}

	artifact, err = artifacts.Serialize(module)
	if err != nil {
		_ = module.Close(ctx)

		return nil, false, errors.Wrap(err, "unable to serialize compiled module")
	}

	if err := fsCache.Store(key, artifact); err != nil {
		_ = module.Close(ctx)

		return nil, false, err
	}

	l.logger.Debug("stored module in cache", "key", key.String(), "path", fsCache.Path(key))

	return module, false, nil
}

// openCache opens the cache directory of one compiler.
func (l *loader) openCache(compiler, extension string) (*cache.FileSystemCache, error) {
	fsCache, err := cache.NewFileSystemCache(filepath.Join(l.conf.CacheDir, compiler))
	if err != nil {
		return nil, err
	}

	if extension == "" {
		extension = compiler
	}

	fsCache.SetExtension(extension)

	if l.memory != nil {
		fsCache.SetMemory(l.memory)
	}

	return fsCache, nil
}

func compile(ctx context.Context, selection *engines.Selection, payload []byte) (interfaces.Module, error) {
	module, err := selection.Store.Compile(ctx, payload)
	if err != nil {
		return nil, &CompileError{Err: err, Engine: selection.Engine, Compiler: selection.Compiler}
	}

	return module, nil
}

// precompile loads every *.wasm file under modulesDir through the cache and
// returns the number of loaded modules.
func (l *loader) precompile(ctx context.Context, modulesDir string) (int, error) {
	var (
		modulesPath      []string
		loadedModulesNum int
	)

	err := filepath.Walk(modulesDir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && strings.HasSuffix(info.Name(), ".wasm") {
			modulesPath = append(modulesPath, path)
		}

		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "unable to get WASM modules from %s directory", modulesDir)
	}

	for _, modulePath := range modulesPath {
		payload, err := os.ReadFile(modulePath)
		if err != nil {
			return loadedModulesNum, errors.Wrapf(err, "unable to read WASM module (%v)", modulePath)
		}

		result, err := l.load(ctx, modulePath, payload, "", nil)
		if err != nil {
			return loadedModulesNum, errors.Wrapf(err, "unable to load WASM module (%v)", modulePath)
		}

		result.Close(ctx)

		l.logger.Debug("precompiled module", "path", modulePath, "engine", result.engine,
			"compiler", result.compiler, "cached", result.cached)

		loadedModulesNum++
	}

	return loadedModulesNum, nil
}
