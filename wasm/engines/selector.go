package engines

import (
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"huawei.com/wasm-runner/wasm/interfaces"
)

// DefaultCompilers is the order compilers are picked in when the
// configuration names none.
var DefaultCompilers = []string{"cranelift", "llvm", "wazevo", "interpreter"}

type Preferences struct {
	// Disabled engines are never selected.
	Disabled map[string]bool
	Engine   string
	Compiler string
	CacheDir string
}

// Selection is the compilation context picked for a run together with
// the identifiers used for cache paths and diagnostics.
type Selection struct {
	Store    interfaces.Store
	Engine   string
	Compiler string
}

func Select(logger hclog.Logger, prefs Preferences) (*Selection, error) {
	engine, compiler, err := resolve(prefs)
	if err != nil {
		return nil, err
	}

	store, err := engine.NewStore(interfaces.StoreOptions{
		Logger:   logger.Named(engine.Name()),
		Compiler: compiler,
		CacheDir: prefs.CacheDir,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "unable to create store for engine %s with compiler %s", engine.Name(), compiler)
	}

	logger.Debug("selected engine", "engine", engine.Name(), "compiler", compiler)

	return &Selection{
		Store:    store,
		Engine:   engine.Name(),
		Compiler: compiler,
	}, nil
}

func resolve(prefs Preferences) (interfaces.Engine, string, error) {
	var candidates []interfaces.Engine

	for _, engine := range registered() {
		if !prefs.Disabled[engine.Name()] && len(engine.Compilers()) > 0 {
			candidates = append(candidates, engine)
		}
	}

	if prefs.Engine != "" {
		engine, err := Get(prefs.Engine)
		if err != nil {
			return nil, "", err
		}

		if prefs.Disabled[engine.Name()] || len(engine.Compilers()) == 0 {
			return nil, "", errors.Wrapf(ErrNoCompilers, "engine %s has no usable compiler", engine.Name())
		}

		candidates = []interfaces.Engine{engine}
	}

	if len(candidates) == 0 {
		return nil, "", ErrNoCompilers
	}

	if prefs.Compiler != "" {
		for _, engine := range candidates {
			if supports(engine, prefs.Compiler) {
				return engine, prefs.Compiler, nil
			}
		}

		if prefs.Engine != "" {
			return nil, "", errors.Wrapf(ErrUnsupportedCompiler, "engine %s does not support compiler %s", prefs.Engine, prefs.Compiler)
		}

		return nil, "", errors.Wrapf(ErrUnsupportedCompiler, "no enabled engine supports compiler %s", prefs.Compiler)
	}

	for _, compiler := range DefaultCompilers {
		for _, engine := range candidates {
			if supports(engine, compiler) {
				return engine, compiler, nil
			}
		}
	}

	return candidates[0], candidates[0].Compilers()[0], nil
}

func supports(engine interfaces.Engine, compiler string) bool {
	for _, c := range engine.Compilers() {
		if c == compiler {
			return true
		}
	}

	return false
}
