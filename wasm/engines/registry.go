package engines

import (
	"sync"

	"github.com/pkg/errors"

	"huawei.com/wasm-runner/wasm/interfaces"
)

var (
	// lock syncs access to engines and order
	lock    sync.RWMutex
	engines = make(map[string]interfaces.Engine)
	order   []string
)

func Register(engine interfaces.Engine) {
	lock.Lock()
	defer lock.Unlock()

	if _, found := engines[engine.Name()]; !found {
		order = append(order, engine.Name())
	}

	engines[engine.Name()] = engine
}

func Get(name string) (interfaces.Engine, error) {
	lock.RLock()
	defer lock.RUnlock()

	engine, found := engines[name]
	if !found {
		return nil, errors.Wrapf(ErrNotFound, "unable to find engine with name: %s", name)
	}

	return engine, nil
}

// registered returns the engines in registration order.
func registered() []interfaces.Engine {
	lock.RLock()
	defer lock.RUnlock()

	result := make([]interfaces.Engine, 0, len(order))
	for _, name := range order {
		result = append(result, engines[name])
	}

	return result
}

// Enabled returns every compiler available in this build as "engine/compiler".
func Enabled() []string {
	var result []string

	for _, engine := range registered() {
		for _, compiler := range engine.Compilers() {
			result = append(result, engine.Name()+"/"+compiler)
		}
	}

	return result
}

// Headless returns the first registered engine able to load payload as a
// precompiled artifact.
func Headless(payload []byte) (interfaces.HeadlessLoader, string, bool) {
	for _, engine := range registered() {
		loader, ok := engine.(interfaces.HeadlessLoader)
		if ok && loader.IsDeserializable(payload) {
			return loader, engine.Name(), true
		}
	}

	return nil, "", false
}
