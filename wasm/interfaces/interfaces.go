package interfaces

import (
	"context"
	"io"

	"github.com/hashicorp/go-hclog"
)

// Engine is a compiler backend registered under a unique name.
type Engine interface {
	Name() string
	// Compilers lists the compiler identifiers the engine can drive, preferred first.
	Compilers() []string
	NewStore(opts StoreOptions) (Store, error)
}

type StoreOptions struct {
	Logger   hclog.Logger
	Compiler string
	// CacheDir is handed to engines that keep their own compilation cache.
	// Empty disables it.
	CacheDir string
}

// Store is the compilation context produced by an engine for one compiler.
type Store interface {
	Engine() string
	Compiler() string
	Compile(ctx context.Context, payload []byte) (Module, error)
	Close(ctx context.Context) error
}

// ArtifactStore is implemented by stores whose compiled modules can be
// persisted and restored without recompiling.
type ArtifactStore interface {
	Serialize(module Module) ([]byte, error)
	Deserialize(ctx context.Context, artifact []byte) (Module, error)
	ArtifactExtension() string
}

// HeadlessLoader is implemented by engines able to load a previously
// serialized artifact without any compiler.
type HeadlessLoader interface {
	IsDeserializable(payload []byte) bool
	LoadHeadless(ctx context.Context, path string, payload []byte) (Module, error)
}

type Module interface {
	Name() string
	SetName(name string)
	Imports() []Import
	Exports() []Export
	Instantiate(ctx context.Context, imports ImportSet) (Instance, error)
	Close(ctx context.Context) error
}

type Instance interface {
	// Function fails with ErrExportMissing or ErrExportIncompatible.
	Function(name string) (Function, error)
	MemoryRange(start, size uint32) ([]byte, error)
	Close(ctx context.Context) error
}

type Function interface {
	Signature() Signature
	// Call takes and returns int32, int64, float32 or float64 values.
	Call(ctx context.Context, args ...interface{}) ([]interface{}, error)
}

// ImportSet describes the host imports a module is instantiated with.
// The zero value is the empty import set.
type ImportSet struct {
	Wasi       *WasiImports
	Emscripten bool
}

type WasiImports struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Namespaces are the module names the WASI functions are linked under.
	Namespaces []string
	Args       []string
	Env        []string
}
