package wasm

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"huawei.com/wasm-runner/config"
	"huawei.com/wasm-runner/wasm/abi"
	"huawei.com/wasm-runner/wasm/engines"
	"huawei.com/wasm-runner/wasm/interfaces"
	"huawei.com/wasm-runner/wasm/invoke"
)

// State is the progress of a single run.
type State int

const (
	StateModuleLoaded State = iota + 1
	StateBareDetected
	StateWasiDetected
	StateEmscriptenDetected
	StateInstantiated
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateModuleLoaded:
		return "module_loaded"
	case StateBareDetected:
		return "bare_detected"
	case StateWasiDetected:
		return "wasi_detected"
	case StateEmscriptenDetected:
		return "emscripten_detected"
	case StateInstantiated:
		return "instantiated"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func detectedState(kind abi.Kind) State {
	switch kind {
	case abi.KindEmscripten:
		return StateEmscriptenDetected
	case abi.KindWasi:
		return StateWasiDetected
	default:
		return StateBareDetected
	}
}

// RunOptions describes one module execution.
type RunOptions struct {
	Path string
	// Invoke names an exported function to call instead of the default entrypoint.
	Invoke string
	// CommandName overrides the program name passed to the guest.
	CommandName string
	// CacheKey is used as the cache key when it parses as a digest.
	CacheKey string
	Args     []string

	DenyMultipleWasiVersions  bool
	AllowMultipleWasiVersions bool
}

// programName is the first guest argument: the command name when set,
// otherwise the module path for Emscripten guests and its base name for the rest.
func (o RunOptions) programName(kind abi.Kind) string {
	switch {
	case o.CommandName != "":
		return o.CommandName
	case kind == abi.KindEmscripten:
		return o.Path
	default:
		return filepath.Base(o.Path)
	}
}

type Option func(*Runner)

func WithStdin(stdin io.Reader) Option {
	return func(r *Runner) {
		r.stdin = stdin
	}
}

func WithStdout(stdout io.Writer) Option {
	return func(r *Runner) {
		r.stdout = stdout
	}
}

func WithStderr(stderr io.Writer) Option {
	return func(r *Runner) {
		r.stderr = stderr
	}
}

// WithEnv sets the environment visible to WASI guests.
func WithEnv(env []string) Option {
	return func(r *Runner) {
		r.env = env
	}
}

// Runner loads modules and executes them under the ABI they were built for.
type Runner struct {
	logger hclog.Logger
	conf   *config.Config
	loader *loader

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	env    []string
}

func NewRunner(conf *config.Config, logger hclog.Logger, opts ...Option) (*Runner, error) {
	l, err := newLoader(logger, conf)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		logger: logger,
		conf:   conf,
		loader: l,
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Run executes the module at opts.Path. Every failure is reported as
// "failed to run `<path>`" followed by the engine and compiler in use.
func (r *Runner) Run(ctx context.Context, opts RunOptions) error {
	var engine, compiler string

	err := r.run(ctx, opts, func(e, c string) {
		engine, compiler = e, c
	})
	if err == nil {
		return nil
	}

	return errors.Wrap(err, failureMessage(opts.Path, engine, compiler))
}

func failureMessage(path, engine, compiler string) string {
	msg := fmt.Sprintf("failed to run `%s`", path)

	switch {
	case engine != "" && compiler != "":
		msg += fmt.Sprintf(" (engine: %s, compiler: %s)", engine, compiler)
	case engine != "":
		msg += fmt.Sprintf(" (engine: %s)", engine)
	case len(engines.Enabled()) == 0:
		msg += " (no compilers enabled)"
	}

	return msg
}

func (r *Runner) run(ctx context.Context, opts RunOptions, onSelect func(engine, compiler string)) (err error) {
	payload, err := os.ReadFile(opts.Path)
	if err != nil {
		return errors.Wrap(err, "unable to read module")
	}

	result, err := r.loader.load(ctx, opts.Path, payload, opts.CacheKey, onSelect)
	if err != nil {
		return err
	}
	defer result.Close(ctx)

	if result.compiler == "" {
		onSelect(result.engine, "")
	}

	logger := r.logger.With("module", result.module.Name())
	r.transition(logger, StateModuleLoaded)

	defer func() {
		if err != nil {
			r.transition(logger, StateFailed)
		} else {
			r.transition(logger, StateCompleted)
		}
	}()

	resolver := invoke.NewResolver(result.module, opts.Path, opts.Args)

	if opts.Invoke != "" {
		return r.invoke(ctx, logger, result.module, resolver, opts)
	}

	env, err := abi.Detect(logger, result.module, abi.Policy{
		DenyMultiple:  opts.DenyMultipleWasiVersions,
		AllowMultiple: opts.AllowMultipleWasiVersions,
	})
	if err != nil {
		return err
	}

	r.transition(logger, detectedState(env.Kind()))

	rc := &abi.RunContext{
		Stdin:       r.stdin,
		Stdout:      r.stdout,
		Stderr:      r.stderr,
		Resolver:    resolver,
		ProgramName: opts.programName(env.Kind()),
		Args:        opts.Args,
		Env:         r.env,
	}

	instance, err := env.Instantiate(ctx, result.module, rc)
	if err != nil {
		return err
	}
	defer instance.Close(ctx)

	r.transition(logger, StateInstantiated)

	return env.Run(ctx, instance, rc)
}

// invoke calls one exported function with arguments parsed from the command
// line and prints its results on a single line.
func (r *Runner) invoke(ctx context.Context, logger hclog.Logger, module interfaces.Module, resolver *invoke.Resolver, opts RunOptions) error {
	instance, err := module.Instantiate(ctx, interfaces.ImportSet{})
	if err != nil {
		return &abi.InstantiationError{Err: err}
	}
	defer instance.Close(ctx)

	r.transition(logger, StateInstantiated)

	fn, err := resolver.Resolve(instance, opts.Invoke)
	if err != nil {
		return err
	}

	args, err := invoke.ParseArgs(fn.Signature(), opts.Args)
	if err != nil {
		return err
	}

	logger.Debug("invoking function", "function", opts.Invoke, "args", hclog.Fmt("%v", args))

	results, err := fn.Call(ctx, args...)
	if err != nil {
		return errors.Wrapf(err, "failed to call %s", opts.Invoke)
	}

	if _, err := fmt.Fprintln(r.stdout, invoke.FormatResults(results)); err != nil {
		return errors.Wrap(err, "unable to write results")
	}

	return nil
}

// Precompile stores every module found under dir in the compiled module cache.
func (r *Runner) Precompile(ctx context.Context, dir string) (int, error) {
	return r.loader.precompile(ctx, dir)
}

func (r *Runner) transition(logger hclog.Logger, state State) {
	logger.Trace("run state changed", "state", state.String())
}
