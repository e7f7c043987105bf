// Package cli contains the wasm-runner commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"huawei.com/wasm-runner/config"
	"huawei.com/wasm-runner/wasm/interfaces"
)

// Streams are the process streams the commands and guests use.
type Streams struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

type rootOptions struct {
	streams    Streams
	configPath string
	debug      bool
}

// flagKeys maps command line flags to the config keys they override.
var flagKeys = map[string]string{
	"cache-dir":     "cache_dir",
	"disable-cache": "disable_cache",
	"engine":        "engine",
	"compiler":      "compiler",
	"log-level":     "log_level",
}

// NewRootCommand builds the wasm-runner command tree.
func NewRootCommand(streams Streams) *cobra.Command {
	opts := &rootOptions{streams: streams}

	rootCmd := &cobra.Command{
		Use:   config.AppName,
		Short: "Run WebAssembly modules",
		Long: config.AppName + ` compiles WebAssembly modules with the enabled engines,
keeps the compiled artifacts in a local cache and runs them as bare,
WASI or Emscripten programs.

Examples:
  wasm-runner run app.wasm arg1 arg2     Run the module entrypoint
  wasm-runner run -i add math.wasm 1 2   Call an exported function
  wasm-runner cache warm ./modules       Precompile every module in a directory`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetIn(streams.Stdin)
	rootCmd.SetOut(streams.Stdout)
	rootCmd.SetErr(streams.Stderr)

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (HCL or JSON)")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().String("cache-dir", "", "directory of the compiled module cache")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error, off)")
	rootCmd.PersistentFlags().Bool("disable-cache", false, "do not read or write the compiled module cache")
	rootCmd.PersistentFlags().String("engine", "", "engine to compile with")
	rootCmd.PersistentFlags().String("compiler", "", "compiler to compile with")

	rootCmd.AddCommand(newRunCommand(opts))
	rootCmd.AddCommand(newCacheCommand(opts))

	return rootCmd
}

// load reads the configuration and builds the logger for one command.
func (o *rootOptions) load(flags *pflag.FlagSet) (*config.Config, hclog.Logger, error) {
	conf, err := config.Load(config.LoadOptions{
		Path:     o.configPath,
		Flags:    flags,
		FlagKeys: flagKeys,
	})
	if err != nil {
		return nil, nil, err
	}

	level := hclog.LevelFromString(conf.LogLevel)
	if o.debug && (level == hclog.NoLevel || level > hclog.Debug) {
		level = hclog.Debug
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:   config.AppName,
		Level:  level,
		Output: o.streams.Stderr,
	})

	return conf, logger, nil
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, streams Streams) int {
	rootCmd := NewRootCommand(streams)
	rootCmd.SetArgs(args)

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	fmt.Fprintf(streams.Stderr, "error: %v\n", err)

	var exitErr *interfaces.ExitError
	if errors.As(err, &exitErr) {
		//nolint:gosec
		return int(exitErr.Code)
	}

	return 1
}

// Main is called by main.main.
func Main() {
	os.Exit(Execute(context.Background(), os.Args[1:], Streams{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}))
}
