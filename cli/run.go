package cli

import (
	"os"

	"github.com/spf13/cobra"

	"huawei.com/wasm-runner/wasm"
)

func newRunCommand(root *rootOptions) *cobra.Command {
	var runOpts wasm.RunOptions

	runCmd := &cobra.Command{
		Use:   "run [flags] FILE [ARGS...]",
		Short: "Run a WebAssembly module",
		Long: `Run compiles FILE, or loads its cached artifact, and executes it.

Flags after FILE are passed to the module as arguments. With --invoke the
named export is called with ARGS converted to its parameter types and the
results are printed on one line.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, logger, err := root.load(cmd.Flags())
			if err != nil {
				return err
			}

			runner, err := wasm.NewRunner(conf, logger,
				wasm.WithStdin(root.streams.Stdin),
				wasm.WithStdout(root.streams.Stdout),
				wasm.WithStderr(root.streams.Stderr),
				wasm.WithEnv(os.Environ()),
			)
			if err != nil {
				return err
			}

			runOpts.Path = args[0]
			runOpts.Args = args[1:]

			return runner.Run(cmd.Context(), runOpts)
		},
	}

	flags := runCmd.Flags()
	flags.SetInterspersed(false)

	flags.StringVarP(&runOpts.Invoke, "invoke", "i", "", "exported function to call instead of the entrypoint")
	flags.StringVar(&runOpts.CommandName, "command-name", "", "program name passed to the module")
	flags.StringVar(&runOpts.CacheKey, "cache-key", "", "digest used as the cache key instead of the module hash")
	flags.BoolVar(&runOpts.DenyMultipleWasiVersions, "deny-multiple-wasi-versions", false, "fail when the module imports several WASI versions")
	flags.BoolVar(&runOpts.AllowMultipleWasiVersions, "allow-multiple-wasi-versions", false, "do not warn when the module imports several WASI versions")

	_ = flags.MarkHidden("command-name")
	_ = flags.MarkHidden("cache-key")

	runCmd.MarkFlagsMutuallyExclusive("deny-multiple-wasi-versions", "allow-multiple-wasi-versions")

	return runCmd
}
