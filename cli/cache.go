package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"huawei.com/wasm-runner/wasm"
)

func newCacheCommand(root *rootOptions) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the compiled module cache",
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "warm DIR",
		Short: "Compile every .wasm file under DIR into the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, logger, err := root.load(cmd.Flags())
			if err != nil {
				return err
			}

			runner, err := wasm.NewRunner(conf, logger)
			if err != nil {
				return err
			}

			count, err := runner.Precompile(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "compiled %d modules\n", count)

			return nil
		},
	})

	return cacheCmd
}
