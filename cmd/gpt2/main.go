package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := NewCLI().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// NewCLI builds the root command with every subcommand attached.
func NewCLI() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:   "gpt2",
		Short: "GPT-2 inference on hand-written CPU kernels",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.setupLogging()
		},
	}
	opts.register(rootCmd)

	rootCmd.AddCommand(
		newGenerateCmd(opts),
		newTokenizeCmd(opts),
		newServeWeightsCmd(opts),
		newConvertCmd(opts),
	)
	return rootCmd
}
