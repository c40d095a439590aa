package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alvesdmateus/image-publisher/internal/publisher"
)

// configFile is the explicit config path from --config
var configFile string

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	opts := &publishOptions{}

	cmd := &cobra.Command{
		Use:   "publisher",
		Short: "image-publisher - build a container image and publish it to Amazon ECR",
		Long: `image-publisher builds the application image from the current directory and
publishes it to the Elastic Container Registry of the calling AWS account.

Core Flow:
  Identity → Prune → Build → Login → Resolve ID → Tag → Ensure Repository → Push

Running without a subcommand is the same as "publisher publish".`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd, opts)
		},
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ./publisher.yaml or ./config/publisher.yaml)")
	opts.addFlags(cmd)

	cmd.AddCommand(newPublishCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// Execute runs the root command and returns the process exit code
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return publisher.ExitOK
	}

	// Step failures were already reported with their diagnostics
	if _, ok := publisher.FailedStep(err); !ok {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return publisher.ExitCode(err)
}
