// Package cmd holds the botrunner binary's cobra command tree.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const customConfigLocation = "config"

func init() {
	pflag.StringSlice(
		customConfigLocation,
		nil,
		"Fully qualified path to a config file (repeat or comma-separate for multiple)",
	)
	pflag.Parse()
}

// RootCmd is the root cobra command that gets called from main.
func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "botrunner",
		Short: "botrunner runs a long-polling chat-bot update loop.",
	}

	root.AddCommand(startCmd(), statusCmd())
	return root
}
