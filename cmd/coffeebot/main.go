package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "coffeebot",
		Short:         "Pairs stream members for coffee chats and tells them who they're meeting",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a JSON config file; environment variables override it")

	root.AddCommand(
		newServeCmd(&configFile),
		newRunCmd(&configFile),
		newSetDaysCmd(&configFile),
		newMigrateCmd(&configFile),
	)
	return root
}
