package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:          "guildauth",
		Short:        "Discord login and guild authorization service",
		Version:      version,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCommand(), newMigrateCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
