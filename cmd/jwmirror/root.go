package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "jwmirror",
		Short:         "Mirror a remote media and publication catalog onto local storage",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newMediaCommand(&configFlag))
	rootCmd.AddCommand(newVTTCommand(&configFlag))
	rootCmd.AddCommand(newPubsCommand(&configFlag))
	rootCmd.AddCommand(newServeCommand(&configFlag))

	return rootCmd
}
