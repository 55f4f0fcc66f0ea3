package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dispatchctl",
		Version:       version,
		Short:         "Operate webhook destinations",
		Long:          "dispatchctl inspects integration types, validates destination files, signs and verifies payloads, and sends test deliveries.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
		},
	}
	root.AddCommand(
		newIntegrationsCmd(),
		newValidateCmd(),
		newTestCmd(),
		newSignCmd(),
		newVerifyCmd(),
		newTokenCmd(),
	)
	return root
}
