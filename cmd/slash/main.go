package main

import (
	"os"

	"slashbin/cmd/slash/cmd"
)

func main() {
	rootCmd := cmd.RootCmd()

	rootCmd.AddCommand(cmd.UploadCmd())
	rootCmd.AddCommand(cmd.PasteCmd())
	rootCmd.AddCommand(cmd.InfoCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
