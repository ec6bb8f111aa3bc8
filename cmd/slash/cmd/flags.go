package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	pasteAddr string
)

// addGlobalFlags registers the server endpoints on root. Environment
// variables provide the defaults.
func addGlobalFlags(root *cobra.Command) {
	root.PersistentFlags().StringVar(&serverURL, "server", envOr("SLASH_SERVER", "http://localhost:8080"), "HTTP base URL of the slashbin server")
	root.PersistentFlags().StringVar(&pasteAddr, "paste-addr", envOr("SLASH_PASTE_ADDR", "localhost:9999"), "host:port of the paste socket")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
