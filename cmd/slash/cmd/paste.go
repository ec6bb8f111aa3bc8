package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"slashbin/internal/core"
)

func PasteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paste [file]",
		Short: "Paste stdin (or a file) through the raw socket",
		Long:  "Equivalent to `cmd | nc host 9999`: the text is stored as paste.txt.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runPaste(cmd, cmd.InOrStdin())
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return runPaste(cmd, f)
		},
	}
}

func runPaste(cmd *cobra.Command, in io.Reader) error {
	reply, err := core.Paste(cmd.Context(), pasteAddr, in)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(reply))
	return nil
}
