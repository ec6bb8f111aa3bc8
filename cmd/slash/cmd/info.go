package cmd

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"slashbin/internal/core"
)

func InfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <id|url>",
		Short: "Show what an id holds and when it expires",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if i := strings.LastIndex(strings.TrimRight(id, "/"), "/"); i >= 0 {
				id = strings.TrimRight(id, "/")[i+1:]
			}

			info, err := core.NewClient(serverURL).Info(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if info.Collection {
				fmt.Fprintf(out, "%s: collection of %d files, %s\n", info.ID, len(info.Files), info.SizeHuman)
				for _, f := range info.Files {
					fmt.Fprintf(out, "  %s  %s\n", f.URL, f.Filename)
				}
			} else {
				fmt.Fprintf(out, "%s: %s, %s\n", info.ID, info.Filename, info.SizeHuman)
			}
			fmt.Fprintf(out, "created %s, expires %s\n", humanize.Time(info.CreatedAt), humanize.Time(info.ExpiresAt))
			return nil
		},
	}
}
