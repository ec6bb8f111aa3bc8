package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"slashbin/internal/core"
)

type uploadOptions struct {
	expiryDays int
	archive    bool
}

func (o *uploadOptions) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&o.expiryDays, "expiry", "e", 0, "days until the upload expires (server default when unset)")
	cmd.Flags().BoolVarP(&o.archive, "zip", "z", false, "send everything as one zip archive")
}

// RootCmd uploads its arguments, or pastes stdin when it is piped and no
// paths are given.
func RootCmd() *cobra.Command {
	var opts uploadOptions

	cmd := &cobra.Command{
		Use:          "slash [path...]",
		Short:        "Share files and pastes that expire on their own",
		SilenceUsage: true,
		Args:         cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return runUpload(cmd, args, opts)
			}
			if stdinIsPiped() {
				return runPaste(cmd, cmd.InOrStdin())
			}
			return cmd.Help()
		},
	}
	opts.register(cmd)
	addGlobalFlags(cmd)
	return cmd
}

func UploadCmd() *cobra.Command {
	var opts uploadOptions

	cmd := &cobra.Command{
		Use:   "upload <path>...",
		Short: "Upload files or directories",
		Long: "Upload one file as an object, several as a collection. " +
			"Directories are always sent as a single zip archive.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, args, opts)
		},
	}
	opts.register(cmd)
	return cmd
}

func runUpload(cmd *cobra.Command, args []string, opts uploadOptions) error {
	parsed, err := core.ParseArgs(args)
	if err != nil {
		return err
	}
	tree, err := core.BuildFiletree(parsed, time.Now())
	if err != nil {
		return err
	}

	archive := opts.archive || core.HasDir(parsed)
	if archive {
		fmt.Fprintf(cmd.ErrOrStderr(), "Compressing %s (%s)...\n",
			tree.ArchiveName(), humanize.IBytes(uint64(tree.TotalSize())))
	}

	res, err := core.NewClient(serverURL).Upload(cmd.Context(), tree.Parts(archive), opts.expiryDays)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, res.URL)
	for _, f := range res.Files {
		fmt.Fprintf(out, "  %s  %s (%s)\n", f.URL, f.Filename, humanize.IBytes(uint64(f.Size)))
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "✓ %s, expires %s\n",
		humanize.IBytes(uint64(res.Size)), humanize.Time(res.ExpiresAt))
	return nil
}

func stdinIsPiped() bool {
	info, err := os.Stdin.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice == 0
}
