package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Guizzs26/tdee-sync/internal/transfer"
)

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		output   string
		settings transfer.Settings
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every local entry to a JSON backup bundle",
		Long: `Write every local entry to a JSON backup bundle.

Without --output the bundle itself is printed to stdout and --format
is ignored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := transfer.Export(cmd.Context(), rootOpts.client(), settings, time.Now())
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				return b.Encode(cmd.OutOrStdout())
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create %s: %w", output, err)
			}
			if err := b.Encode(f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close %s: %w", output, err)
			}

			summary := map[string]any{"file": output, "entries": len(b.Entries)}
			return rootOpts.formatter(cmd).Print(summary, func(w io.Writer) {
				fmt.Fprintf(w, "Exported %d entries to %s\n", len(b.Entries), output)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "bundle file (default: stdout)")
	cmd.Flags().StringVar(&settings.WeightUnit, "weight-unit", "kg", "weight unit recorded in the bundle")
	cmd.Flags().StringVar(&settings.CalorieUnit, "calorie-unit", "kcal", "calorie unit recorded in the bundle")
	return cmd
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <bundle.json|->",
		Short: "Load entries from a JSON backup bundle",
		Long: `Load entries from a JSON backup bundle.

Each entry is saved as a fresh edit, so it replaces the local day and
is queued for the backend when the daemon is signed in.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open %s: %w", args[0], err)
				}
				defer f.Close()
				r = f
			}

			b, err := transfer.Decode(r)
			if err != nil {
				return err
			}

			res, err := transfer.Import(cmd.Context(), rootOpts.client(), b)
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Print(res, func(w io.Writer) {
				fmt.Fprintf(w, "Imported %d entries (%d queued, %d skipped)\n", res.Imported, res.Queued, res.Skipped)
				if res.QueueErrors > 0 {
					fmt.Fprintf(w, "%d entries could not be queued; they are saved locally\n", res.QueueErrors)
				}
			})
		},
	}
}
