package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Guizzs26/tdee-sync/internal/models"
	"github.com/Guizzs26/tdee-sync/internal/service"
)

// NewEntryCommand creates the entry command group.
func NewEntryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entry",
		Short: "Read and edit daily log entries",
	}
	cmd.AddCommand(newEntrySaveCommand(rootOpts))
	cmd.AddCommand(newEntryDeleteCommand(rootOpts))
	cmd.AddCommand(newEntryListCommand(rootOpts))
	return cmd
}

type entrySaveOptions struct {
	weight   float64
	calories float64
	notes    string
}

func newEntrySaveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &entrySaveOptions{}

	cmd := &cobra.Command{
		Use:   "save <YYYY-MM-DD>",
		Short: "Create or replace the entry for a day",
		Long: `Create or replace the entry for a day.

Flags that are not given are stored as empty, so pass every value
the day should keep.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec := models.DailyRecord{Date: args[0], Notes: opts.notes}
			if cmd.Flags().Changed("weight") {
				rec.Weight = models.Float(opts.weight)
			}
			if cmd.Flags().Changed("calories") {
				rec.Calories = models.Float(opts.calories)
			}

			res, err := rootOpts.client().SaveEntry(cmd.Context(), rec)
			if err != nil {
				return err
			}
			return printWrite(rootOpts.formatter(cmd), "Saved", res)
		},
	}

	cmd.Flags().Float64VarP(&opts.weight, "weight", "w", 0, "body weight")
	cmd.Flags().Float64VarP(&opts.calories, "calories", "c", 0, "calories eaten")
	cmd.Flags().StringVarP(&opts.notes, "notes", "n", "", "free-form notes")
	return cmd
}

func newEntryDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <YYYY-MM-DD>",
		Short: "Delete the entry for a day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := rootOpts.client().DeleteEntry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printWrite(rootOpts.formatter(cmd), "Deleted", res)
		},
	}
}

func newEntryListCommand(rootOpts *RootOptions) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List local entries, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := rootOpts.client().Entries(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Print(recs, func(w io.Writer) {
				if len(recs) == 0 {
					fmt.Fprintln(w, "No entries")
					return
				}
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "DATE\tWEIGHT\tCALORIES\tUPDATED\tNOTES")
				for _, r := range recs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						r.Date, nullable(r.Weight), nullable(r.Calories),
						r.UpdatedAt.Local().Format(time.DateTime), r.Notes)
				}
				tw.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "first date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last date (YYYY-MM-DD)")
	return cmd
}

func printWrite(f *OutputFormatter, verb string, res service.WriteResult) error {
	data := map[string]any{
		"date":         res.Record.Date,
		"queued":       res.Queued,
		"operation_id": res.OperationID,
	}
	if res.QueueErr != nil {
		data["queue_error"] = res.QueueErr.Error()
	}

	return f.Print(data, func(w io.Writer) {
		switch {
		case res.QueueErr != nil:
			fmt.Fprintf(w, "%s %s locally; queueing failed: %v\n", verb, res.Record.Date, res.QueueErr)
		case res.Queued:
			fmt.Fprintf(w, "%s %s (queued as %s)\n", verb, res.Record.Date, res.OperationID)
		default:
			fmt.Fprintf(w, "%s %s locally (not signed in)\n", verb, res.Record.Date)
		}
	})
}

func nullable(n models.NullFloat) string {
	if !n.Valid {
		return "-"
	}
	return fmt.Sprintf("%g", n.Float64)
}
