package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Guizzs26/tdee-sync/internal/broker"
	"github.com/Guizzs26/tdee-sync/internal/models"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and repair the pending operation queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending operations in send order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := rootOpts.client().Queue(cmd.Context())
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Print(ops, func(w io.Writer) {
				printOperations(w, ops, "Queue is empty")
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop every pending operation without sending it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rootOpts.client().ClearQueue(cmd.Context()); err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Print(map[string]bool{"cleared": true}, func(w io.Writer) {
				fmt.Fprintln(w, "Queue cleared")
			})
		},
	})

	var maxRetries int
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Remove operations that exhausted their retries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := rootOpts.client().PruneQueue(cmd.Context(), maxRetries)
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Print(removed, func(w io.Writer) {
				printOperations(w, removed, "No stuck operations")
			})
		},
	}
	prune.Flags().IntVar(&maxRetries, "max-retries", 0, "retry threshold (default: daemon limit)")
	cmd.AddCommand(prune)

	cmd.AddCommand(&cobra.Command{
		Use:   "filter",
		Short: "Drop malformed operations that can never be sent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := rootOpts.client().FilterQueue(cmd.Context())
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Print(res, func(w io.Writer) {
				fmt.Fprintf(w, "Filtered %d operation(s), %d remaining\n", res.Filtered, res.Remaining)
			})
		},
	})

	cmd.AddCommand(newQueueRequeueCommand(rootOpts))

	return cmd
}

func newQueueRequeueCommand(rootOpts *RootOptions) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "requeue <archive.jsonl|->",
		Short: "Replay operations from a dead-letter archive",
		Long: `Replay operations from a dead-letter archive.

Each archived operation is queued again with a fresh id and zero
retries. Use --reason to replay only letters removed for that reason.`,
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

			letters, err := broker.ReadArchive(r)
			if err != nil {
				return err
			}

			c := rootOpts.client()
			requeued := make(map[string]string)
			skipped := 0
			for _, dl := range letters {
				if reason != "" && dl.Reason != reason {
					skipped++
					continue
				}
				id, err := c.Requeue(cmd.Context(), dl.Operation)
				if err != nil {
					return fmt.Errorf("requeue %s: %w", dl.Operation.ID, err)
				}
				requeued[dl.Operation.ID] = id
			}

			data := map[string]any{"requeued": requeued, "skipped": skipped}
			return rootOpts.formatter(cmd).Print(data, func(w io.Writer) {
				fmt.Fprintf(w, "Requeued %d operation(s), skipped %d\n", len(requeued), skipped)
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "only replay letters with this reason")
	return cmd
}

// NewErrorsCommand creates the errors command group.
func NewErrorsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Inspect the sync error history",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recorded sync failures, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := rootOpts.client().Errors(cmd.Context())
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Print(entries, func(w io.Writer) {
				if len(entries) == 0 {
					fmt.Fprintln(w, "No sync errors")
					return
				}
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "WHEN\tOPERATION\tERROR")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", humanize.Time(e.Timestamp), e.Operation, e.Error)
				}
				tw.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget every recorded sync failure",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rootOpts.client().ClearErrors(cmd.Context()); err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Print(map[string]bool{"cleared": true}, func(w io.Writer) {
				fmt.Fprintln(w, "Error history cleared")
			})
		},
	})

	return cmd
}

func printOperations(w io.Writer, ops []models.QueuedOperation, empty string) {
	if len(ops) == 0 {
		fmt.Fprintln(w, empty)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tDATE\tRETRIES\tQUEUED")
	for _, op := range ops {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			op.ID, op.Type, op.Data.Date, op.Retries, humanize.Time(op.Timestamp))
	}
	tw.Flush()
}
