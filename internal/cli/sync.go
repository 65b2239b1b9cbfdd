package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, session and queue state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := rootOpts.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Print(st, func(w io.Writer) {
				user := st.User
				if user == "" {
					user = "-"
				}
				fmt.Fprintf(w, "online:        %t\n", st.Online)
				fmt.Fprintf(w, "authenticated: %t (session: %t)\n", st.Authenticated, st.HasSession)
				fmt.Fprintf(w, "user:          %s\n", user)
				fmt.Fprintf(w, "pending:       %d (%d stuck)\n", st.PendingOperations, st.StuckOperations)
				fmt.Fprintf(w, "syncing:       %t\n", st.SyncInProgress)
				fmt.Fprintf(w, "errors:        %d\n", st.ErrorCount)
				fmt.Fprintf(w, "last sync:     %s\n", st.LastSync)
			})
		},
	}
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Drain the pending operation queue now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := rootOpts.client().Sync(cmd.Context())
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Print(res, func(w io.Writer) {
				if res.Skipped != "" {
					fmt.Fprintf(w, "Drain skipped: %s\n", res.Skipped)
					return
				}
				fmt.Fprintf(w, "Drained %s operation(s): %d succeeded, %d failed in %s\n",
					humanize.Comma(int64(res.Attempted)), res.Succeeded, res.Failed, res.Duration)
				if res.Interrupted {
					fmt.Fprintln(w, "Drain was interrupted; remaining operations stay queued")
				}
			})
		},
	}
}

// NewPullCommand creates the pull command.
func NewPullCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Fetch remote entries and merge them into the local log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := rootOpts.client().Pull(cmd.Context())
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Print(res, func(w io.Writer) {
				fmt.Fprintf(w, "Merged %d record(s): %d added, %d remote wins, %d local wins, %d skipped\n",
					res.Records, res.Added, res.RemoteWins, res.LocalWins, res.Skipped)
			})
		},
	}
}

// NewNetworkCommand creates the network command.
func NewNetworkCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "network <online|offline>",
		Short:     "Tell the daemon whether the network is reachable",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"online", "offline"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var online bool
			switch args[0] {
			case "online":
				online = true
			case "offline":
			default:
				v, err := strconv.ParseBool(args[0])
				if err != nil {
					return fmt.Errorf("invalid network state %q: use online or offline", args[0])
				}
				online = v
			}

			if err := rootOpts.client().SetOnline(cmd.Context(), online); err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Print(map[string]bool{"online": online}, func(w io.Writer) {
				fmt.Fprintf(w, "Network marked %s\n", args[0])
			})
		},
	}
}
