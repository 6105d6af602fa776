package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func syncCmd() *cobra.Command {
	var userID int64

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the pending drafts of one user and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(nil)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			stats, err := a.sync.RunWithStats(ctx, userID)
			if err != nil {
				return fmt.Errorf("run sync: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run:       %s\n", stats.RunID)
			fmt.Fprintf(out, "Pending:   %d\n", stats.Pending)
			fmt.Fprintf(out, "Saved:     %d\n", stats.Saved)
			fmt.Fprintf(out, "Updated:   %d\n", stats.Updated)
			fmt.Fprintf(out, "Conflicts: %d\n", stats.Conflicts)
			fmt.Fprintf(out, "Failed:    %d\n", stats.Failed)
			fmt.Fprintf(out, "Duration:  %s\n", stats.Duration)

			if !stats.Succeeded {
				return errors.New("sync did not complete")
			}
			return nil
		},
	}

	cmd.Flags().Int64VarP(&userID, "user", "u", 0, "local user id")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
