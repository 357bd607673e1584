package cli

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"watchsync/models"
)

var dismissCmd = &cobra.Command{
	Use:   "dismiss <movie|show> <id>",
	Short: "Hide a movie or show from continue watching",
	Long: `Hide a movie or show from continue watching until it has new activity.

Examples:
  watchsync dismiss show tmdb:1399
  watchsync dismiss movie imdb:tt0113277
  watchsync dismiss list`,
	Args: cobra.ExactArgs(2),
	RunE: runDismiss,
}

var dismissListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded dismissals",
	Args:  cobra.NoArgs,
	RunE:  runDismissList,
}

func init() {
	dismissCmd.AddCommand(dismissListCmd)
}

func runDismiss(cmd *cobra.Command, args []string) error {
	kind, err := models.ParseMediaKind(args[0])
	if err != nil {
		return err
	}
	if _, err := models.ParseCatalogID(args[1]); err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.aggregator.Dismiss(ctx, kind, args[1]); err != nil {
		return fmt.Errorf("dismiss: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Dismissed %s\n", models.DismissalKey(kind, args[1]))
	return nil
}

func runDismissList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	entries := a.dismissals.Entries(ctx)
	if len(entries) == 0 {
		fmt.Fprintln(out, "No dismissals.")
		return nil
	}
	fmt.Fprintf(out, "Dismissals (%d):\n\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(out, "- %s (%s)\n", e.Key, humanize.Time(e.DismissedAt))
	}
	return nil
}
