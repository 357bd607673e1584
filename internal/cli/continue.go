package cli

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"watchsync/models"
)

var continueSnapshot bool

var continueCmd = &cobra.Command{
	Use:   "continue",
	Short: "Print the continue-watching list",
	Long: `Run one aggregation pass and print the result.

Examples:
  watchsync continue
  watchsync continue --snapshot`,
	Args: cobra.NoArgs,
	RunE: runContinue,
}

func init() {
	continueCmd.Flags().BoolVar(&continueSnapshot, "snapshot", false, "print the persisted snapshot instead of running a pass")
}

func runContinue(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	var items []models.ContinueWatchingItem
	if continueSnapshot {
		items, err = a.aggregator.Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
	} else {
		items = a.aggregator.ContinueWatching(ctx)
	}

	out := cmd.OutOrStdout()
	if len(items) == 0 {
		fmt.Fprintln(out, "Nothing to continue.")
		return nil
	}
	for _, item := range items {
		fmt.Fprintln(out, formatItem(item))
	}
	return nil
}

func formatItem(item models.ContinueWatchingItem) string {
	title := item.Title
	if title == "" {
		title = item.ID
	}
	if item.IsEpisode() {
		title = fmt.Sprintf("%s S%02dE%02d", title, item.Season, item.Episode)
		if item.EpisodeTitle != "" {
			title += " " + item.EpisodeTitle
		}
	}
	state := "up next"
	if item.Progress > 0 {
		state = fmt.Sprintf("%.0f%%", item.Progress)
	}
	when := "unknown"
	if !item.LastActivityAt.IsZero() {
		when = humanize.Time(item.LastActivityAt)
	}
	return fmt.Sprintf("- %s [%s] (%s, %s)", title, item.ID, state, when)
}
