package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"watchsync/models"
)

var (
	watchedSeason  int
	watchedEpisode int
	watchedUnwatch bool
	watchedCheck   bool
)

var watchedCmd = &cobra.Command{
	Use:   "watched <id>",
	Short: "Mark or check a movie or episode",
	Long: `Mark a movie or episode watched (or unwatched with --unwatch) in the
authority and on Trakt. Passing --season and --episode targets an episode.

Examples:
  watchsync watched tmdb:949
  watchsync watched tmdb:1399 --season 1 --episode 3
  watchsync watched tmdb:1399 --season 1 --episode 3 --unwatch
  watchsync watched tmdb:949 --check`,
	Args: cobra.ExactArgs(1),
	RunE: runWatched,
}

func init() {
	watchedCmd.Flags().IntVarP(&watchedSeason, "season", "s", 0, "season number")
	watchedCmd.Flags().IntVarP(&watchedEpisode, "episode", "e", 0, "episode number")
	watchedCmd.Flags().BoolVar(&watchedUnwatch, "unwatch", false, "mark unwatched instead")
	watchedCmd.Flags().BoolVar(&watchedCheck, "check", false, "only report the current state")
}

func runWatched(cmd *cobra.Command, args []string) error {
	ids, err := models.ParseCatalogID(args[0])
	if err != nil {
		return err
	}
	fact := models.MovieFact(ids)
	if watchedEpisode > 0 {
		fact = models.EpisodeFact(models.EpisodeRef{Show: ids, Season: watchedSeason, Episode: watchedEpisode})
	}
	if err := fact.Validate(); err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if watchedCheck {
		a.watched.EnsureReady(ctx)
		watched := a.watched.IsMovieWatched(ids)
		if fact.Kind == models.MediaKindShow {
			watched = a.watched.IsEpisodeWatched(fact.Episode)
		}
		fmt.Fprintf(out, "%s watched: %t\n", describe(fact), watched)
		return nil
	}

	if watchedUnwatch {
		err = a.watched.MarkUnwatched(ctx, fact)
	} else {
		err = a.watched.MarkWatched(ctx, fact)
	}
	if err != nil {
		return err
	}
	verb := "watched"
	if watchedUnwatch {
		verb = "unwatched"
	}
	fmt.Fprintf(out, "Marked %s %s\n", describe(fact), verb)
	return nil
}

func describe(fact models.WatchedFact) string {
	if fact.Kind == models.MediaKindShow {
		return fmt.Sprintf("%s S%02dE%02d", fact.Episode.Show.CatalogID(), fact.Episode.Season, fact.Episode.Episode)
	}
	return fact.Movie.CatalogID()
}
