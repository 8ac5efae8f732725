package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"goflare.io/encore"
	"goflare.io/encore/internal/catalog"
)

// Search looks up tracks matching the command arguments.
func (r *Runner) Search(ctx context.Context, cmd *cli.Command) error {
	query := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("%w: search query", errMissingArgument)
	}

	return r.withEncore(ctx, cmd, func(e *encore.Encore) error {
		var res *catalog.SearchResult
		if cmd.Bool("strict") {
			var err error
			if res, err = e.Catalog().SearchTracks(ctx, query, cmd.Int("limit")); err != nil {
				return fmt.Errorf("search failed (%s): %w", encore.Classify(err), err)
			}
		} else {
			res = e.Catalog().SearchTracksOrEmpty(ctx, query, cmd.Int("limit"))
		}

		if cmd.Bool("json") {
			return r.writeJSON(res, cmd.Bool("pretty"))
		}

		out := r.printer()
		out.printf("Found %d tracks for %q:\n\n", res.Total, query)
		for i, t := range res.Tracks {
			out.printf("%d. %s - %s (%s)\n", i+1, t.Name, artistNames(t.Artists), formatDuration(t.DurationMS))
			out.printf("   ID: %s\n", t.ID)
		}
		return out.err
	})
}

// Track prints a single track.
func (r *Runner) Track(ctx context.Context, cmd *cli.Command) error {
	return lookup(ctx, r, cmd, "track ID", func(e *encore.Encore, id string) (*catalog.Track, error) {
		return e.Catalog().Track(ctx, id)
	}, func(out *printer, t *catalog.Track) {
		out.printf("%s - %s\n", t.Name, artistNames(t.Artists))
		out.printf("   Album: %s\n", t.Album.Name)
		out.printf("   Duration: %s\n", formatDuration(t.DurationMS))
		if t.ExternalIDs.ISRC != "" {
			out.printf("   ISRC: %s\n", t.ExternalIDs.ISRC)
		}
	})
}

// Album prints a single album.
func (r *Runner) Album(ctx context.Context, cmd *cli.Command) error {
	return lookup(ctx, r, cmd, "album ID", func(e *encore.Encore, id string) (*catalog.Album, error) {
		return e.Catalog().Album(ctx, id)
	}, func(out *printer, a *catalog.Album) {
		out.printf("%s - %s\n", a.Name, artistNames(a.Artists))
		out.printf("   Released: %s\n", a.ReleaseDate)
		out.printf("   Tracks: %d\n", a.TotalTracks)
	})
}

// Artist prints a single artist.
func (r *Runner) Artist(ctx context.Context, cmd *cli.Command) error {
	return lookup(ctx, r, cmd, "artist ID", func(e *encore.Encore, id string) (*catalog.Artist, error) {
		return e.Catalog().Artist(ctx, id)
	}, func(out *printer, a *catalog.Artist) {
		out.printf("%s\n", a.Name)
		if len(a.Genres) > 0 {
			out.printf("   Genres: %s\n", strings.Join(a.Genres, ", "))
		}
		out.printf("   Followers: %d\n", a.Followers.Total)
	})
}

// Playlist prints a playlist and its first page of tracks.
func (r *Runner) Playlist(ctx context.Context, cmd *cli.Command) error {
	return lookup(ctx, r, cmd, "playlist ID", func(e *encore.Encore, id string) (*catalog.Playlist, error) {
		return e.Catalog().Playlist(ctx, id)
	}, func(out *printer, p *catalog.Playlist) {
		out.printf("%s by %s\n", p.Name, p.Owner.DisplayName)
		if p.Description != "" {
			out.printf("   Description: %s\n", p.Description)
		}
		out.printf("   Tracks: %d\n\n", p.Tracks.Total)
		for i, item := range p.Tracks.Items {
			out.printf("%d. %s - %s\n", i+1, item.Track.Name, artistNames(item.Track.Artists))
		}
	})
}

// Me prints the profile of the token's user.
func (r *Runner) Me(ctx context.Context, cmd *cli.Command) error {
	return r.withEncore(ctx, cmd, func(e *encore.Encore) error {
		user, err := e.Catalog().CurrentUser(ctx)
		if err != nil {
			return fmt.Errorf("profile lookup failed (%s): %w", encore.Classify(err), err)
		}
		if cmd.Bool("json") {
			return r.writeJSON(user, cmd.Bool("pretty"))
		}
		return r.writePlain("%s (%s)\n", user.DisplayName, user.ID)
	})
}

func lookup[T any](ctx context.Context, r *Runner, cmd *cli.Command, what string, get func(e *encore.Encore, id string) (T, error), show func(out *printer, v T)) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("%w: %s", errMissingArgument, what)
	}

	return r.withEncore(ctx, cmd, func(e *encore.Encore) error {
		v, err := get(e, id)
		if err != nil {
			return fmt.Errorf("%s lookup failed (%s): %w", what, encore.Classify(err), err)
		}
		if cmd.Bool("json") {
			return r.writeJSON(v, cmd.Bool("pretty"))
		}
		out := r.printer()
		show(out, v)
		return out.err
	})
}

func artistNames(artists []catalog.Artist) string {
	names := make([]string, len(artists))
	for i, a := range artists {
		names[i] = a.Name
	}
	return strings.Join(names, ", ")
}

func formatDuration(ms int) string {
	d := (time.Duration(ms) * time.Millisecond).Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
