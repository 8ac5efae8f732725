package main

import (
	"github.com/urfave/cli/v3"

	"goflare.io/encore/internal/catalog"
)

// sharedFlags are accepted by every command that opens the cache.
func sharedFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to configuration file",
			Value:   "encore.toml",
		},
		&cli.StringFlag{
			Name:  "base-url",
			Usage: "Catalog API base URL",
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "Catalog API access token",
			Sources: cli.EnvVars("ENCORE_TOKEN"),
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output raw JSON",
		},
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "Pretty-print JSON output",
		},
	}
}

func searchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search the catalog for tracks",
		ArgsUsage: "<query>",
		Flags: append(sharedFlags(),
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of tracks to return",
				Value: catalog.DefaultSearchLimit,
			},
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "Fail instead of printing no results when the catalog is unavailable",
			},
		),
		Action: r.Search,
	}
}

func trackCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "track",
		Usage:     "Show a track",
		ArgsUsage: "<id>",
		Flags:     sharedFlags(),
		Action:    r.Track,
	}
}

func albumCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "album",
		Usage:     "Show an album",
		ArgsUsage: "<id>",
		Flags:     sharedFlags(),
		Action:    r.Album,
	}
}

func artistCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "artist",
		Usage:     "Show an artist",
		ArgsUsage: "<id>",
		Flags:     sharedFlags(),
		Action:    r.Artist,
	}
}

func playlistCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "playlist",
		Usage:     "Show a playlist and its tracks",
		ArgsUsage: "<id>",
		Flags:     sharedFlags(),
		Action:    r.Playlist,
	}
}

func meCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "me",
		Usage:  "Show the profile of the token's user",
		Flags:  sharedFlags(),
		Action: r.Me,
	}
}

// cacheCommand handles cache maintenance
func cacheCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect and maintain the local cache",
		Commands: []*cli.Command{
			{
				Name:   "stats",
				Usage:  "Show cache and circuit breaker statistics",
				Flags:  sharedFlags(),
				Action: r.CacheStats,
			},
			{
				Name:   "cleanup",
				Usage:  "Remove expired entries",
				Flags:  sharedFlags(),
				Action: r.CacheCleanup,
			},
			{
				Name:   "clear",
				Usage:  "Remove every entry",
				Flags:  sharedFlags(),
				Action: r.CacheClear,
			},
		},
	}
}
