package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"goflare.io/encore"
	"goflare.io/encore/internal/config"
)

var errMissingArgument = errors.New("missing argument")

// Runner holds the dependencies shared by every command action.
type Runner struct {
	logger *zap.Logger
	output io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Logger *zap.Logger
	Output io.Writer
}

// NewRunner creates a Runner. Missing options fall back to a no-op logger and stdout.
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	return &Runner{logger: opts.Logger, output: opts.Output}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range []func(*Runner) *cli.Command{
		searchCommand, trackCommand, albumCommand, artistCommand, playlistCommand, meCommand, cacheCommand,
	} {
		commands = append(commands, fn(r))
	}
	return commands
}

// open builds an Encore from the --config file, when present, and the catalog flags.
func (r *Runner) open(ctx context.Context, cmd *cli.Command) (*encore.Encore, error) {
	opts := []config.Option{config.WithLogger(r.logger)}
	if u := cmd.String("base-url"); u != "" {
		opts = append(opts, config.WithCatalog(u, 0))
	}
	if tok := cmd.String("token"); tok != "" {
		opts = append(opts, config.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok})))
	}

	var (
		cfg *config.Config
		err error
	)
	path := cmd.String("config")
	if _, statErr := os.Stat(path); statErr == nil {
		cfg, err = config.LoadFile(path, opts...)
	} else if cmd.IsSet("config") {
		return nil, fmt.Errorf("config file %s: %w", path, statErr)
	} else {
		cfg, err = config.NewConfig(opts...)
	}
	if err != nil {
		return nil, err
	}

	return encore.NewWithConfig(ctx, cfg)
}

// withEncore runs fn against a freshly opened Encore and closes it afterwards.
func (r *Runner) withEncore(ctx context.Context, cmd *cli.Command, fn func(e *encore.Encore) error) error {
	e, err := r.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			r.logger.Warn("Failed to close cache", zap.Error(err))
		}
	}()
	return fn(e)
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(append(output, '\n')); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	if _, err := fmt.Fprintf(r.output, format, args...); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// printer writes plain output line by line and keeps the first write error.
type printer struct {
	r   *Runner
	err error
}

func (r *Runner) printer() *printer {
	return &printer{r: r}
}

func (p *printer) printf(format string, args ...any) {
	if p.err == nil {
		p.err = p.r.writePlain(format, args...)
	}
}
