package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/imitatoes/cli/config"
	"github.com/pithecene-io/imitatoes/cli/reader"
	"github.com/pithecene-io/imitatoes/cli/render"
	"github.com/pithecene-io/imitatoes/cli/tui"
	"github.com/pithecene-io/imitatoes/iox"
	"github.com/pithecene-io/imitatoes/lode"
	"github.com/pithecene-io/imitatoes/types"
)

// InspectCommand returns the inspect command. It reads the iteration
// journal a run left in its artifact store.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect the iterations persisted by the latest run",
		Subcommands: []*cli.Command{
			inspectRunCommand(),
			inspectIterationCommand(),
		},
	}
}

func inspectFlags() []cli.Flag {
	flags := append([]cli.Flag{ConfigFlag}, ReadOnlyFlags()...)
	return append(flags, StorageFlags()...)
}

func inspectRunCommand() *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Show the run summary and iteration history",
		Flags:  inspectFlags(),
		Action: inspectRunAction,
	}
}

func inspectIterationCommand() *cli.Command {
	return &cli.Command{
		Name:      "iteration",
		Usage:     "Show one iteration with its critique",
		ArgsUsage: "<loop> <iteration>",
		Flags:     inspectFlags(),
		Action:    inspectIterationAction,
	}
}

func openReader(c *cli.Context) (*reader.JournalReader, *lode.ArtifactStore, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	choice := storeChoice{
		backend:   strings.ToLower(resolveString(c, "storage-backend", configVal(cfg, func(c *config.Config) string { return c.Storage.Backend }))),
		path:      resolveString(c, "output-dir", configVal(cfg, func(c *config.Config) string { return c.Storage.Path })),
		region:    resolveString(c, "s3-region", configVal(cfg, func(c *config.Config) string { return c.Storage.Region })),
		endpoint:  resolveString(c, "s3-endpoint", configVal(cfg, func(c *config.Config) string { return c.Storage.Endpoint })),
		pathStyle: resolveBool(c, "s3-path-style", configVal(cfg, func(c *config.Config) bool { return c.Storage.S3PathStyle })),
	}
	store, err := buildStore(c.Context, choice, nil)
	if err != nil {
		return nil, nil, err
	}
	return reader.NewJournalReader(store), store, nil
}

func inspectExit(err error) error {
	if errors.Is(err, reader.ErrNoIterations) || errors.Is(err, reader.ErrIterationNotFound) {
		return cli.Exit(err.Error(), 1)
	}
	return err
}

func inspectRunAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	jr, store, err := openReader(c)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(store)

	view, err := reader.View(c.Context, jr)
	if err != nil {
		return inspectExit(err)
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewRun, view)
	}
	if r.Format() != render.FormatTable {
		return r.Render(view)
	}
	if err := r.Render(view.Summary); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(c.App.Writer); err != nil {
		return err
	}
	return r.Render(view.Iterations)
}

func inspectIterationAction(c *cli.Context) error {
	at, err := parseCounters(c.Args().Slice())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	jr, store, err := openReader(c)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(store)

	detail, err := jr.Iteration(c.Context, at)
	if err != nil {
		return inspectExit(err)
	}
	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewIteration, detail)
	}
	return r.Render(detail)
}

func parseCounters(args []string) (types.Counters, error) {
	if len(args) != 2 {
		return types.Counters{}, errors.New("loop and iteration required, e.g. inspect iteration 2 1")
	}
	loop, err := strconv.Atoi(args[0])
	if err != nil || loop < 1 {
		return types.Counters{}, fmt.Errorf("invalid loop %q: must be a positive integer", args[0])
	}
	iter, err := strconv.Atoi(args[1])
	if err != nil || iter < 1 {
		return types.Counters{}, fmt.Errorf("invalid iteration %q: must be a positive integer", args[1])
	}
	return types.Counters{Loop: loop, Iteration: iter}, nil
}
