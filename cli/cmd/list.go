package cmd

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/stakeout/cli/reader"
	"github.com/justapithecus/stakeout/cli/render"
	"github.com/justapithecus/stakeout/store"
)

// ListCommand returns the list command with one subcommand per
// entity. List returns thin rows; inspect has the detail.
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List entities (trackers, bots, tasks, results, proxies)",
		Subcommands: []*cli.Command{
			listTrackersCommand(),
			listBotsCommand(),
			listTasksCommand(),
			listResultsCommand(),
			listProxiesCommand(),
		},
	}
}

// listFilter assembles the shared filter flags.
func listFilter(c *cli.Context) (store.ListFilter, error) {
	filter, err := reader.Filter(c.String("status"), c.String("family"), c.Int("start"), c.Int("count"))
	if err != nil {
		return filter, cli.Exit(err.Error(), 1)
	}
	return filter, nil
}

func listTrackersCommand() *cli.Command {
	return &cli.Command{
		Name:   "trackers",
		Usage:  "List trackers",
		Flags:  ListFlags(),
		Action: listTrackersAction,
	}
}

func listTrackersAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	filter, err := listFilter(c)
	if err != nil {
		return err
	}
	return withReader(c, func(ctx context.Context, rd *reader.Reader) error {
		items, err := rd.Trackers(ctx, filter)
		if err != nil {
			return err
		}
		return r.Render(items)
	})
}

func listBotsCommand() *cli.Command {
	return &cli.Command{
		Name:   "bots",
		Usage:  "List bots",
		Flags:  ListFlags(),
		Action: listBotsAction,
	}
}

func listBotsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	filter, err := listFilter(c)
	if err != nil {
		return err
	}
	return withReader(c, func(ctx context.Context, rd *reader.Reader) error {
		items, err := rd.Bots(ctx, filter)
		if err != nil {
			return err
		}
		return r.Render(items)
	})
}

func listTasksCommand() *cli.Command {
	return &cli.Command{
		Name:   "tasks",
		Usage:  "List tasks, newest first",
		Flags:  ListFlags(),
		Action: listTasksAction,
	}
}

func listTasksAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	filter, err := listFilter(c)
	if err != nil {
		return err
	}
	return withReader(c, func(ctx context.Context, rd *reader.Reader) error {
		items, err := rd.Tasks(ctx, filter)
		if err != nil {
			return err
		}
		return r.Render(items)
	})
}

func listResultsCommand() *cli.Command {
	return &cli.Command{
		Name:   "results",
		Usage:  "List uploaded artifacts, newest first",
		Flags:  ListFlags(),
		Action: listResultsAction,
	}
}

func listResultsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	filter, err := listFilter(c)
	if err != nil {
		return err
	}
	return withReader(c, func(ctx context.Context, rd *reader.Reader) error {
		items, err := rd.Results(ctx, filter)
		if err != nil {
			return err
		}
		return r.Render(items)
	})
}

func listProxiesCommand() *cli.Command {
	return &cli.Command{
		Name:   "proxies",
		Usage:  "List the stored proxy pool",
		Flags:  ReadOnlyFlags(),
		Action: listProxiesAction,
	}
}

func listProxiesAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	return withReader(c, func(ctx context.Context, rd *reader.Reader) error {
		items, err := rd.Proxies(ctx)
		if err != nil {
			return err
		}
		return r.Render(items)
	})
}
