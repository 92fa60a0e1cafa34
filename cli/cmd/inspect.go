package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/stakeout/cli/reader"
	"github.com/justapithecus/stakeout/cli/render"
	"github.com/justapithecus/stakeout/store"
)

// InspectCommand returns the inspect command with subcommands.
// Inspect returns a deep view of a single entity: the record, its
// owned rows and, for bots, the last execution log.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect a single entity (tracker, bot)",
		Subcommands: []*cli.Command{
			inspectTrackerCommand(),
			inspectBotCommand(),
		},
	}
}

// argID parses the single positional id argument.
func argID(c *cli.Context, name string) (int64, error) {
	if c.NArg() < 1 {
		return 0, cli.Exit(name+" required", 1)
	}
	raw := c.Args().First()
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, cli.Exit(fmt.Sprintf("invalid %s %q", name, raw), 1)
	}
	return id, nil
}

func inspectTrackerCommand() *cli.Command {
	return &cli.Command{
		Name:      "tracker",
		Usage:     "Inspect a tracker by ID",
		ArgsUsage: "<tracker-id>",
		Flags:     ReadOnlyFlags(),
		Action:    inspectTrackerAction,
	}
}

func inspectTrackerAction(c *cli.Context) error {
	id, err := argID(c, "tracker-id")
	if err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	return withReader(c, func(ctx context.Context, rd *reader.Reader) error {
		detail, err := rd.Tracker(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return cli.Exit(fmt.Sprintf("tracker %d not found", id), 1)
		}
		if err != nil {
			return err
		}
		return r.Render(detail)
	})
}

func inspectBotCommand() *cli.Command {
	return &cli.Command{
		Name:      "bot",
		Usage:     "Inspect a bot by ID",
		ArgsUsage: "<bot-id>",
		Flags:     ReadOnlyFlags(),
		Action:    inspectBotAction,
	}
}

func inspectBotAction(c *cli.Context) error {
	id, err := argID(c, "bot-id")
	if err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	return withReader(c, func(ctx context.Context, rd *reader.Reader) error {
		detail, err := rd.Bot(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return cli.Exit(fmt.Sprintf("bot %d not found", id), 1)
		}
		if err != nil {
			return err
		}
		return r.Render(detail)
	})
}
