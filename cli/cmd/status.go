package cmd

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/stakeout/cli/reader"
	"github.com/justapithecus/stakeout/cli/render"
	"github.com/justapithecus/stakeout/cli/tui"
)

// StatusCommand returns the status command, a snapshot of the
// pipeline gauges.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show tracker, bot and task gauges",
		Flags: append(ReadOnlyFlags(),
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "Live dashboard, refreshed every few seconds",
			},
		),
		Action: statusAction,
	}
}

func statusAction(c *cli.Context) error {
	watch := c.Bool("watch")
	var r *render.Renderer
	if !watch {
		var err error
		if r, err = render.NewRenderer(c); err != nil {
			return err
		}
	}
	return withReader(c, func(ctx context.Context, rd *reader.Reader) error {
		if watch {
			return tui.RunDashboard(rd)
		}
		snap, err := rd.Status(ctx)
		if err != nil {
			return err
		}
		return r.Render(snap)
	})
}
