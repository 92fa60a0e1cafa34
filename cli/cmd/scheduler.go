package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/stakeout/metrics"
	"github.com/justapithecus/stakeout/scheduler"
)

// SchedulerCommand returns the scheduler command, the process that
// promotes due bots into queued task runs.
func SchedulerCommand() *cli.Command {
	return &cli.Command{
		Name:  "scheduler",
		Usage: "Run the periodic scheduling loop",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "once",
				Usage: "Run a single scheduling pass and exit",
			},
		},
		Action: schedulerAction,
	}
}

func schedulerAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(c.Context)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	b, err := openBroker(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	sched := scheduler.New(st, b, metrics.NewCollector("scheduler"), scheduler.Options{
		TaskTimeout: cfg.Tracking.TaskTimeout.Duration,
	})
	if c.Bool("once") {
		return sched.Tick(ctx)
	}
	return sched.Run(ctx)
}
