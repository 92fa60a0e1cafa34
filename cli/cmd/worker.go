package cmd

import (
	"errors"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/stakeout/broker"
	"github.com/justapithecus/stakeout/log"
	"github.com/justapithecus/stakeout/metrics"
	"github.com/justapithecus/stakeout/reporter"
	"github.com/justapithecus/stakeout/track"
)

// WorkerCommand returns the worker command, the process that drains
// the job queues.
func WorkerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Run a queue worker processing track and report jobs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "queues",
				Usage: "Comma-separated queues to drain",
				Value: "report,track",
			},
		},
		Action: workerAction,
	}
}

func workerAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	queues, err := splitQueues(c.String("queues"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
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

	registry, err := buildRegistry()
	if err != nil {
		return err
	}
	repo, err := openRepo(cfg)
	if err != nil {
		return err
	}
	notifier, err := openNotifier(cfg)
	if err != nil {
		return err
	}
	defer notifier.Close()

	collector := metrics.NewCollector("worker")
	vaultClient, err := openVault(ctx, cfg, collector)
	if err != nil {
		return err
	}
	if vaultClient != nil {
		defer vaultClient.Close()
	}

	executor := track.New(registry, collector, track.Options{
		LogDir:      cfg.Log.Dir,
		HTTPTimeout: cfg.Tracking.DefaultHTTPTimeout.Duration,
	})
	rep := reporter.New(st, b, repo, collector, reporter.Options{
		TaskPeriod: cfg.Tracking.TaskPeriod.Duration,
		Vault:      vaultClient,
		Notifier:   notifier,
	})
	crash := track.NewCrashHandler(st, collector, cfg.Log.Dir)

	w := broker.NewWorker(b, log.New("worker"), collector)
	if err := w.Only(queues...); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	w.Handle(broker.QueueTrack, executor.Handler())
	w.Handle(broker.QueueReport, rep.Handler())
	w.OnFailure(crash.Hook())

	return w.Run(ctx)
}

// splitQueues parses the --queues flag value.
func splitQueues(raw string) ([]string, error) {
	var queues []string
	for _, part := range strings.Split(raw, ",") {
		if q := strings.TrimSpace(part); q != "" {
			queues = append(queues, q)
		}
	}
	if len(queues) == 0 {
		return nil, errors.New("at least one queue is required")
	}
	return queues, nil
}
