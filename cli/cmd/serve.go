package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/stakeout/api"
	"github.com/justapithecus/stakeout/ingest"
	"github.com/justapithecus/stakeout/scheduler"
)

// ServeCommand returns the serve command, the REST API server.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the REST API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (overrides api.addr)",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	addr := c.String("addr")
	if addr == "" {
		addr = cfg.API.Addr
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

	// The API triggers on-demand runs through the scheduler, so it
	// shares the timeout the periodic loop stamps on jobs.
	sched := scheduler.New(st, b, nil, scheduler.Options{
		TaskTimeout: cfg.Tracking.TaskTimeout.Duration,
	})
	srv := api.New(st, ingest.New(st, registry, notifier), sched, api.Options{
		LogDir:  cfg.Log.Dir,
		Proxies: proxySource(cfg),
		Repo:    repo,
	})
	return srv.Serve(ctx, addr)
}
