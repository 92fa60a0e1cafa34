package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/stakeout/cli/render"
	"github.com/justapithecus/stakeout/proxy"
)

// ProxiesCommand returns the proxies command for managing the stored
// proxy pool.
func ProxiesCommand() *cli.Command {
	return &cli.Command{
		Name:  "proxies",
		Usage: "Manage the proxy pool",
		Subcommands: []*cli.Command{
			proxiesSyncCommand(),
		},
	}
}

func proxiesSyncCommand() *cli.Command {
	return &cli.Command{
		Name:   "sync",
		Usage:  "Replace the stored pool with the alive entries of the configured source",
		Flags:  ReadOnlyFlags(),
		Action: proxiesSyncAction,
	}
}

// proxySyncSummary is the payload proxies sync renders.
type proxySyncSummary struct {
	Added   int `json:"added"`
	Deleted int `json:"deleted"`
	Total   int `json:"total"`
}

func proxiesSyncAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
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

	entries, err := proxySource(cfg).Fetch(ctx)
	if err != nil {
		return err
	}
	alive := proxy.Alive(entries)
	changes, err := st.SyncProxies(ctx, proxy.Specs(alive))
	if err != nil {
		return err
	}
	return r.Render(proxySyncSummary{
		Added:   len(changes.Added),
		Deleted: len(changes.Deleted),
		Total:   len(alive),
	})
}
