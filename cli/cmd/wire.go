package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/stakeout/broker"
	"github.com/justapithecus/stakeout/cli/config"
	"github.com/justapithecus/stakeout/cli/reader"
	"github.com/justapithecus/stakeout/log"
	"github.com/justapithecus/stakeout/metrics"
	"github.com/justapithecus/stakeout/modules"
	"github.com/justapithecus/stakeout/modules/demofam"
	"github.com/justapithecus/stakeout/mwdb"
	"github.com/justapithecus/stakeout/notify"
	"github.com/justapithecus/stakeout/proxy"
	"github.com/justapithecus/stakeout/store"
	"github.com/justapithecus/stakeout/vault"
)

// loadConfig resolves the configuration for one command invocation:
// the --config flag when given, otherwise the default search paths.
func loadConfig(c *cli.Context) (*config.Config, error) {
	return config.Discover(c.String("config"))
}

// signalContext derives a context cancelled by SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// openStore connects to the configured database.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	st, err := store.NewPostgres(ctx, cfg.Database.URL, store.Options{
		MaxFailingSpree: cfg.Tracking.MaxFailingSpree,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return st, nil
}

// openBroker connects to the configured redis and verifies it answers.
func openBroker(ctx context.Context, cfg *config.Config) (*broker.Broker, error) {
	b := broker.New(cfg.Redis.Addr(), log.New("broker"))
	if err := b.Ping(ctx); err != nil {
		b.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.Redis.Addr(), err)
	}
	return b, nil
}

// openRepo builds the malware repository client.
func openRepo(cfg *config.Config) (mwdb.Client, error) {
	return mwdb.NewHTTP(mwdb.Config{
		APIURL: cfg.MWDB.APIURL(),
		Token:  cfg.MWDB.Token,
	})
}

// openVault builds the artifact vault client, or nil when the vault is
// disabled by an empty URL.
func openVault(ctx context.Context, cfg *config.Config, collector *metrics.Collector) (vault.Client, error) {
	if cfg.Vault.URL == "" {
		return nil, nil
	}
	inner, err := vault.Open(ctx, vault.Config{
		URL:       cfg.Vault.URL,
		Region:    cfg.Vault.Region,
		Endpoint:  cfg.Vault.Endpoint,
		PathStyle: cfg.Vault.PathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}
	return vault.NewInstrumented(inner, collector), nil
}

// openNotifier builds the lifecycle event sink.
func openNotifier(cfg *config.Config) (notify.Notifier, error) {
	switch cfg.Notify.Type {
	case "", "none":
		return notify.Noop{}, nil
	case "webhook":
		return notify.NewWebhook(notify.WebhookConfig{
			URL:     cfg.Notify.URL,
			Headers: cfg.Notify.Headers,
			Timeout: cfg.Notify.Timeout.Duration,
			Retries: cfg.Notify.Retries,
		})
	case "redis":
		return notify.NewRedis(notify.RedisConfig{
			Addr:    cfg.Redis.Addr(),
			Channel: cfg.Notify.Channel,
			Timeout: cfg.Notify.Timeout.Duration,
			Retries: cfg.Notify.Retries,
		})
	default:
		return nil, fmt.Errorf("unknown notify type %q", cfg.Notify.Type)
	}
}

// buildRegistry assembles the built-in family modules.
func buildRegistry() (*modules.Registry, error) {
	registry := modules.NewRegistry()
	if err := demofam.Register(registry); err != nil {
		return nil, err
	}
	return registry, nil
}

// proxySource builds the proxy list source. A missing method is
// derived from which of url/path is set.
func proxySource(cfg *config.Config) *proxy.Source {
	method := cfg.Proxy.Method
	if method == "" {
		if cfg.Proxy.URL != "" {
			method = "url"
		} else {
			method = "file"
		}
	}
	return proxy.NewSource(proxy.SourceConfig{
		Method: method,
		URL:    cfg.Proxy.URL,
		Path:   cfg.Proxy.Path,
	}, nil)
}

// withReader runs fn with a reader bound to the configured store. It
// owns the store's lifetime and the signal handling, so read-only
// command actions reduce to their query.
func withReader(c *cli.Context, fn func(context.Context, *reader.Reader) error) error {
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

	return fn(ctx, reader.New(st, cfg.Log.Dir))
}
