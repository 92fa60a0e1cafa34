package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/stakeout/cli/config"
	"github.com/justapithecus/stakeout/cli/render"
	"github.com/justapithecus/stakeout/log"
	"github.com/justapithecus/stakeout/modules"
	"github.com/justapithecus/stakeout/mwdb"
	"github.com/justapithecus/stakeout/proxy"
	"github.com/justapithecus/stakeout/results"
	"github.com/justapithecus/stakeout/types"
)

// FetchCommand returns the fetch command, a one-off tracking run
// outside the scheduler pipeline. Useful for trying a config before
// submitting it and for debugging modules.
func FetchCommand() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Run one tracking pass against a config, outside the pipeline",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:  "hash",
				Usage: "Config hash to load from the malware repository",
			},
			&cli.StringFlag{
				Name:  "file",
				Usage: "Path to a local config JSON file",
			},
			&cli.StringFlag{
				Name:  "proxy",
				Usage: "Proxy exit country (defaults to proxy.default; empty runs without a proxy)",
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "Result destination: stdout, db or file",
				Value: "stdout",
			},
		),
		Action: fetchAction,
	}
}

// fetchSummary is the payload fetch renders after the run.
type fetchSummary struct {
	Status   string `json:"status"`
	Configs  int    `json:"configs"`
	Binaries int    `json:"binaries"`
	Blobs    int    `json:"blobs"`
	Uploaded int    `json:"uploaded,omitempty"`
	Dir      string `json:"dir,omitempty"`
}

func fetchAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	hashArg, fileArg := c.String("hash"), c.String("file")
	if (hashArg == "") == (fileArg == "") {
		return cli.Exit("exactly one of --hash or --file is required", 1)
	}
	out := c.String("out")
	switch out {
	case "stdout", "db", "file":
	default:
		return cli.Exit(fmt.Sprintf("invalid --out %q (must be stdout, db or file)", out), 1)
	}

	ctx, stop := signalContext(c.Context)
	defer stop()

	staticConfig, configHash, err := resolveConfig(ctx, cfg, hashArg, fileArg)
	if err != nil {
		return err
	}

	family, _ := staticConfig["type"].(string)
	registry, err := buildRegistry()
	if err != nil {
		return err
	}
	desc, ok := registry.Get(family)
	if !ok {
		return cli.Exit(fmt.Sprintf("no module for family %q", family), 1)
	}
	if missing := desc.MissingCriticalParams(staticConfig); len(missing) > 0 {
		return cli.Exit(fmt.Sprintf("config is missing critical parameters: %s", strings.Join(missing, ", ")), 1)
	}

	proxyURL, err := pickProxy(ctx, cfg, c.String("proxy"))
	if err != nil {
		return err
	}

	logger := log.New("fetch")
	// The module sees its config fingerprint under _id, like a
	// pipeline run would pass it.
	runConfig := make(map[string]any, len(staticConfig)+1)
	for k, v := range staticConfig {
		runConfig[k] = v
	}
	runConfig["_id"] = configHash

	m, err := desc.New(modules.Env{
		Family:      family,
		Config:      runConfig,
		State:       map[string]any{},
		ProxyURL:    proxyURL,
		HTTPTimeout: cfg.Tracking.DefaultHTTPTimeout.Duration,
		Log:         logger,
	})
	if err != nil {
		return fmt.Errorf("construct %s module: %w", family, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Tracking.TaskTimeout.Duration)
	defer cancel()
	status, err := modules.Execute(runCtx, m, logger, nil)
	if err != nil {
		return err
	}

	return reportFetch(ctx, c, cfg, out, configHash, status, m.Results())
}

// resolveConfig loads the static config from a local file or the
// malware repository. File configs are identified by their own dhash,
// exactly as submitting them would; repository configs keep the hash
// they were requested under.
func resolveConfig(ctx context.Context, cfg *config.Config, hash, file string) (map[string]any, string, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, "", err
		}
		var static map[string]any
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&static); err != nil {
			return nil, "", fmt.Errorf("decode config file %s: %w", file, err)
		}
		return static, types.ConfigDhash(static), nil
	}

	repo, err := openRepo(cfg)
	if err != nil {
		return nil, "", err
	}
	hash = strings.ToLower(hash)
	stored, err := repo.ConfigByHash(ctx, hash)
	if err != nil {
		return nil, "", err
	}
	if stored.Type != "static" {
		return nil, "", fmt.Errorf("config %s is %s, not static", hash, stored.Type)
	}
	static := stored.Config
	if _, ok := static["type"]; !ok && stored.Family != "" {
		static["type"] = stored.Family
	}
	return static, hash, nil
}

// pickProxy picks a random alive exit in the requested country from
// the configured source feed. An empty country runs without a proxy.
func pickProxy(ctx context.Context, cfg *config.Config, country string) (string, error) {
	if country == "" {
		country = cfg.Proxy.Default
	}
	if country == "" {
		return "", nil
	}
	entries, err := proxySource(cfg).Fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("load proxy list: %w", err)
	}
	var candidates []types.Proxy
	for _, e := range proxy.Alive(entries) {
		if e.Country == country {
			candidates = append(candidates, e.Record())
		}
	}
	picked, err := proxy.Pick(candidates)
	if err != nil {
		return "", fmt.Errorf("no alive proxy in country %q", country)
	}
	return picked.ConnectionString(), nil
}

// reportFetch delivers the result tree to the chosen destination and
// renders a run summary.
func reportFetch(ctx context.Context, c *cli.Context, cfg *config.Config, out, configHash string, status types.Status, tree *results.Node) error {
	flat := tree.Flatten()
	summary := fetchSummary{
		Status:   status.String(),
		Configs:  len(flat.Configs),
		Binaries: len(flat.Binaries),
		Blobs:    len(flat.Blobs),
	}

	switch out {
	case "db":
		repo, err := openRepo(cfg)
		if err != nil {
			return err
		}
		rows, err := mwdb.ReportTree(ctx, repo, tree, configHash)
		if err != nil {
			return fmt.Errorf("upload results: %w", err)
		}
		summary.Uploaded = len(rows)
	case "file":
		dir := filepath.Join("results", uuid.NewString())
		if err := writeResultTree(dir, tree); err != nil {
			return err
		}
		summary.Dir = dir
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	return r.Render(summary)
}

// writeResultTree dumps the flattened tree under dir, one file per
// artifact.
func writeResultTree(dir string, tree *results.Node) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	flat := tree.Flatten()
	for i, node := range flat.Configs {
		data, err := json.MarshalIndent(node.Config, "", "  ")
		if err != nil {
			return fmt.Errorf("encode config %d: %w", i, err)
		}
		path := filepath.Join(dir, fmt.Sprintf("config_%d.json", i))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
	}
	for i, node := range flat.Binaries {
		path := filepath.Join(dir, fmt.Sprintf("binary_%d_%s", i, artifactName(node.Name)))
		if err := os.WriteFile(path, node.Data, 0o644); err != nil {
			return err
		}
	}
	for i, node := range flat.Blobs {
		path := filepath.Join(dir, fmt.Sprintf("blob_%d_%s", i, artifactName(node.Name)))
		if err := os.WriteFile(path, []byte(node.Content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// artifactName strips path separators from artifact names before they
// become file names. Names come from tracked C2s, so they are hostile.
func artifactName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, `\`, "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" {
		return "unnamed"
	}
	return name
}
