// Package demofam implements a reference tracker module for a mock
// dropper family. Its C2 protocol is plain HTTP: each server answers a
// GET with a JSON document listing peer C2 URLs and optionally a
// payload URL. The module exists to exercise the full pipeline end to
// end and to serve as a template for real family modules.
package demofam

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/justapithecus/stakeout/iox"
	"github.com/justapithecus/stakeout/modules"
	"github.com/justapithecus/stakeout/types"
)

// Family is the registered family name.
const Family = "demofam"

// Descriptor returns the registry entry for the family.
func Descriptor() modules.Descriptor {
	return modules.Descriptor{
		Family:         Family,
		CriticalParams: []string{"c2"},
		New: func(env modules.Env) (modules.Module, error) {
			dropper, err := modules.NewDropper(env)
			if err != nil {
				return nil, err
			}
			return &bot{Dropper: dropper}, nil
		},
	}
}

// Register adds the family to a registry.
func Register(r *modules.Registry) error {
	return r.Register(Descriptor())
}

// gateResponse is the JSON document a C2 gate answers with.
type gateResponse struct {
	Peers []string `json:"peers"`
	Drop  string   `json:"drop"`
}

type bot struct {
	modules.Dropper
}

func (b *bot) CNCServers() ([]modules.CNC, error) {
	raw, ok := b.Config["c2"]
	if !ok {
		return nil, fmt.Errorf("config has no c2 list")
	}

	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("c2 list has unexpected type %T", raw)
	}

	servers := make([]modules.CNC, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("c2 entry has unexpected type %T", item)
		}
		servers = append(servers, modules.CNC(s))
	}
	return servers, nil
}

func (b *bot) Run(ctx context.Context, c2 modules.CNC) (types.BotResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, string(c2), nil)
	if err != nil {
		return 0, fmt.Errorf("build gate request: %w", err)
	}
	req.Header.Set("User-Agent", modules.DefaultUserAgent)

	resp, err := b.Client().Do(req)
	if err != nil {
		return 0, fmt.Errorf("contact gate: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		iox.DrainClose(resp.Body)
		b.Log.Warn("gate refused", map[string]any{"c2": string(c2), "status": resp.StatusCode})
		return types.ResultContinue, nil
	}

	var gate gateResponse
	err = json.NewDecoder(resp.Body).Decode(&gate)
	iox.DiscardClose(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("decode gate response: %w", err)
	}

	cfg := modules.NewConfigData(Family)
	for _, peer := range gate.Peers {
		cfg.AddC2(peer)
	}
	if !cfg.HasData() {
		// An empty peer list means the gate is up but idle. Let the
		// next server have a go.
		return types.ResultContinue, nil
	}

	node := b.PushConfig(cfg.Data(), "dynamic")
	node.AddTag("dynamic:" + Family)

	if gate.Drop != "" {
		data, name, err := b.DownloadDrop(ctx, gate.Drop, nil)
		if err != nil {
			b.Log.Warn("drop download failed", map[string]any{"url": gate.Drop, "error": err.Error()})
		} else {
			node.PushBinary(data, name).AddTag(Family)
		}
	}

	b.State()["last_c2"] = string(c2)
	return types.ResultWorking, nil
}
