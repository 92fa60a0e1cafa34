package demofam

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/justapithecus/stakeout/modules"
	"github.com/justapithecus/stakeout/types"
)

func newBot(t *testing.T, config map[string]any) modules.Module {
	t.Helper()
	m, err := Descriptor().New(modules.Env{
		Family: Family,
		Config: config,
		State:  map[string]any{},
	})
	if err != nil {
		t.Fatalf("build module: %v", err)
	}
	return m
}

func TestCNCServers(t *testing.T) {
	m := newBot(t, map[string]any{"c2": []any{"http://a.example.com", "http://b.example.com"}})

	servers, err := m.CNCServers()
	if err != nil {
		t.Fatalf("CNCServers: %v", err)
	}
	if len(servers) != 2 || servers[0] != "http://a.example.com" {
		t.Errorf("servers = %v", servers)
	}

	for name, cfg := range map[string]map[string]any{
		"missing c2":    {},
		"c2 not a list": {"c2": "http://a.example.com"},
		"bad entry":     {"c2": []any{42}},
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := newBot(t, cfg).CNCServers(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRun_CollectsConfigAndDrop(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/gate", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"peers":["http://peer1.example.com","http://peer2.example.com"],"drop":"` + srv.URL + `/payload/stage2.exe"}`))
	})
	mux.HandleFunc("/payload/stage2.exe", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("MZ"))
	})

	m := newBot(t, map[string]any{"c2": []any{srv.URL + "/gate"}})

	result, err := m.Run(context.Background(), modules.CNC(srv.URL+"/gate"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Has(types.ResultWorking) {
		t.Errorf("result = %v, want working", result)
	}
	if result.Has(types.ResultContinue) {
		t.Errorf("result = %v, continue not expected after success", result)
	}

	flat := m.Results().Flatten()
	if len(flat.Configs) != 1 {
		t.Fatalf("configs = %d, want 1", len(flat.Configs))
	}
	cfg := flat.Configs[0]
	if cfg.Config["type"] != Family || cfg.ConfigType != "dynamic" {
		t.Errorf("config = %v (%s)", cfg.Config, cfg.ConfigType)
	}
	if len(flat.Binaries) != 1 || flat.Binaries[0].Name != "stage2.exe" {
		t.Fatalf("binaries = %v", flat.Binaries)
	}
	// The drop hangs under the config it came with.
	if len(cfg.Children) != 1 || cfg.Children[0].Kind != "binary" {
		t.Error("drop not nested under the config")
	}

	if m.State()["last_c2"] != srv.URL+"/gate" {
		t.Errorf("state = %v", m.State())
	}
}

func TestRun_GateRefusal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	m := newBot(t, map[string]any{"c2": []any{srv.URL}})

	result, err := m.Run(context.Background(), modules.CNC(srv.URL))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Has(types.ResultContinue) || result.Has(types.ResultWorking) {
		t.Errorf("result = %v, want bare continue", result)
	}
	if !m.Results().Empty() {
		t.Error("refused gate must not produce results")
	}
}

func TestRun_EmptyPeerList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"peers":[]}`))
	}))
	defer srv.Close()

	m := newBot(t, map[string]any{"c2": []any{srv.URL}})

	result, err := m.Run(context.Background(), modules.CNC(srv.URL))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Has(types.ResultContinue) {
		t.Errorf("result = %v, want continue", result)
	}
}

func TestRun_BadGateBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not a gate</html>"))
	}))
	defer srv.Close()

	m := newBot(t, map[string]any{"c2": []any{srv.URL}})

	if _, err := m.Run(context.Background(), modules.CNC(srv.URL)); err == nil {
		t.Error("expected decode error")
	}
}

func TestRun_DropFailureKeepsConfig(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/gate", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"peers":["http://peer.example.com"],"drop":"` + srv.URL + `/missing"}`))
	})

	m := newBot(t, map[string]any{"c2": []any{srv.URL + "/gate"}})

	result, err := m.Run(context.Background(), modules.CNC(srv.URL+"/gate"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Has(types.ResultWorking) {
		t.Errorf("result = %v, want working despite failed drop", result)
	}

	flat := m.Results().Flatten()
	if len(flat.Configs) != 1 || len(flat.Binaries) != 0 {
		t.Errorf("configs = %d binaries = %d", len(flat.Configs), len(flat.Binaries))
	}
}

func TestRegister(t *testing.T) {
	r := modules.NewRegistry()
	if err := Register(r); err != nil {
		t.Fatalf("Register: %v", err)
	}

	d, ok := r.Get(Family)
	if !ok {
		t.Fatal("family not registered")
	}
	if missing := d.MissingCriticalParams(map[string]any{}); len(missing) != 1 || missing[0] != "c2" {
		t.Errorf("critical params = %v", missing)
	}
}
