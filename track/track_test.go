package track

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/justapithecus/stakeout/broker"
	"github.com/justapithecus/stakeout/metrics"
	"github.com/justapithecus/stakeout/modules"
	"github.com/justapithecus/stakeout/results"
	"github.com/justapithecus/stakeout/types"
)

// stubModule answers every C2 with a fixed result and pushes one
// config node into its tree on a working run.
type stubModule struct {
	servers    []modules.CNC
	serversErr error
	result     types.BotResult
	runErr     error
	state      map[string]any
	tree       *results.Node
}

func (m *stubModule) CNCServers() ([]modules.CNC, error) {
	return m.servers, m.serversErr
}

func (m *stubModule) Run(_ context.Context, c2 modules.CNC) (types.BotResult, error) {
	if m.runErr != nil {
		return 0, m.runErr
	}
	if m.result.Has(types.ResultWorking) {
		m.Results().PushConfig(map[string]any{"c2": string(c2)}, "static")
		m.state["last_c2"] = string(c2)
	}
	return m.result, nil
}

func (m *stubModule) State() map[string]any {
	return m.state
}

func (m *stubModule) Results() *results.Node {
	if m.tree == nil {
		m.tree = results.NewTree()
	}
	return m.tree
}

var _ modules.Module = (*stubModule)(nil)

// testRegistry registers a single stubfam family handing out the given
// module.
func testRegistry(t *testing.T, desc modules.Descriptor) *modules.Registry {
	t.Helper()
	r := modules.NewRegistry()
	if desc.Family == "" {
		desc.Family = "stubfam"
	}
	if err := r.Register(desc); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return r
}

func trackArgs(config map[string]any) *types.TrackArgs {
	return &types.TrackArgs{
		StaticConfig: config,
		SavedState:   map[string]any{"round": "one"},
		Proxy:        "socks5h://10.0.0.1:1080",
		BotID:        7,
		TaskID:       42,
	}
}

func TestExecuteWorkingRun(t *testing.T) {
	stub := &stubModule{
		servers: []modules.CNC{"c2.example.com"},
		result:  types.ResultWorking,
		state:   map[string]any{},
	}
	var gotEnv modules.Env
	registry := testRegistry(t, modules.Descriptor{
		New: func(env modules.Env) (modules.Module, error) {
			gotEnv = env
			return stub, nil
		},
	})
	logDir := t.TempDir()
	e := New(registry, metrics.NewCollector("track-test"), Options{LogDir: logDir})

	args := trackArgs(map[string]any{"type": "stubfam", "c2": []any{"c2.example.com"}})
	ret, err := e.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if ret.Status != types.StatusWorking {
		t.Errorf("status = %v, want working", ret.Status)
	}
	if gotEnv.Family != "stubfam" || gotEnv.ProxyURL != args.Proxy {
		t.Errorf("module env = %+v", gotEnv)
	}
	if gotEnv.State["round"] != "one" {
		t.Errorf("saved state not passed: %v", gotEnv.State)
	}

	tree, err := results.ParseTransport(ret.Results)
	if err != nil {
		t.Fatalf("ParseTransport: %v", err)
	}
	if tree.Empty() || tree.Children[0].Kind != results.KindConfig {
		t.Errorf("result tree = %+v", tree)
	}
	if ret.State["last_c2"] != "c2.example.com" {
		t.Errorf("state = %v", ret.State)
	}

	data, err := os.ReadFile(LogPath(logDir, args.TaskID))
	if err != nil {
		t.Fatalf("reading task log: %v", err)
	}
	if !strings.Contains(string(data), "run finished") {
		t.Errorf("task log missing run entries: %s", data)
	}
}

func TestExecuteUnknownFamilyCrashes(t *testing.T) {
	registry := modules.NewRegistry()
	e := New(registry, nil, Options{LogDir: t.TempDir()})

	args := trackArgs(map[string]any{"type": "ghostfam"})
	ret, err := e.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if ret.Status != types.StatusCrashed {
		t.Errorf("status = %v, want crashed", ret.Status)
	}
	tree, err := results.ParseTransport(ret.Results)
	if err != nil {
		t.Fatalf("ParseTransport: %v", err)
	}
	if !tree.Empty() {
		t.Errorf("crashed run produced results: %+v", tree)
	}
	if ret.State["round"] != "one" {
		t.Errorf("saved state not preserved: %v", ret.State)
	}
}

func TestExecuteMissingCriticalParamsArchives(t *testing.T) {
	registry := testRegistry(t, modules.Descriptor{
		CriticalParams: []string{"c2", "key"},
		New: func(modules.Env) (modules.Module, error) {
			t.Fatal("module constructed despite missing params")
			return nil, nil
		},
	})
	e := New(registry, nil, Options{LogDir: t.TempDir()})

	args := trackArgs(map[string]any{"type": "stubfam", "c2": []any{"x"}})
	ret, err := e.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if ret.Status != types.StatusArchived {
		t.Errorf("status = %v, want archived", ret.Status)
	}
	if ret.State["round"] != "one" {
		t.Errorf("saved state not preserved: %v", ret.State)
	}
}

func TestExecuteConstructorErrorPropagates(t *testing.T) {
	registry := testRegistry(t, modules.Descriptor{
		New: func(modules.Env) (modules.Module, error) {
			return nil, errors.New("bad config shape")
		},
	})
	e := New(registry, nil, Options{LogDir: t.TempDir()})

	_, err := e.Execute(context.Background(), trackArgs(map[string]any{"type": "stubfam"}))
	if err == nil || !strings.Contains(err.Error(), "bad config shape") {
		t.Fatalf("err = %v, want constructor error", err)
	}
}

func TestExecuteCNCServersErrorPropagates(t *testing.T) {
	stub := &stubModule{serversErr: errors.New("state is garbage"), state: map[string]any{}}
	registry := testRegistry(t, modules.Descriptor{
		New: func(modules.Env) (modules.Module, error) { return stub, nil },
	})
	e := New(registry, nil, Options{LogDir: t.TempDir()})

	_, err := e.Execute(context.Background(), trackArgs(map[string]any{"type": "stubfam"}))
	if err == nil || !strings.Contains(err.Error(), "state is garbage") {
		t.Fatalf("err = %v, want cnc servers error", err)
	}
}

func TestHandlerRoundTrip(t *testing.T) {
	stub := &stubModule{
		servers: []modules.CNC{"c2.example.com"},
		result:  types.ResultWorking,
		state:   map[string]any{},
	}
	registry := testRegistry(t, modules.Descriptor{
		New: func(modules.Env) (modules.Module, error) { return stub, nil },
	})
	e := New(registry, nil, Options{LogDir: t.TempDir()})

	payload, err := broker.EncodePayload(trackArgs(map[string]any{"type": "stubfam"}))
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	out, err := e.Handler()(context.Background(), &broker.Job{
		ID:      "job-1",
		Queue:   broker.QueueTrack,
		Payload: payload,
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	var ret types.TrackReturn
	if err := broker.DecodePayload(out, &ret); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if ret.Status != types.StatusWorking {
		t.Errorf("status = %v, want working", ret.Status)
	}
}

func TestHandlerRejectsGarbagePayload(t *testing.T) {
	e := New(modules.NewRegistry(), nil, Options{LogDir: t.TempDir()})

	_, err := e.Handler()(context.Background(), &broker.Job{
		ID:      "job-1",
		Queue:   broker.QueueTrack,
		Payload: []byte("not msgpack"),
	})
	if err == nil {
		t.Fatal("expected decode error")
	}
}

func TestLogPath(t *testing.T) {
	if got := LogPath("/var/log/tasks", 42); got != "/var/log/tasks/42.log" {
		t.Errorf("LogPath = %q", got)
	}
}
