package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/justapithecus/stakeout/types"
)

const sampleFeed = `[
	{"id": 1, "host": "10.0.0.1", "port": 1080, "country": "us", "is_alive": true},
	{"id": 2, "host": "10.0.0.2", "port": "9050", "country": "de", "username": "u", "password": "p", "is_alive": true},
	{"id": 3, "host": "10.0.0.3", "port": 1080, "country": "us", "is_alive": false},
	{"id": 4, "host": "10.0.0.4", "port": 1080, "country": "pl"}
]`

func TestEntryDecoding(t *testing.T) {
	src := NewSource(SourceConfig{Method: "file", Path: writeFeed(t, sampleFeed)}, nil)
	entries, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("got %d entries, want 4", len(entries))
	}

	// Quoted ports decode like numeric ones.
	if entries[0].Port != 1080 || entries[1].Port != 9050 {
		t.Errorf("ports = %d, %d", entries[0].Port, entries[1].Port)
	}
	// A missing is_alive flag means dead.
	if entries[3].Alive {
		t.Errorf("entry without is_alive decoded as alive")
	}
	if entries[1].Username != "u" || entries[0].Username != "" {
		t.Errorf("credentials decoded wrong: %+v, %+v", entries[0], entries[1])
	}
}

func TestAliveAndSpecs(t *testing.T) {
	src := NewSource(SourceConfig{Method: "file", Path: writeFeed(t, sampleFeed)}, nil)
	entries, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	alive := Alive(entries)
	if len(alive) != 2 {
		t.Fatalf("got %d alive entries, want 2", len(alive))
	}

	specs := Specs(alive)
	want := types.ProxySpec{Host: "10.0.0.2", Port: 9050, Country: "de", Username: "u", Password: "p"}
	if specs[1] != want {
		t.Errorf("spec = %+v, want %+v", specs[1], want)
	}
}

func TestEntryRecord(t *testing.T) {
	e := Entry{ID: 42, Host: "10.0.0.1", Port: 1080, Country: "us", Username: "u", Password: "p"}
	rec := e.Record()
	if rec.ProxyID != 42 || rec.Host != "10.0.0.1" || rec.Port != 1080 {
		t.Errorf("record = %+v", rec)
	}
	if got := rec.ConnectionString(); got != "socks5h://u:p@10.0.0.1:1080" {
		t.Errorf("connection string = %q", got)
	}
}

func TestSourceURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(sampleFeed))
	}))
	t.Cleanup(srv.Close)

	src := NewSource(SourceConfig{Method: "url", URL: srv.URL}, srv.Client())
	entries, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(entries) != 4 {
		t.Errorf("got %d entries, want 4", len(entries))
	}
}

func TestSourceURLErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	src := NewSource(SourceConfig{Method: "url", URL: srv.URL}, srv.Client())
	if _, err := src.Fetch(context.Background()); err == nil {
		t.Fatal("Fetch succeeded against a failing source")
	}
}

func TestSourceUnknownMethod(t *testing.T) {
	src := NewSource(SourceConfig{Method: "carrier-pigeon"}, nil)
	_, err := src.Fetch(context.Background())
	if err == nil || !strings.Contains(err.Error(), "unknown method") {
		t.Fatalf("Fetch = %v, want unknown method error", err)
	}
}

func TestSourceBadPort(t *testing.T) {
	feed := `[{"id": 1, "host": "10.0.0.1", "port": "not-a-port", "country": "us"}]`
	src := NewSource(SourceConfig{Method: "file", Path: writeFeed(t, feed)}, nil)
	if _, err := src.Fetch(context.Background()); err == nil {
		t.Fatal("Fetch accepted a garbage port")
	}
}

func writeFeed(t *testing.T, feed string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proxies.json")
	if err := os.WriteFile(path, []byte(feed), 0o644); err != nil {
		t.Fatalf("writing feed: %v", err)
	}
	return path
}
