// Package proxy handles the exit-node side of tracking: loading the
// proxy list from its external source and selecting an endpoint for a
// bot's country.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/justapithecus/stakeout/iox"
	"github.com/justapithecus/stakeout/types"
)

// sourceTimeout bounds one fetch of the proxy list.
const sourceTimeout = 30 * time.Second

// Port holds a TCP port that proxy feeds publish either as a number
// or as a quoted string.
type Port int

func (p *Port) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid proxy port %s: %w", data, err)
	}
	*p = Port(n)
	return nil
}

// Entry is one proxy record as published by the external source.
type Entry struct {
	ID       int64  `json:"id"`
	Host     string `json:"host"`
	Port     Port   `json:"port"`
	Country  string `json:"country"`
	Username string `json:"username"`
	Password string `json:"password"`
	Alive    bool   `json:"is_alive"`
}

// Spec returns the identity tuple used for database synchronisation.
func (e Entry) Spec() types.ProxySpec {
	return types.ProxySpec{
		Host:     e.Host,
		Port:     int(e.Port),
		Country:  e.Country,
		Username: e.Username,
		Password: e.Password,
	}
}

// Record returns the entry as a full proxy row. The ID is the
// source's own and only meaningful for local runs that never touch
// the database.
func (e Entry) Record() types.Proxy {
	return types.Proxy{
		ProxyID:  e.ID,
		Host:     e.Host,
		Port:     int(e.Port),
		Country:  e.Country,
		Username: e.Username,
		Password: e.Password,
	}
}

// Alive keeps only entries the source reports as reachable.
func Alive(entries []Entry) []Entry {
	kept := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Alive {
			kept = append(kept, e)
		}
	}
	return kept
}

// Specs converts entries to the identity tuples SyncProxies consumes.
func Specs(entries []Entry) []types.ProxySpec {
	specs := make([]types.ProxySpec, 0, len(entries))
	for _, e := range entries {
		specs = append(specs, e.Spec())
	}
	return specs
}

// SourceConfig says where the deployment publishes its proxy list.
type SourceConfig struct {
	// Method selects the source kind: url or file.
	Method string
	// URL is the endpoint queried when Method is url.
	URL string
	// Path is the JSON file read when Method is file.
	Path string
}

// Source loads the proxy list.
type Source struct {
	cfg    SourceConfig
	client *http.Client
}

// NewSource builds a source from the proxy section of the config. A
// nil client gets a plain one with a modest timeout.
func NewSource(cfg SourceConfig, client *http.Client) *Source {
	if client == nil {
		client = &http.Client{Timeout: sourceTimeout}
	}
	return &Source{cfg: cfg, client: client}
}

// Fetch loads the proxy list from the configured source. Liveness
// filtering is the caller's job; feeds include dead entries.
func (s *Source) Fetch(ctx context.Context) ([]Entry, error) {
	switch s.cfg.Method {
	case "url":
		return s.fetchURL(ctx)
	case "file":
		return s.readFile()
	}
	return nil, fmt.Errorf("invalid proxy configuration: unknown method %q", s.cfg.Method)
}

func (s *Source) fetchURL(ctx context.Context) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build proxy source request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch proxy source: %w", err)
	}
	defer iox.DrainClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("proxy source returned %s", resp.Status)
	}
	var entries []Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode proxy source: %w", err)
	}
	return entries, nil
}

func (s *Source) readFile() ([]Entry, error) {
	data, err := os.ReadFile(s.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("read proxy file: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode proxy file %s: %w", s.cfg.Path, err)
	}
	return entries, nil
}
