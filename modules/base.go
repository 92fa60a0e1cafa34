package modules

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/justapithecus/stakeout/iox"
	"github.com/justapithecus/stakeout/log"
	"github.com/justapithecus/stakeout/results"
)

// DefaultUserAgent imitates the WinHttp stack most droppers expect to
// see from their victims.
const DefaultUserAgent = "Mozilla/4.0 (compatible; Win32; WinHttp.WinHttpRequest.5)"

// dropTimeout bounds a single payload download.
const dropTimeout = 10 * time.Second

// ParseProxyURL parses a proxy connection string of the form
// scheme://[user:pass@]host:port. The socks5h scheme is folded into
// socks5; the transport resolves hostnames on the proxy side either way.
func ParseProxyURL(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		return nil, fmt.Errorf("expected scheme://host:port, got %q", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	if u.Scheme == "socks5h" {
		u.Scheme = "socks5"
	}
	if u.Port() == "" {
		return nil, fmt.Errorf("proxy url %q has no port", raw)
	}
	return u, nil
}

// Base carries the shared machinery for module implementations: the
// result tree, push helpers and an HTTP client routed through the
// bot's proxy. Embed it and implement CNCServers and Run.
type Base struct {
	Env

	tree      *results.Node
	transport *http.Transport
	client    *http.Client
}

// NewBase prepares the shared module state for one task.
func NewBase(env Env) (Base, error) {
	if env.State == nil {
		env.State = map[string]any{}
	}
	if env.Log == nil {
		env.Log = log.New("module")
	}

	transport := &http.Transport{}
	if env.ProxyURL != "" {
		proxyURL, err := ParseProxyURL(env.ProxyURL)
		if err != nil {
			return Base{}, err
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return Base{
		Env:       env,
		tree:      results.NewTree(),
		transport: transport,
		client: &http.Client{
			Transport: transport,
			Timeout:   env.HTTPTimeout,
		},
	}, nil
}

// Results returns the accumulated result tree.
func (b *Base) Results() *results.Node {
	return b.tree
}

// State returns the bot state carried to the next run.
func (b *Base) State() map[string]any {
	return b.Env.State
}

// Client returns the proxied HTTP client with the module's default
// timeout applied.
func (b *Base) Client() *http.Client {
	return b.client
}

// PushConfig appends a config to the result tree with the family name
// stamped in under the type key. The input map is not mutated.
func (b *Base) PushConfig(config map[string]any, configType string) *results.Node {
	stamped := make(map[string]any, len(config)+1)
	for k, v := range config {
		stamped[k] = v
	}
	stamped["type"] = b.Family
	return b.tree.PushConfig(stamped, configType)
}

// PushBinary appends a binary to the result tree.
func (b *Base) PushBinary(data []byte, name string) *results.Node {
	return b.tree.PushBinary(data, name)
}

// PushBlob appends a blob to the result tree.
func (b *Base) PushBlob(content, name, blobType string) *results.Node {
	return b.tree.PushBlob(content, name, blobType)
}

// Dropper extends Base with a download helper for families that serve
// payloads over plain HTTP.
type Dropper struct {
	Base
}

// NewDropper prepares a dropper module base.
func NewDropper(env Env) (Dropper, error) {
	base, err := NewBase(env)
	if err != nil {
		return Dropper{}, err
	}
	return Dropper{Base: base}, nil
}

// DownloadDrop fetches a payload through the bot's proxy and derives a
// filename from the Content-Disposition header, falling back to the
// last URL path segment and finally to "sample". Any response other
// than 200 is an error.
func (d *Dropper) DownloadDrop(ctx context.Context, rawURL string, headers map[string]string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build drop request: %w", err)
	}
	if headers == nil {
		headers = map[string]string{"User-Agent": DefaultUserAgent}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Transport: d.transport, Timeout: dropTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download drop: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		iox.DrainClose(resp.Body)
		return nil, "", fmt.Errorf("drop request returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	iox.DiscardClose(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read drop body: %w", err)
	}

	return data, dropFilename(resp.Header.Get("Content-Disposition"), rawURL), nil
}

func dropFilename(disposition, rawURL string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if name := params["filename"]; name != "" {
				return name
			}
		}
	}
	if name := rawURL[strings.LastIndex(rawURL, "/")+1:]; name != "" {
		return name
	}
	return "sample"
}
