// Package mwdb is a client for the malware repository holding the
// uploaded artifacts: configs, files and blobs linked by parent
// relations.
package mwdb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"time"

	"github.com/justapithecus/stakeout/iox"
)

// DefaultTimeout is the default per-request timeout.
const DefaultTimeout = 30 * time.Second

// DefaultRetries is the default number of retry attempts on transient
// upload failures.
const DefaultRetries = 3

// ErrObjectNotFound is returned when the repository has no object
// under the requested hash.
var ErrObjectNotFound = errors.New("repository object not found")

// ConfigUpload describes one structured config heading to the
// repository.
type ConfigUpload struct {
	Family     string
	Config     map[string]any
	ConfigType string
	Attributes map[string]any
	// Parent is the hash of the object this config hangs under, empty
	// for top-level uploads.
	Parent string
}

// FileUpload describes one raw file heading to the repository.
type FileUpload struct {
	Name       string
	Content    []byte
	Attributes map[string]any
	Parent     string
}

// BlobUpload describes one text blob heading to the repository.
type BlobUpload struct {
	Name       string
	Type       string
	Content    string
	Attributes map[string]any
	Parent     string
}

// StoredConfig is a config object fetched back from the repository.
type StoredConfig struct {
	// Family is the malware family the repository filed the config under.
	Family string
	// Type is the config kind, static or dynamic.
	Type string
	// Config is the config body. Numbers decode as json.Number so the
	// body rehashes to the same value it was stored under.
	Config map[string]any
}

// Client is the slice of the repository API the tracking pipeline
// needs. Upload methods return the stored object's hash.
type Client interface {
	UploadConfig(ctx context.Context, up ConfigUpload) (string, error)
	UploadFile(ctx context.Context, up FileUpload) (string, error)
	UploadBlob(ctx context.Context, up BlobUpload) (string, error)
	// AddTag attaches a tag to a stored object.
	AddTag(ctx context.Context, hash, tag string) error
	// AddComment attaches a comment to a stored object.
	AddComment(ctx context.Context, hash, comment string) error
	// ConfigByHash fetches a stored config.
	ConfigByHash(ctx context.Context, hash string) (*StoredConfig, error)
}

// StatusError is returned for non-2xx repository responses. The code
// lets callers separate retriable (5xx) from non-retriable (4xx)
// failures.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Message)
}

// Config configures the HTTP client.
type Config struct {
	// APIURL is the repository API root, usually <base>/api.
	APIURL string
	// Token is the API key sent as a bearer token.
	Token string
	// Timeout is the per-request timeout (default 30s).
	Timeout time.Duration
	// Retries is the number of retry attempts on transient failures
	// (default 3). Uploads are content addressed, so replays are safe.
	Retries int
}

// HTTP talks to a live repository instance.
type HTTP struct {
	cfg    Config
	client *http.Client
}

// NewHTTP creates a repository client from the given config.
func NewHTTP(cfg Config) (*HTTP, error) {
	if cfg.APIURL == "" {
		return nil, errors.New("mwdb client requires an API URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	return &HTTP{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// attributePayload is the wire form of one attribute.
type attributePayload struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func attributeList(attrs map[string]any) []attributePayload {
	if len(attrs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]attributePayload, 0, len(keys))
	for _, k := range keys {
		out = append(out, attributePayload{Key: k, Value: attrs[k]})
	}
	return out
}

// uploadResponse covers the object shapes the upload endpoints return.
type uploadResponse struct {
	ID     string `json:"id"`
	SHA256 string `json:"sha256"`
}

func (r uploadResponse) hash() string {
	if r.SHA256 != "" {
		return r.SHA256
	}
	return r.ID
}

func (c *HTTP) UploadConfig(ctx context.Context, up ConfigUpload) (string, error) {
	payload := map[string]any{
		"family":      up.Family,
		"cfg":         up.Config,
		"config_type": up.ConfigType,
	}
	if up.Parent != "" {
		payload["parent"] = up.Parent
	}
	if attrs := attributeList(up.Attributes); attrs != nil {
		payload["attributes"] = attrs
	}

	var resp uploadResponse
	if err := c.postJSON(ctx, "/config", payload, &resp); err != nil {
		return "", fmt.Errorf("upload config: %w", err)
	}
	return resp.hash(), nil
}

func (c *HTTP) UploadFile(ctx context.Context, up FileUpload) (string, error) {
	options, err := json.Marshal(map[string]any{
		"parent":     emptyToNil(up.Parent),
		"attributes": attributeList(up.Attributes),
	})
	if err != nil {
		return "", fmt.Errorf("upload file options: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", up.Name)
	if err != nil {
		return "", fmt.Errorf("upload file form: %w", err)
	}
	if _, err := part.Write(up.Content); err != nil {
		return "", fmt.Errorf("upload file form: %w", err)
	}
	if err := mw.WriteField("options", string(options)); err != nil {
		return "", fmt.Errorf("upload file form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("upload file form: %w", err)
	}

	var resp uploadResponse
	err = c.send(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+"/file", bytes.NewReader(body.Bytes()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req, nil
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("upload file %q: %w", up.Name, err)
	}
	return resp.hash(), nil
}

func (c *HTTP) UploadBlob(ctx context.Context, up BlobUpload) (string, error) {
	payload := map[string]any{
		"blob_name": up.Name,
		"blob_type": up.Type,
		"content":   up.Content,
	}
	if up.Parent != "" {
		payload["parent"] = up.Parent
	}
	if attrs := attributeList(up.Attributes); attrs != nil {
		payload["attributes"] = attrs
	}

	var resp uploadResponse
	if err := c.postJSON(ctx, "/blob", payload, &resp); err != nil {
		return "", fmt.Errorf("upload blob %q: %w", up.Name, err)
	}
	return resp.hash(), nil
}

func (c *HTTP) AddTag(ctx context.Context, hash, tag string) error {
	err := c.sendJSON(ctx, http.MethodPut, "/object/"+hash+"/tag", map[string]any{"tag": tag}, nil)
	if err != nil {
		return fmt.Errorf("tag %s: %w", hash, err)
	}
	return nil
}

func (c *HTTP) AddComment(ctx context.Context, hash, comment string) error {
	err := c.sendJSON(ctx, http.MethodPost, "/object/"+hash+"/comment", map[string]any{"comment": comment}, nil)
	if err != nil {
		return fmt.Errorf("comment %s: %w", hash, err)
	}
	return nil
}

func (c *HTTP) ConfigByHash(ctx context.Context, hash string) (*StoredConfig, error) {
	var resp struct {
		Family     string         `json:"family"`
		ConfigType string         `json:"config_type"`
		Cfg        map[string]any `json:"cfg"`
	}
	err := c.send(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIURL+"/config/"+hash, nil)
	}, &resp)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
			return nil, fmt.Errorf("config %s: %w", hash, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("config %s: %w", hash, err)
	}
	return &StoredConfig{Family: resp.Family, Type: resp.ConfigType, Config: resp.Cfg}, nil
}

func emptyToNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (c *HTTP) postJSON(ctx context.Context, path string, payload any, out any) error {
	return c.sendJSON(ctx, http.MethodPost, path, payload, out)
}

func (c *HTTP) sendJSON(ctx context.Context, method, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.send(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, out)
}

// send performs a request with exponential backoff on 5xx responses
// and network errors. 4xx responses fail immediately.
func (c *HTTP) send(ctx context.Context, build func() (*http.Request, error), out any) error {
	var lastErr error
	attempts := 1 + c.cfg.Retries

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = c.doRequest(build, out)
		if lastErr == nil {
			return nil
		}

		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500 {
			return lastErr
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

func (c *HTTP) doRequest(build func() (*http.Request, error), out any) error {
	req, err := build()
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Message: string(bytes.TrimSpace(msg))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	// Numbers land in untyped config maps; json.Number keeps their
	// literals intact for rehashing.
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ Client = (*HTTP)(nil)
