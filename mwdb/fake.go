package mwdb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"sync"

	"github.com/justapithecus/stakeout/types"
)

// FakeObject is one artifact stored in a Fake.
type FakeObject struct {
	Kind       types.ResultType
	Family     string
	ConfigType string
	BlobType   string
	Name       string
	Config     map[string]any
	Content    []byte
	Parent     string
	Tags       []string
	Comments   []string
	Attributes map[string]any
}

// Fake is an in-memory Client for tests and repository-less local
// runs. Hashes follow the real repository: configs by their canonical
// dhash, files and blobs by content sha256.
type Fake struct {
	mu      sync.Mutex
	objects map[string]*FakeObject

	// UploadHook, when set, runs before each upload and can reject
	// it. Kind is the artifact kind, name its label.
	UploadHook func(kind types.ResultType, name string) error
}

// NewFake returns an empty fake repository.
func NewFake() *Fake {
	return &Fake{objects: make(map[string]*FakeObject)}
}

func (f *Fake) hook(kind types.ResultType, name string) error {
	if f.UploadHook == nil {
		return nil
	}
	return f.UploadHook(kind, name)
}

func (f *Fake) UploadConfig(_ context.Context, up ConfigUpload) (string, error) {
	if err := f.hook(types.ResultTypeConfig, up.ConfigType); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	hash := types.ConfigDhash(up.Config)
	f.objects[hash] = &FakeObject{
		Kind:       types.ResultTypeConfig,
		Family:     up.Family,
		ConfigType: up.ConfigType,
		Config:     maps.Clone(up.Config),
		Parent:     up.Parent,
		Attributes: maps.Clone(up.Attributes),
	}
	return hash, nil
}

func (f *Fake) UploadFile(_ context.Context, up FileUpload) (string, error) {
	if err := f.hook(types.ResultTypeBinary, up.Name); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	sum := sha256.Sum256(up.Content)
	hash := hex.EncodeToString(sum[:])
	f.objects[hash] = &FakeObject{
		Kind:       types.ResultTypeBinary,
		Name:       up.Name,
		Content:    append([]byte(nil), up.Content...),
		Parent:     up.Parent,
		Attributes: maps.Clone(up.Attributes),
	}
	return hash, nil
}

func (f *Fake) UploadBlob(_ context.Context, up BlobUpload) (string, error) {
	if err := f.hook(types.ResultTypeBlob, up.Name); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	sum := sha256.Sum256([]byte(up.Content))
	hash := hex.EncodeToString(sum[:])
	f.objects[hash] = &FakeObject{
		Kind:       types.ResultTypeBlob,
		Name:       up.Name,
		BlobType:   up.Type,
		Content:    []byte(up.Content),
		Parent:     up.Parent,
		Attributes: maps.Clone(up.Attributes),
	}
	return hash, nil
}

func (f *Fake) AddTag(_ context.Context, hash, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	obj, ok := f.objects[hash]
	if !ok {
		return fmt.Errorf("tag %s: %w", hash, ErrObjectNotFound)
	}
	obj.Tags = append(obj.Tags, tag)
	return nil
}

func (f *Fake) AddComment(_ context.Context, hash, comment string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	obj, ok := f.objects[hash]
	if !ok {
		return fmt.Errorf("comment %s: %w", hash, ErrObjectNotFound)
	}
	obj.Comments = append(obj.Comments, comment)
	return nil
}

func (f *Fake) ConfigByHash(_ context.Context, hash string) (*StoredConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	obj, ok := f.objects[hash]
	if !ok || obj.Kind != types.ResultTypeConfig {
		return nil, fmt.Errorf("config %s: %w", hash, ErrObjectNotFound)
	}
	return &StoredConfig{
		Family: obj.Family,
		Type:   obj.ConfigType,
		Config: maps.Clone(obj.Config),
	}, nil
}

// SeedConfig stores a config without going through an upload, for
// tests that query by hash.
func (f *Fake) SeedConfig(cfg map[string]any) string {
	hash, _ := f.UploadConfig(context.Background(), ConfigUpload{
		Family:     fmt.Sprint(cfg["type"]),
		Config:     cfg,
		ConfigType: "static",
	})
	return hash
}

// Object returns a copy of the stored artifact under hash.
func (f *Fake) Object(hash string) (FakeObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	obj, ok := f.objects[hash]
	if !ok {
		return FakeObject{}, false
	}
	out := *obj
	out.Tags = append([]string(nil), obj.Tags...)
	out.Comments = append([]string(nil), obj.Comments...)
	out.Config = maps.Clone(obj.Config)
	out.Content = append([]byte(nil), obj.Content...)
	return out, true
}

// ObjectCount reports how many artifacts the fake holds.
func (f *Fake) ObjectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

var _ Client = (*Fake)(nil)
