package vault

import (
	"context"
	"errors"

	"github.com/justapithecus/stakeout/metrics"
)

// Instrumented wraps a Client and counts stores and storage errors on
// the metrics collector.
type Instrumented struct {
	inner     Client
	collector *metrics.Collector
}

var _ Client = (*Instrumented)(nil)

// NewInstrumented wraps a vault client with metrics instrumentation.
func NewInstrumented(inner Client, collector *metrics.Collector) *Instrumented {
	return &Instrumented{inner: inner, collector: collector}
}

// Put delegates to the inner client and records success or failure.
func (v *Instrumented) Put(ctx context.Context, key string, content []byte) error {
	err := v.inner.Put(ctx, key, content)
	if err != nil {
		v.collector.IncVaultError()
	} else {
		v.collector.IncVaultStore()
	}
	return err
}

// Get delegates to the inner client and records failures. A missing
// key is a lookup result, not a storage failure.
func (v *Instrumented) Get(ctx context.Context, key string) ([]byte, error) {
	content, err := v.inner.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		v.collector.IncVaultError()
	}
	return content, err
}

// Exists delegates to the inner client and records failures.
func (v *Instrumented) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := v.inner.Exists(ctx, key)
	if err != nil {
		v.collector.IncVaultError()
	}
	return ok, err
}

// Close delegates to the inner client.
func (v *Instrumented) Close() error {
	return v.inner.Close()
}
