package types //nolint:revive // types is a valid package name

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
)

func sha256hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestConfigDhash_Scalars(t *testing.T) {
	tests := []struct {
		name string
		obj  any
		text string
	}{
		{"string", "evil.example.com", "evil.example.com"},
		{"int", 1337, "1337"},
		{"int64", int64(-7), "-7"},
		{"bool true", true, "True"},
		{"bool false", false, "False"},
		{"nil", nil, "None"},
		{"number int literal", json.Number("42"), "42"},
		{"number float literal", json.Number("42.0"), "42.0"},
		{"number exponent literal", json.Number("5e2"), "500.0"},
		{"float", 0.25, "0.25"},
		{"round float keeps point", 5.0, "5.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, want := ConfigDhash(tt.obj), sha256hex(tt.text); got != want {
				t.Errorf("ConfigDhash(%v) = %s, want sha256(%q) = %s", tt.obj, got, tt.text, want)
			}
		})
	}
}

func TestConfigDhash_IntAndStringCollide(t *testing.T) {
	// Scalars hash through their text form, so the string "5" and the
	// number 5 share a hash. Documented behaviour, not an accident.
	if ConfigDhash("5") != ConfigDhash(json.Number("5")) {
		t.Error("expected string and integer with same text to share a hash")
	}
}

func TestConfigDhash_EmptyList(t *testing.T) {
	if got, want := ConfigDhash([]any{}), sha256hex("[]"); got != want {
		t.Errorf("ConfigDhash([]) = %s, want %s", got, want)
	}
}

func TestConfigDhash_ListKnownValue(t *testing.T) {
	// The list hash is the hash of the rendered, sorted element hashes.
	ha := sha256hex("a")
	hb := sha256hex("b")
	if hb < ha {
		ha, hb = hb, ha
	}
	want := sha256hex(fmt.Sprintf("['%s', '%s']", ha, hb))

	if got := ConfigDhash([]any{"b", "a"}); got != want {
		t.Errorf("ConfigDhash = %s, want %s", got, want)
	}
}

func TestConfigDhash_ListPermutation(t *testing.T) {
	a := []any{"c2-1.example.com", "c2-2.example.com", "c2-3.example.com"}
	b := []any{"c2-3.example.com", "c2-1.example.com", "c2-2.example.com"}

	if ConfigDhash(a) != ConfigDhash(b) {
		t.Error("list hash must be invariant under permutation")
	}

	c := []any{"c2-1.example.com", "c2-2.example.com"}
	if ConfigDhash(a) == ConfigDhash(c) {
		t.Error("dropping an element must change the hash")
	}
}

func TestConfigDhash_MapDeterminism(t *testing.T) {
	cfg := map[string]any{
		"type": "demofam",
		"urls": []any{"http://one.example.com", "http://two.example.com"},
		"ttl":  json.Number("3600"),
		"deep": map[string]any{"key": "value", "flag": true},
	}

	first := ConfigDhash(cfg)
	for i := 0; i < 10; i++ {
		if got := ConfigDhash(cfg); got != first {
			t.Fatalf("hash not deterministic: %s != %s", got, first)
		}
	}
}

func TestConfigDhash_MapSensitivity(t *testing.T) {
	base := map[string]any{"type": "demofam", "ttl": json.Number("60")}

	changed := map[string]any{"type": "demofam", "ttl": json.Number("61")}
	if ConfigDhash(base) == ConfigDhash(changed) {
		t.Error("changing a value must change the hash")
	}

	extra := map[string]any{"type": "demofam", "ttl": json.Number("60"), "x": "y"}
	if ConfigDhash(base) == ConfigDhash(extra) {
		t.Error("adding a key must change the hash")
	}

	renamed := map[string]any{"kind": "demofam", "ttl": json.Number("60")}
	if ConfigDhash(base) == ConfigDhash(renamed) {
		t.Error("renaming a key must change the hash")
	}
}

func TestConfigDhash_NestedPermutation(t *testing.T) {
	a := map[string]any{
		"type": "demofam",
		"c2":   []any{map[string]any{"host": "a", "port": json.Number("80")}, map[string]any{"host": "b", "port": json.Number("443")}},
	}
	b := map[string]any{
		"c2":   []any{map[string]any{"port": json.Number("443"), "host": "b"}, map[string]any{"port": json.Number("80"), "host": "a"}},
		"type": "demofam",
	}

	if ConfigDhash(a) != ConfigDhash(b) {
		t.Error("nested reordering must not change the hash")
	}
}

func TestDecodeConfig(t *testing.T) {
	cfg, err := DecodeConfig([]byte(`{"type":"demofam","port":1337,"rate":0.5}`))
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}

	if _, ok := cfg["port"].(json.Number); !ok {
		t.Errorf("port decoded as %T, want json.Number", cfg["port"])
	}

	if _, err := DecodeConfig([]byte(`[1,2]`)); err == nil {
		t.Error("expected error for non-object config")
	}
}

func TestDecodeConfig_HashStability(t *testing.T) {
	// The same document with different key order must hash identically
	// after decoding.
	a, err := DecodeConfig([]byte(`{"type":"demofam","ttl":5,"urls":["u1","u2"]}`))
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	b, err := DecodeConfig([]byte(`{"urls":["u2","u1"],"type":"demofam","ttl":5}`))
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}

	if ConfigDhash(a) != ConfigDhash(b) {
		t.Error("equivalent documents must share a hash")
	}
}
