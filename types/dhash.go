//nolint:revive // types is a common Go package naming convention
package types

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ConfigDhash computes the deterministic content hash of a static config.
// The hash identifies the config across the pipeline and in the malware
// repository, so it must be stable under map iteration order and under
// permutation of list elements.
//
// The value must be JSON-shaped: map[string]any, []any, or a scalar.
// Callers decoding JSON should decode numbers with json.Number (see
// DecodeConfig) so that integer and float literals hash distinctly.
//
// Scalars hash as sha256 of their text form. Lists hash as sha256 of the
// rendered sorted list of element hashes. Maps reduce to a list of
// [key, valueHash] pairs and hash through the list rule, which makes the
// hash insensitive to key order.
func ConfigDhash(obj any) string {
	switch v := obj.(type) {
	case []any:
		hashes := make([]string, len(v))
		for i, item := range v {
			hashes[i] = ConfigDhash(item)
		}
		sort.Strings(hashes)
		return hashText(renderHashes(hashes))
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]any, len(keys))
		for i, k := range keys {
			pairs[i] = []any{k, ConfigDhash(v[k])}
		}
		return ConfigDhash(pairs)
	default:
		return hashText(scalarText(obj))
	}
}

// DecodeConfig decodes a JSON object into the shape ConfigDhash expects.
// Numbers decode as json.Number so their literals survive the round trip.
func DecodeConfig(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var cfg map[string]any
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func hashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// renderHashes renders a sorted hash list as "['h1', 'h2']". The quoting
// is part of the hash preimage and cannot change without changing every
// stored config hash.
func renderHashes(hashes []string) string {
	if len(hashes) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteString("['")
	b.WriteString(strings.Join(hashes, "', '"))
	b.WriteString("']")
	return b.String()
}

// scalarText renders a scalar for hashing. Booleans and null use their
// capitalised forms; numbers keep a fixed decimal rendering.
func scalarText(obj any) string {
	switch v := obj.(type) {
	case nil:
		return "None"
	case bool:
		if v {
			return "True"
		}
		return "False"
	case string:
		return v
	case json.Number:
		return numberText(v)
	case float64:
		return floatText(v)
	case float32:
		return floatText(float64(v))
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	default:
		return fmt.Sprintf("%v", obj)
	}
}

// numberText keeps integer literals verbatim and normalises float
// literals, so "5" and "5.0" hash differently but "5e2" and "500.0"
// hash the same.
func numberText(n json.Number) string {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		return s
	}
	f, err := n.Float64()
	if err != nil {
		return s
	}
	return floatText(f)
}

// floatText renders a float with the decimal point kept and scientific
// notation only for very large or very small magnitudes.
func floatText(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	if abs := math.Abs(f); f != 0 && (abs >= 1e16 || abs < 1e-4) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
