package proxy

import (
	"errors"
	"testing"

	"github.com/justapithecus/stakeout/types"
)

func TestPickEmpty(t *testing.T) {
	_, err := Pick(nil)
	if !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("Pick(nil) = %v, want ErrNoCandidates", err)
	}
}

func TestPickSingle(t *testing.T) {
	candidates := []types.Proxy{{ProxyID: 7, Host: "p1.example.com", Port: 1080, Country: "us"}}

	picked, err := Pick(candidates)
	if err != nil {
		t.Fatalf("Pick failed: %v", err)
	}
	if picked.ProxyID != 7 {
		t.Errorf("picked %+v, want the only candidate", picked)
	}

	// The result is a copy, not a pointer into the slice.
	picked.Host = "mutated"
	if candidates[0].Host != "p1.example.com" {
		t.Errorf("Pick returned a pointer into the candidate slice")
	}
}

func TestPickCoversAllCandidates(t *testing.T) {
	candidates := []types.Proxy{
		{ProxyID: 1, Host: "p1.example.com", Port: 1080, Country: "us"},
		{ProxyID: 2, Host: "p2.example.com", Port: 1080, Country: "us"},
		{ProxyID: 3, Host: "p3.example.com", Port: 1080, Country: "us"},
	}

	seen := make(map[int64]bool)
	for i := 0; i < 200; i++ {
		picked, err := Pick(candidates)
		if err != nil {
			t.Fatalf("Pick failed: %v", err)
		}
		seen[picked.ProxyID] = true
	}

	// With 200 selections over 3 candidates, missing one would mean
	// the selection is not uniform.
	if len(seen) != len(candidates) {
		t.Errorf("only saw %d distinct proxies out of %d", len(seen), len(candidates))
	}
}
