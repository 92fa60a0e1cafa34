package proxy

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/justapithecus/stakeout/types"
)

// ErrNoCandidates means no usable proxy exists for the requested
// country.
var ErrNoCandidates = errors.New("no proxy candidates")

// Pick selects one proxy uniformly at random and returns a copy of
// it.
func Pick(candidates []types.Proxy) (*types.Proxy, error) {
	n := len(candidates)
	if n == 0 {
		return nil, ErrNoCandidates
	}

	idx := 0
	if n > 1 {
		bigIdx, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
		if err != nil {
			return nil, fmt.Errorf("random selection failed: %w", err)
		}
		idx = int(bigIdx.Int64())
	}

	picked := candidates[idx]
	return &picked, nil
}
