package reader

import (
	"errors"

	"github.com/justapithecus/stakeout/store"
	"github.com/justapithecus/stakeout/types"
)

// Filter converts the shared list flags into a store filter. Zero
// count keeps the store's default page size.
func Filter(status, family string, start, count int) (store.ListFilter, error) {
	filter := store.ListFilter{
		Family: family,
		Offset: start,
		Limit:  count,
	}
	if start < 0 {
		return filter, errors.New("start must not be negative")
	}
	if count < 0 {
		return filter, errors.New("count must not be negative")
	}
	if status != "" {
		parsed, err := types.ParseStatus(status)
		if err != nil {
			return filter, err
		}
		filter.Status = &parsed
	}
	return filter, nil
}
