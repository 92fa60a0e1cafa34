//nolint:revive // types is a common Go package naming convention
package types

import (
	"fmt"
	"strings"
)

// BotResult is the bit set a module run returns for a single C2 server.
// The executor folds the results from successive servers into the final
// task status.
type BotResult uint8

const (
	// ResultWorking is set when the run produced actionable results.
	ResultWorking BotResult = 1 << iota
	// ResultContinue asks the executor to keep trying the remaining C2s.
	ResultContinue
	// ResultArchive asks for the bot to be archived after this task.
	ResultArchive
)

// Has reports whether every flag in mask is set.
func (r BotResult) Has(mask BotResult) bool {
	return r&mask == mask
}

func (r BotResult) String() string {
	if r == 0 {
		return "none"
	}
	var parts []string
	if r.Has(ResultWorking) {
		parts = append(parts, "working")
	}
	if r.Has(ResultContinue) {
		parts = append(parts, "continue")
	}
	if r.Has(ResultArchive) {
		parts = append(parts, "archive")
	}
	if extra := r &^ (ResultWorking | ResultContinue | ResultArchive); extra != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint8(extra)))
	}
	return strings.Join(parts, "|")
}
