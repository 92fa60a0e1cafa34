// Package types defines core domain types shared across the stakeout
// pipeline: statuses, database records, queue payloads and config hashing.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Status is the lifecycle state shared by trackers, bots and tasks.
//
// The declaration order is load-bearing: statuses run from most to least
// alarming, and a tracker's status is the minimum over its bots' statuses.
// The database enum must declare its labels in this same order so that
// MIN() agrees with the Go ordering.
type Status int

const (
	// StatusCrashed marks an entity whose last run raised an unhandled error.
	StatusCrashed Status = iota
	// StatusInProgress marks an entity with a run currently executing.
	StatusInProgress
	// StatusWorking marks an entity whose last run produced results.
	StatusWorking
	// StatusFailing marks an entity whose last run completed without results.
	StatusFailing
	// StatusNew marks an entity that has never run.
	StatusNew
	// StatusArchived marks an entity taken out of rotation.
	StatusArchived
)

var statusNames = [...]string{
	StatusCrashed:    "crashed",
	StatusInProgress: "inprogress",
	StatusWorking:    "working",
	StatusFailing:    "failing",
	StatusNew:        "new",
	StatusArchived:   "archived",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// ParseStatus maps a lowercase status label back to its Status value.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

// Runnable reports whether the scheduler may start a new task for an
// entity in this status.
func (s Status) Runnable() bool {
	return s == StatusWorking || s == StatusFailing || s == StatusNew
}

// MinStatus returns the minimum (most alarming) of the given statuses.
// Mirrors the MIN() aggregate used to derive tracker status from bots.
func MinStatus(statuses []Status) (Status, bool) {
	if len(statuses) == 0 {
		return 0, false
	}
	min := statuses[0]
	for _, s := range statuses[1:] {
		if s < min {
			min = s
		}
	}
	return min, true
}

// Value implements driver.Valuer. Statuses are stored as enum labels.
func (s Status) Value() (driver.Value, error) {
	if s < 0 || int(s) >= len(statusNames) {
		return nil, fmt.Errorf("cannot store invalid status %d", int(s))
	}
	return statusNames[s], nil
}

// Scan implements sql.Scanner for enum labels read from the database.
func (s *Status) Scan(src any) error {
	var name string
	switch v := src.(type) {
	case string:
		name = v
	case []byte:
		name = string(v)
	default:
		return fmt.Errorf("cannot scan %T into Status", src)
	}
	parsed, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalJSON encodes the status as its lowercase label.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a lowercase label into a Status.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
