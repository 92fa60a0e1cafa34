// Package notify publishes tracker lifecycle events to downstream
// systems: a webhook endpoint, a Redis pub/sub channel, or nothing.
//
// Notifications are advisory. Emitters treat a failed Notify as a log
// line, never as a pipeline failure.
package notify

import (
	"context"
	"errors"
	"time"
)

// Event types.
const (
	EventTrackerCreated = "tracker.created"
	EventBotArchived    = "bot.archived"
	EventBotCrashed     = "bot.crashed"
)

// Event is one lifecycle notification. Fields irrelevant to the event
// type stay zero and are omitted from the JSON payload.
type Event struct {
	Type       string    `json:"type"`
	Family     string    `json:"family,omitempty"`
	TrackerID  int64     `json:"tracker_id,omitempty"`
	BotID      int64     `json:"bot_id,omitempty"`
	TaskID     int64     `json:"task_id,omitempty"`
	Country    string    `json:"country,omitempty"`
	ConfigHash string    `json:"config_hash,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// TrackerCreated announces a tracker row freshly created by ingest.
func TrackerCreated(trackerID int64, family, configHash string) *Event {
	return &Event{
		Type:       EventTrackerCreated,
		Family:     family,
		TrackerID:  trackerID,
		ConfigHash: configHash,
		Timestamp:  time.Now().UTC(),
	}
}

// BotArchived announces a bot leaving the schedulable pool for good.
func BotArchived(botID, trackerID int64, family, country, reason string) *Event {
	return &Event{
		Type:      EventBotArchived,
		Family:    family,
		TrackerID: trackerID,
		BotID:     botID,
		Country:   country,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
}

// BotCrashed announces an executor crash caught by the failure handler.
func BotCrashed(botID, taskID int64, reason string) *Event {
	return &Event{
		Type:      EventBotCrashed,
		BotID:     botID,
		TaskID:    taskID,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
}

// Notifier publishes lifecycle events to a downstream system.
// Implementations must respect context cancellation and deadlines.
type Notifier interface {
	Notify(ctx context.Context, event *Event) error

	// Close releases notifier resources.
	Close() error
}

// Noop is the notifier used when notifications are not configured.
type Noop struct{}

func (Noop) Notify(context.Context, *Event) error { return nil }
func (Noop) Close() error                         { return nil }

// Multi fans each event out to every notifier, collecting errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event *Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, n := range m {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Notifier = Noop{}
	_ Notifier = Multi{}
)
