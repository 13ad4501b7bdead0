// Package events publishes lifecycle transitions to an external stream so
// dashboards and downstream automations can observe tenant plugin changes.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Action names the lifecycle transition an event describes.
type Action string

const (
	ActionInstall   Action = "install"
	ActionEnable    Action = "enable"
	ActionDisable   Action = "disable"
	ActionUninstall Action = "uninstall"
	ActionConfigure Action = "configure"
)

// Event is one completed (or failed) lifecycle transition.
type Event struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	PluginID string `json:"plugin_id"`
	Action   Action `json:"action"`
	Error    string `json:"error,omitempty"`
	At       int64  `json:"at"`
}

// New builds an event with a fresh ID and the current timestamp.
func New(tenantID, pluginID string, action Action, opErr error) Event {
	event := Event{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		PluginID: pluginID,
		Action:   action,
		At:       time.Now().Unix(),
	}
	if opErr != nil {
		event.Error = opErr.Error()
	}
	return event
}

// Encode serialises the event for transport.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events to a stream. Publish failures must not fail the
// lifecycle operation that produced the event; callers log and move on.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }
