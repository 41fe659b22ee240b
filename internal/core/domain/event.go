package domain

import "time"

// EventType names a node event.
type EventType string

const (
	EventTypeStatusChanged EventType = "node_status_changed"
	EventTypeNodeAdded     EventType = "node_added"
	EventTypeNodeRemoved   EventType = "node_removed"
)

// NodeEvent is emitted when a node appears, disappears or changes status.
type NodeEvent struct {
	Type   EventType        `json:"type"`
	Group  GroupID          `json:"group"`
	NodeID string           `json:"node_id"`
	Origin string           `json:"origin"`
	From   ConnectionStatus `json:"from"`
	To     ConnectionStatus `json:"to"`
	Height *int             `json:"height,omitempty"`
	At     time.Time        `json:"at"`
}
