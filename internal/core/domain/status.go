package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ConnectionState is the health verdict of a node.
type ConnectionState string

const (
	StateUnknown       ConnectionState = "unknown"
	StateAllowed       ConnectionState = "allowed"
	StateSynchronizing ConnectionState = "synchronizing"
	StateOffline       ConnectionState = "offline"
	StateNotAllowed    ConnectionState = "not_allowed"
)

// RejectReason explains a not-allowed verdict.
type RejectReason string

const (
	ReasonNone               RejectReason = ""
	ReasonOutdatedAPIVersion RejectReason = "outdated_api_version"
)

// ConnectionStatus is comparable so nodes can be compared with ==.
type ConnectionStatus struct {
	State  ConnectionState
	Reason RejectReason
}

var (
	StatusUnknown       = ConnectionStatus{State: StateUnknown}
	StatusAllowed       = ConnectionStatus{State: StateAllowed}
	StatusSynchronizing = ConnectionStatus{State: StateSynchronizing}
	StatusOffline       = ConnectionStatus{State: StateOffline}
	StatusOutdated      = ConnectionStatus{State: StateNotAllowed, Reason: ReasonOutdatedAPIVersion}
)

// ValidTransitions lists the states reachable from each state.
// Only health-check outcomes drive transitions; nothing returns to unknown.
var ValidTransitions = map[ConnectionState][]ConnectionState{
	StateUnknown:       {StateUnknown, StateAllowed, StateSynchronizing, StateOffline, StateNotAllowed},
	StateAllowed:       {StateAllowed, StateSynchronizing, StateOffline, StateNotAllowed},
	StateSynchronizing: {StateAllowed, StateSynchronizing, StateOffline, StateNotAllowed},
	StateOffline:       {StateAllowed, StateSynchronizing, StateOffline, StateNotAllowed},
	StateNotAllowed:    {StateAllowed, StateSynchronizing, StateOffline, StateNotAllowed},
}

// CanTransition checks whether a node may move from one state to another.
func CanTransition(from, to ConnectionState) bool {
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

func (s ConnectionStatus) String() string {
	if s.Reason != ReasonNone {
		return fmt.Sprintf("%s(%s)", s.State, s.Reason)
	}
	return string(s.State)
}

// MarshalJSON renders the status as "state" or "state(reason)".
func (s ConnectionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the MarshalJSON form; empty input means unknown.
func (s *ConnectionStatus) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseConnectionStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseConnectionStatus parses the String form.
func ParseConnectionStatus(raw string) (ConnectionStatus, error) {
	if raw == "" {
		return StatusUnknown, nil
	}
	state, reason, hasReason := strings.Cut(raw, "(")
	st := ConnectionStatus{State: ConnectionState(state)}
	if hasReason {
		st.Reason = RejectReason(strings.TrimSuffix(reason, ")"))
	}
	if _, ok := ValidTransitions[st.State]; !ok {
		return StatusUnknown, fmt.Errorf("unknown connection status %q", raw)
	}
	return st, nil
}

// StatusInfo is what a successful probe reports about a node.
type StatusInfo struct {
	Height    *int
	Version   string
	WSEnabled bool
	WSPort    *int
	Ping      time.Duration
}
