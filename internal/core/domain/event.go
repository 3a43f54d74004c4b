package domain

import (
	"github.com/google/uuid"
)

// Event is anything published on the application event stream that
// leaves the process (websocket, MQTT).
type Event interface {
	EventName() string
}

type ActionStateChangedEvent struct {
	MAC    string      `json:"mac"`
	Action ActionType  `json:"action"`
	State  ActionState `json:"state"`
}

type ActionRunStartedEvent struct {
	Action  ActionType `json:"action"`
	Devices []string   `json:"devices"`
}

type ActionRunDoneEvent struct {
	Action ActionType             `json:"action"`
	States map[string]ActionState `json:"states"`
}

// ActionCancelledEvent follows a cancel and undo. Cancelled lists the
// devices whose pipelines were stopped.
type ActionCancelledEvent struct {
	Action    ActionType `json:"action"`
	Cancelled []string   `json:"cancelled"`
}

type StreamingCountersEvent struct {
	Counts map[string]map[Signal]uint64 `json:"counts"`
}

// StopStreamingEvent is broadcast to every streaming pipeline.
type StopStreamingEvent struct {
	Undo bool `json:"undo"`
}

type SessionSavedEvent struct {
	Session Session `json:"session"`
}

type SessionSaveFailedEvent struct {
	SessionName string `json:"session_name"`
	Error       string `json:"error"`
}

type SessionsChangeKind string

const (
	SessionsAdded      SessionsChangeKind = "added"
	SessionsRenamed    SessionsChangeKind = "renamed"
	SessionsDeleted    SessionsChangeKind = "deleted"
	SessionsDuplicated SessionsChangeKind = "duplicated"
)

type SessionsChangedEvent struct {
	Kind      SessionsChangeKind `json:"kind"`
	SessionId uuid.UUID          `json:"session_id"`
}

type LoggingTokenEvent struct {
	Token    LoggingToken `json:"token"`
	Released bool         `json:"released"`
}

type BridgeStateUpdateEvent struct {
	Value bool `json:"value"`
}

func (ActionStateChangedEvent) EventName() string { return "action_state" }
func (ActionRunStartedEvent) EventName() string   { return "action_started" }
func (ActionRunDoneEvent) EventName() string      { return "action_done" }
func (ActionCancelledEvent) EventName() string    { return "action_cancelled" }
func (StreamingCountersEvent) EventName() string  { return "stream_counters" }
func (StopStreamingEvent) EventName() string      { return "stop_streaming" }
func (SessionSavedEvent) EventName() string       { return "session_saved" }
func (SessionSaveFailedEvent) EventName() string  { return "session_save_failed" }
func (SessionsChangedEvent) EventName() string    { return "sessions_changed" }
func (LoggingTokenEvent) EventName() string       { return "logging_token" }
func (BridgeStateUpdateEvent) EventName() string  { return "bridge_state" }
