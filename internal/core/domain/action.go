package domain

import (
	"fmt"
)

type ActionType string

const (
	ActionStream   ActionType = "stream"
	ActionLog      ActionType = "log"
	ActionDownload ActionType = "download"
)

func ParseActionType(s string) (ActionType, error) {
	switch ActionType(s) {
	case ActionStream, ActionLog, ActionDownload:
		return ActionType(s), nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

func (a ActionType) String() string {
	return string(a)
}

// Concurrent reports whether every device of the run is worked at once.
func (a ActionType) Concurrent() bool {
	return a == ActionStream
}

type ActionStateKind string

const (
	StateNotStarted ActionStateKind = "not_started"
	StateWorking    ActionStateKind = "working"
	StateCompleted  ActionStateKind = "completed"
	StateTimeout    ActionStateKind = "timeout"
	StateError      ActionStateKind = "error"
)

type ActionState struct {
	Kind     ActionStateKind `json:"kind"`
	Progress int             `json:"progress,omitempty"`
	Message  string          `json:"message,omitempty"`
}

func NotStarted() ActionState {
	return ActionState{Kind: StateNotStarted}
}

func Working(progress int) ActionState {
	return ActionState{Kind: StateWorking, Progress: progress}
}

func Completed() ActionState {
	return ActionState{Kind: StateCompleted}
}

func TimedOut() ActionState {
	return ActionState{Kind: StateTimeout}
}

func Failed(msg string) ActionState {
	return ActionState{Kind: StateError, Message: msg}
}

// StateFromError maps a pipeline failure to its terminal state.
func StateFromError(err error) ActionState {
	if IsTimeout(err) {
		return TimedOut()
	}
	return Failed(err.Error())
}

func (s ActionState) IsTerminal() bool {
	switch s.Kind {
	case StateCompleted, StateTimeout, StateError:
		return true
	}
	return false
}

func (s ActionState) String() string {
	switch s.Kind {
	case StateWorking:
		return fmt.Sprintf("working(%d)", s.Progress)
	case StateError:
		return fmt.Sprintf("error(%s)", s.Message)
	}
	return string(s.Kind)
}
