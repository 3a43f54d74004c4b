package domain

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Session is one saved recording: the files every device of a run produced.
type Session struct {
	Id      uuid.UUID   `json:"id"`
	Name    string      `json:"name"`
	Date    time.Time   `json:"date"`
	GroupId string      `json:"group_id,omitempty"`
	Devices []string    `json:"devices"`
	Files   []uuid.UUID `json:"files"`
	// false when the run was cancelled and only partial data was kept
	Completed bool `json:"completed"`
}

type File struct {
	Id   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	CSV  []byte    `json:"-"`
}

// LoggingToken marks a device that holds an unfinished onboard recording.
type LoggingToken struct {
	MAC         string    `json:"mac"`
	StartDate   time.Time `json:"start_date"`
	SessionName string    `json:"session_name"`
}

// SortSessions orders sessions newest first.
func SortSessions(sessions []Session) {
	slices.SortStableFunc(sessions, func(a, b Session) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
}

// CopyName is the default name of a duplicated session.
func CopyName(name string) string {
	return name + " copy"
}
