// Package queue keeps a local mirror of a cloud queue and its resolved tracks
// consistent with the cloud queue store.
package queue

import (
	"errors"
	"fmt"

	"github.com/edumarques81/stellar-connect-streamer/internal/infra/catalog"
)

// Common errors
var (
	// ErrEmptyQueue indicates no queue is held
	ErrEmptyQueue = errors.New("no queue loaded")

	// ErrOutOfRange indicates a position outside the queue
	ErrOutOfRange = errors.New("queue position out of range")
)

// Mirror is a cloud queue paired with the tracks of its items, index for index.
type Mirror struct {
	Queue  *catalog.Queue
	Tracks []catalog.QueueTrack
}

// Clone returns a copy that shares nothing mutable with m.
func (m Mirror) Clone() Mirror {
	return Mirror{
		Queue:  m.Queue.Clone(),
		Tracks: append([]catalog.QueueTrack(nil), m.Tracks...),
	}
}

// Len returns the number of resolved tracks.
func (m Mirror) Len() int {
	return len(m.Tracks)
}

// InRange reports whether position indexes both the tracks and the queue items.
func (m Mirror) InRange(position int) bool {
	return m.Queue != nil &&
		position >= 0 &&
		position < len(m.Tracks) &&
		position < len(m.Queue.Items)
}

// InsertMode tells where enqueued tracks go.
type InsertMode string

const (
	// Next inserts right after the current position
	Next InsertMode = "next"
	// End appends at the tail
	End InsertMode = "end"
)

// ParseInsertMode validates a mode name.
func ParseInsertMode(s string) (InsertMode, error) {
	switch InsertMode(s) {
	case Next, End:
		return InsertMode(s), nil
	default:
		return "", fmt.Errorf("invalid insert mode %q", s)
	}
}

func swap[T any](s []T, i, j int) {
	s[i], s[j] = s[j], s[i]
}
