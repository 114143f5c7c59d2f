package connect

import (
	"github.com/edumarques81/stellar-connect-streamer/internal/infra/catalog"
)

// State is the receiver playback state.
type State string

// Playback states reported by the receiver
const (
	StatePlaying State = "PLAYING"
	StatePaused  State = "PAUSED"
	StateStopped State = "STOPPED"
)

// Volume is the receiver volume. Level is nil until the receiver reports it.
type Volume struct {
	Level *int `json:"level"`
	Mute  bool `json:"mute"`
}

// Status is the playback status of one receiver as seen by observers.
type Status struct {
	State    State                `json:"state"`
	Queue    *catalog.Queue       `json:"queue"`
	Tracks   []catalog.QueueTrack `json:"tracks"`
	Position int                  `json:"position"`
	Progress int64                `json:"progress"` // milliseconds
	Volume   Volume               `json:"volume"`
}

// stoppedStatus is the status of a receiver with nothing loaded.
func stoppedStatus() Status {
	return Status{
		State:    StateStopped,
		Queue:    nil,
		Tracks:   []catalog.QueueTrack{},
		Position: -1,
		Progress: 0,
		Volume:   Volume{Level: nil, Mute: true},
	}
}

// clone returns a snapshot safe to hand out.
func (s Status) clone() Status {
	c := s
	c.Queue = s.Queue.Clone()
	c.Tracks = append([]catalog.QueueTrack{}, s.Tracks...)
	if s.Volume.Level != nil {
		level := *s.Volume.Level
		c.Volume.Level = &level
	}
	return c
}

// Current returns the track at the current position.
func (s Status) Current() (catalog.Track, bool) {
	if s.Position < 0 || s.Position >= len(s.Tracks) {
		return catalog.Track{}, false
	}
	return s.Tracks[s.Position].Item, true
}
