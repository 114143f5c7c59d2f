package connect

import (
	"context"
	"errors"
	"fmt"

	"github.com/edumarques81/stellar-connect-streamer/internal/domain/queue"
	"github.com/edumarques81/stellar-connect-streamer/internal/infra/catalog"
)

// Play resumes playback.
func (s *Session) Play(ctx context.Context) error {
	return s.command(ctx, cmdPlay, nil)
}

// Pause pauses playback.
func (s *Session) Pause(ctx context.Context) error {
	return s.command(ctx, cmdPause, nil)
}

// Next skips to the next track.
func (s *Session) Next(ctx context.Context) error {
	return s.command(ctx, cmdNext, nil)
}

// Previous goes back to the previous track.
func (s *Session) Previous(ctx context.Context) error {
	return s.command(ctx, cmdPrevious, nil)
}

// Seek moves within the current track, in milliseconds.
func (s *Session) Seek(ctx context.Context, positionMs int64) error {
	return s.command(ctx, cmdSeek, seek{Position: positionMs})
}

// Stop stops playback and clears the status.
func (s *Session) Stop(ctx context.Context) error {
	if err := s.ensureConnected(ctx); err != nil {
		return err
	}
	return s.stopSequence()
}

// stopSequence sends play then stop, since some receivers ignore stop while
// paused, then resets the status. Volume is kept.
func (s *Session) stopSequence() error {
	errPlay := s.sendCommand(cmdPlay, nil)
	errStop := s.sendCommand(cmdStop, nil)

	s.mu.Lock()
	volume := s.status.Volume
	s.status = stoppedStatus()
	s.status.Volume = volume
	s.lastMediaID = ""
	s.publishLocked()
	s.mu.Unlock()

	return errors.Join(errPlay, errStop)
}

// Goto jumps to position in the track list.
func (s *Session) Goto(ctx context.Context, position int) error {
	s.mu.Lock()
	m := s.mirrorLocked()
	s.mu.Unlock()

	payload, err := queue.SelectPayload(m, position)
	if err != nil {
		return fmt.Errorf("%w: %d of %d", ErrPositionOutOfRange, position, m.Len())
	}
	if err := s.ensureConnected(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.status.Progress = 0
	s.status.Position = position
	s.lastMediaID = m.Tracks[position].Item.ID
	s.publishLocked()
	s.mu.Unlock()

	return s.sendCommand(cmdSelectQueueItem, payload)
}

// LoadQueue makes the receiver play m from position.
func (s *Session) LoadQueue(ctx context.Context, m queue.Mirror, position int) error {
	payload, err := s.sync.PlaybackPayload(ctx, m, position)
	if err != nil {
		return err
	}
	if err := s.ensureConnected(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.status.Progress = 0
	s.status.Position = position
	s.status.Tracks = m.Tracks
	s.status.Queue = m.Queue
	s.lastMediaID = m.Tracks[position].Item.ID
	s.publishLocked()
	s.mu.Unlock()

	s.log.Info().Str("queue", m.Queue.ID).Int("tracks", m.Len()).Int("position", position).Msg("Loading queue")
	if err := s.sendCommand(cmdLoadCloudQueue, payload); err != nil {
		return err
	}
	return s.sendCommand(cmdRefreshQueue, queue.RefreshQueue{QueueID: m.Queue.ID})
}

// Dequeue removes the track at position.
func (s *Session) Dequeue(ctx context.Context, position int) error {
	return s.mutate(ctx, "dequeue", func(m queue.Mirror) (queue.Mirror, error) {
		return s.sync.Dequeue(ctx, m, position)
	})
}

// Reorder swaps the tracks at from and to.
func (s *Session) Reorder(ctx context.Context, from, to int) error {
	return s.mutate(ctx, "reorder", func(m queue.Mirror) (queue.Mirror, error) {
		return s.sync.Reorder(ctx, m, from, to)
	})
}

// Enqueue adds tracks after the current one or at the end.
func (s *Session) Enqueue(ctx context.Context, tracks []catalog.Track, mode queue.InsertMode) error {
	return s.mutate(ctx, "enqueue", func(m queue.Mirror) (queue.Mirror, error) {
		s.mu.Lock()
		position := s.status.Position
		s.mu.Unlock()
		return s.sync.Enqueue(ctx, m, position, tracks, mode)
	})
}

func (s *Session) mirrorLocked() queue.Mirror {
	return queue.Mirror{Queue: s.status.Queue, Tracks: s.status.Tracks}
}

// mutate applies a cloud queue mutation to the mirror and tells the receiver
// to refresh. On failure the mirror is left as it was.
func (s *Session) mutate(ctx context.Context, op string, fn func(queue.Mirror) (queue.Mirror, error)) error {
	s.mu.Lock()
	m := s.mirrorLocked()
	s.mu.Unlock()

	if m.Queue == nil {
		return ErrNoQueue
	}

	next, err := fn(m)
	if err != nil {
		s.log.Error().Err(err).Str("op", op).Str("queue", m.Queue.ID).Msg("Queue mutation failed")
		if next.Queue == nil {
			return err
		}
		// The store changed anyway; adopt its state before reporting.
		s.mu.Lock()
		if s.status.Queue == m.Queue {
			s.applyMirrorLocked(next)
			s.publishLocked()
		}
		s.mu.Unlock()
		return errors.Join(err, s.command(ctx, cmdRefreshQueue, queue.RefreshQueue{QueueID: m.Queue.ID}))
	}

	s.mu.Lock()
	if s.status.Queue == m.Queue {
		s.applyMirrorLocked(next)
		s.publishLocked()
	} else {
		// A reload replaced the mirror meanwhile; the refresh below brings it up to date.
		s.log.Debug().Str("op", op).Msg("Queue replaced during mutation")
	}
	s.mu.Unlock()

	return s.command(ctx, cmdRefreshQueue, queue.RefreshQueue{QueueID: m.Queue.ID})
}
