package connect

import (
	"context"
	"encoding/json"

	"github.com/samber/lo"

	"github.com/edumarques81/stellar-connect-streamer/internal/domain/queue"
	"github.com/edumarques81/stellar-connect-streamer/internal/infra/catalog"
)

// endOfTrackMargin is how close to the end a paused track counts as finished.
const endOfTrackMargin = 500

func (s *Session) handle(ctx context.Context, data []byte) {
	var n notification
	if err := json.Unmarshal(data, &n); err != nil {
		s.log.Warn().Err(err).Bytes("frame", data).Msg("Invalid notification")
		return
	}

	switch classify(n.Command) {
	case kindSessionStarted:
		s.mu.Lock()
		if s.link.sessionID == "" {
			s.link.sessionID = n.SessionID
		}
		s.mu.Unlock()
		s.log.Info().Str("sessionId", n.SessionID.String()).Msg("Receiver session started")

	case kindSessionEnded:
		s.onSessionEnded()

	case kindSessionError:
		s.onSessionError()

	case kindRequestResult:

	case kindDeviceStatusChanged:
		if n.Volume == nil {
			return
		}
		s.mu.Lock()
		s.status.Volume = n.volume()
		s.publishLocked()
		s.mu.Unlock()

	case kindQueueChanged:
		s.mu.Lock()
		held := s.status.Queue != nil && s.status.Queue.ID == n.QueueInfo.QueueID
		s.mu.Unlock()
		if !held {
			s.reloadQueue(ctx, n.QueueInfo.QueueID)
		}

	case kindQueueItemsChanged:
		s.reloadQueue(ctx, n.QueueInfo.QueueID)

	case kindMediaChanged:
		s.mu.Lock()
		s.status.Progress = 0
		s.lastMediaID = n.MediaInfo.MediaID
		s.status.Position = s.mediaPositionLocked()
		s.publishLocked()
		s.mu.Unlock()
		s.log.Debug().Str("mediaId", n.MediaInfo.MediaID.String()).Msg("Media changed")

	case kindPlayerStatusChanged:
		s.onPlayerStatus(n)

	case kindReceiverError:
		s.log.Error().RawJSON("notification", data).Msg("Receiver reported an error")

	case kindUnknown:
		s.log.Debug().Str("command", n.Command).Msg("Unhandled notification")
	}
}

// mediaPositionLocked returns the index of the last reported media, -1 if unknown.
func (s *Session) mediaPositionLocked() int {
	if s.lastMediaID == "" {
		return -1
	}
	_, index, _ := lo.FindIndexOf(s.status.Tracks, func(t catalog.QueueTrack) bool {
		return t.Item.ID == s.lastMediaID
	})
	return index
}

func (s *Session) reloadQueue(ctx context.Context, queueID string) {
	if queueID == "" {
		s.log.Warn().Msg("Queue notification without queue id")
		return
	}

	s.log.Info().Str("queue", queueID).Msg("Reloading queue")
	m, err := s.sync.Load(ctx, queueID)
	if err != nil {
		s.log.Error().Err(err).Str("queue", queueID).Msg("Failed to reload queue")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyMirrorLocked(m)
	s.publishLocked()
}

// applyMirrorLocked installs a new queue mirror and re-resolves the position
// of the current media within it. While playing or paused the position stays
// a valid index: if the current media left the queue, the track that slid
// into its place becomes current, and an emptied queue stops playback.
func (s *Session) applyMirrorLocked(m queue.Mirror) {
	previous := s.status.Position
	s.status.Queue = m.Queue
	s.status.Tracks = m.Tracks

	position := previous
	if s.lastMediaID != "" {
		position = s.mediaPositionLocked()
	}
	if position >= 0 && position < len(m.Tracks) {
		s.status.Position = position
		return
	}

	s.status.Position = -1
	if s.status.State == StateStopped {
		return
	}
	if len(m.Tracks) == 0 {
		s.status.State = StateStopped
		s.status.Progress = 0
		s.lastMediaID = ""
		return
	}
	s.status.Position = min(max(previous, 0), len(m.Tracks)-1)
	s.status.Progress = 0
	s.lastMediaID = m.Tracks[s.status.Position].Item.ID
}

func (s *Session) onPlayerStatus(n notification) {
	s.mu.Lock()
	if len(s.status.Tracks) == 0 {
		s.publishLocked()
		s.mu.Unlock()
		return
	}

	s.status.State = State(n.PlayerState)
	s.status.Progress = int64(n.Progress)

	// The payload duration is in milliseconds when present; otherwise use the
	// catalog duration of the current track.
	duration := int64(n.Duration)
	if duration <= 0 {
		if track, ok := s.status.Current(); ok {
			duration = track.DurationMs()
		}
	}
	atEnd := s.status.State == StatePaused &&
		duration > 0 &&
		s.status.Progress > duration-endOfTrackMargin &&
		s.status.Position == len(s.status.Tracks)-1

	if !atEnd {
		s.publishLocked()
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.log.Info().Msg("End of queue reached, stopping")
	if err := s.stopSequence(); err != nil {
		s.log.Warn().Err(err).Msg("Stop at end of queue failed")
	}
}

func (s *Session) onSessionEnded() {
	s.log.Info().Msg("Receiver ended the session")
	s.Shutdown()

	if s.cfg.ReconnectOnSessionEnd {
		s.mu.Lock()
		if !s.closed {
			s.scheduleRetryLocked(s.cfg.WaitDelay)
		}
		s.mu.Unlock()
	}
}

// onSessionError drops the connection and reconnects after RetryDelay.
// Playback status is kept.
func (s *Session) onSessionError() {
	s.log.Error().Dur("retry", s.cfg.RetryDelay).Msg("Receiver session error, reconnecting")

	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.Lock()
	l := s.link
	s.link = disconnected()
	s.link.phase = ReconnectWait
	if !s.closed {
		s.scheduleRetryLocked(s.cfg.RetryDelay)
	}
	s.mu.Unlock()

	s.release(l)
}
