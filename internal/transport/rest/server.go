// Package rest exposes the controller HTTP API: device listing, status,
// transport controls, queue edits and playback of catalog content.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-connect-streamer/internal/audio"
	"github.com/edumarques81/stellar-connect-streamer/internal/domain/connect"
	"github.com/edumarques81/stellar-connect-streamer/internal/domain/device"
	"github.com/edumarques81/stellar-connect-streamer/internal/domain/queue"
	"github.com/edumarques81/stellar-connect-streamer/internal/domain/registry"
	"github.com/edumarques81/stellar-connect-streamer/internal/domain/streamer"
	"github.com/edumarques81/stellar-connect-streamer/internal/infra/catalog"
)

// errBadRequest marks malformed parameters.
var errBadRequest = errors.New("bad request")

// Session is the per-device session the API drives.
type Session interface {
	streamer.Player
	Status() connect.Status
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	Seek(ctx context.Context, positionMs int64) error
	Goto(ctx context.Context, position int) error
	Dequeue(ctx context.Context, position int) error
	Reorder(ctx context.Context, from, to int) error
	Enqueue(ctx context.Context, tracks []catalog.Track, mode queue.InsertMode) error
}

// Devices lists registered devices and resolves the target of a request.
type Devices interface {
	List() []device.Device
	Resolve(id string) (Session, error)
}

// Streamer starts playback of catalog content.
type Streamer interface {
	StreamTracks(ctx context.Context, p streamer.Player, tracks []catalog.Track, position int) (streamer.Result, error)
	StreamAlbum(ctx context.Context, p streamer.Player, albumID string, position int) (streamer.Result, error)
	StreamPlaylist(ctx context.Context, p streamer.Player, playlistID string, position int) (streamer.Result, error)
}

// Volume drives local volume commands.
type Volume interface {
	LocalVolume() bool
	VolumeUp(ctx context.Context) error
	VolumeDown(ctx context.Context) error
}

// Server serves the controller API.
type Server struct {
	devices  Devices
	streamer Streamer
	volume   Volume
	mux      *http.ServeMux
}

// NewServer creates the API handler.
func NewServer(devices Devices, s Streamer, volume Volume) *Server {
	srv := &Server{
		devices:  devices,
		streamer: s,
		volume:   volume,
		mux:      http.NewServeMux(),
	}
	srv.routes()
	return srv
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /list", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.devices.List())
	})
	s.mux.HandleFunc("GET /ping", s.withSession(func(w http.ResponseWriter, r *http.Request, _ Session) {
		writeJSON(w, http.StatusOK, "pong")
	}))
	s.mux.HandleFunc("GET /status", s.withSession(s.handleStatus))

	s.mux.HandleFunc("POST /play/tracks", s.withSession(s.handlePlayTracks))
	s.mux.HandleFunc("GET /play/album/{id}", s.withSession(func(w http.ResponseWriter, r *http.Request, sess Session) {
		s.stream(w, r, sess, s.streamer.StreamAlbum)
	}))
	s.mux.HandleFunc("GET /play/playlist/{id}", s.withSession(func(w http.ResponseWriter, r *http.Request, sess Session) {
		s.stream(w, r, sess, s.streamer.StreamPlaylist)
	}))

	s.mux.HandleFunc("POST /enqueue/{mode}", s.withSession(s.handleEnqueue))
	s.mux.HandleFunc("POST /dequeue/{position}", s.withSession(func(w http.ResponseWriter, r *http.Request, sess Session) {
		position, err := intParam(r, "position")
		if err == nil {
			err = sess.Dequeue(r.Context(), position)
		}
		jsonStatus(w, err, nil)
	}))
	s.mux.HandleFunc("POST /reorderqueue/{from}/{to}", s.withSession(func(w http.ResponseWriter, r *http.Request, sess Session) {
		from, err := intParam(r, "from")
		if err != nil {
			jsonStatus(w, err, nil)
			return
		}
		to, err := intParam(r, "to")
		if err == nil {
			err = sess.Reorder(r.Context(), from, to)
		}
		jsonStatus(w, err, nil)
	}))

	s.control("POST /play", Session.Play)
	s.control("POST /pause", Session.Pause)
	s.control("POST /stop", Session.Stop)
	s.control("POST /next", Session.Next)
	s.control("POST /prev", Session.Previous)

	s.mux.HandleFunc("POST /trackseek/{position}", s.withSession(func(w http.ResponseWriter, r *http.Request, sess Session) {
		position, err := intParam(r, "position")
		if err == nil {
			err = sess.Goto(r.Context(), position)
		}
		jsonStatus(w, err, nil)
	}))
	s.mux.HandleFunc("POST /timeseek/{seconds}", s.withSession(func(w http.ResponseWriter, r *http.Request, sess Session) {
		seconds, err := strconv.ParseFloat(r.PathValue("seconds"), 64)
		if err != nil || seconds < 0 {
			jsonStatus(w, fmt.Errorf("%w: invalid seconds %q", errBadRequest, r.PathValue("seconds")), nil)
			return
		}
		jsonStatus(w, sess.Seek(r.Context(), int64(seconds*1000)), nil)
	}))

	s.mux.HandleFunc("POST /volume/up", s.withSession(func(w http.ResponseWriter, r *http.Request, _ Session) {
		jsonStatus(w, s.volume.VolumeUp(r.Context()), nil)
	}))
	s.mux.HandleFunc("POST /volume/down", s.withSession(func(w http.ResponseWriter, r *http.Request, _ Session) {
		jsonStatus(w, s.volume.VolumeDown(r.Context()), nil)
	}))
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess Session)

// withSession resolves the device named by ?uuid= before calling next.
func (s *Server) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.devices.Resolve(r.URL.Query().Get("uuid"))
		if err != nil {
			jsonStatus(w, err, nil)
			return
		}
		next(w, r, sess)
	}
}

func (s *Server) control(pattern string, fn func(Session, context.Context) error) {
	s.mux.HandleFunc(pattern, s.withSession(func(w http.ResponseWriter, r *http.Request, sess Session) {
		jsonStatus(w, fn(sess, r.Context()), nil)
	}))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, sess Session) {
	st := sess.Status()
	if s.volume.LocalVolume() {
		level := -1
		st.Volume.Level = &level
	}
	writeJSON(w, http.StatusOK, st)
}

// trackList is the body of /play/tracks and /enqueue. Items may be track
// objects or JSON strings holding one.
type trackList struct {
	Items []json.RawMessage `json:"items"`
}

func (l trackList) tracks() ([]catalog.Track, error) {
	tracks := make([]catalog.Track, 0, len(l.Items))
	for i, raw := range l.Items {
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 && raw[0] == '"' {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, fmt.Errorf("%w: item %d: %v", errBadRequest, i, err)
			}
			raw = []byte(s)
		}
		var t catalog.Track
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", errBadRequest, i, err)
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

func decodeTracks(r *http.Request) ([]catalog.Track, error) {
	var body trackList
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return body.tracks()
}

func (s *Server) handlePlayTracks(w http.ResponseWriter, r *http.Request, sess Session) {
	tracks, err := decodeTracks(r)
	if err != nil {
		jsonStatus(w, err, nil)
		return
	}
	position, err := positionQuery(r)
	if err != nil {
		jsonStatus(w, err, nil)
		return
	}
	result, err := s.streamer.StreamTracks(r.Context(), sess, tracks, position)
	jsonStatus(w, err, result)
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request, sess Session,
	fn func(context.Context, streamer.Player, string, int) (streamer.Result, error)) {
	position, err := positionQuery(r)
	if err != nil {
		jsonStatus(w, err, nil)
		return
	}
	result, err := fn(r.Context(), sess, r.PathValue("id"), position)
	jsonStatus(w, err, result)
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request, sess Session) {
	mode, err := queue.ParseInsertMode(r.PathValue("mode"))
	if err != nil {
		jsonStatus(w, fmt.Errorf("%w: %v", errBadRequest, err), nil)
		return
	}
	tracks, err := decodeTracks(r)
	if err != nil {
		jsonStatus(w, err, nil)
		return
	}
	jsonStatus(w, sess.Enqueue(r.Context(), tracks, mode), nil)
}

func intParam(r *http.Request, name string) (int, error) {
	v, err := strconv.Atoi(r.PathValue(name))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", errBadRequest, name, r.PathValue(name))
	}
	return v, nil
}

func positionQuery(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("position")
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid position %q", errBadRequest, raw)
	}
	return v, nil
}

type okResponse struct {
	Status string `json:"status"`
	Result any    `json:"result"`
}

type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// jsonStatus writes the standard ok/error envelope.
func jsonStatus(w http.ResponseWriter, err error, result any) {
	if err != nil {
		code := statusCode(err)
		if code >= http.StatusInternalServerError {
			log.Error().Err(err).Msg("Request failed")
		}
		writeJSON(w, code, errorResponse{Status: "error", Error: err.Error()})
		return
	}
	if result == nil {
		result = "success"
	}
	writeJSON(w, http.StatusOK, okResponse{Status: "ok", Result: result})
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, registry.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, connect.ErrPositionOutOfRange),
		errors.Is(err, queue.ErrOutOfRange),
		errors.Is(err, streamer.ErrPositionOutOfRange),
		errors.Is(err, streamer.ErrNoTracks):
		return http.StatusBadRequest
	case errors.Is(err, connect.ErrNoQueue), errors.Is(err, queue.ErrEmptyQueue):
		return http.StatusConflict
	case errors.Is(err, catalog.ErrStaleETag):
		return http.StatusPreconditionFailed
	case errors.Is(err, catalog.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, connect.ErrNotConnected), errors.Is(err, connect.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, audio.ErrNotConfigured):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}
