package streamer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/edumarques81/stellar-connect-streamer/internal/domain/device"
	"github.com/edumarques81/stellar-connect-streamer/internal/domain/queue"
	"github.com/edumarques81/stellar-connect-streamer/internal/infra/catalog"
)

type fakeCatalog struct {
	album    []catalog.QueueTrack
	playlist []catalog.QueueTrack
	created  []catalog.NewQueue
	// short drops items from the created queue
	short bool
	err   error
}

func (f *fakeCatalog) CreateQueue(ctx context.Context, nq catalog.NewQueue) (*catalog.Queue, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, nq)
	q := &catalog.Queue{ID: "q1", ETag: "e1", Total: len(nq.Items)}
	for i, it := range nq.Items {
		q.Items = append(q.Items, catalog.QueueItem{ID: fmt.Sprintf("item-%d", i), MediaID: it.MediaID})
	}
	if f.short {
		q.Items = q.Items[:1]
	}
	return q, nil
}

func (f *fakeCatalog) FetchAlbumTracks(ctx context.Context, albumID string) ([]catalog.QueueTrack, error) {
	return f.album, nil
}

func (f *fakeCatalog) FetchPlaylistTracks(ctx context.Context, playlistID string) ([]catalog.QueueTrack, error) {
	return f.playlist, nil
}

type fakeLoader struct {
	loads int
	m     queue.Mirror
}

func (f *fakeLoader) Load(ctx context.Context, queueID string) (queue.Mirror, error) {
	f.loads++
	return f.m, nil
}

type fakePlayer struct {
	loaded   []queue.Mirror
	position int
}

func (p *fakePlayer) Device() device.Device {
	return device.New("Kitchen", "Kitchen", "10.0.0.5", 2019)
}

func (p *fakePlayer) LoadQueue(ctx context.Context, m queue.Mirror, position int) error {
	p.loaded = append(p.loaded, m)
	p.position = position
	return nil
}

func albumTracks(n int) []catalog.QueueTrack {
	tracks := make([]catalog.QueueTrack, n)
	for i := range tracks {
		tracks[i] = catalog.QueueTrack{Type: "track", Item: catalog.Track{
			ID:      catalog.ID(fmt.Sprint(100 + i)),
			Title:   fmt.Sprintf("Track %d", i),
			Album:   catalog.Album{ID: "7", Title: "Blue"},
			Artists: []catalog.Artist{{ID: "1", Name: "Joni Mitchell"}},
		}}
	}
	return tracks
}

func TestStreamAlbum(t *testing.T) {
	c := &fakeCatalog{album: albumTracks(3)}
	p := &fakePlayer{}
	hooked := 0
	s := NewService(c, &fakeLoader{}, WithBeforePlay(func(ctx context.Context) error {
		hooked++
		return errors.New("amp offline")
	}))

	res, err := s.StreamAlbum(context.Background(), p, "7", 1)
	if err != nil {
		t.Fatalf("StreamAlbum failed: %v", err)
	}
	if res.ID != "7" || res.Title != "Blue" || res.Artist != "Joni Mitchell" || res.Device.Name != "Kitchen" {
		t.Errorf("unexpected result %+v", res)
	}
	if hooked != 1 {
		t.Errorf("expected before play hook once, got %d", hooked)
	}

	if len(c.created) != 1 {
		t.Fatalf("expected one created queue, got %d", len(c.created))
	}
	nq := c.created[0]
	if nq.Properties.Position != 1 || nq.RepeatMode != "off" || len(nq.Items) != 3 {
		t.Errorf("unexpected queue %+v", nq)
	}
	for i, it := range nq.Items {
		if it.Properties.OriginalOrder != i || it.Properties.SourceType != SourceAlbum || it.Properties.SourceID != "7" || it.Properties.Active {
			t.Errorf("item %d has unexpected properties %+v", i, it.Properties)
		}
	}

	if len(p.loaded) != 1 || p.position != 1 || p.loaded[0].Queue.ETag != "e1" || p.loaded[0].Len() != 3 {
		t.Errorf("unexpected load %+v at %d", p.loaded, p.position)
	}
}

func TestStreamTracksCapsLength(t *testing.T) {
	c := &fakeCatalog{}
	p := &fakePlayer{}
	s := NewService(c, &fakeLoader{})

	tracks := make([]catalog.Track, 150)
	for i := range tracks {
		tracks[i] = catalog.Track{ID: catalog.ID(fmt.Sprint(i + 1))}
	}

	res, err := s.StreamTracks(context.Background(), p, tracks, 0)
	if err != nil {
		t.Fatalf("StreamTracks failed: %v", err)
	}
	if res.Device.Name != "Kitchen" || res.ID != "" {
		t.Errorf("unexpected result %+v", res)
	}
	if n := len(c.created[0].Items); n != MaxTracks {
		t.Errorf("expected %d items, got %d", MaxTracks, n)
	}
	if c.created[0].Items[0].Type != "track" || c.created[0].Items[0].Properties.SourceType != SourceUnknown {
		t.Errorf("unexpected item %+v", c.created[0].Items[0])
	}
	if p.loaded[0].Len() != MaxTracks {
		t.Errorf("expected mirror of %d tracks, got %d", MaxTracks, p.loaded[0].Len())
	}
}

func TestStreamPositionValidation(t *testing.T) {
	tests := []struct {
		name     string
		tracks   int
		position int
		want     error
	}{
		{"empty", 0, 0, ErrNoTracks},
		{"negative", 3, -1, ErrPositionOutOfRange},
		{"past end", 3, 3, ErrPositionOutOfRange},
		{"past cap", 120, 100, ErrPositionOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeCatalog{playlist: albumTracks(tt.tracks)}
			p := &fakePlayer{}
			_, err := NewService(c, &fakeLoader{}).StreamPlaylist(context.Background(), p, "pl", tt.position)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if len(c.created) != 0 || len(p.loaded) != 0 {
				t.Error("nothing should be created or loaded")
			}
		})
	}
}

func TestStreamReloadsIncompleteQueue(t *testing.T) {
	c := &fakeCatalog{playlist: albumTracks(3), short: true}
	reloaded := queue.Mirror{
		Queue: &catalog.Queue{ID: "q1", ETag: "e2", Total: 3, Items: []catalog.QueueItem{
			{ID: "item-0", MediaID: "100"}, {ID: "item-1", MediaID: "101"}, {ID: "item-2", MediaID: "102"},
		}},
		Tracks: albumTracks(3),
	}
	loader := &fakeLoader{m: reloaded}
	p := &fakePlayer{}

	res, err := NewService(c, loader).StreamPlaylist(context.Background(), p, "pl", 2)
	if err != nil {
		t.Fatalf("StreamPlaylist failed: %v", err)
	}
	if res.ID != "pl" {
		t.Errorf("unexpected result %+v", res)
	}
	if loader.loads != 1 || p.loaded[0].Queue.ETag != "e2" {
		t.Errorf("expected the reloaded mirror to be played, loads=%d", loader.loads)
	}
}

func TestStreamCreateFailure(t *testing.T) {
	c := &fakeCatalog{album: albumTracks(2), err: catalog.ErrUnauthorized}
	p := &fakePlayer{}

	if _, err := NewService(c, &fakeLoader{}).StreamAlbum(context.Background(), p, "7", 0); !errors.Is(err, catalog.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if len(p.loaded) != 0 {
		t.Error("nothing should be loaded")
	}
}
