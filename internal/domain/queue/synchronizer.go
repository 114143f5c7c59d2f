package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/edumarques81/stellar-connect-streamer/internal/infra/catalog"
)

const (
	// DefaultPageSize is the queue content page size
	DefaultPageSize = catalog.QueueContentLimit

	// DefaultFetchWorkers bounds concurrent per-track fetches on the fallback path
	DefaultFetchWorkers = 4
)

var errPartialContent = errors.New("partial queue content")

// Catalog is the subset of the catalog client the synchronizer needs.
type Catalog interface {
	FetchQueue(ctx context.Context, queueID string) (*catalog.Queue, error)
	FetchQueueContent(ctx context.Context, queueID string, offset, limit int) ([]catalog.QueueTrack, error)
	FetchTrack(ctx context.Context, trackID catalog.ID) (*catalog.Track, error)
	AddToQueue(ctx context.Context, queueID, etag, afterID string, tracks []catalog.Track, originalOrder int) ([]catalog.QueueItem, string, error)
	DeleteFromQueue(ctx context.Context, queueID, etag, itemID string) (string, error)
	ReorderQueue(ctx context.Context, queueID, etag, moveID, afterID string) (string, error)
	ServerInfo(ctx context.Context) (catalog.ServerInfo, error)
}

// Synchronizer builds queue mirrors from the cloud store and applies mutations
// to the store and a mirror together. Mutations never touch the mirror they
// are given: on success they return an updated copy, on failure the caller
// keeps what it had unless a non-empty mirror comes back with the error.
type Synchronizer struct {
	catalog      Catalog
	pageSize     int
	fetchWorkers int
}

// Option is a functional option for configuring the synchronizer.
type Option func(*Synchronizer)

// WithPageSize sets the content page size.
func WithPageSize(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithFetchWorkers sets how many tracks the fallback path resolves at once.
func WithFetchWorkers(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.fetchWorkers = n
		}
	}
}

// NewSynchronizer creates a synchronizer backed by c.
func NewSynchronizer(c Catalog, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		catalog:      c,
		pageSize:     DefaultPageSize,
		fetchWorkers: DefaultFetchWorkers,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the catalog the synchronizer talks to.
func (s *Synchronizer) Catalog() Catalog {
	return s.catalog
}

// Load fetches a queue and resolves every item. If paging the content fails
// in any way, each item is resolved on its own instead.
func (s *Synchronizer) Load(ctx context.Context, queueID string) (Mirror, error) {
	q, err := s.catalog.FetchQueue(ctx, queueID)
	if err != nil {
		return Mirror{}, err
	}

	tracks, err := s.fetchContent(ctx, q)
	if err != nil {
		log.Warn().Err(err).Str("queue", queueID).Msg("Queue content paging failed, resolving tracks one by one")
		tracks, err = s.fetchEach(ctx, q)
		if err != nil {
			return Mirror{}, fmt.Errorf("resolve queue %s: %w", queueID, err)
		}
	}

	log.Debug().Str("queue", queueID).Int("tracks", len(tracks)).Msg("Queue loaded")
	return Mirror{Queue: q, Tracks: tracks}, nil
}

func (s *Synchronizer) fetchContent(ctx context.Context, q *catalog.Queue) ([]catalog.QueueTrack, error) {
	tracks := make([]catalog.QueueTrack, 0, q.Total)
	for len(tracks) < q.Total {
		page, err := s.catalog.FetchQueueContent(ctx, q.ID, len(tracks), s.pageSize)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return nil, fmt.Errorf("%w: %d of %d", errPartialContent, len(tracks), q.Total)
		}
		tracks = append(tracks, page...)
	}
	if len(tracks) != len(q.Items) {
		return nil, fmt.Errorf("%w: %d tracks for %d items", errPartialContent, len(tracks), len(q.Items))
	}
	return tracks, nil
}

func (s *Synchronizer) fetchEach(ctx context.Context, q *catalog.Queue) ([]catalog.QueueTrack, error) {
	tracks := make([]catalog.QueueTrack, len(q.Items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchWorkers)
	for i, item := range q.Items {
		g.Go(func() error {
			track, err := s.catalog.FetchTrack(gctx, item.MediaID)
			if err != nil {
				return err
			}
			tracks[i] = catalog.QueueTrack{Item: *track, Type: "track"}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tracks, nil
}

// Dequeue removes the item at position.
func (s *Synchronizer) Dequeue(ctx context.Context, m Mirror, position int) (Mirror, error) {
	if m.Queue == nil {
		return Mirror{}, ErrEmptyQueue
	}
	if !m.InRange(position) {
		return Mirror{}, fmt.Errorf("%w: %d", ErrOutOfRange, position)
	}

	q := m.Queue
	etag, err := s.catalog.DeleteFromQueue(ctx, q.ID, q.ETag, q.Items[position].ID)
	if err != nil {
		return Mirror{}, err
	}

	next := m.Clone()
	next.Queue.Items = slices.Delete(next.Queue.Items, position, position+1)
	next.Tracks = slices.Delete(next.Tracks, position, position+1)
	next.Queue.Total--
	next.Queue.ETag = etag
	return next, nil
}

// Reorder swaps the items at from and to. Every other item keeps its place.
//
// The store only moves items after another item, so a swap of non-adjacent
// items takes two moves: the later item right after the earlier one, then the
// earlier item after the one that preceded the later item. If the second move
// fails the store holds a half-applied swap; the reloaded mirror is returned
// together with the error so the caller can resync.
func (s *Synchronizer) Reorder(ctx context.Context, m Mirror, from, to int) (Mirror, error) {
	if m.Queue == nil {
		return Mirror{}, ErrEmptyQueue
	}
	if !m.InRange(from) || !m.InRange(to) {
		return Mirror{}, fmt.Errorf("%w: %d -> %d", ErrOutOfRange, from, to)
	}
	if from == to {
		return m.Clone(), nil
	}

	q := m.Queue
	lo, hi := min(from, to), max(from, to)
	first, second := q.Items[lo], q.Items[hi]

	var (
		etag string
		err  error
	)
	if hi == lo+1 {
		etag, err = s.catalog.ReorderQueue(ctx, q.ID, q.ETag, first.ID, second.ID)
		if err != nil {
			return Mirror{}, err
		}
	} else {
		etag, err = s.catalog.ReorderQueue(ctx, q.ID, q.ETag, second.ID, first.ID)
		if err != nil {
			return Mirror{}, err
		}
		etag, err = s.catalog.ReorderQueue(ctx, q.ID, etag, first.ID, q.Items[hi-1].ID)
		if err != nil {
			log.Warn().Err(err).Str("queue", q.ID).Msg("Queue swap left half-applied, reloading")
			reloaded, loadErr := s.Load(ctx, q.ID)
			if loadErr != nil {
				return Mirror{}, errors.Join(err, loadErr)
			}
			return reloaded, err
		}
	}

	next := m.Clone()
	swap(next.Queue.Items, from, to)
	swap(next.Tracks, from, to)
	next.Queue.ETag = etag
	return next, nil
}

// Enqueue adds tracks right after position (Next) or at the tail (End).
// Next with no valid position behaves like End.
func (s *Synchronizer) Enqueue(ctx context.Context, m Mirror, position int, tracks []catalog.Track, mode InsertMode) (Mirror, error) {
	if m.Queue == nil {
		return Mirror{}, ErrEmptyQueue
	}
	if len(tracks) == 0 {
		return m.Clone(), nil
	}
	if mode == Next && !m.InRange(position) {
		mode = End
	}

	q := m.Queue
	afterID := ""
	if mode == Next {
		afterID = q.Items[position].ID
	}

	created, etag, err := s.catalog.AddToQueue(ctx, q.ID, q.ETag, afterID, tracks, q.Total)
	if err != nil {
		return Mirror{}, err
	}
	if len(created) != len(tracks) {
		log.Warn().Int("sent", len(tracks)).Int("created", len(created)).Str("queue", q.ID).
			Msg("Queue store created an unexpected number of items, reloading")
		return s.Load(ctx, q.ID)
	}

	added := make([]catalog.QueueTrack, len(tracks))
	for i, t := range tracks {
		added[i] = catalog.QueueTrack{Item: t, Type: "track"}
	}

	next := m.Clone()
	if mode == Next {
		next.Tracks = slices.Insert(next.Tracks, position+1, added...)
		next.Queue.Items = slices.Insert(next.Queue.Items, position+1, created...)
	} else {
		next.Tracks = append(next.Tracks, added...)
		next.Queue.Items = append(next.Queue.Items, created...)
	}
	next.Queue.Total += len(tracks)
	next.Queue.ETag = etag
	return next, nil
}
