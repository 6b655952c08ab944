// Package store persists tracks behind a pluggable provider. Both backends
// implement the same contract: duplicate detection by content-unique document
// id, idempotent delete, and the six canonical list projections.
package store

import (
	"context"
	"errors"

	"github.com/xeptore/tgjam/track"
)

var (
	ErrDuplicateTrack = errors.New("track with the same document already exists")
	ErrNotFound       = errors.New("track not found")
)

type Store interface {
	// Create inserts the track, failing with ErrDuplicateTrack if a track
	// with the same source document id already exists. The check and the
	// insert are atomic.
	Create(ctx context.Context, t *track.Track) error
	// FindByID fails with ErrNotFound for unknown ids.
	FindByID(ctx context.Context, id string) (*track.Track, error)
	// Update persists the track's mutable fields. Last write wins.
	Update(ctx context.Context, t *track.Track) error
	// Delete removes the track. Deleting a missing id is a no-op success.
	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, v View) ([]*track.Track, error)
	Count(ctx context.Context, v View) (int, error)
	Close() error
}

type ViewKey string

const (
	ViewAll        ViewKey = "all"
	ViewMine       ViewKey = "mine"
	ViewOriginals  ViewKey = "originals"
	ViewCovers     ViewKey = "covers"
	ViewTopAllTime ViewKey = "top_all_time"
	ViewTopWeek    ViewKey = "top_week"
)

// View names one of the six canonical projections. OwnerID is only consulted
// for ViewMine.
type View struct {
	Key     ViewKey
	OwnerID int64
}

func Mine(ownerID int64) View {
	return View{Key: ViewMine, OwnerID: ownerID}
}
