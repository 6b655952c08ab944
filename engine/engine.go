// Package engine applies track mutations and fans the resulting state out to
// every live message copy of the track. Mutations are serialized per track;
// fan-out is concurrent, best-effort, and independent per view, with failing
// views pruned from the registry instead of retried.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/xeptore/tgjam/session"
	"github.com/xeptore/tgjam/store"
	"github.com/xeptore/tgjam/track"
	"github.com/xeptore/tgjam/views"
)

var (
	// ErrViewStale signals the platform reported a registered message as
	// gone. Stale views are pruned silently, never surfaced to users.
	ErrViewStale = errors.New("view message is gone")
	// ErrMediaUnresolvable signals the origin media reference can no longer
	// be copied or re-sent. The owning track is treated as orphaned.
	ErrMediaUnresolvable = errors.New("track media cannot be resolved")
	ErrNotAuthorized     = errors.New("user is not allowed to perform this action")
)

// Messenger is the outbound half of the chat transport, as the engine needs
// it. All operations are fallible; implementations map platform "message is
// gone" failures to ErrViewStale and unresolvable media to
// ErrMediaUnresolvable.
type Messenger interface {
	SendSelector(ctx context.Context, chatID int64, t *track.Track) (track.MessageRef, error)
	RetireSelector(ctx context.Context, ref track.MessageRef, t *track.Track) error
	SendLikeBar(ctx context.Context, chatID int64, t *track.Track) (track.MessageRef, error)
	EditLikeBar(ctx context.Context, ref track.MessageRef, t *track.Track) error
	SendTrackMedia(ctx context.Context, chatID int64, t *track.Track) (track.MessageRef, error)
	DeleteMessages(ctx context.Context, refs []track.MessageRef) error
}

type Engine struct {
	store       store.Store
	registry    *views.Registry
	pages       *session.Pagination
	playback    *session.Playback
	msgr        Messenger
	isAdmin     func(userID int64) bool
	playbackTTL time.Duration
	locks       *keyedLocks
	logger      zerolog.Logger
}

func New(
	s store.Store,
	registry *views.Registry,
	pages *session.Pagination,
	playback *session.Playback,
	msgr Messenger,
	isAdmin func(userID int64) bool,
	playbackTTL time.Duration,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		store:       s,
		registry:    registry,
		pages:       pages,
		playback:    playback,
		msgr:        msgr,
		isAdmin:     isAdmin,
		playbackTTL: playbackTTL,
		locks:       newKeyedLocks(),
		logger:      logger.With().Str("module", "engine").Logger(),
	}
}

func (e *Engine) Pages() *session.Pagination {
	return e.pages
}
