// Package views tracks which live chat messages currently render each track.
// The registry is self-healing: every fan-out is also a liveness probe, and
// entries that fail to update are dropped instead of retried.
package views

import (
	"context"
	"slices"

	"github.com/rs/zerolog"

	"github.com/xeptore/tgjam/store"
	"github.com/xeptore/tgjam/track"
)

type Registry struct {
	store  store.Store
	logger zerolog.Logger
}

func NewRegistry(s store.Store, logger zerolog.Logger) *Registry {
	return &Registry{
		store:  s,
		logger: logger.With().Str("module", "views").Logger(),
	}
}

// Register appends a message ref to the track's view list. Each registration
// corresponds to a distinct send, so no dedup is needed.
func (r *Registry) Register(ctx context.Context, trackID string, ref track.MessageRef) error {
	t, err := r.store.FindByID(ctx, trackID)
	if nil != err {
		return err
	}
	t.Views = append(t.Views, ref)
	return r.store.Update(ctx, t)
}

// UnregisterMissing replaces the track's view list with the subset confirmed
// still renderable. It is only ever driven by fan-out results, never by
// guessing.
func (r *Registry) UnregisterMissing(ctx context.Context, trackID string, alive []track.MessageRef) error {
	t, err := r.store.FindByID(ctx, trackID)
	if nil != err {
		return err
	}
	kept := slices.DeleteFunc(slices.Clone(t.Views), func(v track.MessageRef) bool {
		return !slices.Contains(alive, v)
	})
	if len(kept) == len(t.Views) {
		return nil
	}
	r.logger.Debug().
		Str("track_id", trackID).
		Int("before", len(t.Views)).
		Int("after", len(kept)).
		Msg("Pruning stale track views")
	t.Views = kept
	return r.store.Update(ctx, t)
}

func (r *Registry) All(ctx context.Context, trackID string) ([]track.MessageRef, error) {
	t, err := r.store.FindByID(ctx, trackID)
	if nil != err {
		return nil, err
	}
	return t.Views, nil
}
