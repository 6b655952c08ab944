package engine

import (
	"context"
	"errors"

	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/tgjam/errutil"
	"github.com/xeptore/tgjam/log"
	"github.com/xeptore/tgjam/track"
)

// Upload admits a new track: duplicate-checked create first, then the
// initial message set (selector + like bar, plus the upload echo the
// transport already observed) is sent and registered. The create is
// persisted before anything user-visible happens.
func (e *Engine) Upload(ctx context.Context, src track.Source, title string, ownerID int64, chatID int64, echo *track.MessageRef) (*track.Track, error) {
	t := track.New(src, title, ownerID)
	if nil != echo {
		t.Views = append(t.Views, *echo)
	}

	if err := e.persistCreate(ctx, t); nil != err {
		return nil, err
	}

	mu := e.locks.of(t.ID)
	mu.Lock()
	defer mu.Unlock()

	selRef, err := e.msgr.SendSelector(ctx, chatID, t)
	if nil != err {
		if errutil.IsContext(ctx) {
			return nil, ctx.Err()
		}
		flawP := flaw.P{"track": t.FlawP()}
		e.logger.Error().Func(log.Flaw(flaw.From(err).Append(flawP))).Msg("Failed to send type selector")
	} else if err := e.registry.Register(ctx, t.ID, selRef); nil != err {
		e.logger.Error().Func(log.Flaw(err)).Str("track_id", t.ID).Msg("Failed to register type selector view")
	}

	barRef, err := e.msgr.SendLikeBar(ctx, chatID, t)
	if nil != err {
		if errutil.IsContext(ctx) {
			return nil, ctx.Err()
		}
		flawP := flaw.P{"track": t.FlawP()}
		e.logger.Error().Func(log.Flaw(flaw.From(err).Append(flawP))).Msg("Failed to send like bar")
	} else if err := e.registry.Register(ctx, t.ID, barRef); nil != err {
		e.logger.Error().Func(log.Flaw(err)).Str("track_id", t.ID).Msg("Failed to register like bar view")
	}

	return e.store.FindByID(ctx, t.ID)
}

// SetType classifies the track and retires its selector view. The selector
// is only unregistered after its render-confirmation swap succeeds, or after
// the platform reports it gone; a transiently failing swap leaves it in
// place for another tap.
func (e *Engine) SetType(ctx context.Context, trackID string, kind track.Kind) (*track.Track, error) {
	mu := e.locks.of(trackID)
	mu.Lock()
	defer mu.Unlock()

	t, err := e.store.FindByID(ctx, trackID)
	if nil != err {
		return nil, err
	}

	t.Kind = kind
	t.TypeSet = true
	if err := e.persistUpdate(ctx, t); nil != err {
		return nil, err
	}

	var retired []track.MessageRef
	for _, ref := range t.ViewsByRole(track.RoleSelector) {
		if err := e.msgr.RetireSelector(ctx, ref, t); nil != err {
			switch {
			case errutil.IsContext(ctx):
				return nil, ctx.Err()
			case errors.Is(err, ErrViewStale):
				retired = append(retired, ref)
			default:
				flawP := flaw.P{"track": t.FlawP(), "view": ref.FlawP()}
				e.logger.Warn().Func(log.Flaw(flaw.From(err).Append(flawP))).Msg("Failed to retire type selector. Keeping it registered")
			}
			continue
		}
		retired = append(retired, ref)
	}
	if len(retired) > 0 {
		e.unregisterRefs(ctx, trackID, retired)
	}

	e.fanOutLikeBar(ctx, t)
	return e.store.FindByID(ctx, trackID)
}

// ToggleLike flips the user's membership in the track's voter set, persists,
// then fans the new state out to every registered like-bar view. Returns the
// updated track and whether the user likes it now.
func (e *Engine) ToggleLike(ctx context.Context, trackID string, userID int64) (*track.Track, bool, error) {
	mu := e.locks.of(trackID)
	mu.Lock()
	defer mu.Unlock()

	t, err := e.store.FindByID(ctx, trackID)
	if nil != err {
		return nil, false, err
	}

	liked := t.ToggleLike(userID)
	if err := e.persistUpdate(ctx, t); nil != err {
		return nil, false, err
	}

	e.fanOutLikeBar(ctx, t)
	return t, liked, nil
}

// Delete tears down every registered view of the track best-effort, then
// removes it from the store. Admin-only.
func (e *Engine) Delete(ctx context.Context, trackID string, userID int64) error {
	if !e.isAdmin(userID) {
		return ErrNotAuthorized
	}

	mu := e.locks.of(trackID)
	mu.Lock()
	defer mu.Unlock()

	t, err := e.store.FindByID(ctx, trackID)
	if nil != err {
		return err
	}

	e.teardown(ctx, t.Views)
	if err := e.persistDelete(ctx, trackID); nil != err {
		return err
	}
	e.locks.forget(trackID)

	e.logger.Info().Str("track_id", trackID).Int64("by", userID).Msg("Track deleted")
	return nil
}
