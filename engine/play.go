package engine

import (
	"context"
	"errors"
	"time"

	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/tgjam/config"
	"github.com/xeptore/tgjam/errutil"
	"github.com/xeptore/tgjam/log"
	"github.com/xeptore/tgjam/track"
)

// Play renders an ephemeral "now playing" copy of the track for the user:
// the media re-sent from its stored source reference plus a like-bar scoped
// to this instance. A user has at most one playback session; starting a new
// one tears the previous one down best-effort first.
func (e *Engine) Play(ctx context.Context, chatID int64, userID int64, trackID string) error {
	t, err := e.store.FindByID(ctx, trackID)
	if nil != err {
		return err
	}

	prev, gen := e.playback.Begin(userID, trackID)
	if nil != prev {
		e.dropSessionViews(ctx, prev.TrackID, prev.Refs)
	}

	mediaRef, err := e.msgr.SendTrackMedia(ctx, chatID, t)
	if nil != err {
		e.playback.Drop(userID)
		switch {
		case errutil.IsContext(ctx):
			return ctx.Err()
		case errors.Is(err, ErrMediaUnresolvable):
			// The origin media is gone upstream. An unplayable entry
			// degrades every future list render, so orphan the track.
			e.orphan(ctx, t)
			return ErrMediaUnresolvable
		default:
			flawP := flaw.P{"track": t.FlawP()}
			return flaw.From(err).Append(flawP)
		}
	}
	refs := []track.MessageRef{mediaRef}

	barRef, err := e.msgr.SendLikeBar(ctx, chatID, t)
	if nil != err {
		if errutil.IsContext(ctx) {
			return ctx.Err()
		}
		flawP := flaw.P{"track": t.FlawP()}
		e.logger.Warn().Func(log.Flaw(flaw.From(err).Append(flawP))).Msg("Failed to send playback like bar")
	} else {
		refs = append(refs, barRef)
		mu := e.locks.of(trackID)
		mu.Lock()
		if err := e.registry.Register(ctx, trackID, barRef); nil != err {
			e.logger.Error().Func(log.Flaw(err)).Str("track_id", trackID).Msg("Failed to register playback like bar view")
		}
		mu.Unlock()
	}

	if !e.playback.Attach(userID, gen, refs) {
		// A newer Play superseded this one while we were sending.
		e.dropSessionViews(ctx, trackID, refs)
		return nil
	}

	if e.playbackTTL > 0 {
		e.scheduleExpiry(userID, gen)
	}
	return nil
}

// scheduleExpiry arms the TTL teardown for the session identified by gen.
// The timer re-checks the generation before acting, so a timer armed for a
// superseded session is a no-op.
func (e *Engine) scheduleExpiry(userID int64, gen uint64) {
	time.AfterFunc(e.playbackTTL, func() {
		defer func() {
			if v := recover(); nil != v {
				e.logger.Error().Func(log.Panic(v)).Msg("Recovered from panicked playback expiry")
			}
		}()

		s, ok := e.playback.TakeIfCurrent(userID, gen)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), config.DeleteMessagesTimeout)
		defer cancel()
		e.dropSessionViews(ctx, s.TrackID, s.Refs)
		e.logger.Debug().Int64("user_id", userID).Str("track_id", s.TrackID).Msg("Playback session expired")
	})
}

// dropSessionViews tears down a playback session's messages and removes them
// from the registry. The registry prune is a load-modify-write of the view
// list, so it takes the track lock like every other mutation; otherwise it
// could erase a view registered concurrently.
func (e *Engine) dropSessionViews(ctx context.Context, trackID string, refs []track.MessageRef) {
	mu := e.locks.of(trackID)
	mu.Lock()
	defer mu.Unlock()
	e.teardown(ctx, refs)
	e.unregisterRefs(ctx, trackID, refs)
}

// orphan removes a track whose media can no longer be resolved: every
// registered view is torn down best-effort and the record is deleted.
func (e *Engine) orphan(ctx context.Context, t *track.Track) {
	mu := e.locks.of(t.ID)
	mu.Lock()
	defer mu.Unlock()

	e.teardown(ctx, t.Views)
	if err := e.persistDelete(ctx, t.ID); nil != err {
		e.logger.Error().Func(log.Flaw(err)).Str("track_id", t.ID).Msg("Failed to delete orphaned track")
		return
	}
	e.locks.forget(t.ID)
	e.logger.Info().Str("track_id", t.ID).Msg("Orphaned track removed")
}
