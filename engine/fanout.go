package engine

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/xeptore/flaw/v8"
	"golang.org/x/sync/errgroup"

	"github.com/xeptore/tgjam/config"
	"github.com/xeptore/tgjam/errutil"
	"github.com/xeptore/tgjam/log"
	"github.com/xeptore/tgjam/ratelimit"
	"github.com/xeptore/tgjam/store"
	"github.com/xeptore/tgjam/track"
)

// fanOutLikeBar re-renders every registered like-bar view of the track. Each
// view's outcome is collected independently: one failure neither aborts the
// others nor fails the operation. Views that could not be updated are pruned
// from the registry.
func (e *Engine) fanOutLikeBar(ctx context.Context, t *track.Track) {
	bars := t.ViewsByRole(track.RoleLikeBar)
	if len(bars) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, config.FanOutTimeout)
	defer cancel()

	var (
		mu   sync.Mutex
		dead []track.MessageRef
	)
	wg, wgCtx := errgroup.WithContext(ctx)
	wg.SetLimit(ratelimit.FanOutConcurrency)
	for _, ref := range bars {
		wg.Go(func() error {
			if err := e.msgr.EditLikeBar(wgCtx, ref, t); nil != err {
				switch {
				case errutil.IsContext(wgCtx):
					return wgCtx.Err()
				case errors.Is(err, ErrViewStale):
					mu.Lock()
					dead = append(dead, ref)
					mu.Unlock()
				default:
					// A failing view is a failing view. Drop it; the next
					// registration for this track starts a fresh one.
					flawP := flaw.P{"track": t.FlawP(), "view": ref.FlawP()}
					e.logger.Warn().Func(log.Flaw(flaw.From(err).Append(flawP))).Msg("Failed to re-render like bar view. Pruning")
					mu.Lock()
					dead = append(dead, ref)
					mu.Unlock()
				}
			}
			return nil
		})
	}
	if err := wg.Wait(); nil != err {
		return
	}

	if len(dead) > 0 {
		alive := slices.DeleteFunc(slices.Clone(t.Views), func(v track.MessageRef) bool {
			return slices.Contains(dead, v)
		})
		if err := e.registry.UnregisterMissing(ctx, t.ID, alive); nil != err {
			if errors.Is(err, store.ErrNotFound) {
				return
			}
			e.logger.Error().Func(log.Flaw(err)).Str("track_id", t.ID).Msg("Failed to prune stale views after fan-out")
		}
	}
}

// teardown deletes the given messages best-effort: the messages may already
// be gone, and that is fine.
func (e *Engine) teardown(ctx context.Context, refs []track.MessageRef) {
	if len(refs) == 0 {
		return
	}
	wg, wgCtx := errgroup.WithContext(ctx)
	wg.SetLimit(ratelimit.TeardownConcurrency)
	for chunk := range slices.Chunk(slices.Clone(refs), 100) {
		wg.Go(func() error {
			if err := e.msgr.DeleteMessages(wgCtx, chunk); nil != err {
				if errutil.IsContext(wgCtx) {
					return wgCtx.Err()
				}
				e.logger.Debug().Func(log.Flaw(err)).Int("refs", len(chunk)).Msg("Best-effort message teardown failed")
			}
			return nil
		})
	}
	_ = wg.Wait()
}

// unregisterRefs removes specific refs from the track's registry entry,
// keeping everything else intact.
func (e *Engine) unregisterRefs(ctx context.Context, trackID string, gone []track.MessageRef) {
	all, err := e.registry.All(ctx, trackID)
	if nil != err {
		return
	}
	alive := slices.DeleteFunc(slices.Clone(all), func(v track.MessageRef) bool {
		return slices.Contains(gone, v)
	})
	if len(alive) == len(all) {
		return
	}
	if err := e.registry.UnregisterMissing(ctx, trackID, alive); nil != err && !errors.Is(err, store.ErrNotFound) {
		e.logger.Error().Func(log.Flaw(err)).Str("track_id", trackID).Msg("Failed to unregister torn-down views")
	}
}
