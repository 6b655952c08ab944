package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xeptore/flaw/v8"
	"gopkg.in/matryer/try.v1"

	"github.com/xeptore/tgjam/config"
	"github.com/xeptore/tgjam/errutil"
	"github.com/xeptore/tgjam/must"
	"github.com/xeptore/tgjam/ratelimit"
	"github.com/xeptore/tgjam/store"
	"github.com/xeptore/tgjam/track"
)

// writeAttempt bounds a single store write so one wedged attempt cannot eat
// the whole operation's deadline.
func writeAttempt(ctx context.Context, write func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, config.StoreWriteTimeout)
	defer cancel()
	return write(ctx)
}

// persistUpdate writes the track with a bounded, jittered retry. Persistence
// failures are rare by contract; once retries are exhausted the caller
// reports the operation as failed without rolling back in-memory state, and
// the next successful full-state write reconverges.
func (e *Engine) persistUpdate(ctx context.Context, t *track.Track) error {
	flawP := flaw.P{"track": t.FlawP()}
	return try.Do(func(attempt int) (bool, error) {
		attemptRemained := attempt < ratelimit.StoreWriteAttempts
		if attempt > 1 {
			time.Sleep(ratelimit.StoreRetrySleep(attempt))
		}
		if err := writeAttempt(ctx, func(ctx context.Context) error { return e.store.Update(ctx, t) }); nil != err {
			switch {
			case errutil.IsContext(ctx):
				return false, ctx.Err()
			case errors.Is(err, store.ErrNotFound):
				return false, err
			case errutil.IsFlaw(err):
				return attemptRemained, must.BeFlaw(err).Append(flawP)
			case errors.Is(err, context.DeadlineExceeded):
				return attemptRemained, flaw.From(fmt.Errorf("store write attempt timed out: %v", err)).Append(flawP)
			default:
				panic(errutil.UnknownError(err))
			}
		}
		return false, nil
	})
}

func (e *Engine) persistCreate(ctx context.Context, t *track.Track) error {
	flawP := flaw.P{"track": t.FlawP()}
	return try.Do(func(attempt int) (bool, error) {
		attemptRemained := attempt < ratelimit.StoreWriteAttempts
		if attempt > 1 {
			time.Sleep(ratelimit.StoreRetrySleep(attempt))
		}
		if err := writeAttempt(ctx, func(ctx context.Context) error { return e.store.Create(ctx, t) }); nil != err {
			switch {
			case errutil.IsContext(ctx):
				return false, ctx.Err()
			case errors.Is(err, store.ErrDuplicateTrack):
				return false, err
			case errutil.IsFlaw(err):
				return attemptRemained, must.BeFlaw(err).Append(flawP)
			case errors.Is(err, context.DeadlineExceeded):
				return attemptRemained, flaw.From(fmt.Errorf("store write attempt timed out: %v", err)).Append(flawP)
			default:
				panic(errutil.UnknownError(err))
			}
		}
		return false, nil
	})
}

func (e *Engine) persistDelete(ctx context.Context, id string) error {
	flawP := flaw.P{"track_id": id}
	return try.Do(func(attempt int) (bool, error) {
		attemptRemained := attempt < ratelimit.StoreWriteAttempts
		if attempt > 1 {
			time.Sleep(ratelimit.StoreRetrySleep(attempt))
		}
		if err := writeAttempt(ctx, func(ctx context.Context) error { return e.store.Delete(ctx, id) }); nil != err {
			switch {
			case errutil.IsContext(ctx):
				return false, ctx.Err()
			case errutil.IsFlaw(err):
				return attemptRemained, must.BeFlaw(err).Append(flawP)
			case errors.Is(err, context.DeadlineExceeded):
				return attemptRemained, flaw.From(fmt.Errorf("store write attempt timed out: %v", err)).Append(flawP)
			default:
				panic(errutil.UnknownError(err))
			}
		}
		return false, nil
	})
}
