package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/tgjam/session"
	"github.com/xeptore/tgjam/store"
	"github.com/xeptore/tgjam/track"
	"github.com/xeptore/tgjam/views"
)

type noopMessenger struct{}

func (noopMessenger) SendSelector(_ context.Context, chatID int64, _ *track.Track) (track.MessageRef, error) {
	return track.MessageRef{ChatID: chatID, MsgID: 1, Role: track.RoleSelector}, nil
}

func (noopMessenger) RetireSelector(context.Context, track.MessageRef, *track.Track) error {
	return nil
}

func (noopMessenger) SendLikeBar(_ context.Context, chatID int64, _ *track.Track) (track.MessageRef, error) {
	return track.MessageRef{ChatID: chatID, MsgID: 2, Role: track.RoleLikeBar}, nil
}

func (noopMessenger) EditLikeBar(context.Context, track.MessageRef, *track.Track) error {
	return nil
}

func (noopMessenger) SendTrackMedia(_ context.Context, chatID int64, _ *track.Track) (track.MessageRef, error) {
	return track.MessageRef{ChatID: chatID, MsgID: 3, Role: track.RoleUploadEcho}, nil
}

func (noopMessenger) DeleteMessages(context.Context, []track.MessageRef) error {
	return nil
}

func newEngineOn(t *testing.T, s store.Store, msgr Messenger) *Engine {
	t.Helper()
	return New(
		s,
		views.NewRegistry(s, zerolog.Nop()),
		session.NewPagination(s),
		session.NewPlayback(),
		msgr,
		func(int64) bool { return false },
		0,
		zerolog.Nop(),
	)
}

func TestSessionTeardownWaitsForTrackLock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, err := store.OpenSnapshot(filepath.Join(t.TempDir(), "playlist.json"), zerolog.Nop())
	require.NoError(t, err)
	e := newEngineOn(t, s, noopMessenger{})

	tr := track.New(track.Source{DocumentID: 1, AccessHash: 2, FileReference: []byte{3}}, "song", 10)
	bar := track.MessageRef{ChatID: 7, MsgID: 100, Role: track.RoleLikeBar}
	sessionBar := track.MessageRef{ChatID: 7, MsgID: 101, Role: track.RoleLikeBar}
	tr.Views = append(tr.Views, bar, sessionBar)
	require.NoError(t, s.Create(ctx, tr))

	mu := e.locks.of(tr.ID)
	mu.Lock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.dropSessionViews(ctx, tr.ID, []track.MessageRef{sessionBar})
	}()

	// The prune must queue behind the held track lock.
	select {
	case <-done:
		mu.Unlock()
		t.Fatal("session teardown pruned the registry while the track lock was held")
	case <-time.After(100 * time.Millisecond):
	}

	// A view registered under the lock must survive the queued prune.
	newBar := track.MessageRef{ChatID: 7, MsgID: 102, Role: track.RoleLikeBar}
	require.NoError(t, e.registry.Register(ctx, tr.ID, newBar))
	mu.Unlock()
	<-done

	got, err := s.FindByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Views, bar)
	assert.Contains(t, got.Views, newBar)
	assert.NotContains(t, got.Views, sessionBar)
}

type deadlineCheckStore struct {
	store.Store
	mu          sync.Mutex
	sawDeadline bool
}

func (s *deadlineCheckStore) Update(ctx context.Context, t *track.Track) error {
	s.mu.Lock()
	_, s.sawDeadline = ctx.Deadline()
	s.mu.Unlock()
	return s.Store.Update(ctx, t)
}

func TestStoreWritesAreDeadlineBounded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	inner, err := store.OpenSnapshot(filepath.Join(t.TempDir(), "playlist.json"), zerolog.Nop())
	require.NoError(t, err)
	s := &deadlineCheckStore{Store: inner, mu: sync.Mutex{}, sawDeadline: false}
	e := newEngineOn(t, s, noopMessenger{})

	tr := track.New(track.Source{DocumentID: 1, AccessHash: 2, FileReference: []byte{3}}, "song", 10)
	require.NoError(t, inner.Create(ctx, tr))

	require.NoError(t, e.persistUpdate(ctx, tr))
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.True(t, s.sawDeadline)
}

type deadlineCheckMessenger struct {
	noopMessenger
	mu          sync.Mutex
	sawDeadline bool
}

func (m *deadlineCheckMessenger) EditLikeBar(ctx context.Context, _ track.MessageRef, _ *track.Track) error {
	m.mu.Lock()
	_, m.sawDeadline = ctx.Deadline()
	m.mu.Unlock()
	return nil
}

func TestFanOutIsDeadlineBounded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, err := store.OpenSnapshot(filepath.Join(t.TempDir(), "playlist.json"), zerolog.Nop())
	require.NoError(t, err)
	//nolint:exhaustruct
	m := &deadlineCheckMessenger{}
	e := newEngineOn(t, s, m)

	tr := track.New(track.Source{DocumentID: 1, AccessHash: 2, FileReference: []byte{3}}, "song", 10)
	tr.Views = append(tr.Views, track.MessageRef{ChatID: 7, MsgID: 100, Role: track.RoleLikeBar})
	require.NoError(t, s.Create(ctx, tr))

	e.fanOutLikeBar(ctx, tr)
	m.mu.Lock()
	defer m.mu.Unlock()
	assert.True(t, m.sawDeadline)
}
