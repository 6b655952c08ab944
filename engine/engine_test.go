package engine_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/tgjam/engine"
	"github.com/xeptore/tgjam/session"
	"github.com/xeptore/tgjam/store"
	"github.com/xeptore/tgjam/track"
	"github.com/xeptore/tgjam/views"
)

// fakeMessenger is an in-memory chat transport. Individual messages can be
// marked stale to simulate deleted-by-user views, and media sends can be
// forced to fail.
type fakeMessenger struct {
	mu        sync.Mutex
	nextMsgID int
	edits     []track.MessageRef
	retired   []track.MessageRef
	deleted   []track.MessageRef
	stale     map[int]bool
	mediaErr  error
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		mu:        sync.Mutex{},
		nextMsgID: 1000,
		edits:     nil,
		retired:   nil,
		deleted:   nil,
		stale:     make(map[int]bool),
		mediaErr:  nil,
	}
}

func (m *fakeMessenger) send(chatID int64, role track.Role) track.MessageRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextMsgID++
	return track.MessageRef{ChatID: chatID, MsgID: m.nextMsgID, Role: role}
}

func (m *fakeMessenger) markStale(msgID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stale[msgID] = true
}

func (m *fakeMessenger) SendSelector(_ context.Context, chatID int64, _ *track.Track) (track.MessageRef, error) {
	return m.send(chatID, track.RoleSelector), nil
}

func (m *fakeMessenger) RetireSelector(_ context.Context, ref track.MessageRef, _ *track.Track) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stale[ref.MsgID] {
		return engine.ErrViewStale
	}
	m.retired = append(m.retired, ref)
	return nil
}

func (m *fakeMessenger) SendLikeBar(_ context.Context, chatID int64, _ *track.Track) (track.MessageRef, error) {
	return m.send(chatID, track.RoleLikeBar), nil
}

func (m *fakeMessenger) EditLikeBar(_ context.Context, ref track.MessageRef, _ *track.Track) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stale[ref.MsgID] {
		return engine.ErrViewStale
	}
	m.edits = append(m.edits, ref)
	return nil
}

func (m *fakeMessenger) SendTrackMedia(_ context.Context, chatID int64, _ *track.Track) (track.MessageRef, error) {
	m.mu.Lock()
	mediaErr := m.mediaErr
	m.mu.Unlock()
	if nil != mediaErr {
		return track.MessageRef{}, mediaErr
	}
	return m.send(chatID, track.RoleUploadEcho), nil
}

func (m *fakeMessenger) DeleteMessages(_ context.Context, refs []track.MessageRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, refs...)
	return nil
}

func (m *fakeMessenger) deletedMsgIDs() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, 0, len(m.deleted))
	for _, ref := range m.deleted {
		out = append(out, ref.MsgID)
	}
	return out
}

func (m *fakeMessenger) editCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.edits)
}

func newTestEngine(t *testing.T, msgr engine.Messenger, adminID int64) (*engine.Engine, store.Store) {
	t.Helper()
	s, err := store.OpenSnapshot(filepath.Join(t.TempDir(), "playlist.json"), zerolog.Nop())
	require.NoError(t, err)
	eng := engine.New(
		s,
		views.NewRegistry(s, zerolog.Nop()),
		session.NewPagination(s),
		session.NewPlayback(),
		msgr,
		func(userID int64) bool { return userID == adminID },
		0,
		zerolog.Nop(),
	)
	return eng, s
}

const (
	chatID  = int64(500)
	adminID = int64(1)
	userID  = int64(2)
)

func testSource(docID int64) track.Source {
	return track.Source{DocumentID: docID, AccessHash: docID * 10, FileReference: []byte{1}}
}

func TestUploadRegistersInitialViews(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	msgr := newFakeMessenger()
	eng, s := newTestEngine(t, msgr, adminID)

	echo := track.MessageRef{ChatID: chatID, MsgID: 1, Role: track.RoleUploadEcho}
	tr, err := eng.Upload(ctx, testSource(100), "song", userID, chatID, &echo)
	require.NoError(t, err)

	require.Len(t, tr.Views, 3)
	assert.Len(t, tr.ViewsByRole(track.RoleUploadEcho), 1)
	assert.Len(t, tr.ViewsByRole(track.RoleSelector), 1)
	assert.Len(t, tr.ViewsByRole(track.RoleLikeBar), 1)
	assert.False(t, tr.TypeSet)

	// The views survived persistence, not just the returned value.
	stored, err := s.FindByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Views, 3)
}

func TestUploadRejectsDuplicateDocument(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	msgr := newFakeMessenger()
	eng, s := newTestEngine(t, msgr, adminID)

	_, err := eng.Upload(ctx, testSource(100), "song", userID, chatID, nil)
	require.NoError(t, err)

	// Same document id with churned transfer handles is still the same track.
	dup := track.Source{DocumentID: 100, AccessHash: 777, FileReference: []byte{9}}
	_, err = eng.Upload(ctx, dup, "song again", userID, chatID, nil)
	require.ErrorIs(t, err, store.ErrDuplicateTrack)

	n, err := s.Count(ctx, store.View{Key: store.ViewAll})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSetTypeRetiresSelector(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	msgr := newFakeMessenger()
	eng, _ := newTestEngine(t, msgr, adminID)

	tr, err := eng.Upload(ctx, testSource(100), "song", userID, chatID, nil)
	require.NoError(t, err)
	require.Len(t, tr.ViewsByRole(track.RoleSelector), 1)

	updated, err := eng.SetType(ctx, tr.ID, track.KindCover)
	require.NoError(t, err)
	assert.Equal(t, track.KindCover, updated.Kind)
	assert.True(t, updated.TypeSet)
	assert.Empty(t, updated.ViewsByRole(track.RoleSelector))
	assert.Len(t, updated.ViewsByRole(track.RoleLikeBar), 1)
	assert.Len(t, msgr.retired, 1)
}

func TestSetTypeKeepsSelectorOnStaleReport(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	msgr := newFakeMessenger()
	eng, _ := newTestEngine(t, msgr, adminID)

	tr, err := eng.Upload(ctx, testSource(100), "song", userID, chatID, nil)
	require.NoError(t, err)
	selRef := tr.ViewsByRole(track.RoleSelector)[0]
	msgr.markStale(selRef.MsgID)

	// The platform says the selector message is gone: unregister it anyway.
	updated, err := eng.SetType(ctx, tr.ID, track.KindOriginal)
	require.NoError(t, err)
	assert.Empty(t, updated.ViewsByRole(track.RoleSelector))
	assert.Empty(t, msgr.retired)
}

func TestToggleLikeIsAPureFlip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	msgr := newFakeMessenger()
	eng, s := newTestEngine(t, msgr, adminID)

	tr, err := eng.Upload(ctx, testSource(100), "song", userID, chatID, nil)
	require.NoError(t, err)

	_, liked, err := eng.ToggleLike(ctx, tr.ID, userID)
	require.NoError(t, err)
	assert.True(t, liked)

	_, liked, err = eng.ToggleLike(ctx, tr.ID, userID)
	require.NoError(t, err)
	assert.False(t, liked)

	stored, err := s.FindByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.Likes())
}

func TestToggleLikeFanOutPrunesStaleViews(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	msgr := newFakeMessenger()
	eng, s := newTestEngine(t, msgr, adminID)

	tr, err := eng.Upload(ctx, testSource(100), "song", userID, chatID, nil)
	require.NoError(t, err)

	// Two extra like-bar copies, as if other chats rendered the track too.
	require.NoError(t, eng.Play(ctx, chatID, 11, tr.ID))
	require.NoError(t, eng.Play(ctx, chatID, 12, tr.ID))

	stored, err := s.FindByID(ctx, tr.ID)
	require.NoError(t, err)
	bars := stored.ViewsByRole(track.RoleLikeBar)
	require.Len(t, bars, 3)
	msgr.markStale(bars[1].MsgID)

	_, liked, err := eng.ToggleLike(ctx, tr.ID, userID)
	require.NoError(t, err)
	assert.True(t, liked)

	// One view failed its re-render; the operation still succeeded and the
	// failing view is gone from the registry.
	stored, err = s.FindByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.Len(t, stored.ViewsByRole(track.RoleLikeBar), 2)
	assert.True(t, stored.LikedBy(userID))
	assert.Equal(t, 2, msgr.editCount())
}

func TestDeleteIsAdminOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	msgr := newFakeMessenger()
	eng, s := newTestEngine(t, msgr, adminID)

	tr, err := eng.Upload(ctx, testSource(100), "song", userID, chatID, nil)
	require.NoError(t, err)

	require.ErrorIs(t, eng.Delete(ctx, tr.ID, userID), engine.ErrNotAuthorized)
	_, err = s.FindByID(ctx, tr.ID)
	require.NoError(t, err)

	require.NoError(t, eng.Delete(ctx, tr.ID, adminID))
	_, err = s.FindByID(ctx, tr.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Every registered view was torn down.
	assert.Len(t, msgr.deletedMsgIDs(), len(tr.Views))
}

func TestPlaySupersedesPreviousSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	msgr := newFakeMessenger()
	eng, s := newTestEngine(t, msgr, adminID)

	a, err := eng.Upload(ctx, testSource(100), "first", userID, chatID, nil)
	require.NoError(t, err)
	b, err := eng.Upload(ctx, testSource(200), "second", userID, chatID, nil)
	require.NoError(t, err)

	require.NoError(t, eng.Play(ctx, chatID, userID, a.ID))
	deletedBefore := len(msgr.deletedMsgIDs())

	require.NoError(t, eng.Play(ctx, chatID, userID, b.ID))

	// The first session's media and like-bar messages were torn down.
	assert.Equal(t, deletedBefore+2, len(msgr.deletedMsgIDs()))

	// The first track no longer carries the dead playback like-bar view.
	stored, err := s.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, stored.ViewsByRole(track.RoleLikeBar), 1)
}

func TestPlayOrphansUnresolvableMedia(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	msgr := newFakeMessenger()
	eng, s := newTestEngine(t, msgr, adminID)

	tr, err := eng.Upload(ctx, testSource(100), "song", userID, chatID, nil)
	require.NoError(t, err)

	msgr.mu.Lock()
	msgr.mediaErr = engine.ErrMediaUnresolvable
	msgr.mu.Unlock()

	err = eng.Play(ctx, chatID, userID, tr.ID)
	require.ErrorIs(t, err, engine.ErrMediaUnresolvable)

	// The track is orphaned: views torn down, record removed.
	_, err = s.FindByID(ctx, tr.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Len(t, msgr.deletedMsgIDs(), len(tr.Views))
}

func TestPlayUnknownTrack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	msgr := newFakeMessenger()
	eng, _ := newTestEngine(t, msgr, adminID)

	err := eng.Play(ctx, chatID, userID, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPlaybackExpiryTearsDownOnlyCurrentSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	msgr := newFakeMessenger()

	s, err := store.OpenSnapshot(filepath.Join(t.TempDir(), "playlist.json"), zerolog.Nop())
	require.NoError(t, err)
	eng := engine.New(
		s,
		views.NewRegistry(s, zerolog.Nop()),
		session.NewPagination(s),
		session.NewPlayback(),
		msgr,
		func(int64) bool { return false },
		50*time.Millisecond,
		zerolog.Nop(),
	)

	tr, err := eng.Upload(ctx, testSource(100), "song", userID, chatID, nil)
	require.NoError(t, err)
	require.NoError(t, eng.Play(ctx, chatID, userID, tr.ID))

	require.Eventually(t, func() bool {
		// Media message plus playback like-bar.
		return len(msgr.deletedMsgIDs()) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := s.FindByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.Len(t, stored.ViewsByRole(track.RoleLikeBar), 1)
}

func TestFanOutOrderIndependence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	msgr := newFakeMessenger()
	eng, s := newTestEngine(t, msgr, adminID)

	tr, err := eng.Upload(ctx, testSource(100), "song", userID, chatID, nil)
	require.NoError(t, err)
	for i := int64(0); i < 5; i++ {
		require.NoError(t, eng.Play(ctx, chatID, 20+i, tr.ID))
	}

	_, _, err = eng.ToggleLike(ctx, tr.ID, userID)
	require.NoError(t, err)

	stored, err := s.FindByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.Len(t, stored.ViewsByRole(track.RoleLikeBar), 6)
	assert.True(t, errors.Is(eng.Delete(ctx, tr.ID, userID), engine.ErrNotAuthorized))
}
