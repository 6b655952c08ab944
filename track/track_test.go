package track_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/tgjam/track"
)

func TestNewID(t *testing.T) {
	t.Parallel()

	id := track.NewID(123456789)
	require.True(t, strings.HasPrefix(id, "123456789-"))
	assert.Len(t, id, len("123456789-")+8)

	another := track.NewID(123456789)
	assert.NotEqual(t, id, another)
}

func TestSanitizeTitle(t *testing.T) {
	t.Parallel()

	t.Run("StripsHostileChars", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "ab", track.SanitizeTitle(`a/\:*?"<>|b`))
	})

	t.Run("StripsControlChars", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "ab", track.SanitizeTitle("a\x00\x1f\x7fb"))
	})

	t.Run("CollapsesWhitespace", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "a b c", track.SanitizeTitle("  a \t b\n\nc  "))
	})

	t.Run("TrimsDotsAndSpaces", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "song", track.SanitizeTitle(" .song. "))
	})

	t.Run("EmptyFallsBackToUntitled", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "untitled", track.SanitizeTitle("  ...  "))
		assert.Equal(t, "untitled", track.SanitizeTitle(""))
	})

	t.Run("BoundsLength", func(t *testing.T) {
		t.Parallel()
		long := strings.Repeat("x", 500)
		assert.Len(t, track.SanitizeTitle(long), 128)
	})

	t.Run("TruncatesOnRuneBoundary", func(t *testing.T) {
		t.Parallel()
		long := "a" + strings.Repeat("🎵", 40)
		got := track.SanitizeTitle(long)
		assert.True(t, utf8.ValidString(got))
		assert.LessOrEqual(t, len(got), 128)
		assert.Equal(t, 125, len(got))
	})
}

func TestToggleLike(t *testing.T) {
	t.Parallel()

	tr := track.New(track.Source{DocumentID: 1, AccessHash: 2, FileReference: []byte{3}}, "song", 10)
	require.Zero(t, tr.Likes())

	assert.True(t, tr.ToggleLike(42))
	assert.True(t, tr.LikedBy(42))
	assert.Equal(t, 1, tr.Likes())

	assert.True(t, tr.ToggleLike(43))
	assert.Equal(t, 2, tr.Likes())

	assert.False(t, tr.ToggleLike(42))
	assert.False(t, tr.LikedBy(42))
	assert.Equal(t, 1, tr.Likes())
}

func TestNewTrackDefaults(t *testing.T) {
	t.Parallel()

	tr := track.New(track.Source{DocumentID: 7, AccessHash: 8, FileReference: []byte{9}}, " My Song ", 55)
	assert.False(t, tr.TypeSet)
	assert.Equal(t, "My Song", tr.Title)
	assert.Equal(t, int64(55), tr.OwnerID)
	assert.Empty(t, tr.Views)
	assert.False(t, tr.CreatedAt.IsZero())
}

func TestVotersJSONRoundTrip(t *testing.T) {
	t.Parallel()

	v := track.Voters{5: {}, 1: {}, 3: {}}
	b, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, "[1,3,5]", string(b))

	var back track.Voters
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, v, back)
}

func TestViewsByRole(t *testing.T) {
	t.Parallel()

	tr := track.New(track.Source{DocumentID: 1, AccessHash: 1, FileReference: nil}, "song", 1)
	tr.Views = []track.MessageRef{
		{ChatID: 1, MsgID: 10, Role: track.RoleUploadEcho},
		{ChatID: 1, MsgID: 11, Role: track.RoleLikeBar},
		{ChatID: 2, MsgID: 12, Role: track.RoleLikeBar},
	}

	bars := tr.ViewsByRole(track.RoleLikeBar)
	require.Len(t, bars, 2)
	assert.Equal(t, 11, bars[0].MsgID)
	assert.Equal(t, 12, bars[1].MsgID)

	assert.Empty(t, tr.ViewsByRole(track.RoleSelector))
}

func TestClone(t *testing.T) {
	t.Parallel()

	tr := track.New(track.Source{DocumentID: 1, AccessHash: 2, FileReference: []byte{7}}, "song", 1)
	tr.ToggleLike(42)
	tr.Views = []track.MessageRef{{ChatID: 1, MsgID: 10, Role: track.RoleLikeBar}}

	cp := tr.Clone()
	cp.ToggleLike(43)
	cp.Views[0].MsgID = 99
	cp.Source.FileReference[0] = 0

	assert.Equal(t, 1, tr.Likes())
	assert.Equal(t, 10, tr.Views[0].MsgID)
	assert.Equal(t, byte(7), tr.Source.FileReference[0])
}
