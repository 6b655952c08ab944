package health_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/xeptore/tgjam/health"
	"github.com/xeptore/tgjam/store"
	"github.com/xeptore/tgjam/track"
)

func TestHealthzReportsTrackCount(t *testing.T) {
	t.Parallel()

	s, err := store.OpenSnapshot(filepath.Join(t.TempDir(), "playlist.json"), zerolog.Nop())
	require.NoError(t, err)
	for i := int64(1); i <= 3; i++ {
		tr := track.New(track.Source{DocumentID: i, AccessHash: i, FileReference: nil}, "song", 1)
		require.NoError(t, s.Create(context.Background(), tr))
	}

	srv := httptest.NewServer(health.New(s, zerolog.Nop()).Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, resp.Body.Close()) })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	buf := make([]byte, 512)
	n, _ := resp.Body.Read(buf)
	body := buf[:n]
	assert.Equal(t, "ok", gjson.GetBytes(body, "status").String())
	assert.Equal(t, int64(3), gjson.GetBytes(body, "tracks").Int())
	assert.GreaterOrEqual(t, gjson.GetBytes(body, "uptime_seconds").Int(), int64(0))
}

func TestHealthzRejectsOtherMethods(t *testing.T) {
	t.Parallel()

	s, err := store.OpenSnapshot(filepath.Join(t.TempDir(), "playlist.json"), zerolog.Nop())
	require.NoError(t, err)

	srv := httptest.NewServer(health.New(s, zerolog.Nop()).Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/healthz", "application/json", nil)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, resp.Body.Close()) })
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
