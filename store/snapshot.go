package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/tgjam/errutil"
	"github.com/xeptore/tgjam/track"
)

// Snapshot is the flat-file backend: all tracks held in memory, every
// mutation flushed synchronously to a single JSON file before it is
// acknowledged. The file is replaced with a write-temp-then-rename swap so a
// crash mid-write never truncates the previous snapshot.
type Snapshot struct {
	mu     sync.RWMutex
	path   string
	tracks map[string]*track.Track
	byDoc  map[int64]string
	logger zerolog.Logger
}

func OpenSnapshot(path string, logger zerolog.Logger) (*Snapshot, error) {
	s := &Snapshot{
		mu:     sync.RWMutex{},
		path:   path,
		tracks: make(map[string]*track.Track),
		byDoc:  make(map[int64]string),
		logger: logger.With().Str("module", "store").Str("backend", "snapshot").Logger(),
	}

	data, err := os.ReadFile(path)
	if nil != err {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info().Str("path", path).Msg("Snapshot file does not exist. Starting empty")
			return s, nil
		}
		flawP := flaw.P{"path": path, "err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to read snapshot file: %v", err)).Append(flawP)
	}

	var tracks []*track.Track
	if err := json.Unmarshal(data, &tracks); nil != err {
		flawP := flaw.P{"path": path, "err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to unmarshal snapshot file: %v", err)).Append(flawP)
	}

	for _, t := range tracks {
		s.tracks[t.ID] = t
		s.byDoc[t.Source.DocumentID] = t.ID
	}
	s.logger.Info().Str("path", path).Int("tracks", len(tracks)).Msg("Snapshot loaded")
	return s, nil
}

func (s *Snapshot) Create(_ context.Context, t *track.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byDoc[t.Source.DocumentID]; exists {
		return ErrDuplicateTrack
	}
	if _, exists := s.tracks[t.ID]; exists {
		return flaw.From(fmt.Errorf("track id %q already exists", t.ID))
	}

	s.tracks[t.ID] = t.Clone()
	s.byDoc[t.Source.DocumentID] = t.ID
	if err := s.flush(); nil != err {
		// The insert was never acknowledged, so take it back out.
		delete(s.tracks, t.ID)
		delete(s.byDoc, t.Source.DocumentID)
		return err
	}
	return nil
}

func (s *Snapshot) FindByID(_ context.Context, id string) (*track.Track, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tracks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (s *Snapshot) Update(_ context.Context, t *track.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tracks[t.ID]; !ok {
		return ErrNotFound
	}
	s.tracks[t.ID] = t.Clone()
	return s.flush()
}

func (s *Snapshot) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tracks[id]
	if !ok {
		return nil
	}
	delete(s.tracks, id)
	delete(s.byDoc, t.Source.DocumentID)
	return s.flush()
}

func (s *Snapshot) Query(_ context.Context, v View) ([]*track.Track, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	var out []*track.Track
	for _, t := range s.tracks {
		if matches(v, t, now) {
			out = append(out, t.Clone())
		}
	}
	sortTracks(v, out)
	return out, nil
}

func (s *Snapshot) Count(_ context.Context, v View) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	var n int
	for _, t := range s.tracks {
		if matches(v, t, now) {
			n++
		}
	}
	return n, nil
}

func (s *Snapshot) Close() error {
	return nil
}

// flush must be called with the write lock held.
func (s *Snapshot) flush() error {
	tracks := make([]*track.Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		tracks = append(tracks, t)
	}
	sortTracks(View{Key: ViewAll, OwnerID: 0}, tracks)

	data, err := json.MarshalIndent(tracks, "", "  ")
	if nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to marshal snapshot: %v", err)).Append(flawP)
	}

	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o0755); nil != err {
		flawP := flaw.P{"path": s.path, "err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to create snapshot directory: %v", err)).Append(flawP)
	}
	if err := os.WriteFile(tmp, data, 0o0644); nil != err {
		flawP := flaw.P{"path": tmp, "err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to write snapshot temp file: %v", err)).Append(flawP)
	}
	if err := os.Rename(tmp, s.path); nil != err {
		flawP := flaw.P{"path": s.path, "err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to swap snapshot file: %v", err)).Append(flawP)
	}
	return nil
}
