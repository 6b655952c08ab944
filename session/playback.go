package session

import (
	"sync"

	"github.com/xeptore/tgjam/track"
)

// PlaybackSession is a user's single ephemeral "now playing" render. The
// generation token identifies one Begin call; a deferred expiry scheduled for
// an older generation must not tear down a newer session.
type PlaybackSession struct {
	TrackID string
	Refs    []track.MessageRef
	Gen     uint64
}

type Playback struct {
	mu       sync.Mutex
	nextGen  uint64
	sessions map[int64]*PlaybackSession
}

func NewPlayback() *Playback {
	return &Playback{
		mu:       sync.Mutex{},
		nextGen:  0,
		sessions: make(map[int64]*PlaybackSession),
	}
}

// Begin replaces the user's session with a fresh one for trackID and returns
// the superseded session, if any, so the caller can tear its messages down
// best-effort.
func (p *Playback) Begin(userID int64, trackID string) (prev *PlaybackSession, gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev = p.sessions[userID]
	p.nextGen++
	gen = p.nextGen
	p.sessions[userID] = &PlaybackSession{TrackID: trackID, Refs: nil, Gen: gen}
	return prev, gen
}

// Attach records the rendered message refs for the session created by the
// Begin call that produced gen. Returns false if that session has been
// superseded in the meantime.
func (p *Playback) Attach(userID int64, gen uint64, refs []track.MessageRef) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[userID]
	if !ok || s.Gen != gen {
		return false
	}
	s.Refs = refs
	return true
}

// TakeIfCurrent removes and returns the user's session only if it is still
// the one identified by gen. Expiry timers use it to detect they have been
// superseded.
func (p *Playback) TakeIfCurrent(userID int64, gen uint64) (*PlaybackSession, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[userID]
	if !ok || s.Gen != gen {
		return nil, false
	}
	delete(p.sessions, userID)
	return s, true
}

// Drop removes the user's session regardless of generation.
func (p *Playback) Drop(userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, userID)
}
