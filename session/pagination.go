// Package session owns the per-user ephemeral state: pagination cursors over
// the track store projections and "now playing" playback sessions. Nothing
// here is persisted; process restart clears it all, by design of the store
// being the single source of truth.
package session

import (
	"context"
	"slices"
	"sync"

	"github.com/xeptore/tgjam/iterutil"
	"github.com/xeptore/tgjam/mathutil"
	"github.com/xeptore/tgjam/store"
	"github.com/xeptore/tgjam/track"
)

// PageSize is shared by all six projections.
const PageSize = 10

type Page struct {
	View    store.View
	Num     int
	Total   int
	Tracks  []*track.Track
	HasPrev bool
	HasNext bool
}

func (p *Page) Empty() bool {
	return p.Total == 0
}

type paginationState struct {
	view store.View
	page int
}

type Pagination struct {
	mu       sync.Mutex
	store    store.Store
	sessions map[int64]paginationState
}

func NewPagination(s store.Store) *Pagination {
	return &Pagination{
		mu:       sync.Mutex{},
		store:    s,
		sessions: make(map[int64]paginationState),
	}
}

// Render recomputes the requested page from the store, clamping the page
// number into [1, totalPages], and remembers {view, page} for the user. An
// empty projection clears the stored session since there is nothing to
// refresh back to.
func (p *Pagination) Render(ctx context.Context, userID int64, v store.View, pageNum int) (*Page, error) {
	tracks, err := p.store.Query(ctx, v)
	if nil != err {
		return nil, err
	}

	if len(tracks) == 0 {
		p.mu.Lock()
		delete(p.sessions, userID)
		p.mu.Unlock()
		return &Page{View: v, Num: 1, Total: 0, Tracks: nil, HasPrev: false, HasNext: false}, nil
	}

	total := mathutil.CeilInts(len(tracks), PageSize)
	pageNum = min(max(pageNum, 1), total)

	page := &Page{
		View:    v,
		Num:     pageNum,
		Total:   total,
		Tracks:  nil,
		HasPrev: pageNum > 1,
		HasNext: pageNum < total,
	}
	for i, chunk := range iterutil.WithIndex(slices.Chunk(tracks, PageSize)) {
		if i == pageNum-1 {
			page.Tracks = chunk
			break
		}
	}

	p.mu.Lock()
	p.sessions[userID] = paginationState{view: v, page: pageNum}
	p.mu.Unlock()
	return page, nil
}

// Refresh re-renders the user's last {view, page}. Without a stored session
// it is a no-op and returns nil.
func (p *Pagination) Refresh(ctx context.Context, userID int64) (*Page, error) {
	p.mu.Lock()
	state, ok := p.sessions[userID]
	p.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return p.Render(ctx, userID, state.view, state.page)
}
