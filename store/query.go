package store

import (
	"cmp"
	"slices"
	"time"

	"github.com/xeptore/tgjam/track"
)

const weekWindow = 7 * 24 * time.Hour

func matches(v View, t *track.Track, now time.Time) bool {
	switch v.Key {
	case ViewAll:
		return true
	case ViewMine:
		return t.OwnerID == v.OwnerID
	case ViewOriginals:
		return t.Kind == track.KindOriginal
	case ViewCovers:
		return t.Kind == track.KindCover
	case ViewTopAllTime:
		return true
	case ViewTopWeek:
		return now.Sub(t.CreatedAt) <= weekWindow
	default:
		return false
	}
}

// sortTracks orders the projection deterministically. Top views sort by
// descending like count with descending creation time breaking ties; the
// rest are newest first. The sort is stable so equal inputs keep a fixed
// relative order across repeated queries.
func sortTracks(v View, ts []*track.Track) {
	switch v.Key {
	case ViewTopAllTime, ViewTopWeek:
		slices.SortStableFunc(ts, func(a, b *track.Track) int {
			if c := cmp.Compare(b.Likes(), a.Likes()); c != 0 {
				return c
			}
			return b.CreatedAt.Compare(a.CreatedAt)
		})
	default:
		slices.SortStableFunc(ts, func(a, b *track.Track) int {
			return b.CreatedAt.Compare(a.CreatedAt)
		})
	}
}
