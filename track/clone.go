package track

import (
	"maps"
	"slices"
)

// Clone returns a deep copy. Stores hand out clones so that concurrent
// readers never alias the copy a mutation is working on.
func (t *Track) Clone() *Track {
	out := *t
	out.Source.FileReference = slices.Clone(t.Source.FileReference)
	out.Voters = maps.Clone(t.Voters)
	out.Views = slices.Clone(t.Views)
	return &out
}
