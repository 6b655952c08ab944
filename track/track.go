package track

import (
	"maps"
	"slices"
	"time"

	"github.com/goccy/go-json"
	"github.com/xeptore/flaw/v8"
)

type Kind string

const (
	KindOriginal Kind = "original"
	KindCover    Kind = "cover"
)

// Source references the media blob behind a track. DocumentID is stable for
// the lifetime of the document and is the only field duplicate detection may
// rely on. AccessHash and FileReference are transfer handles: they churn
// across sessions and expire, respectively.
type Source struct {
	DocumentID    int64  `json:"document_id"`
	AccessHash    int64  `json:"access_hash"`
	FileReference []byte `json:"file_reference"`
}

type Role string

const (
	RoleUploadEcho Role = "upload_echo"
	RoleSelector   Role = "selector"
	RoleLikeBar    Role = "like_bar"
)

// MessageRef addresses a single live chat message rendering some aspect of a
// track. Refs are role-tagged, never identified by position in the view list.
type MessageRef struct {
	ChatID int64 `json:"chat_id"`
	MsgID  int   `json:"msg_id"`
	Role   Role  `json:"role"`
}

func (r MessageRef) FlawP() flaw.P {
	return flaw.P{
		"chat_id": r.ChatID,
		"msg_id":  r.MsgID,
		"role":    string(r.Role),
	}
}

type Track struct {
	ID        string       `json:"id"`
	Source    Source       `json:"source"`
	Title     string       `json:"title"`
	OwnerID   int64        `json:"owner_id"`
	Kind      Kind         `json:"kind"`
	TypeSet   bool         `json:"type_set"`
	Voters    Voters       `json:"voters"`
	CreatedAt time.Time    `json:"created_at"`
	Views     []MessageRef `json:"views"`
}

func New(src Source, title string, ownerID int64) *Track {
	return &Track{
		ID:        NewID(src.DocumentID),
		Source:    src,
		Title:     SanitizeTitle(title),
		OwnerID:   ownerID,
		Kind:      KindOriginal,
		TypeSet:   false,
		Voters:    make(Voters),
		CreatedAt: time.Now().UTC(),
		Views:     nil,
	}
}

func (t *Track) Likes() int {
	return len(t.Voters)
}

func (t *Track) LikedBy(userID int64) bool {
	_, ok := t.Voters[userID]
	return ok
}

// ToggleLike flips the user's membership in the voter set and reports whether
// the user likes the track afterwards.
func (t *Track) ToggleLike(userID int64) bool {
	if _, ok := t.Voters[userID]; ok {
		delete(t.Voters, userID)
		return false
	}
	t.Voters[userID] = struct{}{}
	return true
}

func (t *Track) ViewsByRole(role Role) []MessageRef {
	var out []MessageRef
	for _, v := range t.Views {
		if v.Role == role {
			out = append(out, v)
		}
	}
	return out
}

func (t *Track) FlawP() flaw.P {
	return flaw.P{
		"id":          t.ID,
		"document_id": t.Source.DocumentID,
		"title":       t.Title,
		"owner_id":    t.OwnerID,
		"kind":        string(t.Kind),
		"type_set":    t.TypeSet,
		"likes":       t.Likes(),
		"created_at":  t.CreatedAt,
		"num_views":   len(t.Views),
	}
}

// Voters is the set of users currently liking a track. Serialized as a sorted
// id list so snapshots are stable across writes.
type Voters map[int64]struct{}

func (v Voters) MarshalJSON() ([]byte, error) {
	return json.Marshal(slices.Sorted(maps.Keys(v)))
}

func (v *Voters) UnmarshalJSON(b []byte) error {
	var ids []int64
	if err := json.Unmarshal(b, &ids); nil != err {
		return err
	}
	*v = make(Voters, len(ids))
	for _, id := range ids {
		(*v)[id] = struct{}{}
	}
	return nil
}
