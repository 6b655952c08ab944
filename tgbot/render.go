package tgbot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gotd/td/telegram/message/markup"
	"github.com/gotd/td/tg"
	"github.com/samber/lo"

	"github.com/xeptore/tgjam/session"
	"github.com/xeptore/tgjam/store"
	"github.com/xeptore/tgjam/track"
)

const (
	labelAll        = "All"
	labelMine       = "Mine"
	labelOriginals  = "Originals"
	labelCovers     = "Covers"
	labelTopAllTime = "Top All Time"
	labelTopWeek    = "Top This Week"
)

var menuLabels = []string{labelAll, labelMine, labelOriginals, labelCovers, labelTopAllTime, labelTopWeek}

func viewFromLabel(label string, userID int64) (store.View, bool) {
	switch label {
	case labelAll:
		return store.View{Key: store.ViewAll, OwnerID: 0}, true
	case labelMine:
		return store.Mine(userID), true
	case labelOriginals:
		return store.View{Key: store.ViewOriginals, OwnerID: 0}, true
	case labelCovers:
		return store.View{Key: store.ViewCovers, OwnerID: 0}, true
	case labelTopAllTime:
		return store.View{Key: store.ViewTopAllTime, OwnerID: 0}, true
	case labelTopWeek:
		return store.View{Key: store.ViewTopWeek, OwnerID: 0}, true
	default:
		return store.View{}, false //nolint:exhaustruct
	}
}

func kindLabel(t *track.Track) string {
	if !t.TypeSet {
		return "unclassified"
	}
	return string(t.Kind)
}

func likeBarText(t *track.Track) string {
	return fmt.Sprintf("🎵 %s\n%s · ❤ %d", t.Title, kindLabel(t), t.Likes())
}

func likeBarMarkup(t *track.Track) tg.ReplyMarkupClass {
	return markup.InlineRow(
		markup.Callback(fmt.Sprintf("❤ %d", t.Likes()), Payload{Action: ActionLike, TrackID: t.ID, Arg: ""}.Encode()),
		markup.Callback("▶ Play", Payload{Action: ActionPlay, TrackID: t.ID, Arg: ""}.Encode()),
	)
}

func selectorText(t *track.Track) string {
	return fmt.Sprintf("Is %q an original or a cover?", t.Title)
}

func selectorMarkup(t *track.Track) tg.ReplyMarkupClass {
	return markup.InlineRow(
		markup.Callback("Original", Payload{Action: ActionSetType, TrackID: t.ID, Arg: string(track.KindOriginal)}.Encode()),
		markup.Callback("Cover", Payload{Action: ActionSetType, TrackID: t.ID, Arg: string(track.KindCover)}.Encode()),
	)
}

func retiredSelectorText(t *track.Track) string {
	return fmt.Sprintf("%q marked as %s.", t.Title, string(t.Kind))
}

func viewTitle(v store.View) string {
	switch v.Key {
	case store.ViewAll:
		return labelAll
	case store.ViewMine:
		return labelMine
	case store.ViewOriginals:
		return labelOriginals
	case store.ViewCovers:
		return labelCovers
	case store.ViewTopAllTime:
		return labelTopAllTime
	case store.ViewTopWeek:
		return labelTopWeek
	default:
		return string(v.Key)
	}
}

const emptyPageText = "Nothing here yet."

func pageText(p *session.Page) string {
	if p.Empty() {
		return emptyPageText
	}
	lines := lo.Map(p.Tracks, func(t *track.Track, i int) string {
		n := (p.Num-1)*session.PageSize + i + 1
		return fmt.Sprintf("%d. %s — %s · ❤ %d", n, t.Title, kindLabel(t), t.Likes())
	})
	header := fmt.Sprintf("%s — page %d/%d", viewTitle(p.View), p.Num, p.Total)
	return header + "\n\n" + strings.Join(lines, "\n")
}

// pageMarkup lays out per-entry play buttons (and delete buttons for
// admins), then the navigation row gated on page boundaries.
func pageMarkup(p *session.Page, isAdmin bool) tg.ReplyMarkupClass {
	if p.Empty() {
		return nil
	}

	var rows []tg.KeyboardButtonRow
	rows = append(rows, buttonRows("▶", ActionPlay, p.Tracks)...)
	if isAdmin {
		rows = append(rows, buttonRows("🗑", ActionDelete, p.Tracks)...)
	}

	var nav []tg.KeyboardButtonClass
	if p.HasPrev {
		data := Payload{Action: ActionPage, TrackID: "", Arg: pageArg(p.View, p.Num-1)}.Encode()
		nav = append(nav, markup.Callback("⬅ Prev", data))
	}
	if p.HasNext {
		data := Payload{Action: ActionPage, TrackID: "", Arg: pageArg(p.View, p.Num+1)}.Encode()
		nav = append(nav, markup.Callback("Next ➡", data))
	}
	if len(nav) > 0 {
		rows = append(rows, tg.KeyboardButtonRow{Buttons: nav})
	}
	return markup.InlineKeyboard(rows...)
}

func buttonRows(icon string, action Action, tracks []*track.Track) []tg.KeyboardButtonRow {
	const perRow = 5
	var rows []tg.KeyboardButtonRow
	for start := 0; start < len(tracks); start += perRow {
		end := min(start+perRow, len(tracks))
		buttons := make([]tg.KeyboardButtonClass, 0, end-start)
		for i := start; i < end; i++ {
			data := Payload{Action: action, TrackID: tracks[i].ID, Arg: ""}.Encode()
			buttons = append(buttons, markup.Callback(fmt.Sprintf("%s %d", icon, i+1), data))
		}
		rows = append(rows, tg.KeyboardButtonRow{Buttons: buttons})
	}
	return rows
}

func pageArg(v store.View, page int) string {
	return string(v.Key) + ":" + strconv.Itoa(page)
}

func parsePageArg(arg string, userID int64) (store.View, int, bool) {
	key, pageStr, found := strings.Cut(arg, ":")
	if !found {
		return store.View{}, 0, false //nolint:exhaustruct
	}
	page, err := strconv.Atoi(pageStr)
	if nil != err {
		return store.View{}, 0, false //nolint:exhaustruct
	}
	v := store.View{Key: store.ViewKey(key), OwnerID: 0}
	if v.Key == store.ViewMine {
		v.OwnerID = userID
	}
	return v, page, true
}

func menuMarkup() tg.ReplyMarkupClass {
	rows := make([]tg.KeyboardButtonRow, 0, len(menuLabels)/2)
	for start := 0; start < len(menuLabels); start += 2 {
		end := min(start+2, len(menuLabels))
		buttons := make([]tg.KeyboardButtonClass, 0, end-start)
		for _, label := range menuLabels[start:end] {
			buttons = append(buttons, &tg.KeyboardButton{Text: label})
		}
		rows = append(rows, tg.KeyboardButtonRow{Buttons: buttons})
	}
	//nolint:exhaustruct
	return &tg.ReplyKeyboardMarkup{Rows: rows, Resize: true}
}
