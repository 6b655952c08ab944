package tgbot

import (
	"context"
	"errors"
	"strings"

	"github.com/gotd/td/tg"

	"github.com/xeptore/tgjam/engine"
	"github.com/xeptore/tgjam/errutil"
	"github.com/xeptore/tgjam/log"
	"github.com/xeptore/tgjam/session"
	"github.com/xeptore/tgjam/store"
	"github.com/xeptore/tgjam/tgutil"
	"github.com/xeptore/tgjam/track"
)

// cachePeers harvests input peers from update entities so later raw calls can
// address these chats without a resolve round-trip.
func (b *Bot) cachePeers(e tg.Entities) {
	for id, u := range e.Users {
		b.cache.Peers.Set(id, u.AsInputPeer())
	}
	for id := range e.Chats {
		b.cache.Peers.Set(id, &tg.InputPeerChat{ChatID: id})
	}
	for id, c := range e.Channels {
		b.cache.Peers.Set(id, c.AsInputPeer())
	}
}

func (b *Bot) OnNewMessage(ctx context.Context, e tg.Entities, update *tg.UpdateNewMessage) error {
	msg, ok := update.Message.(*tg.Message)
	if !ok {
		return nil
	}
	return b.handleMessage(ctx, e, msg)
}

func (b *Bot) OnNewChannelMessage(ctx context.Context, e tg.Entities, update *tg.UpdateNewChannelMessage) error {
	msg, ok := update.Message.(*tg.Message)
	if !ok {
		return nil
	}
	return b.handleMessage(ctx, e, msg)
}

func (b *Bot) handleMessage(ctx context.Context, e tg.Entities, msg *tg.Message) error {
	defer func() {
		if v := recover(); nil != v {
			b.logger.Error().Func(log.Panic(v)).Msg("Recovered from panicked message handler")
		}
	}()

	if msg.Out {
		return nil
	}

	b.cachePeers(e)

	chatID, ok := tgutil.PeerID(msg.PeerID)
	if !ok {
		return nil
	}
	if b.targetChatID != 0 && chatID != b.targetChatID {
		return nil
	}

	userID, ok := senderID(msg)
	if !ok {
		return nil
	}

	if src, title, ok := audioSource(msg); ok {
		b.handleUpload(ctx, chatID, userID, msg.ID, src, title)
		return nil
	}

	switch text := strings.TrimSpace(msg.Message); {
	case text == "/start" || text == "/menu":
		if _, err := b.sendText(ctx, chatID, "Pick a playlist view:", menuMarkup()); nil != err {
			b.logFailure(ctx, err, "Failed to send menu")
		}
	default:
		if v, ok := viewFromLabel(text, userID); ok {
			b.handleListRequest(ctx, chatID, userID, v)
		}
	}
	return nil
}

// senderID resolves the author of a message, falling back to the peer for
// private chats where FromID is unset.
func senderID(msg *tg.Message) (int64, bool) {
	if from, ok := msg.GetFromID(); ok {
		return tgutil.PeerID(from)
	}
	if u, ok := msg.PeerID.(*tg.PeerUser); ok {
		return u.UserID, true
	}
	return 0, false
}

// audioSource extracts the document reference and a display title from an
// audio upload. Voice notes and non-audio documents are not tracks.
func audioSource(msg *tg.Message) (track.Source, string, bool) {
	//nolint:exhaustruct
	zero := track.Source{}

	media, ok := msg.Media.(*tg.MessageMediaDocument)
	if !ok {
		return zero, "", false
	}
	doc, ok := media.Document.AsNotEmpty()
	if !ok {
		return zero, "", false
	}

	var isAudio bool
	var title, performer, filename string
	for _, attr := range doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeAudio:
			if a.Voice {
				return zero, "", false
			}
			isAudio = true
			title = a.Title
			performer = a.Performer
		case *tg.DocumentAttributeFilename:
			filename = a.FileName
		}
	}
	if !isAudio && !strings.HasPrefix(doc.MimeType, "audio/") {
		return zero, "", false
	}

	display := title
	if performer != "" && title != "" {
		display = performer + " - " + title
	}
	if display == "" {
		display = filename
	}

	src := track.Source{DocumentID: doc.ID, AccessHash: doc.AccessHash, FileReference: doc.FileReference}
	return src, track.SanitizeTitle(display), true
}

func (b *Bot) handleUpload(ctx context.Context, chatID int64, userID int64, msgID int, src track.Source, title string) {
	echo := track.MessageRef{ChatID: chatID, MsgID: msgID, Role: track.RoleUploadEcho}
	if _, err := b.eng.Upload(ctx, src, title, userID, chatID, &echo); nil != err {
		switch {
		case errutil.IsContext(ctx):
		case errors.Is(err, store.ErrDuplicateTrack):
			if _, err := b.sendText(ctx, chatID, "This track is already in the playlist.", nil); nil != err {
				b.logFailure(ctx, err, "Failed to send duplicate track notice")
			}
		default:
			b.logFailure(ctx, err, "Failed to admit uploaded track")
		}
	}
}

func (b *Bot) handleListRequest(ctx context.Context, chatID int64, userID int64, v store.View) {
	page, err := b.eng.Pages().Render(ctx, userID, v, 1)
	if nil != err {
		b.logFailure(ctx, err, "Failed to render list page")
		return
	}
	b.showPage(ctx, chatID, userID, page, false)
}

// showPage puts the rendered page on screen, editing the user's previous page
// message in place when one is known. inPlace forces the edit path and never
// falls back to a fresh send, used when refreshing after a mutation.
func (b *Bot) showPage(ctx context.Context, chatID int64, userID int64, page *session.Page, inPlace bool) {
	text := pageText(page)
	mk := pageMarkup(page, b.cfg.IsAdmin(userID))

	if m, ok := b.pageMsgs.get(userID); ok {
		err := b.editMessage(ctx, m.ChatID, m.MsgID, text, mk)
		switch {
		case nil == err:
			return
		case errutil.IsContext(ctx):
			return
		case errors.Is(err, engine.ErrViewStale):
			b.pageMsgs.drop(userID)
		default:
			b.logFailure(ctx, err, "Failed to edit list page message")
			return
		}
	}
	if inPlace {
		return
	}

	id, err := b.sendText(ctx, chatID, text, mk)
	if nil != err {
		b.logFailure(ctx, err, "Failed to send list page message")
		return
	}
	b.pageMsgs.set(userID, pageMsg{ChatID: chatID, MsgID: id})
}

// refreshPage re-renders the user's last list view after a mutation changed
// what it shows. Without a stored pagination session it is a no-op.
func (b *Bot) refreshPage(ctx context.Context, chatID int64, userID int64) {
	page, err := b.eng.Pages().Refresh(ctx, userID)
	if nil != err {
		b.logFailure(ctx, err, "Failed to refresh list page")
		return
	}
	if nil == page {
		return
	}
	b.showPage(ctx, chatID, userID, page, true)
}

func (b *Bot) OnBotCallbackQuery(ctx context.Context, e tg.Entities, update *tg.UpdateBotCallbackQuery) error {
	defer func() {
		if v := recover(); nil != v {
			b.logger.Error().Func(log.Panic(v)).Msg("Recovered from panicked callback handler")
		}
	}()

	b.cachePeers(e)

	data, ok := update.GetData()
	if !ok {
		return nil
	}
	payload, ok := DecodePayload(data)
	if !ok {
		b.answerCallback(ctx, update.QueryID, "")
		return nil
	}

	chatID, ok := tgutil.PeerID(update.Peer)
	if !ok {
		b.answerCallback(ctx, update.QueryID, "")
		return nil
	}
	userID := update.UserID

	switch payload.Action {
	case ActionLike:
		b.handleLike(ctx, chatID, userID, update.QueryID, payload.TrackID)
	case ActionSetType:
		b.handleSetType(ctx, update.QueryID, payload.TrackID, payload.Arg)
	case ActionPlay:
		b.handlePlay(ctx, chatID, userID, update.QueryID, payload.TrackID)
	case ActionPage:
		b.handlePageNav(ctx, chatID, userID, update.QueryID, update.MsgID, payload.Arg)
	case ActionDelete:
		b.handleDelete(ctx, chatID, userID, update.QueryID, payload.TrackID)
	default:
		b.answerCallback(ctx, update.QueryID, "")
	}
	return nil
}

func (b *Bot) handleLike(ctx context.Context, chatID int64, userID int64, queryID int64, trackID string) {
	_, liked, err := b.eng.ToggleLike(ctx, trackID, userID)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
		case errors.Is(err, store.ErrNotFound):
			b.answerCallback(ctx, queryID, "This track is gone.")
		default:
			b.logFailure(ctx, err, "Failed to toggle like")
			b.answerCallback(ctx, queryID, "Something went wrong. Try again.")
		}
		return
	}
	if liked {
		b.answerCallback(ctx, queryID, "Liked ❤")
	} else {
		b.answerCallback(ctx, queryID, "Like removed")
	}
	b.refreshPage(ctx, chatID, userID)
}

func (b *Bot) handleSetType(ctx context.Context, queryID int64, trackID string, arg string) {
	kind := track.Kind(arg)
	if kind != track.KindOriginal && kind != track.KindCover {
		b.answerCallback(ctx, queryID, "")
		return
	}

	t, err := b.eng.SetType(ctx, trackID, kind)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
		case errors.Is(err, store.ErrNotFound):
			b.answerCallback(ctx, queryID, "This track is gone.")
		default:
			b.logFailure(ctx, err, "Failed to set track type")
			b.answerCallback(ctx, queryID, "Something went wrong. Try again.")
		}
		return
	}
	b.answerCallback(ctx, queryID, "Marked as "+string(t.Kind)+".")
}

func (b *Bot) handlePlay(ctx context.Context, chatID int64, userID int64, queryID int64, trackID string) {
	if err := b.eng.Play(ctx, chatID, userID, trackID); nil != err {
		switch {
		case errutil.IsContext(ctx):
		case errors.Is(err, store.ErrNotFound):
			b.answerCallback(ctx, queryID, "This track is gone.")
		case errors.Is(err, engine.ErrMediaUnresolvable):
			b.answerCallback(ctx, queryID, "This track is no longer available and was removed.")
			b.refreshPage(ctx, chatID, userID)
		default:
			b.logFailure(ctx, err, "Failed to start playback")
			b.answerCallback(ctx, queryID, "Something went wrong. Try again.")
		}
		return
	}
	b.answerCallback(ctx, queryID, "")
}

func (b *Bot) handlePageNav(ctx context.Context, chatID int64, userID int64, queryID int64, msgID int, arg string) {
	v, pageNum, ok := parsePageArg(arg, userID)
	if !ok {
		b.answerCallback(ctx, queryID, "")
		return
	}

	page, err := b.eng.Pages().Render(ctx, userID, v, pageNum)
	if nil != err {
		b.logFailure(ctx, err, "Failed to render list page")
		b.answerCallback(ctx, queryID, "Something went wrong. Try again.")
		return
	}

	// Navigation always edits the message the button lives on.
	b.pageMsgs.set(userID, pageMsg{ChatID: chatID, MsgID: msgID})

	b.showPage(ctx, chatID, userID, page, true)
	b.answerCallback(ctx, queryID, "")
}

func (b *Bot) handleDelete(ctx context.Context, chatID int64, userID int64, queryID int64, trackID string) {
	if err := b.eng.Delete(ctx, trackID, userID); nil != err {
		switch target, _ := errutil.IsAny(err, engine.ErrNotAuthorized, store.ErrNotFound); {
		case errutil.IsContext(ctx):
		case errors.Is(target, engine.ErrNotAuthorized):
			b.answerCallback(ctx, queryID, "Only admins can delete tracks.")
		case errors.Is(target, store.ErrNotFound):
			b.answerCallback(ctx, queryID, "This track is gone.")
		default:
			b.logFailure(ctx, err, "Failed to delete track")
			b.answerCallback(ctx, queryID, "Something went wrong. Try again.")
		}
		return
	}
	b.answerCallback(ctx, queryID, "Track deleted.")
	b.refreshPage(ctx, chatID, userID)
}

func (b *Bot) logFailure(ctx context.Context, err error, msg string) {
	if errutil.IsContext(ctx) {
		return
	}
	b.logger.Error().Func(log.Flaw(err)).Msg(msg)
}
