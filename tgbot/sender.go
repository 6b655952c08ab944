package tgbot

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/tgjam/config"
	"github.com/xeptore/tgjam/engine"
	"github.com/xeptore/tgjam/errutil"
	"github.com/xeptore/tgjam/sliceutil"
	"github.com/xeptore/tgjam/track"
)

// Telegram reports these when a message we still hold a ref to no longer
// exists or can no longer be touched.
func isStaleMessageErr(err error) bool {
	return tgerr.Is(err, "MESSAGE_ID_INVALID", "MSG_ID_INVALID", "MESSAGE_DELETE_FORBIDDEN", "MESSAGE_EDIT_TIME_EXPIRED")
}

func isUnresolvableMediaErr(err error) bool {
	return tgerr.Is(err, "FILE_REFERENCE_EXPIRED", "FILE_REFERENCE_INVALID", "FILE_ID_INVALID", "MEDIA_EMPTY")
}

func (b *Bot) inputPeer(chatID int64) (tg.InputPeerClass, error) {
	if p, ok := b.cache.Peers.Get(chatID); ok {
		return p, nil
	}
	return nil, flaw.From(fmt.Errorf("no cached input peer for chat %d", chatID))
}

// sentMessageID digs the id of the freshly sent message out of the updates
// the send call returned.
func sentMessageID(u tg.UpdatesClass) (int, bool) {
	scan := func(updates []tg.UpdateClass) (int, bool) {
		for _, upd := range updates {
			switch x := upd.(type) {
			case *tg.UpdateMessageID:
				return x.ID, true
			case *tg.UpdateNewMessage:
				if m, ok := x.Message.(*tg.Message); ok {
					return m.ID, true
				}
			case *tg.UpdateNewChannelMessage:
				if m, ok := x.Message.(*tg.Message); ok {
					return m.ID, true
				}
			}
		}
		return 0, false
	}

	switch v := u.(type) {
	case *tg.UpdateShortSentMessage:
		return v.ID, true
	case *tg.Updates:
		return scan(v.Updates)
	case *tg.UpdatesCombined:
		return scan(v.Updates)
	default:
		return 0, false
	}
}

func (b *Bot) sendText(ctx context.Context, chatID int64, text string, mk tg.ReplyMarkupClass) (int, error) {
	peer, err := b.inputPeer(chatID)
	if nil != err {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, config.SendMessageTimeout)
	defer cancel()

	builder := &b.sender.To(peer).Builder
	if nil != mk {
		builder = builder.Markup(mk)
	}

	var updates tg.UpdatesClass
	sendErr := b.wq.SendSingle(ctx, func() error {
		u, err := builder.Text(ctx, text)
		if nil != err {
			return err
		}
		updates = u
		return nil
	})
	if nil != sendErr {
		if errutil.IsContext(ctx) {
			return 0, ctx.Err()
		}
		flawP := flaw.P{"chat_id": chatID, "err_debug_tree": errutil.Tree(sendErr).FlawP()}
		return 0, flaw.From(fmt.Errorf("failed to send message: %v", sendErr)).Append(flawP)
	}

	id, ok := sentMessageID(updates)
	if !ok {
		flawP := flaw.P{"chat_id": chatID, "updates_type": fmt.Sprintf("%T", updates)}
		return 0, flaw.From(fmt.Errorf("could not extract sent message id from %T", updates)).Append(flawP)
	}
	return id, nil
}

func (b *Bot) editMessage(ctx context.Context, chatID int64, msgID int, text string, mk tg.ReplyMarkupClass) error {
	peer, err := b.inputPeer(chatID)
	if nil != err {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, config.EditMessageTimeout)
	defer cancel()

	//nolint:exhaustruct
	req := &tg.MessagesEditMessageRequest{Peer: peer, ID: msgID}
	req.SetMessage(text)
	if nil != mk {
		req.SetReplyMarkup(mk)
	}

	editErr := b.wq.SendSingle(ctx, func() error {
		_, err := b.api.MessagesEditMessage(ctx, req)
		return err
	})
	if nil != editErr {
		switch {
		case errutil.IsContext(ctx):
			return ctx.Err()
		case tgerr.Is(editErr, "MESSAGE_NOT_MODIFIED"):
			return nil
		case isStaleMessageErr(editErr):
			return engine.ErrViewStale
		default:
			flawP := flaw.P{"chat_id": chatID, "msg_id": msgID, "err_debug_tree": errutil.Tree(editErr).FlawP()}
			return flaw.From(fmt.Errorf("failed to edit message: %v", editErr)).Append(flawP)
		}
	}
	return nil
}

func (b *Bot) SendSelector(ctx context.Context, chatID int64, t *track.Track) (track.MessageRef, error) {
	id, err := b.sendText(ctx, chatID, selectorText(t), selectorMarkup(t))
	if nil != err {
		return track.MessageRef{}, err //nolint:exhaustruct
	}
	return track.MessageRef{ChatID: chatID, MsgID: id, Role: track.RoleSelector}, nil
}

func (b *Bot) RetireSelector(ctx context.Context, ref track.MessageRef, t *track.Track) error {
	return b.editMessage(ctx, ref.ChatID, ref.MsgID, retiredSelectorText(t), &tg.ReplyInlineMarkup{Rows: nil})
}

func (b *Bot) SendLikeBar(ctx context.Context, chatID int64, t *track.Track) (track.MessageRef, error) {
	id, err := b.sendText(ctx, chatID, likeBarText(t), likeBarMarkup(t))
	if nil != err {
		return track.MessageRef{}, err //nolint:exhaustruct
	}
	return track.MessageRef{ChatID: chatID, MsgID: id, Role: track.RoleLikeBar}, nil
}

func (b *Bot) EditLikeBar(ctx context.Context, ref track.MessageRef, t *track.Track) error {
	return b.editMessage(ctx, ref.ChatID, ref.MsgID, likeBarText(t), likeBarMarkup(t))
}

// SendTrackMedia re-sends the stored media document as a fresh message.
func (b *Bot) SendTrackMedia(ctx context.Context, chatID int64, t *track.Track) (track.MessageRef, error) {
	//nolint:exhaustruct
	zero := track.MessageRef{}

	peer, err := b.inputPeer(chatID)
	if nil != err {
		return zero, err
	}

	ctx, cancel := context.WithTimeout(ctx, config.SendMessageTimeout)
	defer cancel()

	//nolint:exhaustruct
	req := &tg.MessagesSendMediaRequest{
		Peer:     peer,
		RandomID: rand.Int64(),
		Message:  "▶ " + t.Title,
		Media: &tg.InputMediaDocument{
			ID: &tg.InputDocument{
				ID:            t.Source.DocumentID,
				AccessHash:    t.Source.AccessHash,
				FileReference: t.Source.FileReference,
			},
		},
	}

	var updates tg.UpdatesClass
	sendErr := b.wq.SendSingle(ctx, func() error {
		u, err := b.api.MessagesSendMedia(ctx, req)
		if nil != err {
			return err
		}
		updates = u
		return nil
	})
	if nil != sendErr {
		switch {
		case errutil.IsContext(ctx):
			return zero, ctx.Err()
		case isUnresolvableMediaErr(sendErr):
			return zero, engine.ErrMediaUnresolvable
		default:
			flawP := flaw.P{"track": t.FlawP(), "err_debug_tree": errutil.Tree(sendErr).FlawP()}
			return zero, flaw.From(fmt.Errorf("failed to re-send track media: %v", sendErr)).Append(flawP)
		}
	}

	id, ok := sentMessageID(updates)
	if !ok {
		flawP := flaw.P{"track": t.FlawP(), "updates_type": fmt.Sprintf("%T", updates)}
		return zero, flaw.From(fmt.Errorf("could not extract sent media message id from %T", updates)).Append(flawP)
	}
	return track.MessageRef{ChatID: chatID, MsgID: id, Role: track.RoleUploadEcho}, nil
}

// DeleteMessages removes the referenced messages, chat by chat. Messages
// already gone do not fail the call.
func (b *Bot) DeleteMessages(ctx context.Context, refs []track.MessageRef) error {
	byChat := make(map[int64][]track.MessageRef, 1)
	for _, ref := range refs {
		byChat[ref.ChatID] = append(byChat[ref.ChatID], ref)
	}

	ctx, cancel := context.WithTimeout(ctx, config.DeleteMessagesTimeout)
	defer cancel()

	for chatID, chatRefs := range byChat {
		ids := sliceutil.Map(chatRefs, func(r track.MessageRef) int { return r.MsgID })
		peer, err := b.inputPeer(chatID)
		if nil != err {
			return err
		}

		delErr := b.wq.SendSingle(ctx, func() error {
			if channel, ok := peer.(*tg.InputPeerChannel); ok {
				//nolint:exhaustruct
				req := &tg.ChannelsDeleteMessagesRequest{
					Channel: &tg.InputChannel{ChannelID: channel.ChannelID, AccessHash: channel.AccessHash},
					ID:      ids,
				}
				_, err := b.api.ChannelsDeleteMessages(ctx, req)
				return err
			}
			//nolint:exhaustruct
			req := &tg.MessagesDeleteMessagesRequest{Revoke: true, ID: ids}
			_, err := b.api.MessagesDeleteMessages(ctx, req)
			return err
		})
		if nil != delErr {
			switch {
			case errutil.IsContext(ctx):
				return ctx.Err()
			case isStaleMessageErr(delErr):
				continue
			default:
				flawP := flaw.P{"chat_id": chatID, "msg_ids": ids, "err_debug_tree": errutil.Tree(delErr).FlawP()}
				return flaw.From(fmt.Errorf("failed to delete messages: %v", delErr)).Append(flawP)
			}
		}
	}
	return nil
}

func (b *Bot) answerCallback(ctx context.Context, queryID int64, text string) {
	ctx, cancel := context.WithTimeout(ctx, config.AnswerCallbackTimeout)
	defer cancel()

	//nolint:exhaustruct
	req := &tg.MessagesSetBotCallbackAnswerRequest{QueryID: queryID}
	if text != "" {
		req.SetMessage(text)
	}
	if _, err := b.api.MessagesSetBotCallbackAnswer(ctx, req); nil != err {
		if errutil.IsContext(ctx) {
			return
		}
		b.logger.Debug().Err(err).Int64("query_id", queryID).Msg("Failed to answer callback query")
	}
}
