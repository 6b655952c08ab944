// Package tgbot adapts the playlist engine to Telegram: it renders tracks,
// selectors, like bars, and list pages as messages, and translates incoming
// updates into engine operations.
package tgbot

import (
	"fmt"
	"sync"

	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"github.com/xeptore/tgjam/cache"
	"github.com/xeptore/tgjam/config"
	"github.com/xeptore/tgjam/engine"
	"github.com/xeptore/tgjam/tgutil"
	"github.com/xeptore/tgjam/waitqueue"
)

// pageMsg locates a user's list-page message. It is bot bookkeeping, not a
// track view, so it carries no view role.
type pageMsg struct {
	ChatID int64
	MsgID  int
}

type pageTracker struct {
	mu     sync.Mutex
	byUser map[int64]pageMsg
}

func newPageTracker() *pageTracker {
	return &pageTracker{mu: sync.Mutex{}, byUser: make(map[int64]pageMsg)}
}

func (p *pageTracker) set(userID int64, m pageMsg) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byUser[userID] = m
}

func (p *pageTracker) get(userID int64) (pageMsg, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.byUser[userID]
	return m, ok
}

func (p *pageTracker) drop(userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.byUser, userID)
}

type Bot struct {
	api          *tg.Client
	sender       *message.Sender
	wq           *waitqueue.WaitQueue
	cache        *cache.Cache
	cfg          *config.Config
	eng          *engine.Engine
	targetChatID int64
	logger       zerolog.Logger
	pageMsgs     *pageTracker
}

func New(
	api *tg.Client,
	sender *message.Sender,
	wq *waitqueue.WaitQueue,
	cache *cache.Cache,
	cfg *config.Config,
	logger zerolog.Logger,
) *Bot {
	return &Bot{
		api:          api,
		sender:       sender,
		wq:           wq,
		cache:        cache,
		cfg:          cfg,
		eng:          nil,
		targetChatID: 0,
		logger:       logger.With().Str("module", "tgbot").Logger(),
		pageMsgs:     newPageTracker(),
	}
}

// SetTarget pins the community chat the bot operates in. The resolved input
// peer is cached so raw calls can address it immediately.
func (b *Bot) SetTarget(peer tg.InputPeerClass) error {
	id, ok := tgutil.InputPeerID(peer)
	if !ok {
		return fmt.Errorf("cannot derive chat id from input peer of type %T", peer)
	}
	b.cache.Peers.Set(id, peer)
	b.targetChatID = id
	return nil
}

func (b *Bot) TargetChatID() int64 {
	return b.targetChatID
}

// AttachEngine breaks the construction cycle: the engine needs the bot as its
// Messenger, and the bot needs the engine to dispatch updates into.
func (b *Bot) AttachEngine(eng *engine.Engine) {
	b.eng = eng
}

func (b *Bot) Register(d tg.UpdateDispatcher) {
	d.OnNewMessage(b.OnNewMessage)
	d.OnNewChannelMessage(b.OnNewChannelMessage)
	d.OnBotCallbackQuery(b.OnBotCallbackQuery)
}
