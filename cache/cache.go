package cache

import (
	"strconv"
	"sync"
	"time"

	"github.com/gotd/td/tg"
	"github.com/karlseguin/ccache/v3"
)

var DefaultPeerTTL = 24 * time.Hour

type Cache struct {
	Peers PeersCache
}

func New() *Cache {
	peersCache := ccache.New(
		ccache.Configure[tg.InputPeerClass]().
			MaxSize(1000).
			GetsPerPromote(3).
			ItemsToPrune(1),
	)

	return &Cache{
		Peers: PeersCache{
			c:   peersCache,
			mux: sync.Mutex{},
		},
	}
}

// PeersCache keeps input peers resolved from update entities so raw API
// calls can address chats without a resolve round-trip.
type PeersCache struct {
	c   *ccache.Cache[tg.InputPeerClass]
	mux sync.Mutex
}

func (c *PeersCache) Set(chatID int64, p tg.InputPeerClass) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.c.Set(strconv.FormatInt(chatID, 10), p, DefaultPeerTTL)
}

func (c *PeersCache) Get(chatID int64) (tg.InputPeerClass, bool) {
	c.mux.Lock()
	defer c.mux.Unlock()
	item := c.c.Get(strconv.FormatInt(chatID, 10))
	if item == nil || item.Expired() {
		return nil, false
	}
	return item.Value(), true
}
