package tgutil

import (
	"github.com/gotd/td/tg"
)

// PeerID flattens a peer to the id the rest of the system addresses chats
// by.
func PeerID(p tg.PeerClass) (int64, bool) {
	switch v := p.(type) {
	case *tg.PeerUser:
		return v.UserID, true
	case *tg.PeerChat:
		return v.ChatID, true
	case *tg.PeerChannel:
		return v.ChannelID, true
	default:
		return 0, false
	}
}

// InputPeerID flattens an input peer to the id the rest of the system
// addresses chats by.
func InputPeerID(p tg.InputPeerClass) (int64, bool) {
	switch v := p.(type) {
	case *tg.InputPeerUser:
		return v.UserID, true
	case *tg.InputPeerChat:
		return v.ChatID, true
	case *tg.InputPeerChannel:
		return v.ChannelID, true
	default:
		return 0, false
	}
}

// InputPeerFromEntities rebuilds an input peer for p from the entities that
// accompanied an update.
func InputPeerFromEntities(e tg.Entities, p tg.PeerClass) (tg.InputPeerClass, bool) {
	switch v := p.(type) {
	case *tg.PeerUser:
		if u, ok := e.Users[v.UserID]; ok {
			return u.AsInputPeer(), true
		}
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: v.ChatID}, true
	case *tg.PeerChannel:
		if c, ok := e.Channels[v.ChannelID]; ok {
			return c.AsInputPeer(), true
		}
	}
	return nil, false
}
