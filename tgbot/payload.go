package tgbot

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/xeptore/flaw/v8"
)

// Callback payloads ride in Telegram's 64-byte callback data, so both the
// action tag and the field keys stay single characters.
type Action string

const (
	ActionLike    Action = "l"
	ActionSetType Action = "t"
	ActionPlay    Action = "p"
	ActionPage    Action = "g"
	ActionDelete  Action = "d"
)

type Payload struct {
	Action  Action `json:"a"`
	TrackID string `json:"t,omitempty"`
	Arg     string `json:"v,omitempty"`
}

func (p Payload) Encode() []byte {
	b, err := json.Marshal(p)
	if nil != err {
		flawP := flaw.P{"action": string(p.Action), "track_id": p.TrackID, "arg": p.Arg}
		panic(flaw.From(fmt.Errorf("failed to marshal callback payload: %v", err)).Append(flawP))
	}
	return b
}

// DecodePayload probes the raw callback bytes leniently: foreign or
// malformed payloads (from older bot revisions, or other bots in the chat)
// are reported as not-ours rather than as errors.
func DecodePayload(data []byte) (Payload, bool) {
	if !gjson.ValidBytes(data) {
		return Payload{}, false
	}
	action := gjson.GetBytes(data, "a")
	if action.Type != gjson.String || action.Str == "" {
		return Payload{}, false
	}
	return Payload{
		Action:  Action(action.Str),
		TrackID: gjson.GetBytes(data, "t").String(),
		Arg:     gjson.GetBytes(data, "v").String(),
	}, true
}
