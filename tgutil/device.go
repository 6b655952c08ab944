package tgutil

import (
	"github.com/gotd/td/telegram"

	"github.com/xeptore/tgjam/constant"
)

//nolint:exhaustruct
var Device = telegram.DeviceConfig{
	DeviceModel:    "tgjam",
	SystemVersion:  "server",
	AppVersion:     constant.Version,
	SystemLangCode: "en",
	LangPack:       "",
	LangCode:       "en",
}
