package config

import "time"

var (
	SendMessageTimeout    = 10 * time.Second
	EditMessageTimeout    = 10 * time.Second
	DeleteMessagesTimeout = 10 * time.Second
	AnswerCallbackTimeout = 5 * time.Second
	StoreWriteTimeout     = 5 * time.Second
	FanOutTimeout         = 30 * time.Second
	HealthReadTimeout     = 5 * time.Second
)
