package gateway

import "context"

// SendResult — ответ шлюза: provider id при успехе.
type SendResult struct {
	ProviderID string
}

// Client — внешний message gateway (SMS/email). Таймаут на один Send
// задаёт вызывающая сторона через ctx.
type Client interface {
	Send(ctx context.Context, channel, to, body string) (SendResult, error)
}
