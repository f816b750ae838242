package fake

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/BearBump/TripWatch/internal/integrations/gateway"
	"github.com/pkg/errors"
)

// FakeClient — локальная заглушка шлюза для демо и dev-окружения.
// Детерминированно по адресу: небольшая доля отправок "падает", чтобы
// аудит NotificationRecord показывал оба исхода.
type FakeClient struct{}

func New() *FakeClient { return &FakeClient{} }

func (f *FakeClient) Send(ctx context.Context, channel, to, body string) (gateway.SendResult, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(channel))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(to))
	v := h.Sum32()

	// ~10% адресов считаем недоставляемыми.
	if v%10 == 0 {
		return gateway.SendResult{}, errors.New("fake gateway: undeliverable recipient")
	}

	return gateway.SendResult{ProviderID: fmt.Sprintf("fake-%08x", v)}, nil
}
