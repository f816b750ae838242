package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/TripWatch/internal/broker/messages"
	"github.com/BearBump/TripWatch/internal/integrations/gateway"
	"github.com/BearBump/TripWatch/internal/metrics"
	"github.com/BearBump/TripWatch/internal/models"
	"github.com/BearBump/TripWatch/internal/status"
)

type Records interface {
	CreatePendingNotification(ctx context.Context, n models.NotificationRecord) (uint64, error)
	FinishNotification(ctx context.Context, id uint64, terminal string, providerID, errorMessage *string) error
}

// Dispatcher разворачивает одно Kafka-сообщение в отправки по получателям.
// Каждая отправка сначала фиксируется как PENDING: процесс, упавший между
// записью и шлюзом, оставляет честный след в аудите.
type Dispatcher struct {
	records   Records
	gw        gateway.Client
	collector *metrics.Collector
	log       *slog.Logger

	concurrency int
	sendTimeout time.Duration

	startedAtUnixNano int64
	totalMessages     atomic.Int64
	totalSent         atomic.Int64
	totalFailed       atomic.Int64
	inFlight          atomic.Int64
	lastErrorMu       sync.Mutex
	lastError         string
}

func New(records Records, gw gateway.Client, collector *metrics.Collector, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		records:           records,
		gw:                gw,
		collector:         collector,
		log:               log,
		concurrency:       8,
		sendTimeout:       10 * time.Second,
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (d *Dispatcher) WithSettings(concurrency int, sendTimeout time.Duration) *Dispatcher {
	if concurrency > 0 {
		d.concurrency = concurrency
	}
	if sendTimeout > 0 {
		d.sendTimeout = sendTimeout
	}
	return d
}

type Stats struct {
	StartedAt     time.Time `json:"startedAt"`
	TotalMessages int64     `json:"totalMessages"`
	TotalSent     int64     `json:"totalSent"`
	TotalFailed   int64     `json:"totalFailed"`
	InFlight      int64     `json:"inFlight"`
	LastError     string    `json:"lastError,omitempty"`
}

func (d *Dispatcher) Stats() Stats {
	st := Stats{
		StartedAt:     time.Unix(0, d.startedAtUnixNano).UTC(),
		TotalMessages: d.totalMessages.Load(),
		TotalSent:     d.totalSent.Load(),
		TotalFailed:   d.totalFailed.Load(),
		InFlight:      d.inFlight.Load(),
	}
	d.lastErrorMu.Lock()
	st.LastError = d.lastError
	d.lastErrorMu.Unlock()
	return st
}

// HandleMessage — обработчик для kafka.Consumer. Битое сообщение логируем
// и подтверждаем: poison message не должен заклинить консьюмер-группу.
func (d *Dispatcher) HandleMessage(ctx context.Context, key, value []byte) error {
	var msg messages.TripStatusChanged
	if err := json.Unmarshal(value, &msg); err != nil {
		d.log.Error("unmarshal status change", "key", string(key), "err", err)
		return nil
	}
	d.Dispatch(ctx, msg)
	return nil
}

// Dispatch отправляет уведомления всем получателям сообщения. Отправки
// независимы: упавшая не мешает остальным.
func (d *Dispatcher) Dispatch(ctx context.Context, msg messages.TripStatusChanged) {
	d.totalMessages.Add(1)
	if len(msg.Recipients) == 0 {
		return
	}

	body := renderBody(msg)

	sem := make(chan struct{}, d.concurrency)
	var wg sync.WaitGroup
	for _, r := range msg.Recipients {
		sem <- struct{}{}
		wg.Add(1)
		rCopy := r
		d.inFlight.Add(1)
		go func() {
			defer func() {
				d.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			d.sendOne(ctx, msg, rCopy, body)
		}()
	}
	wg.Wait()
}

func (d *Dispatcher) sendOne(ctx context.Context, msg messages.TripStatusChanged, r messages.Recipient, body string) {
	id, err := d.records.CreatePendingNotification(ctx, models.NotificationRecord{
		DepartureID:      msg.DepartureID,
		BookingID:        r.BookingID,
		Channel:          r.Channel,
		Recipient:        r.Address,
		TransitionStatus: msg.VehicleStatus,
	})
	if err != nil {
		d.fail(err)
		d.log.Error("create pending notification",
			"departure_id", msg.DepartureID, "booking_id", r.BookingID, "err", err)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	res, err := d.gw.Send(sendCtx, r.Channel, r.Address, body)
	if err != nil {
		e := err.Error()
		if fErr := d.records.FinishNotification(ctx, id, models.NotificationFailed, nil, &e); fErr != nil {
			d.log.Error("finish notification", "id", id, "err", fErr)
		}
		d.fail(err)
		if d.collector != nil {
			d.collector.NotificationsFailed.Inc()
		}
		return
	}

	pid := res.ProviderID
	if fErr := d.records.FinishNotification(ctx, id, models.NotificationSent, &pid, nil); fErr != nil {
		d.log.Error("finish notification", "id", id, "err", fErr)
	}
	d.totalSent.Add(1)
	if d.collector != nil {
		d.collector.NotificationsSent.Inc()
	}
}

func (d *Dispatcher) fail(err error) {
	d.totalFailed.Add(1)
	d.lastErrorMu.Lock()
	d.lastError = err.Error()
	d.lastErrorMu.Unlock()
}

// renderBody собирает текст уведомления из статусной строки и маршрута.
func renderBody(msg messages.TripStatusChanged) string {
	line := status.Message(msg.VehicleStatus, msg.OriginName, msg.DestName)
	if msg.VehicleStatus == status.VehicleDelayed && msg.DelayMinutes > 0 {
		line = fmt.Sprintf("%s (about %d min late)", line, msg.DelayMinutes)
	}
	if msg.RouteName == "" {
		return line
	}
	return fmt.Sprintf("%s: %s", msg.RouteName, line)
}
