package trips

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/TripWatch/internal/broker/messages"
	"github.com/BearBump/TripWatch/internal/cache"
	"github.com/BearBump/TripWatch/internal/geo"
	"github.com/BearBump/TripWatch/internal/integrations/bookings"
	"github.com/BearBump/TripWatch/internal/metrics"
	"github.com/BearBump/TripWatch/internal/models"
	"github.com/BearBump/TripWatch/internal/status"
	"github.com/BearBump/TripWatch/internal/storage/pgtrips"
	"github.com/pkg/errors"
)

// ErrRateLimited возвращается, когда водитель шлёт GPS чаще лимита.
var ErrRateLimited = errors.New("too many location updates")

// ErrInvalidArgument — общий корень ошибок валидации входа, чтобы API-слой
// отличал их от внутренних.
var ErrInvalidArgument = errors.New("invalid argument")

func invalidf(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}

type Repository interface {
	ApplyStatusTransition(ctx context.Context, in pgtrips.StatusTransition) (*pgtrips.TransitionResult, error)
	ApplyLocationUpdate(ctx context.Context, in pgtrips.LocationUpdate) (*pgtrips.LocationResult, error)
	GetTrackingByID(ctx context.Context, id uint64) (*models.TrackingRecord, error)
	GetTrackingByDeparture(ctx context.Context, departureID string) (*models.TrackingRecord, error)
	GetLiveStatus(ctx context.Context, departureID string) (*models.LiveStatus, error)
	LatestBreadcrumb(ctx context.Context, trackingID uint64) (*models.Breadcrumb, error)
	ListBreadcrumbs(ctx context.Context, trackingID uint64, limit, offset int) ([]*models.Breadcrumb, error)
	ListTripEvents(ctx context.Context, trackingID uint64, limit, offset int) ([]*models.TripEvent, error)
	ListNotifications(ctx context.Context, departureID string, limit, offset int) ([]*models.NotificationRecord, error)
}

type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
}

type Limiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Config struct {
	LiveTTL            time.Duration
	GPSLimitPerMinute  int64
	AssumedTripMinutes float64
}

type Service struct {
	repo      Repository
	directory bookings.Directory
	cache     cache.BytesCache
	limiter   Limiter
	publisher Publisher
	eta       *geo.Engine
	collector *metrics.Collector
	log       *slog.Logger

	cfg Config
	now func() time.Time
}

func New(
	repo Repository,
	directory bookings.Directory,
	c cache.BytesCache,
	limiter Limiter,
	publisher Publisher,
	eta *geo.Engine,
	collector *metrics.Collector,
	log *slog.Logger,
	cfg Config,
) *Service {
	if cfg.GPSLimitPerMinute <= 0 {
		cfg.GPSLimitPerMinute = 10
	}
	if cfg.AssumedTripMinutes <= 0 {
		cfg.AssumedTripMinutes = 120
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:      repo,
		directory: directory,
		cache:     c,
		limiter:   limiter,
		publisher: publisher,
		eta:       eta,
		collector: collector,
		log:       log,
		cfg:       cfg,
		now:       time.Now,
	}
}

type StatusUpdateInput struct {
	DepartureID string
	VehicleID   string
	DriverID    string
	Status      string

	PassengerCount *int32
	Lat            *float64
	Lon            *float64
	DelayMinutes   *int32

	// Свободный текст от водителя, уходит в payload события.
	DelayReason string
	Notes       string
}

type StatusUpdateResult struct {
	Record          *models.TrackingRecord
	Live            *models.LiveStatus
	Created         bool
	EffectiveStatus string

	// NotificationsQueued — сколько получателей ушло в Kafka-сообщение.
	NotificationsQueued int
}

// UpdateStatus — приём статусного репорта от водителя. Сам переход атомарен
// в storage; публикация в Kafka и обновление кэша идут после коммита и
// работают по принципу "лучшее усилие".
func (s *Service) UpdateStatus(ctx context.Context, in StatusUpdateInput) (*StatusUpdateResult, error) {
	if in.DepartureID == "" {
		return nil, invalidf("departureId is required")
	}
	if in.DriverID == "" {
		return nil, invalidf("driverId is required")
	}
	if (in.Lat == nil) != (in.Lon == nil) {
		return nil, invalidf("lat and lon must be sent together")
	}

	normalized := status.ParseVehicle(in.Status)

	dep, err := s.directory.GetDeparture(ctx, in.DepartureID)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{
		"reported_status": in.Status,
		"vehicle_id":      in.VehicleID,
	}
	if in.DelayReason != "" {
		fields["delay_reason"] = in.DelayReason
	}
	if in.Notes != "" {
		fields["notes"] = in.Notes
	}
	payload, _ := json.Marshal(fields)

	res, err := s.repo.ApplyStatusTransition(ctx, pgtrips.StatusTransition{
		DepartureID:    in.DepartureID,
		VehicleID:      in.VehicleID,
		DriverID:       in.DriverID,
		NewStatus:      normalized,
		PassengerCount: in.PassengerCount,
		Lat:            in.Lat,
		Lon:            in.Lon,
		DelayMinutes:   in.DelayMinutes,
		OriginName:     dep.OriginName,
		DestName:       dep.DestinationName,
		PayloadJSON:    string(payload),
		Now:            s.now(),
	})
	if err != nil {
		return nil, err
	}

	if s.collector != nil {
		s.collector.StatusTransitions.WithLabelValues(res.EffectiveStatus).Inc()
	}
	s.refreshLiveCache(ctx, res.Live)

	out := &StatusUpdateResult{
		Record:          res.Record,
		Live:            res.Live,
		Created:         res.Created,
		EffectiveStatus: res.EffectiveStatus,
	}

	// Фан-аут только по статусам, которые реально изменили запись:
	// carried-forward повтор пассажирам не интересен.
	if s.publisher != nil && res.EffectiveStatus == normalized && status.Notifies(res.EffectiveStatus) {
		out.NotificationsQueued = s.publishStatusChange(ctx, dep, res)
	}

	return out, nil
}

func (s *Service) publishStatusChange(ctx context.Context, dep models.Departure, res *pgtrips.TransitionResult) int {
	bks, err := s.directory.ListBookings(ctx, dep.ID)
	if err != nil {
		s.log.Warn("list bookings failed, skipping fan-out",
			"departure_id", dep.ID, "err", err)
		return 0
	}

	msg := messages.TripStatusChanged{
		DepartureID:   dep.ID,
		TrackingID:    res.Record.ID,
		VehicleStatus: res.EffectiveStatus,
		RouteName:     dep.RouteName,
		OriginName:    dep.OriginName,
		DestName:      dep.DestinationName,
		DelayMinutes:  res.Live.DelayMinutes,
		OccurredAt:    s.now().UTC(),
	}
	for _, b := range bks {
		if !b.HasContact() {
			continue
		}
		// Телефон выигрывает: SMS дешевле догнать в дороге, чем почту.
		r := messages.Recipient{BookingID: b.ID, PassengerName: b.PassengerName}
		if b.Phone != "" {
			r.Channel = models.ChannelSMS
			r.Address = b.Phone
		} else {
			r.Channel = models.ChannelEmail
			r.Address = b.Email
		}
		msg.Recipients = append(msg.Recipients, r)
	}
	if len(msg.Recipients) == 0 {
		return 0
	}

	value, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("marshal status change", "err", err)
		return 0
	}
	if err := s.publisher.Publish(ctx, []byte(dep.ID), value); err != nil {
		if s.collector != nil {
			s.collector.KafkaPublishErrs.Inc()
		}
		s.log.Error("publish status change", "departure_id", dep.ID, "err", err)
		return 0
	}
	if s.collector != nil {
		s.collector.KafkaPublished.Inc()
	}
	return len(msg.Recipients)
}

type LocationInput struct {
	TrackingID uint64

	Lat float64
	Lon float64

	Speed    *float64
	Heading  *float64
	Accuracy *float64

	Status         *string
	PassengerCount *int32
}

// UpdateLocation — приём GPS-сэмпла. Лимит на частоту живёт в redis и
// общий для всех инстансов API; при недоступном redis пропускаем
// (fail-open), пропущенный лимит дешевле потерянного breadcrumb.
func (s *Service) UpdateLocation(ctx context.Context, in LocationInput) (*pgtrips.LocationResult, error) {
	if in.TrackingID == 0 {
		return nil, invalidf("trackingId is required")
	}
	if in.Lat < -90 || in.Lat > 90 || in.Lon < -180 || in.Lon > 180 {
		return nil, invalidf("lat/lon out of range")
	}

	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(ctx,
			gpsKey(in.TrackingID), s.cfg.GPSLimitPerMinute, time.Minute)
		if err != nil {
			s.log.Warn("gps rate limiter unavailable", "err", err)
		} else if !allowed {
			if s.collector != nil {
				s.collector.LocationThrottled.Inc()
			}
			return nil, ErrRateLimited
		}
	}

	rec, err := s.repo.GetTrackingByID(ctx, in.TrackingID)
	if err != nil {
		return nil, err
	}

	dep, err := s.directory.GetDeparture(ctx, rec.DepartureID)
	if err != nil {
		return nil, err
	}

	var newStatus *string
	if in.Status != nil {
		v := status.ParseVehicle(*in.Status)
		newStatus = &v
	}

	payload, _ := json.Marshal(map[string]any{
		"speed":    in.Speed,
		"heading":  in.Heading,
		"accuracy": in.Accuracy,
	})

	res, err := s.repo.ApplyLocationUpdate(ctx, pgtrips.LocationUpdate{
		TrackingID:     in.TrackingID,
		Lat:            in.Lat,
		Lon:            in.Lon,
		Speed:          in.Speed,
		Heading:        in.Heading,
		Accuracy:       in.Accuracy,
		NewStatus:      newStatus,
		PassengerCount: in.PassengerCount,
		ProgressPct:    s.progressFor(rec),
		OriginName:     dep.OriginName,
		DestName:       dep.DestinationName,
		PayloadJSON:    string(payload),
		Now:            s.now(),
	})
	if err != nil {
		return nil, err
	}

	if s.collector != nil {
		s.collector.LocationUpdates.Inc()
	}
	s.refreshLiveCache(ctx, res.Live)

	return res, nil
}

// progressFor — временная эвристика: прошедшее с начала поездки время
// против типовой длительности рейса. До посадки прогресс всегда 0,
// 100 ставит только COMPLETED.
func (s *Service) progressFor(rec *models.TrackingRecord) int32 {
	if rec.TripStartedAt == nil {
		return 0
	}
	elapsed := s.now().UTC().Sub(rec.TripStartedAt.UTC()).Minutes()
	if elapsed <= 0 {
		return 0
	}
	p := int32(elapsed / s.cfg.AssumedTripMinutes * 100)
	if p > 99 {
		p = 99
	}
	return p
}

// TrackingView — ответ GET /tracking: запись, проекция и последний фикс.
type TrackingView struct {
	Record         *models.TrackingRecord
	Live           *models.LiveStatus
	LastBreadcrumb *models.Breadcrumb
}

func (s *Service) GetTracking(ctx context.Context, trackingID uint64, departureID string) (*TrackingView, error) {
	var rec *models.TrackingRecord
	var err error
	switch {
	case trackingID != 0:
		rec, err = s.repo.GetTrackingByID(ctx, trackingID)
	case departureID != "":
		rec, err = s.repo.GetTrackingByDeparture(ctx, departureID)
	default:
		return nil, invalidf("trackingId or departureId is required")
	}
	if err != nil {
		return nil, err
	}

	live, err := s.getLive(ctx, rec.DepartureID)
	if err != nil && err != pgtrips.ErrLiveStatusNotFound {
		return nil, err
	}

	crumb, err := s.repo.LatestBreadcrumb(ctx, rec.ID)
	if err != nil {
		return nil, err
	}

	return &TrackingView{Record: rec, Live: live, LastBreadcrumb: crumb}, nil
}

// getLive — read-through кэш проекции.
func (s *Service) getLive(ctx context.Context, departureID string) (*models.LiveStatus, error) {
	if s.cache != nil && s.cfg.LiveTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, liveKey(departureID)); err == nil && ok {
			var l models.LiveStatus
			if json.Unmarshal(b, &l) == nil {
				return &l, nil
			}
		}
	}

	live, err := s.repo.GetLiveStatus(ctx, departureID)
	if err != nil {
		return nil, err
	}
	s.refreshLiveCache(ctx, live)
	return live, nil
}

func (s *Service) refreshLiveCache(ctx context.Context, live *models.LiveStatus) {
	if s.cache == nil || s.cfg.LiveTTL <= 0 || live == nil {
		return
	}
	if b, err := json.Marshal(live); err == nil {
		_ = s.cache.Set(ctx, liveKey(live.DepartureID), b, s.cfg.LiveTTL)
	}
}

// ETAView — расчёт плюс контекст рейса для ответа API.
type ETAView struct {
	DepartureID     string
	Route           string
	CurrentLocation *models.Coordinate
	Destination     models.Coordinate
	DestinationName string
	ETA             geo.ETA
	ProgressPct     int32
	Status          string
}

// CalculateETA считает оценку прибытия от текущей позиции машины (или от
// точки отправления, если фиксов ещё не было) и уточняет её прогрессом.
func (s *Service) CalculateETA(ctx context.Context, departureID string) (*ETAView, error) {
	if departureID == "" {
		return nil, invalidf("departureId is required")
	}

	start := time.Now()

	rec, err := s.repo.GetTrackingByDeparture(ctx, departureID)
	if err != nil {
		return nil, err
	}
	dep, err := s.directory.GetDeparture(ctx, departureID)
	if err != nil {
		return nil, err
	}

	current := dep.Origin
	var fix *models.Coordinate
	if rec.Lat != nil && rec.Lon != nil {
		current = models.Coordinate{Lat: *rec.Lat, Lon: *rec.Lon}
		fix = &current
	}

	progress := int32(0)
	liveStatus := status.LiveFor(rec.Status)
	if live, err := s.getLive(ctx, departureID); err == nil {
		progress = live.ProgressPct
		liveStatus = live.Status
	}

	// Пройденные остановки отсекаем пропорционально прогрессу.
	passed := len(dep.Stops) * int(progress) / 100
	if passed > len(dep.Stops) {
		passed = len(dep.Stops)
	}
	remaining := dep.Stops[passed:]

	eta := s.eta.CalculateETA(current, dep.Destination, remaining)
	if progress > 0 {
		eta = s.eta.UpdateWithProgress(eta, int(progress))
	}

	if s.collector != nil {
		s.collector.ETADuration.Observe(time.Since(start).Seconds())
	}
	return &ETAView{
		DepartureID:     departureID,
		Route:           dep.RouteName,
		CurrentLocation: fix,
		Destination:     dep.Destination,
		DestinationName: dep.DestinationName,
		ETA:             eta,
		ProgressPct:     progress,
		Status:          liveStatus,
	}, nil
}

// BulkETA — батчевый расчёт для диспетчерского табло. Рейсы без трекинга
// пропускаются, частичный результат лучше пустого.
func (s *Service) BulkETA(ctx context.Context, departureIDs []string) (map[string]*ETAView, error) {
	if len(departureIDs) == 0 {
		return nil, invalidf("departureIds is empty")
	}
	if len(departureIDs) > 100 {
		return nil, invalidf("too many departureIds (max 100)")
	}

	out := make(map[string]*ETAView, len(departureIDs))
	for _, id := range departureIDs {
		view, err := s.CalculateETA(ctx, id)
		if err != nil {
			s.log.Debug("bulk eta skip", "departure_id", id, "err", err)
			continue
		}
		out[id] = view
	}
	return out, nil
}

func (s *Service) ListBreadcrumbs(ctx context.Context, trackingID uint64, limit, offset int) ([]*models.Breadcrumb, error) {
	if trackingID == 0 {
		return nil, invalidf("trackingId is required")
	}
	return s.repo.ListBreadcrumbs(ctx, trackingID, limit, offset)
}

func (s *Service) ListTripEvents(ctx context.Context, trackingID uint64, limit, offset int) ([]*models.TripEvent, error) {
	if trackingID == 0 {
		return nil, invalidf("trackingId is required")
	}
	return s.repo.ListTripEvents(ctx, trackingID, limit, offset)
}

func (s *Service) ListNotifications(ctx context.Context, departureID string, limit, offset int) ([]*models.NotificationRecord, error) {
	if departureID == "" {
		return nil, invalidf("departureId is required")
	}
	return s.repo.ListNotifications(ctx, departureID, limit, offset)
}

func liveKey(departureID string) string {
	return fmt.Sprintf("live:%s", departureID)
}

func gpsKey(trackingID uint64) string {
	return fmt.Sprintf("gps:%d:minute", trackingID)
}
