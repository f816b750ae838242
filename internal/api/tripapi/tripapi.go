package tripapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BearBump/TripWatch/internal/integrations/bookings"
	"github.com/BearBump/TripWatch/internal/models"
	"github.com/BearBump/TripWatch/internal/services/trips"
	"github.com/BearBump/TripWatch/internal/storage/pgtrips"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

// TripAPI — JSON-обвязка над trips.Service. Вся логика в сервисе,
// здесь только декодирование, коды ответов и сериализация.
type TripAPI struct {
	svc *trips.Service
	log *slog.Logger
}

func New(svc *trips.Service, log *slog.Logger) *TripAPI {
	if log == nil {
		log = slog.Default()
	}
	return &TripAPI{svc: svc, log: log}
}

func (a *TripAPI) Routes(r chi.Router) {
	r.Route("/v1/trips", func(r chi.Router) {
		r.Post("/status", a.postStatus)
		r.Post("/location", a.postLocation)
		r.Get("/tracking", a.getTracking)
		r.Get("/breadcrumbs", a.getBreadcrumbs)
		r.Get("/events", a.getEvents)
		r.Post("/eta", a.postBulkETA)
		r.Route("/{departureId}", func(r chi.Router) {
			r.Get("/eta", a.getETA)
			r.Get("/live", a.getLive)
			r.Get("/notifications", a.getNotifications)
		})
	})
}

type statusRequest struct {
	DepartureID string `json:"departureId"`
	VehicleID   string `json:"vehicleId"`
	DriverID    string `json:"driverId"`

	// status и vehicleStatus — синонимы, драйверные прошивки шлют оба.
	Status         string         `json:"status"`
	VehicleStatus  string         `json:"vehicleStatus"`
	PassengerCount *int32         `json:"passengerCount,omitempty"`
	Location       *coordinateDTO `json:"location,omitempty"`
	Lat            *float64       `json:"lat,omitempty"`
	Lon            *float64       `json:"lon,omitempty"`
	DelayMinutes   *int32         `json:"delayMinutes,omitempty"`
	DelayReason    string         `json:"delayReason,omitempty"`
	Notes          string         `json:"notes,omitempty"`
}

type statusResponse struct {
	Status            string       `json:"status"`
	PassengerCount    int32        `json:"passengerCount"`
	TrackingURL       string       `json:"trackingUrl,omitempty"`
	LastUpdate        time.Time    `json:"lastUpdate"`
	NotificationsSent int          `json:"notificationsSent"`
	Created           bool         `json:"created"`
	Tracking          *trackingDTO `json:"tracking"`
	Live              *liveDTO     `json:"live"`
}

func (a *TripAPI) postStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	st := req.Status
	if st == "" {
		st = req.VehicleStatus
	}
	lat, lon := req.Lat, req.Lon
	if req.Location != nil {
		lat, lon = &req.Location.Lat, &req.Location.Lon
	}

	res, err := a.svc.UpdateStatus(r.Context(), trips.StatusUpdateInput{
		DepartureID:    req.DepartureID,
		VehicleID:      req.VehicleID,
		DriverID:       req.DriverID,
		Status:         st,
		PassengerCount: req.PassengerCount,
		Lat:            lat,
		Lon:            lon,
		DelayMinutes:   req.DelayMinutes,
		DelayReason:    req.DelayReason,
		Notes:          req.Notes,
	})
	if err != nil {
		a.mapError(w, err)
		return
	}

	out := statusResponse{
		Status:            res.EffectiveStatus,
		NotificationsSent: res.NotificationsQueued,
		Created:           res.Created,
		Tracking:          toTrackingDTO(res.Record),
		Live:              toLiveDTO(res.Live),
	}
	if res.Record != nil {
		out.PassengerCount = res.Record.PassengerCount
		out.LastUpdate = res.Record.UpdatedAt
	}
	if res.Live != nil && res.Live.TrackingToken != "" {
		out.TrackingURL = "/track/" + res.Live.TrackingToken
	}
	a.writeJSON(w, http.StatusOK, out)
}

type locationRequest struct {
	TrackingID     uint64   `json:"trackingId"`
	Lat            float64  `json:"lat"`
	Lon            float64  `json:"lon"`
	Speed          *float64 `json:"speed,omitempty"`
	Heading        *float64 `json:"heading,omitempty"`
	Accuracy       *float64 `json:"accuracy,omitempty"`
	Status         *string  `json:"status,omitempty"`
	PassengerCount *int32   `json:"passengerCount,omitempty"`
}

func (a *TripAPI) postLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	res, err := a.svc.UpdateLocation(r.Context(), trips.LocationInput{
		TrackingID:     req.TrackingID,
		Lat:            req.Lat,
		Lon:            req.Lon,
		Speed:          req.Speed,
		Heading:        req.Heading,
		Accuracy:       req.Accuracy,
		Status:         req.Status,
		PassengerCount: req.PassengerCount,
	})
	if err != nil {
		a.mapError(w, err)
		return
	}

	out := locationResponse{
		LocationUpdated: true,
		CurrentLocation: coordinateDTO{Lat: req.Lat, Lon: req.Lon},
		Tracking:        toTrackingDTO(res.Record),
		Live:            toLiveDTO(res.Live),
	}
	if res.Record != nil {
		out.VehicleStatus = res.Record.Status
	}
	if res.Live != nil {
		out.ProgressPercentage = res.Live.ProgressPct
	}
	a.writeJSON(w, http.StatusOK, out)
}

type coordinateDTO struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type locationResponse struct {
	LocationUpdated    bool          `json:"locationUpdated"`
	CurrentLocation    coordinateDTO `json:"currentLocation"`
	VehicleStatus      string        `json:"vehicleStatus"`
	ProgressPercentage int32         `json:"progressPercentage"`
	Tracking           *trackingDTO  `json:"tracking"`
	Live               *liveDTO      `json:"live"`
}

func (a *TripAPI) getTracking(w http.ResponseWriter, r *http.Request) {
	var trackingID uint64
	if s := r.URL.Query().Get("trackingId"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "trackingId must be a number")
			return
		}
		trackingID = v
	}
	departureID := r.URL.Query().Get("departureId")

	v, err := a.svc.GetTracking(r.Context(), trackingID, departureID)
	if err != nil {
		a.mapError(w, err)
		return
	}

	resp := map[string]any{
		"tracking": toTrackingDTO(v.Record),
	}
	if v.Live != nil {
		resp["live"] = toLiveDTO(v.Live)
	}
	if v.LastBreadcrumb != nil {
		resp["lastBreadcrumb"] = toBreadcrumbDTO(v.LastBreadcrumb)
	}
	a.writeJSON(w, http.StatusOK, resp)
}

func (a *TripAPI) getLive(w http.ResponseWriter, r *http.Request) {
	departureID := chi.URLParam(r, "departureId")

	v, err := a.svc.GetTracking(r.Context(), 0, departureID)
	if err != nil {
		a.mapError(w, err)
		return
	}
	if v.Live == nil {
		a.writeError(w, http.StatusNotFound, "live status not found")
		return
	}
	a.writeJSON(w, http.StatusOK, toLiveDTO(v.Live))
}

func (a *TripAPI) getBreadcrumbs(w http.ResponseWriter, r *http.Request) {
	trackingID, err := strconv.ParseUint(r.URL.Query().Get("trackingId"), 10, 64)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "trackingId must be a number")
		return
	}
	limit, offset := pageParams(r)

	items, err := a.svc.ListBreadcrumbs(r.Context(), trackingID, limit, offset)
	if err != nil {
		a.mapError(w, err)
		return
	}

	out := make([]*breadcrumbDTO, 0, len(items))
	for _, b := range items {
		out = append(out, toBreadcrumbDTO(b))
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (a *TripAPI) getEvents(w http.ResponseWriter, r *http.Request) {
	trackingID, err := strconv.ParseUint(r.URL.Query().Get("trackingId"), 10, 64)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "trackingId must be a number")
		return
	}
	limit, offset := pageParams(r)

	items, err := a.svc.ListTripEvents(r.Context(), trackingID, limit, offset)
	if err != nil {
		a.mapError(w, err)
		return
	}

	out := make([]*eventDTO, 0, len(items))
	for _, e := range items {
		out = append(out, toEventDTO(e))
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (a *TripAPI) getETA(w http.ResponseWriter, r *http.Request) {
	departureID := chi.URLParam(r, "departureId")

	view, err := a.svc.CalculateETA(r.Context(), departureID)
	if err != nil {
		a.mapError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, toETADTO(view))
}

type bulkETARequest struct {
	DepartureIDs []string `json:"departureIds"`
}

func (a *TripAPI) postBulkETA(w http.ResponseWriter, r *http.Request) {
	var req bulkETARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	views, err := a.svc.BulkETA(r.Context(), req.DepartureIDs)
	if err != nil {
		a.mapError(w, err)
		return
	}
	out := make(map[string]*etaDTO, len(views))
	for id, v := range views {
		out[id] = toETADTO(v)
	}
	a.writeJSON(w, http.StatusOK, map[string]map[string]*etaDTO{"etas": out})
}

func (a *TripAPI) getNotifications(w http.ResponseWriter, r *http.Request) {
	departureID := chi.URLParam(r, "departureId")
	limit, offset := pageParams(r)

	items, err := a.svc.ListNotifications(r.Context(), departureID, limit, offset)
	if err != nil {
		a.mapError(w, err)
		return
	}

	out := make([]*notificationDTO, 0, len(items))
	for _, n := range items {
		out = append(out, toNotificationDTO(n))
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func pageParams(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

func (a *TripAPI) mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, trips.ErrInvalidArgument):
		a.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, trips.ErrRateLimited):
		a.writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, pgtrips.ErrTrackingNotFound),
		errors.Is(err, pgtrips.ErrVehicleNotFound),
		errors.Is(err, pgtrips.ErrLiveStatusNotFound),
		errors.Is(err, bookings.ErrDepartureNotFound):
		a.writeError(w, http.StatusNotFound, err.Error())
	default:
		a.log.Error("internal error", "err", err)
		a.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *TripAPI) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error("encode response", "err", err)
	}
}

func (a *TripAPI) writeError(w http.ResponseWriter, code int, msg string) {
	a.writeJSON(w, code, map[string]string{"error": msg})
}

// DTO-слой: наружу уходят camelCase-имена и RFC3339-время, внутренние
// структуры в ответ не протекают.

type trackingDTO struct {
	ID              uint64     `json:"id"`
	DepartureID     string     `json:"departureId"`
	VehicleID       string     `json:"vehicleId"`
	DriverID        string     `json:"driverId"`
	Status          string     `json:"status"`
	Lat             *float64   `json:"lat,omitempty"`
	Lon             *float64   `json:"lon,omitempty"`
	LastFixAt       *time.Time `json:"lastFixAt,omitempty"`
	PassengerCount  int32      `json:"passengerCount"`
	TripStartedAt   *time.Time `json:"tripStartedAt,omitempty"`
	TripCompletedAt *time.Time `json:"tripCompletedAt,omitempty"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func toTrackingDTO(t *models.TrackingRecord) *trackingDTO {
	if t == nil {
		return nil
	}
	return &trackingDTO{
		ID:              t.ID,
		DepartureID:     t.DepartureID,
		VehicleID:       t.VehicleID,
		DriverID:        t.DriverID,
		Status:          t.Status,
		Lat:             t.Lat,
		Lon:             t.Lon,
		LastFixAt:       t.LastFixAt,
		PassengerCount:  t.PassengerCount,
		TripStartedAt:   t.TripStartedAt,
		TripCompletedAt: t.TripCompletedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

type liveDTO struct {
	DepartureID     string     `json:"departureId"`
	Status          string     `json:"status"`
	Message         string     `json:"message"`
	ProgressPct     int32      `json:"progressPct"`
	DelayMinutes    int32      `json:"delayMinutes"`
	TrackingToken   string     `json:"trackingToken"`
	DriverUpdatedAt *time.Time `json:"driverUpdatedAt,omitempty"`
	AutoUpdatedAt   *time.Time `json:"autoUpdatedAt,omitempty"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func toLiveDTO(l *models.LiveStatus) *liveDTO {
	if l == nil {
		return nil
	}
	return &liveDTO{
		DepartureID:     l.DepartureID,
		Status:          l.Status,
		Message:         l.Message,
		ProgressPct:     l.ProgressPct,
		DelayMinutes:    l.DelayMinutes,
		TrackingToken:   l.TrackingToken,
		DriverUpdatedAt: l.DriverUpdatedAt,
		AutoUpdatedAt:   l.AutoUpdatedAt,
		UpdatedAt:       l.UpdatedAt,
	}
}

type breadcrumbDTO struct {
	ID         uint64    `json:"id"`
	TrackingID uint64    `json:"trackingId"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	Speed      *float64  `json:"speed,omitempty"`
	Heading    *float64  `json:"heading,omitempty"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

func toBreadcrumbDTO(b *models.Breadcrumb) *breadcrumbDTO {
	return &breadcrumbDTO{
		ID:         b.ID,
		TrackingID: b.TrackingID,
		Lat:        b.Lat,
		Lon:        b.Lon,
		Speed:      b.Speed,
		Heading:    b.Heading,
		Accuracy:   b.Accuracy,
		RecordedAt: b.RecordedAt,
	}
}

type eventDTO struct {
	ID         uint64          `json:"id"`
	TrackingID uint64          `json:"trackingId"`
	Kind       string          `json:"kind"`
	DriverID   string          `json:"driverId,omitempty"`
	Lat        *float64        `json:"lat,omitempty"`
	Lon        *float64        `json:"lon,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

func toEventDTO(e *models.TripEvent) *eventDTO {
	dto := &eventDTO{
		ID:         e.ID,
		TrackingID: e.TrackingID,
		Kind:       e.Kind,
		DriverID:   e.DriverID,
		Lat:        e.Lat,
		Lon:        e.Lon,
		CreatedAt:  e.CreatedAt,
	}
	if e.PayloadJSON != nil {
		dto.Payload = json.RawMessage(*e.PayloadJSON)
	}
	return dto
}

type etaDTO struct {
	DepartureID     string         `json:"departureId"`
	Route           string         `json:"route"`
	CurrentLocation *coordinateDTO `json:"currentLocation,omitempty"`
	Destination     destinationDTO `json:"destination"`
	ETA             etaBodyDTO     `json:"eta"`
	Progress        int32          `json:"progress"`
	Status          string         `json:"status"`
	Traffic         float64        `json:"traffic"`
}

type destinationDTO struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

type etaBodyDTO struct {
	EstimatedArrival time.Time `json:"estimatedArrival"`
	TimeRemaining    string    `json:"timeRemaining"`
	TotalMinutes     float64   `json:"totalMinutes"`
	DistanceKm       float64   `json:"distanceKm"`
	RemainingStops   int       `json:"remainingStops"`
	Confidence       int       `json:"confidence"`
}

func toETADTO(v *trips.ETAView) *etaDTO {
	dto := &etaDTO{
		DepartureID: v.DepartureID,
		Route:       v.Route,
		Destination: destinationDTO{
			Name: v.DestinationName,
			Lat:  v.Destination.Lat,
			Lon:  v.Destination.Lon,
		},
		ETA: etaBodyDTO{
			EstimatedArrival: v.ETA.EstimatedArrival,
			TimeRemaining:    formatRemaining(v.ETA.TotalMinutes),
			TotalMinutes:     v.ETA.TotalMinutes,
			DistanceKm:       v.ETA.DistanceKm,
			RemainingStops:   v.ETA.RemainingStops,
			Confidence:       v.ETA.Confidence,
		},
		Progress: v.ProgressPct,
		Status:   v.Status,
		Traffic:  v.ETA.TrafficMultiplier,
	}
	if v.CurrentLocation != nil {
		dto.CurrentLocation = &coordinateDTO{Lat: v.CurrentLocation.Lat, Lon: v.CurrentLocation.Lon}
	}
	return dto
}

func formatRemaining(minutes float64) string {
	total := int(minutes + 0.5)
	if total < 60 {
		return fmt.Sprintf("%dm", total)
	}
	return fmt.Sprintf("%dh %dm", total/60, total%60)
}

type notificationDTO struct {
	ID               uint64     `json:"id"`
	DepartureID      string     `json:"departureId"`
	BookingID        string     `json:"bookingId"`
	Channel          string     `json:"channel"`
	Recipient        string     `json:"recipient"`
	TransitionStatus string     `json:"transitionStatus"`
	Status           string     `json:"status"`
	ProviderID       *string    `json:"providerId,omitempty"`
	ErrorMessage     *string    `json:"errorMessage,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty"`
}

func toNotificationDTO(n *models.NotificationRecord) *notificationDTO {
	return &notificationDTO{
		ID:               n.ID,
		DepartureID:      n.DepartureID,
		BookingID:        n.BookingID,
		Channel:          n.Channel,
		Recipient:        n.Recipient,
		TransitionStatus: n.TransitionStatus,
		Status:           n.Status,
		ProviderID:       n.ProviderID,
		ErrorMessage:     n.ErrorMessage,
		CreatedAt:        n.CreatedAt,
		FinishedAt:       n.FinishedAt,
	}
}
