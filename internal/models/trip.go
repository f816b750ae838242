package models

import "time"

// Kinds of trip_events rows.
const (
	EventKindStatusChange   = "STATUS_CHANGE"
	EventKindLocationUpdate = "LOCATION_UPDATE"
)

// Notification delivery states.
const (
	NotificationPending = "PENDING"
	NotificationSent    = "SENT"
	NotificationFailed  = "FAILED"
)

// Notification channels.
const (
	ChannelSMS   = "SMS"
	ChannelEmail = "EMAIL"
)

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// TrackingRecord — живое состояние одного рейса. Ровно одна активная запись
// на departure (UNIQUE departure_id).
type TrackingRecord struct {
	ID          uint64
	DepartureID string
	VehicleID   string
	DriverID    string
	Status      string // vehicle vocabulary

	// ForwardStatus — последний не-overlay статус; пока запись в
	// DELAYED/EMERGENCY, он держит якорь монотонного порядка.
	ForwardStatus   string
	Lat             *float64
	Lon             *float64
	LastFixAt       *time.Time
	PassengerCount  int32
	TripStartedAt   *time.Time
	TripCompletedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Breadcrumb — append-only GPS-сэмпл, никогда не обновляется и не удаляется.
type Breadcrumb struct {
	ID         uint64
	TrackingID uint64
	Lat        float64
	Lon        float64
	Speed      *float64
	Heading    *float64
	Accuracy   *float64
	RecordedAt time.Time
	CreatedAt  time.Time
}

// LiveStatus — customer-facing проекция по departure. Всегда пересобирается
// из TrackingRecord + ETA, руками не правится.
type LiveStatus struct {
	DepartureID     string
	Status          string // live vocabulary
	Message         string
	ProgressPct     int32
	DelayMinutes    int32
	TrackingToken   string
	DriverUpdatedAt *time.Time
	AutoUpdatedAt   *time.Time
	UpdatedAt       time.Time
}

type TripEvent struct {
	ID          uint64
	TrackingID  uint64
	Kind        string
	DriverID    string
	Lat         *float64
	Lon         *float64
	PayloadJSON *string
	CreatedAt   time.Time
}

// NotificationRecord — одна попытка доставки на (booking, channel).
// После терминального статуса запись не меняется.
type NotificationRecord struct {
	ID               uint64
	DepartureID      string
	BookingID        string
	Channel          string
	Recipient        string
	TransitionStatus string // vehicle status that triggered the fan-out
	Status           string // PENDING | SENT | FAILED
	ProviderID       *string
	ErrorMessage     *string
	CreatedAt        time.Time
	FinishedAt       *time.Time
}

// Departure — внешняя сущность booking-подсистемы; здесь только то,
// что нужно трекингу: маршрут, координаты и остановки.
type Departure struct {
	ID              string
	RouteName       string
	OriginName      string
	DestinationName string
	Origin          Coordinate
	Destination     Coordinate
	Stops           []Coordinate
	ScheduledAt     time.Time
}

// Booking — внешняя сущность; нужны только контакты пассажира.
type Booking struct {
	ID            string
	DepartureID   string
	PassengerName string
	Phone         string
	Email         string
}

// HasContact reports whether the booking is reachable on any channel.
func (b Booking) HasContact() bool {
	return b.Phone != "" || b.Email != ""
}
