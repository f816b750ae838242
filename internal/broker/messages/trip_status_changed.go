package messages

import "time"

// TripStatusChanged публикуется в Kafka после коммита статусного перехода,
// если переход требует уведомления пассажиров. Получатели собираются до
// публикации, чтобы worker не ходил в booking-подсистему повторно.
type TripStatusChanged struct {
	DepartureID   string    `json:"departure_id"`
	TrackingID    uint64    `json:"tracking_id"`
	VehicleStatus string    `json:"vehicle_status"`
	RouteName     string    `json:"route_name"`
	OriginName    string    `json:"origin_name"`
	DestName      string    `json:"dest_name"`
	DelayMinutes  int32     `json:"delay_minutes,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`

	Recipients []Recipient `json:"recipients,omitempty"`
}

// Recipient — один (booking, channel) адресат фан-аута.
type Recipient struct {
	BookingID     string `json:"booking_id"`
	PassengerName string `json:"passenger_name,omitempty"`
	Channel       string `json:"channel"` // SMS | EMAIL
	Address       string `json:"address"` // phone or email
}
