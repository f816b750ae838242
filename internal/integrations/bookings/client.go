package bookings

import (
	"context"

	"github.com/BearBump/TripWatch/internal/models"
	"github.com/pkg/errors"
)

// ErrDepartureNotFound возвращается, когда рейс неизвестен справочнику.
var ErrDepartureNotFound = errors.New("departure not found")

// Directory — внешний справочник рейсов и бронирований. Маршрут, остановки
// и контакты пассажиров живут на стороне booking-сервиса, мы их только читаем.
type Directory interface {
	GetDeparture(ctx context.Context, departureID string) (models.Departure, error)
	ListBookings(ctx context.Context, departureID string) ([]models.Booking, error)
}
