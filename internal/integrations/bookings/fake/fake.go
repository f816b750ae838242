package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BearBump/TripWatch/internal/integrations/bookings"
	"github.com/BearBump/TripWatch/internal/models"
)

// FakeDirectory — встроенный справочник для демо и dev-окружения.
// Незнакомые departure получают синтетический рейс Columbia -> Charleston
// с тремя бронированиями, чтобы фан-аут было на чем показывать.
type FakeDirectory struct {
	mu         sync.RWMutex
	departures map[string]models.Departure
	bookings   map[string][]models.Booking
}

func New() *FakeDirectory {
	return &FakeDirectory{
		departures: make(map[string]models.Departure),
		bookings:   make(map[string][]models.Booking),
	}
}

// Put регистрирует рейс и его бронирования. Используется в тестах.
func (f *FakeDirectory) Put(dep models.Departure, bks []models.Booking) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.departures[dep.ID] = dep
	f.bookings[dep.ID] = bks
}

func (f *FakeDirectory) GetDeparture(ctx context.Context, departureID string) (models.Departure, error) {
	f.mu.RLock()
	dep, ok := f.departures[departureID]
	f.mu.RUnlock()
	if ok {
		return dep, nil
	}
	return f.synthDeparture(departureID), nil
}

func (f *FakeDirectory) ListBookings(ctx context.Context, departureID string) ([]models.Booking, error) {
	f.mu.RLock()
	bks, ok := f.bookings[departureID]
	f.mu.RUnlock()
	if ok {
		out := make([]models.Booking, len(bks))
		copy(out, bks)
		return out, nil
	}
	return f.synthBookings(departureID), nil
}

func (f *FakeDirectory) synthDeparture(departureID string) models.Departure {
	return models.Departure{
		ID:              departureID,
		RouteName:       "Columbia - Charleston",
		OriginName:      "Columbia",
		DestinationName: "Charleston",
		Origin:          models.Coordinate{Lat: 34.0007, Lon: -81.0348},
		Destination:     models.Coordinate{Lat: 32.7765, Lon: -79.9311},
		Stops: []models.Coordinate{
			{Lat: 33.5018, Lon: -80.8556},
		},
		ScheduledAt: time.Now().Truncate(time.Hour).Add(time.Hour),
	}
}

func (f *FakeDirectory) synthBookings(departureID string) []models.Booking {
	return []models.Booking{
		{
			ID:            fmt.Sprintf("%s-b1", departureID),
			DepartureID:   departureID,
			PassengerName: "Avery Smith",
			Phone:         "+18035550101",
		},
		{
			ID:            fmt.Sprintf("%s-b2", departureID),
			DepartureID:   departureID,
			PassengerName: "Jordan Lee",
			Email:         "jordan.lee@example.com",
		},
		{
			ID:            fmt.Sprintf("%s-b3", departureID),
			DepartureID:   departureID,
			PassengerName: "Sam Carter",
		},
	}
}

var _ bookings.Directory = (*FakeDirectory)(nil)
