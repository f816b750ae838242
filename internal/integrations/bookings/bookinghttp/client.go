package bookinghttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/TripWatch/internal/integrations/bookings"
	"github.com/BearBump/TripWatch/internal/models"
	"github.com/pkg/errors"
)

// Client читает рейсы и бронирования из booking-сервиса по его JSON API.
type Client struct {
	baseURL string
	httpc   *http.Client
}

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9200"
	}
	return &Client{
		baseURL: baseURL,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type departureDTO struct {
	ID              string     `json:"id"`
	RouteName       string     `json:"routeName"`
	OriginName      string     `json:"originName"`
	DestinationName string     `json:"destinationName"`
	Origin          coordDTO   `json:"origin"`
	Destination     coordDTO   `json:"destination"`
	Stops           []coordDTO `json:"stops"`
	ScheduledAt     time.Time  `json:"scheduledAt"`
}

type coordDTO struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type bookingDTO struct {
	ID            string `json:"id"`
	DepartureID   string `json:"departureId"`
	PassengerName string `json:"passengerName"`
	Phone         string `json:"phone"`
	Email         string `json:"email"`
}

func (c *Client) GetDeparture(ctx context.Context, departureID string) (models.Departure, error) {
	var dto departureDTO
	if err := c.getJSON(ctx, "/v1/departures/"+url.PathEscape(departureID), &dto); err != nil {
		return models.Departure{}, err
	}

	dep := models.Departure{
		ID:              dto.ID,
		RouteName:       dto.RouteName,
		OriginName:      dto.OriginName,
		DestinationName: dto.DestinationName,
		Origin:          models.Coordinate{Lat: dto.Origin.Lat, Lon: dto.Origin.Lon},
		Destination:     models.Coordinate{Lat: dto.Destination.Lat, Lon: dto.Destination.Lon},
		ScheduledAt:     dto.ScheduledAt,
	}
	for _, s := range dto.Stops {
		dep.Stops = append(dep.Stops, models.Coordinate{Lat: s.Lat, Lon: s.Lon})
	}
	return dep, nil
}

func (c *Client) ListBookings(ctx context.Context, departureID string) ([]models.Booking, error) {
	var dtos []bookingDTO
	path := "/v1/departures/" + url.PathEscape(departureID) + "/bookings"
	if err := c.getJSON(ctx, path, &dtos); err != nil {
		return nil, err
	}

	out := make([]models.Booking, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, models.Booking{
			ID:            d.ID,
			DepartureID:   d.DepartureID,
			PassengerName: d.PassengerName,
			Phone:         d.Phone,
			Email:         d.Email,
		})
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, dst any) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return errors.Wrap(err, "parse base url")
	}
	u.Path = path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return bookings.ErrDepartureNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("booking service http %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return errors.Wrap(err, "decode")
	}
	return nil
}

var _ bookings.Directory = (*Client)(nil)
