package bookinghttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BearBump/TripWatch/internal/integrations/bookings"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestClient_GetDeparture(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/departures/dep-7", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "dep-7",
			"routeName": "Columbia - Charleston",
			"originName": "Columbia",
			"destinationName": "Charleston",
			"origin": {"lat": 34.0007, "lon": -81.0348},
			"destination": {"lat": 32.7765, "lon": -79.9311},
			"stops": [{"lat": 33.5018, "lon": -80.8556}],
			"scheduledAt": "2025-06-01T14:00:00Z"
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	dep, err := c.GetDeparture(context.Background(), "dep-7")
	require.NoError(t, err)
	require.Equal(t, "dep-7", dep.ID)
	require.Equal(t, "Columbia", dep.OriginName)
	require.InDelta(t, 32.7765, dep.Destination.Lat, 1e-9)
	require.Len(t, dep.Stops, 1)
}

func TestClient_GetDeparture_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.GetDeparture(context.Background(), "missing")
	require.True(t, errors.Is(err, bookings.ErrDepartureNotFound))
}

func TestClient_ListBookings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/departures/dep-7/bookings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id": "b1", "departureId": "dep-7", "passengerName": "Avery Smith", "phone": "+18035550101"},
			{"id": "b2", "departureId": "dep-7", "passengerName": "Jordan Lee", "email": "jordan@example.com"}
		]`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	bks, err := c.ListBookings(context.Background(), "dep-7")
	require.NoError(t, err)
	require.Len(t, bks, 2)
	require.Equal(t, "+18035550101", bks[0].Phone)
	require.True(t, bks[1].HasContact())
}
