package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BearBump/TripWatch/internal/api/tripapi"
	"github.com/BearBump/TripWatch/internal/geo"
	bookingsfake "github.com/BearBump/TripWatch/internal/integrations/bookings/fake"
	"github.com/BearBump/TripWatch/internal/metrics"
	"github.com/BearBump/TripWatch/internal/models"
	"github.com/BearBump/TripWatch/internal/services/trips"
	"github.com/BearBump/TripWatch/internal/status"
	"github.com/BearBump/TripWatch/internal/storage/pgtrips"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct{}

func (r *fakeRepo) ApplyStatusTransition(ctx context.Context, in pgtrips.StatusTransition) (*pgtrips.TransitionResult, error) {
	return &pgtrips.TransitionResult{
		Record:          &models.TrackingRecord{ID: 1, DepartureID: in.DepartureID, Status: in.NewStatus},
		Live:            &models.LiveStatus{DepartureID: in.DepartureID, Status: status.LiveFor(in.NewStatus)},
		EffectiveStatus: in.NewStatus,
	}, nil
}
func (r *fakeRepo) ApplyLocationUpdate(ctx context.Context, in pgtrips.LocationUpdate) (*pgtrips.LocationResult, error) {
	return &pgtrips.LocationResult{
		Record: &models.TrackingRecord{ID: in.TrackingID},
		Live:   &models.LiveStatus{},
	}, nil
}
func (r *fakeRepo) GetTrackingByID(ctx context.Context, id uint64) (*models.TrackingRecord, error) {
	return &models.TrackingRecord{ID: id, DepartureID: "dep-1"}, nil
}
func (r *fakeRepo) GetTrackingByDeparture(ctx context.Context, departureID string) (*models.TrackingRecord, error) {
	return &models.TrackingRecord{ID: 1, DepartureID: departureID}, nil
}
func (r *fakeRepo) GetLiveStatus(ctx context.Context, departureID string) (*models.LiveStatus, error) {
	return nil, pgtrips.ErrLiveStatusNotFound
}
func (r *fakeRepo) LatestBreadcrumb(ctx context.Context, trackingID uint64) (*models.Breadcrumb, error) {
	return nil, nil
}
func (r *fakeRepo) ListBreadcrumbs(ctx context.Context, trackingID uint64, limit, offset int) ([]*models.Breadcrumb, error) {
	return nil, nil
}
func (r *fakeRepo) ListTripEvents(ctx context.Context, trackingID uint64, limit, offset int) ([]*models.TripEvent, error) {
	return nil, nil
}
func (r *fakeRepo) ListNotifications(ctx context.Context, departureID string, limit, offset int) ([]*models.NotificationRecord, error) {
	return nil, nil
}

func TestRunTripAPI_ServesEndpoints(t *testing.T) {
	dir := t.TempDir()
	sw := filepath.Join(dir, "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	svc := trips.New(&fakeRepo{}, bookingsfake.New(), nil, nil, nil,
		geo.NewEngine(geo.DefaultConfig(), nil), nil, nil, trips.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runTripAPI(ctx, tripAPIOpts{
			httpAddr:    "127.0.0.1:0",
			swaggerPath: sw,
			onListen:    func(addr string) { addrCh <- addr },
		}, tripapi.New(svc, nil), metrics.NewCollector())
	}()

	var addr string
	select {
	case addr = <-addrCh:
	case err := <-errCh:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}
	base := "http://" + addr

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/swagger.json")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(b), `"swagger"`)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(base+"/v1/trips/status", "application/json",
		strings.NewReader(`{"departureId":"dep-1","vehicleId":"v1","driverId":"d1","status":"BOARDING"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
