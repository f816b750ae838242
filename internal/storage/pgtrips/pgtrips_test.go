package pgtrips

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/TripWatch/internal/models"
	"github.com/BearBump/TripWatch/internal/status"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "tripwatch_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/tripwatch_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func TestPGTrips_StatusFlow(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()

	boarding := StatusTransition{
		DepartureID: "D1",
		VehicleID:   "V1",
		DriverID:    "Drv1",
		NewStatus:   status.VehicleBoarding,
		OriginName:  "Columbia",
		DestName:    "Charleston Airport",
		PayloadJSON: `{"vehicleStatus":"BOARDING"}`,
		Now:         now,
	}

	res, err := st.ApplyStatusTransition(ctx, boarding)
	require.NoError(t, err)
	require.True(t, res.Created)
	require.Equal(t, status.VehicleBoarding, res.Record.Status)
	require.NotNil(t, res.Record.TripStartedAt)
	require.Nil(t, res.Record.TripCompletedAt)
	require.Equal(t, status.LiveBoarding, res.Live.Status)
	require.Contains(t, res.Live.Message, "Columbia")
	require.NotEmpty(t, res.Live.TrackingToken)

	// Идемпотентный повтор: та же запись, не sibling.
	res2, err := st.ApplyStatusTransition(ctx, boarding)
	require.NoError(t, err)
	require.False(t, res2.Created)
	require.Equal(t, res.Record.ID, res2.Record.ID)
	require.Equal(t, res.Live.TrackingToken, res2.Live.TrackingToken)
	require.WithinDuration(t, *res.Record.TripStartedAt, *res2.Record.TripStartedAt, time.Second)

	// Ровно по одному событию на переход.
	evs, err := st.ListTripEvents(ctx, res.Record.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.Equal(t, models.EventKindStatusChange, evs[0].Kind)

	enroute := boarding
	enroute.NewStatus = status.VehicleEnRoute
	res3, err := st.ApplyStatusTransition(ctx, enroute)
	require.NoError(t, err)
	require.Equal(t, status.VehicleEnRoute, res3.Record.Status)
	require.Equal(t, status.LiveEnRoute, res3.Live.Status)

	// Регресс не записывается, но событие и проекция обновляются.
	back := boarding
	back.NewStatus = status.VehicleBoarding
	res4, err := st.ApplyStatusTransition(ctx, back)
	require.NoError(t, err)
	require.Equal(t, status.VehicleEnRoute, res4.Record.Status)
	require.Equal(t, status.VehicleEnRoute, res4.EffectiveStatus)

	evs, err = st.ListTripEvents(ctx, res.Record.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, evs, 4)
}

func TestPGTrips_DelayOverlayAndCompletion(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()

	base := StatusTransition{
		DepartureID: "D2",
		VehicleID:   "V2",
		DriverID:    "Drv2",
		NewStatus:   status.VehicleEnRoute,
		OriginName:  "A",
		DestName:    "B",
		Now:         now,
	}
	_, err := st.ApplyStatusTransition(ctx, base)
	require.NoError(t, err)

	delay := base
	delay.NewStatus = status.VehicleDelayed
	mins := int32(15)
	delay.DelayMinutes = &mins
	res, err := st.ApplyStatusTransition(ctx, delay)
	require.NoError(t, err)
	require.Equal(t, status.LiveDelayed, res.Live.Status)
	require.Equal(t, int32(15), res.Live.DelayMinutes)

	// Мусорный статус нормализуется в SCHEDULED; из overlay он не должен
	// откатить запись и проекцию "в расписание" посреди рейса.
	garbage := base
	garbage.NewStatus = status.ParseVehicle("RESUMED")
	res, err = st.ApplyStatusTransition(ctx, garbage)
	require.NoError(t, err)
	require.Equal(t, status.VehicleDelayed, res.Record.Status)
	require.Equal(t, status.VehicleDelayed, res.EffectiveStatus)
	require.Equal(t, status.LiveDelayed, res.Live.Status)

	// Выход из overlay обратно в EN_ROUTE сбрасывает задержку.
	resume := base
	res, err = st.ApplyStatusTransition(ctx, resume)
	require.NoError(t, err)
	require.Equal(t, status.VehicleEnRoute, res.Record.Status)
	require.Zero(t, res.Live.DelayMinutes)

	done := base
	done.NewStatus = status.VehicleCompleted
	res, err = st.ApplyStatusTransition(ctx, done)
	require.NoError(t, err)
	require.NotNil(t, res.Record.TripCompletedAt)
	require.Equal(t, int32(100), res.Live.ProgressPct)
	require.Equal(t, status.LiveCompleted, res.Live.Status)

	// COMPLETED терминален: поздний DELAYED не переворачивает проекцию.
	late := delay
	res, err = st.ApplyStatusTransition(ctx, late)
	require.NoError(t, err)
	require.Equal(t, status.VehicleCompleted, res.Record.Status)
	require.Equal(t, status.LiveCompleted, res.Live.Status)
	require.Equal(t, int32(100), res.Live.ProgressPct)
}

func TestPGTrips_ConcurrentFirstReports(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	in := StatusTransition{
		DepartureID: "D6",
		VehicleID:   "V6",
		DriverID:    "Drv6",
		NewStatus:   status.VehicleBoarding,
		OriginName:  "A",
		DestName:    "B",
		Now:         time.Now().UTC(),
	}

	// Два первых репорта одновременно: сериализация на row lock,
	// sibling-записи быть не должно.
	results := make([]*TransitionResult, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = st.ApplyStatusTransition(ctx, in)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, results[0].Record.ID, results[1].Record.ID)
	require.Equal(t, results[0].Live.TrackingToken, results[1].Live.TrackingToken)

	// Настоящая вставка ровно одна, проигравший получает чужую строку.
	require.NotEqual(t, results[0].Created, results[1].Created)

	evs, err := st.ListTripEvents(ctx, results[0].Record.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.Equal(t, models.EventKindStatusChange, evs[0].Kind)
	require.Equal(t, models.EventKindStatusChange, evs[1].Kind)
}

func TestPGTrips_VehicleRequiredForFirstReport(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	_, err := st.ApplyStatusTransition(ctx, StatusTransition{
		DepartureID: "D3",
		DriverID:    "Drv3",
		NewStatus:   status.VehicleBoarding,
		Now:         time.Now().UTC(),
	})
	require.ErrorIs(t, err, ErrVehicleNotFound)

	// Никаких частичных записей.
	_, err = st.GetTrackingByDeparture(ctx, "D3")
	require.ErrorIs(t, err, ErrTrackingNotFound)
	_, err = st.GetLiveStatus(ctx, "D3")
	require.ErrorIs(t, err, ErrLiveStatusNotFound)
}

func TestPGTrips_LocationUpdates(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()

	created, err := st.ApplyStatusTransition(ctx, StatusTransition{
		DepartureID: "D4",
		VehicleID:   "V4",
		DriverID:    "Drv4",
		NewStatus:   status.VehicleBoarding,
		OriginName:  "A",
		DestName:    "B",
		Now:         now,
	})
	require.NoError(t, err)
	id := created.Record.ID

	speed := 55.0
	res, err := st.ApplyLocationUpdate(ctx, LocationUpdate{
		TrackingID:  id,
		Lat:         34.0,
		Lon:         -81.0,
		Speed:       &speed,
		ProgressPct: 10,
		OriginName:  "A",
		DestName:    "B",
		Now:         now,
	})
	require.NoError(t, err)
	require.Equal(t, int32(10), res.Live.ProgressPct)
	require.NotNil(t, res.Live.AutoUpdatedAt)

	res, err = st.ApplyLocationUpdate(ctx, LocationUpdate{
		TrackingID:  id,
		Lat:         33.5,
		Lon:         -80.5,
		ProgressPct: 25,
		OriginName:  "A",
		DestName:    "B",
		Now:         now.Add(time.Minute),
	})
	require.NoError(t, err)

	// Последний фикс выигрывает, breadcrumbs — две отдельные строки.
	require.NotNil(t, res.Record.Lat)
	require.Equal(t, 33.5, *res.Record.Lat)
	crumbs, err := st.ListBreadcrumbs(ctx, id, 10, 0)
	require.NoError(t, err)
	require.Len(t, crumbs, 2)
	require.Equal(t, 33.5, crumbs[0].Lat)
	require.Equal(t, 34.0, crumbs[1].Lat)

	latest, err := st.LatestBreadcrumb(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 33.5, latest.Lat)

	// Прогресс не регрессирует.
	res, err = st.ApplyLocationUpdate(ctx, LocationUpdate{
		TrackingID:  id,
		Lat:         33.4,
		Lon:         -80.4,
		ProgressPct: 5,
		OriginName:  "A",
		DestName:    "B",
		Now:         now.Add(2 * time.Minute),
	})
	require.NoError(t, err)
	require.Equal(t, int32(25), res.Live.ProgressPct)

	// Inline-статус в GPS-репорте.
	enroute := status.VehicleEnRoute
	res, err = st.ApplyLocationUpdate(ctx, LocationUpdate{
		TrackingID:  id,
		Lat:         33.3,
		Lon:         -80.3,
		NewStatus:   &enroute,
		ProgressPct: 30,
		OriginName:  "A",
		DestName:    "B",
		Now:         now.Add(3 * time.Minute),
	})
	require.NoError(t, err)
	require.Equal(t, status.VehicleEnRoute, res.Record.Status)

	_, err = st.ApplyLocationUpdate(ctx, LocationUpdate{TrackingID: 9999, Lat: 0, Lon: 0, Now: now})
	require.ErrorIs(t, err, ErrTrackingNotFound)
}

func TestPGTrips_NotificationLifecycle(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	id, err := st.CreatePendingNotification(ctx, models.NotificationRecord{
		DepartureID:      "D5",
		BookingID:        "B1",
		Channel:          models.ChannelSMS,
		Recipient:        "+15550001111",
		TransitionStatus: status.VehicleBoarding,
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	provider := "msg-123"
	require.NoError(t, st.FinishNotification(ctx, id, models.NotificationSent, &provider, nil))

	// Терминальная запись неизменяема.
	errMsg := "late failure"
	require.Error(t, st.FinishNotification(ctx, id, models.NotificationFailed, nil, &errMsg))

	list, err := st.ListNotifications(ctx, "D5", 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, models.NotificationSent, list[0].Status)
	require.NotNil(t, list[0].ProviderID)
	require.Equal(t, "msg-123", *list[0].ProviderID)
	require.NotNil(t, list[0].FinishedAt)
}
