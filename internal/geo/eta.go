package geo

import (
	"math"
	"time"

	"github.com/BearBump/TripWatch/internal/models"
)

const (
	// Средний радиус Земли в километрах.
	earthRadiusKm = 6371.0

	milesToKm = 1.60934

	confidenceMin = 50
	confidenceMax = 95
)

type Config struct {
	AverageSpeedMph     float64 // default: 45
	TrafficFactor       float64 // default: 1.2, applied to every leg
	StopDwellMinutes    float64 // default: 3, per remaining pickup stop
	SafetyBufferMinutes float64 // default: 5
}

func DefaultConfig() Config {
	return Config{
		AverageSpeedMph:     45,
		TrafficFactor:       1.2,
		StopDwellMinutes:    3,
		SafetyBufferMinutes: 5,
	}
}

// ETA — результат расчёта. DistanceKm считается по полному пути
// [current, stops..., destination].
type ETA struct {
	DistanceKm        float64   `json:"distanceKm"`
	TotalMinutes      float64   `json:"totalMinutes"`
	EstimatedArrival  time.Time `json:"estimatedArrival"`
	Confidence        int       `json:"confidence"`
	RemainingStops    int       `json:"remainingStops"`
	TrafficMultiplier float64   `json:"trafficMultiplier"`
}

// Engine is a pure computation module: no I/O, the clock is injected so
// every output is reproducible in tests.
type Engine struct {
	cfg Config
	now func() time.Time
}

func NewEngine(cfg Config, now func() time.Time) *Engine {
	def := DefaultConfig()
	if cfg.AverageSpeedMph <= 0 {
		cfg.AverageSpeedMph = def.AverageSpeedMph
	}
	if cfg.TrafficFactor <= 0 {
		cfg.TrafficFactor = def.TrafficFactor
	}
	if cfg.StopDwellMinutes < 0 {
		cfg.StopDwellMinutes = def.StopDwellMinutes
	}
	if cfg.SafetyBufferMinutes < 0 {
		cfg.SafetyBufferMinutes = def.SafetyBufferMinutes
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{cfg: cfg, now: now}
}

// Distance returns the great-circle distance between two points in
// kilometers (haversine on WGS-84).
func Distance(a, b models.Coordinate) float64 {
	dLat := degToRad(b.Lat - a.Lat)
	dLon := degToRad(b.Lon - a.Lon)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)

	h := sinLat*sinLat +
		math.Cos(degToRad(a.Lat))*math.Cos(degToRad(b.Lat))*sinLon*sinLon

	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

func (e *Engine) speedKmh() float64 {
	return e.cfg.AverageSpeedMph * milesToKm
}

// CalculateETA строит путь [current, stops..., destination] и суммирует
// минуты по плечам: расстояние / средняя скорость × traffic factor,
// плюс стоянка на каждой остановке и страховой буфер.
func (e *Engine) CalculateETA(current, destination models.Coordinate, stops []models.Coordinate) ETA {
	now := e.now().UTC()

	path := make([]models.Coordinate, 0, len(stops)+2)
	path = append(path, current)
	path = append(path, stops...)
	path = append(path, destination)

	dist := 0.0
	for i := 0; i < len(path)-1; i++ {
		dist += Distance(path[i], path[i+1])
	}

	minutes := dist / e.speedKmh() * 60 * e.cfg.TrafficFactor
	minutes += float64(len(stops)) * e.cfg.StopDwellMinutes
	minutes += e.cfg.SafetyBufferMinutes

	return ETA{
		DistanceKm:        dist,
		TotalMinutes:      minutes,
		EstimatedArrival:  now.Add(time.Duration(minutes * float64(time.Minute))),
		Confidence:        confidence(dist, len(stops), now),
		RemainingStops:    len(stops),
		TrafficMultiplier: TimeOfDayMultiplier(now),
	}
}

// UpdateWithProgress пересчитывает остаток как original × (1 − p/100),
// заново применяет time-of-day множитель и поднимает confidence
// пропорционально прогрессу (не больше +20).
func (e *Engine) UpdateWithProgress(original ETA, progressPct int) ETA {
	now := e.now().UTC()

	p := float64(clampInt(progressPct, 0, 100))
	remaining := original.DistanceKm * (1 - p/100)
	mult := TimeOfDayMultiplier(now)

	minutes := remaining/e.speedKmh()*60*mult + e.cfg.SafetyBufferMinutes

	conf := original.Confidence + int(20*p/100)
	if conf > confidenceMax {
		conf = confidenceMax
	}

	return ETA{
		DistanceKm:        remaining,
		TotalMinutes:      minutes,
		EstimatedArrival:  now.Add(time.Duration(minutes * float64(time.Minute))),
		Confidence:        conf,
		RemainingStops:    original.RemainingStops,
		TrafficMultiplier: mult,
	}
}

// TimeOfDayMultiplier — детерминированная функция часа и дня недели,
// без внешних traffic-фидов.
func TimeOfDayMultiplier(t time.Time) float64 {
	if isWeekend(t) {
		return 1.1
	}
	if isRushHour(t) {
		return 1.5
	}
	return 1.0
}

// Confidence: старт 90, штрафы за дистанцию, остановки и время суток,
// итог в [50, 95].
func confidence(distKm float64, stops int, t time.Time) int {
	c := 90

	switch {
	case distKm > 300:
		c -= 15
	case distKm > 150:
		c -= 10
	case distKm > 50:
		c -= 5
	}

	c -= 3 * stops

	if isWeekend(t) {
		c -= 5
	} else if isRushHour(t) {
		c -= 10
	}

	return clampInt(c, confidenceMin, confidenceMax)
}

func isRushHour(t time.Time) bool {
	h := t.Hour()
	return (h >= 7 && h < 9) || (h >= 16 && h < 18)
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func degToRad(deg float64) float64 {
	return deg * (math.Pi / 180.0)
}
