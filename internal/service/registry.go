package service

import (
	"sort"
	"sync"
	"time"

	"github.com/flybeeper/drone-footprint/internal/flight"
	"github.com/flybeeper/drone-footprint/internal/metrics"
)

// FlightInfo краткая запись о полете для списков
type FlightInfo struct {
	ID          string    `json:"id"`
	Steps       int       `json:"steps"`
	Legs        int       `json:"legs"`
	Synthetic   bool      `json:"synthetic"`
	DurationMs  int64     `json:"duration_ms"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Info краткая запись о полете
func Info(f *flight.Flight) FlightInfo {
	return FlightInfo{
		ID:          f.ID,
		Steps:       len(f.Steps),
		Legs:        len(f.Legs),
		Synthetic:   f.Synthetic,
		DurationMs:  f.Summary.DurationMs,
		ProcessedAt: f.ProcessedAt,
	}
}

// Registry обработанные полеты в памяти.
// Flight неизменяем, замена результата атомарна для читателей.
type Registry struct {
	mu      sync.RWMutex
	flights map[string]*flight.Flight
}

// NewRegistry создает пустой реестр
func NewRegistry() *Registry {
	return &Registry{flights: make(map[string]*flight.Flight)}
}

// Put сохраняет или заменяет результат полета
func (r *Registry) Put(f *flight.Flight) {
	r.mu.Lock()
	r.flights[f.ID] = f
	n := len(r.flights)
	r.mu.Unlock()
	metrics.ActiveFlights.Set(float64(n))
}

// Get результат по id
func (r *Registry) Get(id string) (*flight.Flight, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.flights[id]
	return f, ok
}

// Delete удаляет полет; false если его не было
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	_, ok := r.flights[id]
	delete(r.flights, id)
	n := len(r.flights)
	r.mu.Unlock()
	metrics.ActiveFlights.Set(float64(n))
	return ok
}

// Len количество полетов
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.flights)
}

// List полеты, последние обработанные первыми
func (r *Registry) List() []FlightInfo {
	r.mu.RLock()
	out := make([]FlightInfo, 0, len(r.flights))
	for _, f := range r.flights {
		out = append(out, Info(f))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ProcessedAt.Equal(out[j].ProcessedAt) {
			return out[i].ProcessedAt.After(out[j].ProcessedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
