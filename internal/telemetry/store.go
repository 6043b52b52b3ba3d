// Package telemetry хранит сырые сэмплы одного полета в порядке времени.
package telemetry

import (
	"errors"
	"fmt"
	"math"

	"github.com/flybeeper/drone-footprint/internal/geo"
	"github.com/flybeeper/drone-footprint/internal/metrics"
	"github.com/flybeeper/drone-footprint/internal/models"
)

// NearestSearchSlots сколько слотов просматривается в каждую сторону при поиске соседа.
// При тиках ~30мс это покрывает изолированные разрывы до ~2с.
const NearestSearchSlots = 8

// SampleStore упорядоченное хранилище сэмплов с монотонным индексом
type SampleStore struct {
	sections   []models.Section
	positions  map[int]int // index -> позиция в sections
	projection *geo.Projection
	sumTimeMs  int64

	stats *Stats // nil = пересчитать
}

// NewSampleStore создает пустое хранилище; зона UTM фиксируется первой точкой
func NewSampleStore() *SampleStore {
	return NewSampleStoreWithProjection(geo.NewProjection())
}

// NewSampleStoreWithProjection создает хранилище с заданной проекцией
func NewSampleStoreWithProjection(projection *geo.Projection) *SampleStore {
	return &SampleStore{
		positions:  make(map[int]int),
		projection: projection,
	}
}

// Add добавляет сэмпл. Индекс должен быть строго больше текущего максимума;
// при ошибке хранилище не меняется.
func (s *SampleStore) Add(section models.Section) error {
	if err := s.add(section); err != nil {
		reason := "malformed"
		if errors.Is(err, models.ErrOutOfOrder) {
			reason = "out_of_order"
		}
		metrics.SamplesRejected.WithLabelValues(reason).Inc()
		return err
	}
	metrics.SamplesAccepted.Inc()
	return nil
}

func (s *SampleStore) add(section models.Section) error {
	if n := len(s.sections); n > 0 {
		maxIndex := s.sections[n-1].Index
		if section.Index <= maxIndex {
			return &models.InputError{
				Index:  section.Index,
				Reason: fmt.Sprintf("index not greater than current maximum %d", maxIndex),
				Err:    models.ErrOutOfOrder,
			}
		}
	}

	if err := section.Validate(); err != nil {
		return &models.InputError{Index: section.Index, Reason: err.Error()}
	}

	if section.Location != nil {
		planar := s.projection.Project(*section.Location)
		section.LocationM = &planar
	} else {
		section.LocationM = nil
	}

	if len(s.sections) > 0 {
		s.sumTimeMs += int64(section.DurationMs)
	}
	section.SumTimeMs = s.sumTimeMs

	s.positions[section.Index] = len(s.sections)
	s.sections = append(s.sections, section)
	s.stats = nil

	return nil
}

// Len количество сэмплов
func (s *SampleStore) Len() int {
	return len(s.sections)
}

// At сэмпл по позиции
func (s *SampleStore) At(pos int) models.Section {
	return s.sections[pos]
}

// Sections копия всех сэмплов
func (s *SampleStore) Sections() []models.Section {
	out := make([]models.Section, len(s.sections))
	copy(out, s.sections)
	return out
}

// Index индекс слота сэмпла на позиции pos
func (s *SampleStore) Index(pos int) int {
	return s.sections[pos].Index
}

// Projection проекция, в которой посчитаны плоские координаты
func (s *SampleStore) Projection() *geo.Projection {
	return s.projection
}

// Position позиция сэмпла с точным индексом
func (s *SampleStore) Position(index int) (int, bool) {
	pos, ok := s.positions[index]
	return pos, ok
}

// Nearest возвращает сэмпл с индексом index или ближайший в пределах
// NearestSearchSlots слотов. При равном удалении предпочитается более ранний.
func (s *SampleStore) Nearest(index int) (models.Section, bool) {
	if pos, ok := s.positions[index]; ok {
		return s.sections[pos], true
	}
	for delta := 1; delta <= NearestSearchSlots; delta++ {
		if pos, ok := s.positions[index-delta]; ok {
			return s.sections[pos], true
		}
		if pos, ok := s.positions[index+delta]; ok {
			return s.sections[pos], true
		}
	}
	return models.Section{}, false
}

// NearestByTime линейный поиск сэмпла с ближайшим накопленным временем.
// Накопленное время монотонно, поэтому поиск прекращается, как только
// расстояние начинает расти.
func (s *SampleStore) NearestByTime(elapsedMs int64) (models.Section, bool) {
	if len(s.sections) == 0 {
		return models.Section{}, false
	}

	best := 0
	bestDist := absInt64(s.sections[0].SumTimeMs - elapsedMs)
	for i := 1; i < len(s.sections); i++ {
		dist := absInt64(s.sections[i].SumTimeMs - elapsedMs)
		if dist > bestDist {
			break
		}
		if dist < bestDist {
			best = i
			bestDist = dist
		}
	}
	return s.sections[best], true
}

// HasAttitude есть ли хоть один сэмпл с yaw и pitch
func (s *SampleStore) HasAttitude() bool {
	for i := range s.sections {
		if s.sections[i].HasAttitude() {
			return true
		}
	}
	return false
}

// Stats агрегаты по сырым сэмплам; кэшируются до следующего Add
func (s *SampleStore) Stats() Stats {
	if s.stats == nil {
		st := computeStats(s.sections)
		s.stats = &st
	}
	return *s.stats
}

// MinAltitude минимальная сырая высота
func (s *SampleStore) MinAltitude() models.OptFloat {
	return s.Stats().Altitude.Min
}

// MaxAltitude максимальная сырая высота
func (s *SampleStore) MaxAltitude() models.OptFloat {
	return s.Stats().Altitude.Max
}

// MaxSpeed максимальная сырая скорость
func (s *SampleStore) MaxSpeed() models.OptFloat {
	return s.Stats().Speed.Max
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Range минимум и максимум поля
type Range struct {
	Min models.OptFloat `json:"min"`
	Max models.OptFloat `json:"max"`
}

// Observe учитывает значение
func (r *Range) Observe(v models.OptFloat) {
	val, ok := v.Get()
	if !ok || math.IsNaN(val) {
		return
	}
	if !r.Min.Valid || val < r.Min.Value {
		r.Min = models.Known(val)
	}
	if !r.Max.Valid || val > r.Max.Value {
		r.Max = models.Known(val)
	}
}

// Stats агрегаты по сэмплам
type Stats struct {
	Count      int   `json:"count"`
	DurationMs int64 `json:"duration_ms"`

	Altitude Range `json:"altitude_m"`
	Yaw      Range `json:"yaw_deg"`
	Pitch    Range `json:"pitch_deg"`
	Northing Range `json:"northing_m"`
	Easting  Range `json:"easting_m"`
	Lineal   Range `json:"sum_lineal_m"`
	Speed    Range `json:"speed_mps"`
	DeltaYaw Range `json:"delta_yaw_deg"`
}

func computeStats(sections []models.Section) Stats {
	st := Stats{Count: len(sections)}
	if len(sections) == 0 {
		return st
	}
	st.DurationMs = sections[len(sections)-1].SumTimeMs

	derived := DeriveMotion(sectionsToTracks(sections))
	for i := range sections {
		sec := &sections[i]
		st.Altitude.Observe(sec.AltitudeM)
		st.Yaw.Observe(sec.YawDeg)
		st.Pitch.Observe(sec.PitchDeg)
		if sec.LocationM != nil {
			st.Northing.Observe(models.Known(sec.LocationM.Northing))
			st.Easting.Observe(models.Known(sec.LocationM.Easting))
		}
		st.Lineal.Observe(derived[i].SumLinealM)
		st.Speed.Observe(derived[i].SpeedMps)
		st.DeltaYaw.Observe(derived[i].DeltaYawDeg)
	}
	return st
}

func sectionsToTracks(sections []models.Section) []TrackPoint {
	points := make([]TrackPoint, len(sections))
	for i := range sections {
		points[i] = TrackPoint{
			Location:   sections[i].LocationM,
			YawDeg:     sections[i].YawDeg,
			DurationMs: sections[i].DurationMs,
		}
	}
	return points
}
