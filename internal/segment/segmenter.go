// Package segment разбивает сглаженную последовательность шагов на галсы.
//
// Разбиение двухфазное: первая фаза одним проходом строит список кандидатов
// (начало, конец, оставить ли), вторая применяет только принятых кандидатов,
// обрезает начало каждого галса, сокращает число галсов и нумерует их плотно.
package segment

import (
	"fmt"

	"github.com/flybeeper/drone-footprint/internal/metrics"
	"github.com/flybeeper/drone-footprint/internal/models"
	"github.com/flybeeper/drone-footprint/pkg/utils"
)

// Candidate кандидат в галсы; Start и End позиции шагов включительно
type Candidate struct {
	Start    int
	End      int
	Keep     bool
	WhyEnded string
}

// Result результат разбиения
type Result struct {
	Legs       []models.Leg
	Candidates []Candidate
	Trimmed    int  // шагов отрезано с начала галсов
	Reduced    int  // галсов удалено при сокращении
	Synthetic  bool // нет данных ориентации, один галс на весь диапазон
}

// Segmenter разбивает полет на галсы
type Segmenter struct {
	rules  models.RuleConfig
	logger *utils.Logger
}

// NewSegmenter создает сегментатор
func NewSegmenter(rules models.RuleConfig, logger *utils.Logger) *Segmenter {
	if logger == nil {
		logger = utils.Default()
	}
	return &Segmenter{rules: rules, logger: logger}
}

// Segment назначает LegID каждому шагу и возвращает галсы.
// Предыдущие LegID шагов сбрасываются.
func (s *Segmenter) Segment(steps []models.Step) (*Result, error) {
	for i := range steps {
		steps[i].LegID = 0
	}

	if !hasAttitude(steps) {
		return s.synthetic(steps)
	}

	candidates := Candidates(s.rules, steps)
	ranges := make([]legRange, 0, len(candidates))
	for _, c := range candidates {
		if c.Keep {
			ranges = append(ranges, legRange{first: c.Start, last: c.End, why: c.WhyEnded})
			metrics.Legs.WithLabelValues("kept").Inc()
		} else {
			metrics.Legs.WithLabelValues("discarded").Inc()
		}
	}

	result := &Result{Candidates: candidates}

	result.Trimmed = trimStarts(s.rules, steps, ranges)
	if result.Trimmed > 0 {
		metrics.Legs.WithLabelValues("trimmed").Inc()
	}

	ranges, result.Reduced = reduce(s.rules, steps, ranges)
	if result.Reduced > 0 {
		metrics.Legs.WithLabelValues("reduced").Add(float64(result.Reduced))
		s.logger.WithFields(map[string]interface{}{
			"removed":  result.Reduced,
			"remained": len(ranges),
		}).Debug("Reduced number of legs")
	}

	legs, err := s.synthesize(steps, ranges)
	if err != nil {
		return nil, err
	}
	result.Legs = legs

	s.logger.WithFields(map[string]interface{}{
		"candidates": len(candidates),
		"legs":       len(legs),
		"trimmed":    result.Trimmed,
	}).Debug("Segmented flight into legs")

	return result, nil
}

// Candidates первая фаза: проход конечным автоматом по шагам
func Candidates(rules models.RuleConfig, steps []models.Step) []Candidate {
	var out []Candidate
	start := -1

	finish := func(end int, why string) {
		out = append(out, Candidate{
			Start:    start,
			End:      end,
			Keep:     meetsMinimum(rules, steps, start, end),
			WhyEnded: why,
		})
		start = -1
	}

	for i := range steps {
		if start >= 0 {
			why := endReason(rules, &steps[start], &steps[i])
			if why == "" {
				continue
			}
			finish(i-1, why)
		}
		// Нет активного галса (в том числе шаг, только что закончивший галс)
		if canStart(rules, &steps[i]) {
			start = i
		}
	}

	if start >= 0 {
		finish(len(steps)-1, WhyNoMoreSteps)
	}
	return out
}

type legRange struct {
	first, last int
	why         string
}

// trimStarts отрезает начало каждого галса (перецентровка подвеса после
// разворота), но не ниже минимальных длительности и расстояния галса
func trimStarts(rules models.RuleConfig, steps []models.Step, ranges []legRange) int {
	if rules.LegTrimMs <= 0 {
		return 0
	}
	trimmed := 0
	for k := range ranges {
		r := &ranges[k]
		t0 := steps[r.first].SumTimeMs
		for r.first < r.last &&
			steps[r.first].SumTimeMs-t0 < int64(rules.LegTrimMs) &&
			meetsMinimum(rules, steps, r.first+1, r.last) {
			r.first++
			trimmed++
		}
	}
	return trimmed
}

// reduce удаляет короткие галсы с растущим порогом, пока галсов больше MaxLegs
func reduce(rules models.RuleConfig, steps []models.Step, ranges []legRange) ([]legRange, int) {
	if rules.MaxLegs <= 0 || len(ranges) <= rules.MaxLegs || rules.LegReduceStepM <= 0 {
		return ranges, 0
	}

	removed := 0
	for threshold := rules.LegReduceStepM; threshold <= rules.LegReduceMaxM+1e-9; threshold += rules.LegReduceStepM {
		kept := ranges[:0:0]
		for _, r := range ranges {
			if _, lineal := span(steps, r.first, r.last); lineal < threshold {
				removed++
				continue
			}
			kept = append(kept, r)
		}
		ranges = kept
		if len(ranges) <= rules.MaxLegs {
			break
		}
	}
	return ranges, removed
}

// synthesize вторая фаза: записи галсов и обратные ссылки шаг -> галс
func (s *Segmenter) synthesize(steps []models.Step, ranges []legRange) ([]models.Leg, error) {
	legs := make([]models.Leg, 0, len(ranges))
	lastPos := -1

	for _, r := range ranges {
		if r.first <= lastPos || r.first > r.last {
			err := &models.InvariantError{
				Stage:  "segmentation",
				Field:  "leg_range",
				Detail: fmt.Sprintf("leg at positions %d..%d overlaps previous leg ending at %d", r.first, r.last, lastPos),
			}
			if s.rules.StrictInvariants {
				return nil, err
			}
			metrics.InvariantViolations.WithLabelValues("segmentation", "leg_range").Inc()
			s.logger.WithError(err).Warn("Dropping invalid leg")
			continue
		}

		leg := models.Leg{
			ID:           len(legs) + 1,
			MinIndex:     steps[r.first].Index,
			MaxIndex:     steps[r.last].Index,
			FirstPos:     r.first,
			LastPos:      r.last,
			MinSumTimeMs: steps[r.first].SumTimeMs,
			MaxSumTimeMs: steps[r.last].SumTimeMs,
			WhyEnded:     r.why,
		}
		fillLineal(&leg, steps)

		for i := r.first; i <= r.last; i++ {
			steps[i].LegID = leg.ID
		}
		legs = append(legs, leg)
		lastPos = r.last
	}
	return legs, nil
}

// RefreshLineal пересчитывает диапазоны пройденного пути галсов
// после изменения положений шагов
func RefreshLineal(legs []models.Leg, steps []models.Step) {
	for i := range legs {
		fillLineal(&legs[i], steps)
	}
}

func fillLineal(leg *models.Leg, steps []models.Step) {
	first := true
	for i := leg.FirstPos; i <= leg.LastPos; i++ {
		v, ok := steps[i].SumLinealM.Get()
		if !ok {
			continue
		}
		if first || v < leg.MinSumLinealM {
			leg.MinSumLinealM = v
		}
		if first || v > leg.MaxSumLinealM {
			leg.MaxSumLinealM = v
		}
		first = false
	}
}

// synthetic один галс на диапазон RunFromIndex..RunToIndex, когда ориентации нет вовсе
func (s *Segmenter) synthetic(steps []models.Step) (*Result, error) {
	result := &Result{Synthetic: true}

	first, last := -1, -1
	for i := range steps {
		idx := steps[i].Index
		if idx < s.rules.RunFromIndex {
			continue
		}
		if s.rules.RunToIndex > 0 && idx > s.rules.RunToIndex {
			break
		}
		if first < 0 {
			first = i
		}
		last = i
	}

	if first < 0 {
		s.logger.Warn("No attitude data and no steps in run range, no legs produced")
		return result, nil
	}

	legs, err := s.synthesize(steps, []legRange{{first: first, last: last, why: WhyNoAttitudeData}})
	if err != nil {
		return nil, err
	}
	result.Legs = legs
	s.logger.WithField("steps", last-first+1).Info("No attitude data, using single synthetic leg")
	return result, nil
}

func hasAttitude(steps []models.Step) bool {
	for i := range steps {
		if steps[i].YawDeg.Valid && steps[i].PitchDeg.Valid {
			return true
		}
	}
	return false
}

// Verify проверяет, что галсы не пересекаются и каждый шаг с LegID > 0
// лежит в диапазоне ровно своего галса
func Verify(steps []models.Step, legs []models.Leg) error {
	for k := 1; k < len(legs); k++ {
		if legs[k].MinIndex <= legs[k-1].MaxIndex {
			return &models.InvariantError{
				Stage:  "segmentation",
				Field:  "leg_range",
				Detail: fmt.Sprintf("legs %d and %d overlap", legs[k-1].ID, legs[k].ID),
			}
		}
	}
	for i := range steps {
		id := steps[i].LegID
		if id == 0 {
			continue
		}
		if id < 0 || id > len(legs) || !legs[id-1].ContainsIndex(steps[i].Index) {
			return &models.InvariantError{
				Stage:  "segmentation",
				Field:  "leg_id",
				Detail: fmt.Sprintf("step %d has leg %d that does not contain it", steps[i].Index, id),
			}
		}
	}
	return nil
}
