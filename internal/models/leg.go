package models

// Leg прямолинейный целевой участок полета
type Leg struct {
	ID            int     `json:"leg_id"`    // 1-based, плотная нумерация
	MinIndex      int     `json:"min_index"` // Индексы слотов, включительно
	MaxIndex      int     `json:"max_index"`
	FirstPos      int     `json:"first_pos"` // Позиции в массиве шагов
	LastPos       int     `json:"last_pos"`
	MinSumLinealM float64 `json:"min_sum_lineal_m"`
	MaxSumLinealM float64 `json:"max_sum_lineal_m"`
	MinSumTimeMs  int64   `json:"min_sum_time_ms"`
	MaxSumTimeMs  int64   `json:"max_sum_time_ms"`
	WhyEnded      string  `json:"why_ended"`
}

// DurationMs продолжительность галса
func (l Leg) DurationMs() int64 {
	return l.MaxSumTimeMs - l.MinSumTimeMs
}

// LinealM пройденное расстояние
func (l Leg) LinealM() float64 {
	return l.MaxSumLinealM - l.MinSumLinealM
}

// ContainsIndex входит ли слот в диапазон галса
func (l Leg) ContainsIndex(index int) bool {
	return index >= l.MinIndex && index <= l.MaxIndex
}

// OverlapsTime пересекается ли галс с интервалом времени
func (l Leg) OverlapsTime(fromMs, toMs int64) bool {
	return l.MinSumTimeMs <= toMs && l.MaxSumTimeMs >= fromMs
}
