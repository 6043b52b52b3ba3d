// Package ingest приводит телеметрию из внешних форматов к сырым сэмплам.
// Каждый формат реализует Source; разбор логов конкретных производителей
// выполняется до этого слоя.
package ingest

import (
	"errors"
	"fmt"
	"io"

	"github.com/flybeeper/drone-footprint/internal/models"
	"github.com/flybeeper/drone-footprint/internal/telemetry"
	"github.com/flybeeper/drone-footprint/pkg/utils"
)

// Source последовательность сырых сэмплов одного полета.
// Next возвращает io.EOF после последнего сэмпла.
type Source interface {
	Name() string
	Next() (models.Section, error)
}

// maxReportedRejections сколько ошибок отдельных сэмплов хранится в LoadStats
const maxReportedRejections = 20

// LoadStats итог загрузки
type LoadStats struct {
	Accepted  int
	Rejected  int
	Rejection []error // первые ошибки отклоненных сэмплов
}

// Load переносит все сэмплы источника в хранилище.
// Отклоненный сэмпл (нарушение порядка, неверные поля) пропускается,
// загрузка продолжается. Ошибка чтения источника прерывает загрузку.
func Load(src Source, store *telemetry.SampleStore, logger *utils.Logger) (LoadStats, error) {
	if logger == nil {
		logger = utils.Default()
	}

	var stats LoadStats
	for {
		section, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var ie *models.InputError
			if !errors.As(err, &ie) {
				return stats, fmt.Errorf("%s: %w", src.Name(), err)
			}
			stats.reject(err)
			continue
		}

		if err := store.Add(section); err != nil {
			stats.reject(err)
			continue
		}
		stats.Accepted++
	}

	if stats.Rejected > 0 {
		logger.WithFields(map[string]interface{}{
			"source":   src.Name(),
			"accepted": stats.Accepted,
			"rejected": stats.Rejected,
		}).Warn("Some samples were rejected")
	}
	return stats, nil
}

func (s *LoadStats) reject(err error) {
	s.Rejected++
	if len(s.Rejection) < maxReportedRejections {
		s.Rejection = append(s.Rejection, err)
	}
}

// SliceSource источник из готового среза
type SliceSource struct {
	name     string
	sections []models.Section
	pos      int
}

// NewSliceSource создает источник из среза
func NewSliceSource(name string, sections []models.Section) *SliceSource {
	return &SliceSource{name: name, sections: sections}
}

// Name имя источника
func (s *SliceSource) Name() string {
	return s.name
}

// Next следующий сэмпл
func (s *SliceSource) Next() (models.Section, error) {
	if s.pos >= len(s.sections) {
		return models.Section{}, io.EOF
	}
	s.pos++
	return s.sections[s.pos-1], nil
}
