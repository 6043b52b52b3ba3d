package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/flybeeper/drone-footprint/internal/models"
)

// Sample нормализованный сэмпл в JSON (MQTT, HTTP, файлы NDJSON).
// Отсутствующее поле или null означает "неизвестно".
type Sample struct {
	Index       int             `json:"index"`
	TimestampMs int64           `json:"timestamp_ms"`
	Lat         models.OptFloat `json:"lat"`
	Lon         models.OptFloat `json:"lon"`
	AltitudeM   models.OptFloat `json:"altitude_m"`
	YawDeg      models.OptFloat `json:"yaw_deg"`
	PitchDeg    models.OptFloat `json:"pitch_deg"`
	RollDeg     models.OptFloat `json:"roll_deg"`
	FocalLength models.OptFloat `json:"focal_length"`
	Zoom        models.OptFloat `json:"zoom"`
	DurationMs  int             `json:"duration_ms"`
}

// Section переводит сэмпл в сырой сэмпл хранилища
func (s Sample) Section() (models.Section, error) {
	sec := models.Section{
		Index:       s.Index,
		Timestamp:   time.Duration(s.TimestampMs) * time.Millisecond,
		AltitudeM:   s.AltitudeM,
		YawDeg:      s.YawDeg,
		PitchDeg:    s.PitchDeg,
		RollDeg:     s.RollDeg,
		FocalLength: s.FocalLength,
		Zoom:        s.Zoom,
		DurationMs:  s.DurationMs,
	}

	switch {
	case s.Lat.Valid && s.Lon.Valid:
		sec.Location = &models.GeoPoint{Latitude: s.Lat.Value, Longitude: s.Lon.Value}
	case s.Lat.Valid || s.Lon.Valid:
		return sec, &models.InputError{Index: s.Index, Reason: "latitude and longitude must be given together"}
	}
	return sec, nil
}

// FromSection обратное преобразование
func FromSection(sec models.Section) Sample {
	s := Sample{
		Index:       sec.Index,
		TimestampMs: sec.Timestamp.Milliseconds(),
		AltitudeM:   sec.AltitudeM,
		YawDeg:      sec.YawDeg,
		PitchDeg:    sec.PitchDeg,
		RollDeg:     sec.RollDeg,
		FocalLength: sec.FocalLength,
		Zoom:        sec.Zoom,
		DurationMs:  sec.DurationMs,
	}
	if sec.Location != nil {
		s.Lat = models.Known(sec.Location.Latitude)
		s.Lon = models.Known(sec.Location.Longitude)
	}
	return s
}

// Batch пакет сэмплов
type Batch struct {
	Samples []Sample `json:"samples"`
}

// DecodeBatch разбирает массив сэмплов, объект {"samples": [...]} или один сэмпл.
// Сэмплы с неверными полями возвращаются отдельно в rejected.
func DecodeBatch(data []byte) (sections []models.Section, rejected []error, err error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil, fmt.Errorf("%w: empty payload", models.ErrMalformedInput)
	}

	var samples []Sample
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &samples); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", models.ErrMalformedInput, err)
		}
	case '{':
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", models.ErrMalformedInput, err)
		}
		if _, ok := probe["samples"]; ok {
			var batch Batch
			if err := json.Unmarshal(trimmed, &batch); err != nil {
				return nil, nil, fmt.Errorf("%w: %v", models.ErrMalformedInput, err)
			}
			samples = batch.Samples
		} else {
			var one Sample
			if err := json.Unmarshal(trimmed, &one); err != nil {
				return nil, nil, fmt.Errorf("%w: %v", models.ErrMalformedInput, err)
			}
			samples = []Sample{one}
		}
	default:
		return nil, nil, fmt.Errorf("%w: payload is not a JSON object or array", models.ErrMalformedInput)
	}

	sections = make([]models.Section, 0, len(samples))
	for _, s := range samples {
		sec, err := s.Section()
		if err != nil {
			rejected = append(rejected, err)
			continue
		}
		sections = append(sections, sec)
	}
	return sections, rejected, nil
}

// EncodeBatch пакет сэмплов в JSON
func EncodeBatch(sections []models.Section) ([]byte, error) {
	batch := Batch{Samples: make([]Sample, len(sections))}
	for i, sec := range sections {
		batch.Samples[i] = FromSection(sec)
	}
	return json.Marshal(batch)
}

// JSONSource поток сэмплов NDJSON (по объекту на строку)
type JSONSource struct {
	name string
	dec  *json.Decoder
}

// NewJSONSource создает источник NDJSON
func NewJSONSource(name string, r io.Reader) *JSONSource {
	return &JSONSource{name: name, dec: json.NewDecoder(r)}
}

// Name имя источника
func (s *JSONSource) Name() string {
	return s.name
}

// Next следующий сэмпл
func (s *JSONSource) Next() (models.Section, error) {
	var sample Sample
	if err := s.dec.Decode(&sample); err != nil {
		if errors.Is(err, io.EOF) {
			return models.Section{}, io.EOF
		}
		return models.Section{}, fmt.Errorf("decode sample: %w", err)
	}
	return sample.Section()
}
