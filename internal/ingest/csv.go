package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/flybeeper/drone-footprint/internal/models"
)

// Колонки нормализованного CSV. Заголовок обязателен, порядок любой.
const (
	ColIndex       = "index"
	ColTimestampMs = "timestamp_ms"
	ColLat         = "lat"
	ColLon         = "lon"
	ColAltitude    = "altitude_m"
	ColYaw         = "yaw_deg"
	ColPitch       = "pitch_deg"
	ColRoll        = "roll_deg"
	ColFocalLength = "focal_length"
	ColZoom        = "zoom"
	ColDurationMs  = "duration_ms"
)

var columnAliases = map[string]string{
	"latitude":  ColLat,
	"longitude": ColLon,
	"lng":       ColLon,
	"alt":       ColAltitude,
	"altitude":  ColAltitude,
	"yaw":       ColYaw,
	"heading":   ColYaw,
	"pitch":     ColPitch,
	"roll":      ColRoll,
	"focal":     ColFocalLength,
	"time_ms":   ColTimestampMs,
}

// CSVSource нормализованный CSV. Пустая ячейка, "-" или "nan" означают "неизвестно".
// Без колонки duration_ms длительность считается по разнице timestamp_ms.
type CSVSource struct {
	name    string
	reader  *csv.Reader
	columns map[string]int
	line    int
	prevTs  int64
	hasPrev bool
}

// NewCSVSource читает заголовок и готовит источник
func NewCSVSource(name string, r io.Reader) (*CSVSource, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	reader.Comment = '#'

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: read header: %w", name, err)
	}

	columns := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if alias, ok := columnAliases[key]; ok {
			key = alias
		}
		columns[key] = i
	}
	if _, ok := columns[ColIndex]; !ok {
		return nil, fmt.Errorf("%s: header has no %q column", name, ColIndex)
	}
	_, hasDuration := columns[ColDurationMs]
	_, hasTimestamp := columns[ColTimestampMs]
	if !hasDuration && !hasTimestamp {
		return nil, fmt.Errorf("%s: header needs %q or %q", name, ColDurationMs, ColTimestampMs)
	}

	return &CSVSource{name: name, reader: reader, columns: columns, line: 1}, nil
}

// Name имя источника
func (s *CSVSource) Name() string {
	return s.name
}

// Next следующий сэмпл; строка с ошибкой возвращает *models.InputError
func (s *CSVSource) Next() (models.Section, error) {
	record, err := s.reader.Read()
	if errors.Is(err, io.EOF) {
		return models.Section{}, io.EOF
	}
	s.line++
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return models.Section{}, &models.InputError{Index: -1, Reason: fmt.Sprintf("line %d: %v", s.line, err)}
		}
		return models.Section{}, err
	}
	return s.parse(record)
}

func (s *CSVSource) parse(record []string) (models.Section, error) {
	row := csvRow{record: record, columns: s.columns}

	index, err := strconv.Atoi(row.cell(ColIndex))
	if err != nil {
		return models.Section{}, &models.InputError{Index: -1, Reason: fmt.Sprintf("line %d: bad index %q", s.line, row.cell(ColIndex))}
	}

	reject := func(reason string) (models.Section, error) {
		return models.Section{}, &models.InputError{Index: index, Reason: fmt.Sprintf("line %d: %s", s.line, reason)}
	}

	sec := models.Section{Index: index}
	fields := []struct {
		col string
		dst *models.OptFloat
	}{
		{ColAltitude, &sec.AltitudeM},
		{ColYaw, &sec.YawDeg},
		{ColPitch, &sec.PitchDeg},
		{ColRoll, &sec.RollDeg},
		{ColFocalLength, &sec.FocalLength},
		{ColZoom, &sec.Zoom},
	}
	for _, f := range fields {
		v, err := row.float(f.col)
		if err != nil {
			return reject(err.Error())
		}
		*f.dst = v
	}

	lat, err := row.float(ColLat)
	if err != nil {
		return reject(err.Error())
	}
	lon, err := row.float(ColLon)
	if err != nil {
		return reject(err.Error())
	}
	switch {
	case lat.Valid && lon.Valid:
		sec.Location = &models.GeoPoint{Latitude: lat.Value, Longitude: lon.Value}
	case lat.Valid || lon.Valid:
		return reject("latitude and longitude must be given together")
	}

	ts, hasTs, err := row.integer(ColTimestampMs)
	if err != nil {
		return reject(err.Error())
	}
	if hasTs {
		sec.Timestamp = time.Duration(ts) * time.Millisecond
	}

	duration, hasDuration, err := row.integer(ColDurationMs)
	if err != nil {
		return reject(err.Error())
	}
	switch {
	case hasDuration:
		sec.DurationMs = int(duration)
	case hasTs && s.hasPrev:
		sec.DurationMs = int(ts - s.prevTs)
	}
	if hasTs {
		s.prevTs, s.hasPrev = ts, true
	}

	return sec, nil
}

type csvRow struct {
	record  []string
	columns map[string]int
}

func (r csvRow) cell(col string) string {
	i, ok := r.columns[col]
	if !ok || i >= len(r.record) {
		return ""
	}
	return strings.TrimSpace(r.record[i])
}

func unknownCell(v string) bool {
	switch strings.ToLower(v) {
	case "", "-", "nan", "null", "n/a":
		return true
	}
	return false
}

func (r csvRow) float(col string) (models.OptFloat, error) {
	v := r.cell(col)
	if unknownCell(v) {
		return models.Unknown(), nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsInf(f, 0) {
		return models.Unknown(), fmt.Errorf("bad %s %q", col, v)
	}
	return models.Known(f), nil
}

func (r csvRow) integer(col string) (int64, bool, error) {
	v := r.cell(col)
	if unknownCell(v) {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil {
			return 0, false, fmt.Errorf("bad %s %q", col, v)
		}
		n = int64(math.Round(f))
	}
	return n, true, nil
}

// WriteCSV пишет сэмплы в нормализованный CSV с полным заголовком
func WriteCSV(w io.Writer, sections []models.Section) error {
	cw := csv.NewWriter(w)
	header := []string{ColIndex, ColTimestampMs, ColLat, ColLon, ColAltitude, ColYaw, ColPitch, ColRoll, ColFocalLength, ColZoom, ColDurationMs}
	if err := cw.Write(header); err != nil {
		return err
	}

	opt := func(v models.OptFloat) string {
		if !v.Valid {
			return ""
		}
		return strconv.FormatFloat(v.Value, 'f', -1, 64)
	}
	for _, sec := range sections {
		lat, lon := "", ""
		if sec.Location != nil {
			lat = strconv.FormatFloat(sec.Location.Latitude, 'f', -1, 64)
			lon = strconv.FormatFloat(sec.Location.Longitude, 'f', -1, 64)
		}
		record := []string{
			strconv.Itoa(sec.Index),
			strconv.FormatInt(sec.Timestamp.Milliseconds(), 10),
			lat, lon,
			opt(sec.AltitudeM), opt(sec.YawDeg), opt(sec.PitchDeg), opt(sec.RollDeg),
			opt(sec.FocalLength), opt(sec.Zoom),
			strconv.Itoa(sec.DurationMs),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
