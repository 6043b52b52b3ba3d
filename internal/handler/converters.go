package handler

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/flybeeper/drone-footprint/internal/models"
	"github.com/flybeeper/drone-footprint/pkg/pool"
)

// Конвертеры из внутренних моделей в protobuf (api/proto/footprint.proto).
// Сообщения собираются через protowire без сгенерированного кода.

// ContentTypeProtobuf тип ответа для Accept: application/x-protobuf
const ContentTypeProtobuf = "application/x-protobuf"

// message LegList { repeated Leg legs = 1; string flight_id = 2; }
const (
	legListFieldLegs     protowire.Number = 1
	legListFieldFlightID protowire.Number = 2
)

// message Leg
const (
	legFieldID            protowire.Number = 1
	legFieldMinIndex      protowire.Number = 2
	legFieldMaxIndex      protowire.Number = 3
	legFieldMinSumTimeMs  protowire.Number = 4
	legFieldMaxSumTimeMs  protowire.Number = 5
	legFieldMinSumLinealM protowire.Number = 6
	legFieldMaxSumLinealM protowire.Number = 7
	legFieldWhyEnded      protowire.Number = 8
)

// message Footprint
const (
	fpFieldStepIndex        protowire.Number = 1
	fpFieldSumTimeMs        protowire.Number = 2
	fpFieldCenter           protowire.Number = 3
	fpFieldWidthM           protowire.Number = 4
	fpFieldHeightM          protowire.Number = 5
	fpFieldCorners          protowire.Number = 6
	fpFieldYawDeg           protowire.Number = 7
	fpFieldCameraToVertical protowire.Number = 8
	fpFieldTerrainCorrected protowire.Number = 9
	fpFieldLegID            protowire.Number = 10
)

// message PlanarPoint { double northing = 1; double easting = 2; }
const (
	pointFieldNorthing protowire.Number = 1
	pointFieldEasting  protowire.Number = 2
)

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendInt(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendPoint(b []byte, p models.PlanarPoint) []byte {
	b = appendDouble(b, pointFieldNorthing, p.Northing)
	return appendDouble(b, pointFieldEasting, p.Easting)
}

func appendLeg(b []byte, leg models.Leg) []byte {
	b = appendInt(b, legFieldID, int64(leg.ID))
	b = appendInt(b, legFieldMinIndex, int64(leg.MinIndex))
	b = appendInt(b, legFieldMaxIndex, int64(leg.MaxIndex))
	b = appendInt(b, legFieldMinSumTimeMs, leg.MinSumTimeMs)
	b = appendInt(b, legFieldMaxSumTimeMs, leg.MaxSumTimeMs)
	b = appendDouble(b, legFieldMinSumLinealM, leg.MinSumLinealM)
	b = appendDouble(b, legFieldMaxSumLinealM, leg.MaxSumLinealM)
	b = protowire.AppendTag(b, legFieldWhyEnded, protowire.BytesType)
	return protowire.AppendString(b, leg.WhyEnded)
}

// EncodeLegs список галсов полета
func EncodeLegs(flightID string, legs []models.Leg) []byte {
	return AppendLegs(nil, flightID, legs)
}

// AppendLegs как EncodeLegs, но дописывает в b
func AppendLegs(b []byte, flightID string, legs []models.Leg) []byte {
	scratch := pool.Global.GetBytes()
	for _, leg := range legs {
		scratch = appendLeg(scratch[:0], leg)
		b = appendMessage(b, legListFieldLegs, scratch)
	}
	pool.Global.PutBytes(scratch)

	b = protowire.AppendTag(b, legListFieldFlightID, protowire.BytesType)
	return protowire.AppendString(b, flightID)
}

// EncodeFootprint пятно шага; ok=false если пятна нет
func EncodeFootprint(step models.Step) ([]byte, bool) {
	return AppendFootprint(nil, step)
}

// AppendFootprint как EncodeFootprint, но дописывает в b
func AppendFootprint(b []byte, step models.Step) ([]byte, bool) {
	fp := step.Footprint
	if fp == nil {
		return b, false
	}
	scratch := pool.Global.GetBytes()
	defer func() { pool.Global.PutBytes(scratch) }()

	b = appendInt(b, fpFieldStepIndex, int64(step.Index))
	b = appendInt(b, fpFieldSumTimeMs, step.SumTimeMs)
	scratch = appendPoint(scratch[:0], fp.Center)
	b = appendMessage(b, fpFieldCenter, scratch)
	b = appendDouble(b, fpFieldWidthM, fp.SizeM.X)
	b = appendDouble(b, fpFieldHeightM, fp.SizeM.Y)
	for _, c := range fp.Corners {
		scratch = appendPoint(scratch[:0], c)
		b = appendMessage(b, fpFieldCorners, scratch)
	}
	b = appendDouble(b, fpFieldYawDeg, fp.YawDeg)
	b = appendDouble(b, fpFieldCameraToVertical, fp.CameraToVerticalDeg)
	b = protowire.AppendTag(b, fpFieldTerrainCorrected, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(fp.TerrainCorrected))
	b = appendInt(b, fpFieldLegID, int64(step.LegID))
	return b, true
}

// field одно поле сообщения при разборе
type field struct {
	num   protowire.Number
	typ   protowire.Type
	value uint64 // varint и fixed64
	bytes []byte // bytes
}

// fields разбирает сообщение верхнего уровня
func fields(data []byte) ([]field, error) {
	var out []field
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.value, n = protowire.ConsumeVarint(data)
		case protowire.Fixed64Type:
			f.value, n = protowire.ConsumeFixed64(data)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return nil, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]
		out = append(out, f)
	}
	return out, nil
}

func (f field) double() float64 { return math.Float64frombits(f.value) }
func (f field) sint() int64     { return protowire.DecodeZigZag(f.value) }

// DecodeLegs обратное к EncodeLegs
func DecodeLegs(data []byte) (string, []models.Leg, error) {
	top, err := fields(data)
	if err != nil {
		return "", nil, err
	}

	var flightID string
	legs := []models.Leg{}
	for _, f := range top {
		switch f.num {
		case legListFieldFlightID:
			flightID = string(f.bytes)
		case legListFieldLegs:
			inner, err := fields(f.bytes)
			if err != nil {
				return "", nil, fmt.Errorf("leg: %w", err)
			}
			var leg models.Leg
			for _, lf := range inner {
				switch lf.num {
				case legFieldID:
					leg.ID = int(lf.sint())
				case legFieldMinIndex:
					leg.MinIndex = int(lf.sint())
				case legFieldMaxIndex:
					leg.MaxIndex = int(lf.sint())
				case legFieldMinSumTimeMs:
					leg.MinSumTimeMs = lf.sint()
				case legFieldMaxSumTimeMs:
					leg.MaxSumTimeMs = lf.sint()
				case legFieldMinSumLinealM:
					leg.MinSumLinealM = lf.double()
				case legFieldMaxSumLinealM:
					leg.MaxSumLinealM = lf.double()
				case legFieldWhyEnded:
					leg.WhyEnded = string(lf.bytes)
				}
			}
			legs = append(legs, leg)
		}
	}
	return flightID, legs, nil
}

func decodePoint(data []byte) (models.PlanarPoint, error) {
	fs, err := fields(data)
	if err != nil {
		return models.PlanarPoint{}, err
	}
	var p models.PlanarPoint
	for _, f := range fs {
		switch f.num {
		case pointFieldNorthing:
			p.Northing = f.double()
		case pointFieldEasting:
			p.Easting = f.double()
		}
	}
	return p, nil
}

// DecodeFootprint обратное к EncodeFootprint: индекс шага, время и пятно
func DecodeFootprint(data []byte) (index int, sumTimeMs int64, fp models.Footprint, err error) {
	fs, err := fields(data)
	if err != nil {
		return 0, 0, fp, err
	}
	corner := 0
	for _, f := range fs {
		switch f.num {
		case fpFieldStepIndex:
			index = int(f.sint())
		case fpFieldSumTimeMs:
			sumTimeMs = f.sint()
		case fpFieldCenter:
			if fp.Center, err = decodePoint(f.bytes); err != nil {
				return 0, 0, fp, err
			}
		case fpFieldWidthM:
			fp.SizeM.X = f.double()
		case fpFieldHeightM:
			fp.SizeM.Y = f.double()
		case fpFieldCorners:
			if corner >= len(fp.Corners) {
				return 0, 0, fp, fmt.Errorf("footprint has more than %d corners", len(fp.Corners))
			}
			if fp.Corners[corner], err = decodePoint(f.bytes); err != nil {
				return 0, 0, fp, err
			}
			corner++
		case fpFieldYawDeg:
			fp.YawDeg = f.double()
		case fpFieldCameraToVertical:
			fp.CameraToVerticalDeg = f.double()
		case fpFieldTerrainCorrected:
			fp.TerrainCorrected = protowire.DecodeBool(f.value)
		}
	}
	return index, sumTimeMs, fp, nil
}
