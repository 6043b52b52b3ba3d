package elevation

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Номера полей тайла (см. api/proto/footprint.proto, message ElevationTile)
const (
	tileFieldOriginN protowire.Number = 1
	tileFieldOriginE protowire.Number = 2
	tileFieldCellM   protowire.Number = 3
	tileFieldRows    protowire.Number = 4
	tileFieldCols    protowire.Number = 5
	tileFieldNoData  protowire.Number = 6
	tileFieldValues  protowire.Number = 7
)

// EncodeTile сериализует сетку в компактный бинарный тайл для хранения в Redis
func EncodeTile(g *Grid) ([]byte, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	b := make([]byte, 0, 64+len(g.Values)*8)
	b = appendDouble(b, tileFieldOriginN, g.OriginN)
	b = appendDouble(b, tileFieldOriginE, g.OriginE)
	b = appendDouble(b, tileFieldCellM, g.CellM)
	b = protowire.AppendTag(b, tileFieldRows, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(g.Rows))
	b = protowire.AppendTag(b, tileFieldCols, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(g.Cols))
	b = appendDouble(b, tileFieldNoData, g.NoData)

	packed := make([]byte, 0, len(g.Values)*8)
	for _, v := range g.Values {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	b = protowire.AppendTag(b, tileFieldValues, protowire.BytesType)
	b = protowire.AppendBytes(b, packed)

	return b, nil
}

// DecodeTile обратное к EncodeTile; неизвестные поля пропускаются
func DecodeTile(data []byte) (*Grid, error) {
	g := &Grid{NoData: DefaultNoData}

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("tile tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case typ == protowire.Fixed64Type && num != tileFieldValues:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return nil, fmt.Errorf("tile field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			f := math.Float64frombits(v)
			switch num {
			case tileFieldOriginN:
				g.OriginN = f
			case tileFieldOriginE:
				g.OriginE = f
			case tileFieldCellM:
				g.CellM = f
			case tileFieldNoData:
				g.NoData = f
			}

		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("tile field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			switch num {
			case tileFieldRows:
				g.Rows = int(v)
			case tileFieldCols:
				g.Cols = int(v)
			}

		case typ == protowire.BytesType && num == tileFieldValues:
			packed, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("tile values: %w", protowire.ParseError(n))
			}
			data = data[n:]
			if len(packed)%8 != 0 {
				return nil, fmt.Errorf("tile values length %d is not a multiple of 8", len(packed))
			}
			g.Values = make([]float64, 0, len(packed)/8)
			for len(packed) > 0 {
				v, m := protowire.ConsumeFixed64(packed)
				if m < 0 {
					return nil, fmt.Errorf("tile value: %w", protowire.ParseError(m))
				}
				g.Values = append(g.Values, math.Float64frombits(v))
				packed = packed[m:]
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("tile field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tile: %w", err)
	}
	return g, nil
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}
