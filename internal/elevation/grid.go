package elevation

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/flybeeper/drone-footprint/internal/models"
)

// DefaultNoData значение "нет данных" в ESRI ASCII по умолчанию
const DefaultNoData = -9999.0

// Grid регулярная сетка высот в плоских координатах полета.
// Узел (row, col) находится в (OriginN + row*CellM, OriginE + col*CellM),
// строка 0 южная.
type Grid struct {
	OriginN float64
	OriginE float64
	CellM   float64
	Rows    int
	Cols    int
	NoData  float64
	Values  []float64 // Rows*Cols, построчно с юга
}

// NewGrid создает сетку, заполненную NoData
func NewGrid(originN, originE, cellM float64, rows, cols int) (*Grid, error) {
	g := &Grid{
		OriginN: originN,
		OriginE: originE,
		CellM:   cellM,
		Rows:    rows,
		Cols:    cols,
		NoData:  DefaultNoData,
	}
	if err := g.validateShape(); err != nil {
		return nil, err
	}
	g.Values = make([]float64, rows*cols)
	for i := range g.Values {
		g.Values[i] = g.NoData
	}
	return g, nil
}

func (g *Grid) validateShape() error {
	if g.Rows < 1 || g.Cols < 1 {
		return fmt.Errorf("grid must have at least one row and column, got %dx%d", g.Rows, g.Cols)
	}
	if !(g.CellM > 0) {
		return fmt.Errorf("grid cell size must be positive, got %v", g.CellM)
	}
	return nil
}

// Validate проверяет согласованность размеров
func (g *Grid) Validate() error {
	if err := g.validateShape(); err != nil {
		return err
	}
	if len(g.Values) != g.Rows*g.Cols {
		return fmt.Errorf("grid has %d values, want %d", len(g.Values), g.Rows*g.Cols)
	}
	return nil
}

// Set устанавливает значение узла
func (g *Grid) Set(row, col int, v float64) {
	g.Values[row*g.Cols+col] = v
}

// At значение узла; ok=false вне сетки или при NoData
func (g *Grid) At(row, col int) (float64, bool) {
	if row < 0 || col < 0 || row >= g.Rows || col >= g.Cols {
		return 0, false
	}
	v := g.Values[row*g.Cols+col]
	if v == g.NoData || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Bounds южный-западный и северо-восточный узлы
func (g *Grid) Bounds() (sw, ne models.PlanarPoint) {
	sw = models.PlanarPoint{Northing: g.OriginN, Easting: g.OriginE}
	ne = models.PlanarPoint{
		Northing: g.OriginN + float64(g.Rows-1)*g.CellM,
		Easting:  g.OriginE + float64(g.Cols-1)*g.CellM,
	}
	return sw, ne
}

// ElevationAt билинейная интерполяция по четырем соседним узлам.
// Если часть узлов без данных, используется ближайший известный.
func (g *Grid) ElevationAt(p models.PlanarPoint) models.OptFloat {
	fr := (p.Northing - g.OriginN) / g.CellM
	fc := (p.Easting - g.OriginE) / g.CellM
	if fr < 0 || fc < 0 || fr > float64(g.Rows-1) || fc > float64(g.Cols-1) {
		return models.Unknown()
	}

	r0, c0 := int(math.Floor(fr)), int(math.Floor(fc))
	r1, c1 := min(r0+1, g.Rows-1), min(c0+1, g.Cols-1)
	tr, tc := fr-float64(r0), fc-float64(c0)

	corners := [4]struct {
		row, col int
		w        float64
	}{
		{r0, c0, (1 - tr) * (1 - tc)},
		{r0, c1, (1 - tr) * tc},
		{r1, c0, tr * (1 - tc)},
		{r1, c1, tr * tc},
	}

	sum, weight := 0.0, 0.0
	bestW, bestV, haveBest := -1.0, 0.0, false
	for _, c := range corners {
		v, ok := g.At(c.row, c.col)
		if !ok {
			continue
		}
		sum += v * c.w
		weight += c.w
		if c.w > bestW {
			bestW, bestV, haveBest = c.w, v, true
		}
	}

	switch {
	case weight >= 1-1e-9:
		return models.Known(sum)
	case haveBest:
		return models.Known(bestV)
	default:
		return models.Unknown()
	}
}

// LoadASCII читает сетку в формате ESRI ASCII (.asc).
// Координаты в файле должны быть в той же зоне UTM, что и полет.
func LoadASCII(r io.Reader) (*Grid, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	header := map[string]float64{}
	var firstDataLine string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		key := strings.ToLower(fields[0])
		if _, err := strconv.ParseFloat(key, 64); err == nil {
			firstDataLine = line
			break
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("malformed header line %q", line)
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("header %s: %w", key, err)
		}
		header[key] = v
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read grid: %w", err)
	}

	for _, required := range []string{"ncols", "nrows", "cellsize"} {
		if _, ok := header[required]; !ok {
			return nil, fmt.Errorf("missing header %s", required)
		}
	}

	g := &Grid{
		Rows:   int(header["nrows"]),
		Cols:   int(header["ncols"]),
		CellM:  header["cellsize"],
		NoData: DefaultNoData,
	}
	if v, ok := header["nodata_value"]; ok {
		g.NoData = v
	}
	if err := g.validateShape(); err != nil {
		return nil, err
	}

	// Узлы сетки в центрах ячеек
	switch {
	case hasKeys(header, "xllcenter", "yllcenter"):
		g.OriginE, g.OriginN = header["xllcenter"], header["yllcenter"]
	case hasKeys(header, "xllcorner", "yllcorner"):
		g.OriginE = header["xllcorner"] + g.CellM/2
		g.OriginN = header["yllcorner"] + g.CellM/2
	default:
		return nil, fmt.Errorf("missing lower-left corner header")
	}

	// В файле строки идут с севера на юг
	g.Values = make([]float64, g.Rows*g.Cols)
	n := 0
	consume := func(line string) error {
		for _, tok := range strings.Fields(line) {
			if n >= len(g.Values) {
				return fmt.Errorf("more than %d values", len(g.Values))
			}
			v, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return fmt.Errorf("value %d: %w", n, err)
			}
			row := g.Rows - 1 - n/g.Cols
			g.Values[row*g.Cols+n%g.Cols] = v
			n++
		}
		return nil
	}

	if firstDataLine != "" {
		if err := consume(firstDataLine); err != nil {
			return nil, err
		}
	}
	for scanner.Scan() {
		if err := consume(scanner.Text()); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read grid: %w", err)
	}
	if n != len(g.Values) {
		return nil, fmt.Errorf("grid has %d values, want %d", n, len(g.Values))
	}

	return g, nil
}

func hasKeys(m map[string]float64, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			return false
		}
	}
	return true
}
