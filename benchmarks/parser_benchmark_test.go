package benchmarks

// Бенчмарки разбора входящей телеметрии
//
// Ожидаемые результаты:
// - MQTT batch of 50 samples: < 100µs
// - CSV 2.6k samples: < 5ms

import (
	"bytes"
	"testing"

	"github.com/flybeeper/drone-footprint/internal/ingest"
	"github.com/flybeeper/drone-footprint/internal/mqtt"
	"github.com/flybeeper/drone-footprint/internal/telemetry"
)

func BenchmarkParseSamplesMessage(b *testing.B) {
	payload, err := ingest.EncodeBatch(surveySections(1, 50)[:50])
	if err != nil {
		b.Fatal(err)
	}
	parser := mqtt.NewParser("footprint/flights", benchLogger)
	topic := parser.Topic("bench", mqtt.KindSamples)

	b.ReportAllocs()
	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := parser.Parse(topic, payload); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkLoadCSV(b *testing.B) {
	var buf bytes.Buffer
	if err := ingest.WriteCSV(&buf, surveySections(8, 300)); err != nil {
		b.Fatal(err)
	}
	data := buf.Bytes()

	b.ReportAllocs()
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		src, err := ingest.NewCSVSource("bench.csv", bytes.NewReader(data))
		if err != nil {
			b.Fatal(err)
		}
		if _, err := ingest.Load(src, telemetry.NewSampleStore(), benchLogger); err != nil {
			b.Fatal(err)
		}
	}
}
