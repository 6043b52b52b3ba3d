package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/flybeeper/drone-footprint/internal/flight"
	"github.com/flybeeper/drone-footprint/internal/footprint"
	"github.com/flybeeper/drone-footprint/internal/ingest"
	"github.com/flybeeper/drone-footprint/internal/models"
)

type reportInput struct {
	Path  string
	Bytes int64
	Stats ingest.LoadStats
}

func writeReport(w io.Writer, f *flight.Flight, in reportInput) error {
	s := f.Summary
	p := &printer{w: w}

	p.printf("Flight %s\n", f.ID)
	p.printf("  Input:         %s (%s), %s samples accepted, %s rejected\n",
		in.Path, humanize.Bytes(uint64(in.Bytes)), humanize.Comma(int64(in.Stats.Accepted)), humanize.Comma(int64(in.Stats.Rejected)))
	p.printf("  Steps:         %s over %s\n", humanize.Comma(int64(s.Steps)), formatMs(s.DurationMs))
	p.printf("  Distance:      %s\n", meters(s.LinealM))
	p.printf("  Mean speed:    %s\n", optional(s.MeanSpeedMps, "m/s"))
	p.printf("  Altitude:      %s .. %s\n", optional(s.Altitude.Min, "m"), optional(s.Altitude.Max, "m"))
	p.printf("  Below terrain: %.1f%% of steps\n", f.PercentAltitudeBelowTerrain())
	if c := f.Correction; c != nil {
		p.printf("  Ground ref:    %s, %+.1f m at start, %+.1f m at end\n", c.Mode, c.StartDeltaM, c.EndDeltaM)
	}
	p.printf("  Footprints:    %s, covered %s ha (%s ha with overlaps)\n",
		humanize.Comma(int64(s.Footprints)),
		humanize.CommafWithDigits(s.Swathe.CoveredAreaM2/1e4, 2),
		humanize.CommafWithDigits(s.Swathe.FootprintAreaM2/1e4, 2))
	if f.Synthetic {
		p.printf("  No attitude data: single synthetic leg\n")
	}

	if len(f.Legs) > 0 {
		p.printf("\nLegs\n")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  ID\tIndexes\tStart\tDuration\tDistance\tEnded")
		for _, leg := range f.Legs {
			fmt.Fprintf(tw, "  %d\t%d..%d\t%s\t%s\t%s\t%s\n",
				leg.ID, leg.MinIndex, leg.MaxIndex,
				formatMs(leg.MinSumTimeMs), formatMs(leg.DurationMs()),
				humanize.SIWithDigits(leg.MaxSumLinealM-leg.MinSumLinealM, 1, "m"),
				leg.WhyEnded)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(f.Outcomes) > 0 {
		p.printf("\nFootprint outcomes\n")
		outcomes := make([]footprint.Outcome, 0, len(f.Outcomes))
		for o := range f.Outcomes {
			outcomes = append(outcomes, o)
		}
		sort.Slice(outcomes, func(i, j int) bool { return outcomes[i] < outcomes[j] })
		for _, o := range outcomes {
			p.printf("  %-18s %s\n", o, humanize.Comma(int64(f.Outcomes[o])))
		}
	}

	p.printf("\nTimings (%s total)\n", f.Timings.Total.Round(time.Microsecond))
	for _, st := range f.Timings.Stages {
		p.printf("  %-10s %s\n", st.Stage, st.Duration.Round(time.Microsecond))
	}
	return p.err
}

// printer запоминает первую ошибку записи
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...interface{}) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func formatMs(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).String()
}

func meters(v models.OptFloat) string {
	if !v.Valid {
		return "unknown"
	}
	return humanize.SIWithDigits(v.Value, 2, "m")
}

func optional(v models.OptFloat, unit string) string {
	if !v.Valid {
		return "unknown"
	}
	return humanize.FormatFloat("#,###.#", v.Value) + " " + unit
}
