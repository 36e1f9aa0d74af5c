// Package render prints decisions as a console table.
package render

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/oshokin/carbon-gate/internal/decide"
	"github.com/oshokin/carbon-gate/internal/domain/gate"
)

const (
	markPass = "✔"
	markFail = "✖"
)

// Table writes one row per decision. Values are truncated to integers for display only.
func Table(w io.Writer, decisions []gate.Decision) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if _, err := fmt.Fprintln(tw, "\tNAME\tCRITERIA\tMEASUREMENT\tTHRESHOLD\tUNITS"); err != nil {
		return err
	}

	for _, d := range decisions {
		_, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			Mark(d.Pass), d.Name, d.Criteria, truncate(d.Measurement), truncate(d.Threshold), d.Units)
		if err != nil {
			return err
		}
	}

	return tw.Flush()
}

// Stats writes the carbon window summary.
func Stats(w io.Writer, stats decide.Stats, units string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	rows := [][2]string{
		{"readings", fmt.Sprintf("%d / %d", stats.Len, stats.Cap)},
		{"last", fmt.Sprintf("%.1f %s", stats.Last, units)},
		{"mean (x̅)", fmt.Sprintf("%.1f %s", stats.Mean, units)},
		{"std dev (σ)", fmt.Sprintf("%.1f %s", stats.StdDev, units)},
	}

	if stats.Ready {
		rows = append(rows,
			[2]string{"threshold", fmt.Sprintf("%.1f %s", stats.Threshold, units)},
			[2]string{"verdict", verdict(stats.Last < stats.Threshold)},
		)
	} else {
		rows = append(rows, [2]string{"threshold", "still initializing"})
	}

	for _, row := range rows {
		if _, err := fmt.Fprintf(tw, "%s\t%s\n", row[0], row[1]); err != nil {
			return err
		}
	}

	return tw.Flush()
}

// Mark returns the check mark for a verdict.
func Mark(pass bool) string {
	if pass {
		return markPass
	}

	return markFail
}

func verdict(pass bool) string {
	if pass {
		return markPass + " low"
	}

	return markFail + " high"
}

func truncate(v float64) int64 {
	return int64(math.Trunc(v))
}
