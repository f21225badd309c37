package aggregated

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// csvHeader is the column layout written by WriteCSV.
var csvHeader = []string{"section", "avg_ms", "calls"}

// WriteCSV writes one row per zone with its average duration in
// milliseconds and its call count, in the order given.
func WriteCSV(w io.Writer, stats []ZoneStats) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	for _, s := range stats {
		row := []string{
			s.Name,
			strconv.FormatFloat(durationMs(s.Avg), 'f', 3, 64),
			strconv.FormatUint(s.Count, 10),
		}

		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing csv row %q: %w", s.Name, err)
		}
	}

	cw.Flush()

	return cw.Error()
}
