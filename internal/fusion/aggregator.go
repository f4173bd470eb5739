package fusion

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"gonum.org/v1/gonum/stat"
)

// Attention column names keyed by vector width. Width 4 means the auxiliary
// reference contributed a single position; width 5 means two.
var attentionSchemas = map[int][]string{
	4: {"t-1 lo", "t lo", "t+1 lo", "t hi"},
	5: {"t-1 lo", "t lo", "t+1 lo", "t-1 hi", "t+1 hi"},
}

// AttentionColumns returns the report column names for an attention vector of
// the given width. Widths other than 4 and 5 are invalid.
func AttentionColumns(width int) ([]string, error) {
	cols, ok := attentionSchemas[width]
	if !ok {
		return nil, fmt.Errorf("unsupported attention vector width %d (want 4 or 5)", width)
	}
	return cols, nil
}

// MetricRecord is one processed target index. Records are append-only and
// never mutated after creation.
type MetricRecord struct {
	Index      int
	PSNR       float64
	AAD        float64
	SSIM       float64
	Attention  []float64
	Boundary   int
	SourcePath string
}

// Aggregator accumulates per-frame records for one worker in sequence order.
// It is owned by a single worker and passed by reference through the loop;
// there is no shared mutable state between workers.
type Aggregator struct {
	records  []MetricRecord
	attWidth int
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Add appends a record. The first record fixes the attention width for the
// run; later records must match it.
func (a *Aggregator) Add(rec MetricRecord) error {
	if _, err := AttentionColumns(len(rec.Attention)); err != nil {
		return err
	}
	if a.attWidth == 0 {
		a.attWidth = len(rec.Attention)
	} else if len(rec.Attention) != a.attWidth {
		return fmt.Errorf("attention width changed mid-run: got %d, run uses %d",
			len(rec.Attention), a.attWidth)
	}
	a.records = append(a.records, rec)
	return nil
}

// Len returns the number of accumulated records.
func (a *Aggregator) Len() int { return len(a.records) }

// Records returns the accumulated records in processing order.
func (a *Aggregator) Records() []MetricRecord { return a.records }

// AttentionWidth returns the run's attention vector width, 0 if empty.
func (a *Aggregator) AttentionWidth() int { return a.attWidth }

// Columns returns the full report header for the accumulated records.
func (a *Aggregator) Columns() ([]string, error) {
	attCols, err := AttentionColumns(a.attWidth)
	if err != nil {
		return nil, err
	}
	cols := []string{"frame", "psnr", "aad", "ssim"}
	cols = append(cols, attCols...)
	cols = append(cols, "mask")
	return cols, nil
}

// WriteCSV emits the tabular report: one row per processed index, columns
// determined by the attention width, plus the boundary mask.
func (a *Aggregator) WriteCSV(w io.Writer) error {
	if len(a.records) == 0 {
		return fmt.Errorf("no records to report")
	}
	header, err := a.Columns()
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write report header: %w", err)
	}
	for _, rec := range a.records {
		row := []string{
			strconv.Itoa(rec.Index),
			formatMetric(rec.PSNR),
			formatMetric(rec.AAD),
			formatMetric(rec.SSIM),
		}
		for _, v := range rec.Attention {
			row = append(row, formatMetric(v))
		}
		row = append(row, strconv.Itoa(rec.Boundary))
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write report row %d: %w", rec.Index, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Summary holds derived whole-run statistics. PSNR statistics cover only
// finite values; PerfectFrames counts the +Inf (zero-error) rows separately.
type Summary struct {
	Frames        int
	PerfectFrames int
	PSNRMean      float64
	PSNRStdDev    float64
	AADMean       float64
	AADStdDev     float64
	SSIMMean      float64
	SSIMStdDev    float64
}

// Summarize computes summary statistics over the accumulated records.
func (a *Aggregator) Summarize() Summary {
	var psnrs, aads, ssims []float64
	perfect := 0
	for _, r := range a.records {
		if math.IsInf(r.PSNR, 1) {
			perfect++
		} else {
			psnrs = append(psnrs, r.PSNR)
		}
		aads = append(aads, r.AAD)
		ssims = append(ssims, r.SSIM)
	}
	s := Summary{Frames: len(a.records), PerfectFrames: perfect}
	if len(psnrs) > 0 {
		s.PSNRMean = stat.Mean(psnrs, nil)
		s.PSNRStdDev = stat.StdDev(psnrs, nil)
	}
	if len(aads) > 0 {
		s.AADMean = stat.Mean(aads, nil)
		s.AADStdDev = stat.StdDev(aads, nil)
		s.SSIMMean = stat.Mean(ssims, nil)
		s.SSIMStdDev = stat.StdDev(ssims, nil)
	}
	return s
}

// formatMetric renders a metric value for the report. Infinities keep their
// conventional "inf" spelling so downstream tooling parses them.
func formatMetric(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	if math.IsInf(v, -1) {
		return "-inf"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
