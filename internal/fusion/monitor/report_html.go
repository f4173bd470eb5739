package monitor

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/decarlof/XFusion/internal/fusion"
)

// RenderHTMLReport writes a self-contained interactive report page with the
// per-frame metric and attention curves. Infinite PSNR values are rendered
// as gaps.
func RenderHTMLReport(w io.Writer, title string, records []fusion.MetricRecord) error {
	if len(records) == 0 {
		return fmt.Errorf("no records to render")
	}

	frames := make([]string, len(records))
	for i, r := range records {
		frames[i] = strconv.Itoa(r.Index)
	}

	page := components.NewPage()
	page.PageTitle = title

	page.AddCharts(
		metricLine("PSNR (dB)", frames, records, func(r fusion.MetricRecord) interface{} {
			if math.IsInf(r.PSNR, 0) {
				return nil
			}
			return r.PSNR
		}),
		metricLine("AAD", frames, records, func(r fusion.MetricRecord) interface{} {
			return r.AAD
		}),
		metricLine("SSIM", frames, records, func(r fusion.MetricRecord) interface{} {
			return r.SSIM
		}),
	)

	att, err := attentionLine(frames, records)
	if err != nil {
		return err
	}
	page.AddCharts(att)

	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report page: %w", err)
	}
	return nil
}

func metricLine(title string, frames []string, records []fusion.MetricRecord, value func(fusion.MetricRecord) interface{}) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	data := make([]opts.LineData, len(records))
	for i, r := range records {
		data[i] = opts.LineData{Value: value(r)}
	}
	line.SetXAxis(frames).AddSeries(title, data)
	return line
}

func attentionLine(frames []string, records []fusion.MetricRecord) (*charts.Line, error) {
	cols, err := fusion.AttentionColumns(len(records[0].Attention))
	if err != nil {
		return nil, err
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Attention weights"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(frames)
	for ci, name := range cols {
		data := make([]opts.LineData, len(records))
		for i, r := range records {
			data[i] = opts.LineData{Value: r.Attention[ci]}
		}
		line.AddSeries(name, data)
	}
	return line, nil
}
