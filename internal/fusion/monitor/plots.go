// Package monitor renders post-run visualisations of the metric series.
package monitor

import (
	"fmt"
	"image/color"
	"math"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/decarlof/XFusion/internal/fusion"
)

var seriesColors = []color.RGBA{
	{R: 31, G: 119, B: 180, A: 255},
	{R: 255, G: 127, B: 14, A: 255},
	{R: 44, G: 160, B: 44, A: 255},
	{R: 214, G: 39, B: 40, A: 255},
	{R: 148, G: 103, B: 189, A: 255},
}

// MetricPlotter writes per-run PNG curves of the quality metrics and the
// attention weights over frame index.
type MetricPlotter struct {
	OutDir string
}

// GeneratePlots renders psnr.png, aad.png, ssim.png and attention.png into
// the output directory. Frames with infinite PSNR are left off the PSNR
// curve.
func (mp *MetricPlotter) GeneratePlots(records []fusion.MetricRecord) error {
	if len(records) == 0 {
		return fmt.Errorf("no records to plot")
	}

	if err := mp.plotSingle("PSNR", "psnr.png", records, func(r fusion.MetricRecord) (float64, bool) {
		return r.PSNR, !math.IsInf(r.PSNR, 0)
	}); err != nil {
		return err
	}
	if err := mp.plotSingle("AAD", "aad.png", records, func(r fusion.MetricRecord) (float64, bool) {
		return r.AAD, true
	}); err != nil {
		return err
	}
	if err := mp.plotSingle("SSIM", "ssim.png", records, func(r fusion.MetricRecord) (float64, bool) {
		return r.SSIM, true
	}); err != nil {
		return err
	}
	return mp.plotAttention(records)
}

func (mp *MetricPlotter) plotSingle(title, file string, records []fusion.MetricRecord, value func(fusion.MetricRecord) (float64, bool)) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "frame"
	p.Y.Label.Text = title

	pts := make(plotter.XYs, 0, len(records))
	for _, r := range records {
		v, ok := value(r)
		if !ok {
			continue
		}
		pts = append(pts, plotter.XY{X: float64(r.Index), Y: v})
	}
	if len(pts) == 0 {
		return nil
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("build %s line: %w", title, err)
	}
	line.Color = seriesColors[0]
	line.Width = vg.Points(1)
	p.Add(line)

	out := filepath.Join(mp.OutDir, file)
	if err := p.Save(14*vg.Inch, 6*vg.Inch, out); err != nil {
		return fmt.Errorf("save %s: %w", out, err)
	}
	return nil
}

func (mp *MetricPlotter) plotAttention(records []fusion.MetricRecord) error {
	cols, err := fusion.AttentionColumns(len(records[0].Attention))
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = "Attention weights"
	p.X.Label.Text = "frame"
	p.Y.Label.Text = "weight"

	for ci, name := range cols {
		pts := make(plotter.XYs, 0, len(records))
		for _, r := range records {
			pts = append(pts, plotter.XY{X: float64(r.Index), Y: r.Attention[ci]})
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("build attention line %q: %w", name, err)
		}
		line.Color = seriesColors[ci%len(seriesColors)]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(name, line)
	}
	p.Legend.Top = true

	out := filepath.Join(mp.OutDir, "attention.png")
	if err := p.Save(14*vg.Inch, 6*vg.Inch, out); err != nil {
		return fmt.Errorf("save %s: %w", out, err)
	}
	return nil
}
