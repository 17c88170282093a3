// Package report renders parameter search results of optimizable plugins.
package report

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"bmiptools/pkg/optimizer"
)

// SaveLossPlot writes a PNG of the loss of every evaluated candidate of res,
// in search order, with the winner highlighted. Failed candidates are
// omitted.
func SaveLossPlot(path, title string, res *optimizer.Result) error {
	if res == nil || len(res.Losses) == 0 {
		return fmt.Errorf("loss plot %s: no evaluated candidates", title)
	}

	pts := make(plotter.XYs, 0, len(res.Losses))
	best := plotter.XYs{}
	bestLoss := math.Inf(1)
	for i, l := range res.Losses {
		if math.IsNaN(l) || math.IsInf(l, 0) {
			continue
		}
		pts = append(pts, plotter.XY{X: float64(i), Y: l})
		if l < bestLoss {
			bestLoss = l
			best = plotter.XYs{{X: float64(i), Y: l}}
		}
	}
	if len(pts) == 0 {
		return fmt.Errorf("loss plot %s: every candidate failed", title)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Candidate"
	p.Y.Label.Text = "Loss"

	line, scatter, err := plotter.NewLinePoints(pts)
	if err != nil {
		return fmt.Errorf("loss plot %s: %w", title, err)
	}
	line.Width = vg.Points(1)
	p.Add(line, scatter)

	winner, err := plotter.NewScatter(best)
	if err != nil {
		return fmt.Errorf("loss plot %s: %w", title, err)
	}
	winner.Shape = draw.CircleGlyph{}
	winner.Radius = vg.Points(4)
	winner.Color = color.RGBA{R: 200, A: 255}
	p.Add(winner)
	p.Legend.Add("loss", line, scatter)
	p.Legend.Add(fmt.Sprintf("best %v", map[string]any(res.Best)), winner)
	p.Legend.Top = true

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create plot directory: %w", err)
	}
	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("save loss plot: %w", err)
	}
	return nil
}
