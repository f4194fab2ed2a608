package stats

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"flapevo/internal/model"
)

const scorePlotFile = "score_by_generation.png"

// PlotScores draws best and mean score per generation to outPath. The
// image format follows the extension (.png, .svg, .pdf).
func PlotScores(diagnostics []model.GenerationDiagnostics, title, outPath string) error {
	if len(diagnostics) == 0 {
		return fmt.Errorf("no generations to plot")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Generation"
	p.Y.Label.Text = "Score"

	bestPts := make(plotter.XYs, len(diagnostics))
	meanPts := make(plotter.XYs, len(diagnostics))
	for i, d := range diagnostics {
		bestPts[i].X = float64(d.Generation)
		bestPts[i].Y = float64(d.BestScore)
		meanPts[i].X = float64(d.Generation)
		meanPts[i].Y = d.MeanScore
	}

	bestLine, err := plotter.NewLine(bestPts)
	if err != nil {
		return err
	}
	meanLine, err := plotter.NewLine(meanPts)
	if err != nil {
		return err
	}
	meanLine.Color = color.RGBA{B: 200, A: 255}
	meanLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	p.Add(bestLine, meanLine)
	p.Legend.Add("best", bestLine)
	p.Legend.Add("mean", meanLine)
	p.Legend.Top = true
	p.Legend.Left = true

	return p.Save(6*vg.Inch, 4*vg.Inch, outPath)
}
