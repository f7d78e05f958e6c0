package plotting

import (
	"fmt"
	"math"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/HamletTheHamster/social-discounting/internal/data"
	"github.com/HamletTheHamster/social-discounting/internal/model"
)

// Curve is one fitted parameter pair drawn over a subject's data.
type Curve struct {
	Label        string
	Theta, Delta float64
}

// curvePoints is the resolution of a drawn curve.
const curvePoints = 200

// CurvePoints samples the curve on a log-spaced grid over [lo, hi].
func CurvePoints(h model.Hyperbolic, c Curve, lo, hi float64) plotter.XYs {
	grid := make([]float64, curvePoints)
	floats.LogSpan(grid, lo, hi)
	pts := make(plotter.XYs, len(grid))
	for i, x := range grid {
		pts[i].X = x
		pts[i].Y = h.At(c.Theta, c.Delta, x)
	}
	return pts
}

// Subject plots the observed responses of s with each curve over them. Curves
// with undefined parameters are skipped.
func Subject(h model.Hyperbolic, s data.Subject, curves ...Curve) (*plot.Plot, error) {
	x, y := s.Observed()
	if len(x) == 0 {
		return nil, fmt.Errorf("subject %d has no observed responses", s.ID)
	}
	lo, hi := floats.Min(x), floats.Max(x)
	if lo == hi {
		lo, hi = lo/2, hi*2
	}

	p := newPlot("subject "+strconv.Itoa(s.ID), "social distance", "amount forgone")
	p.X.Scale = plot.LogScale{}
	ticks := make([]plot.Tick, len(x))
	for i, v := range x {
		ticks[i] = plot.Tick{Value: v, Label: strconv.FormatFloat(v, 'g', -1, 64)}
	}
	p.X.Tick.Marker = plot.ConstantTicks(ticks)
	p.Y.Min = 0

	pts := make(plotter.XYs, len(x))
	for i := range x {
		pts[i].X, pts[i].Y = x[i], y[i]
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, err
	}
	scatter.GlyphStyle.Shape = draw.CircleGlyph{}
	scatter.GlyphStyle.Radius = vg.Points(5)
	scatter.GlyphStyle.Color = palette(1)
	p.Add(scatter)
	p.Legend.Add("observed", scatter)

	for i, c := range curves {
		if math.IsNaN(c.Theta) || math.IsNaN(c.Delta) || !h.InDomain(c.Delta, []float64{lo, hi}) {
			continue
		}
		l, err := line(CurvePoints(h, c, lo, hi), 2+i, i > 0)
		if err != nil {
			return nil, err
		}
		p.Add(l)
		p.Legend.Add(c.Label, l)
	}
	return p, nil
}
