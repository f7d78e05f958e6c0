package plotting

import (
	"errors"
	"math"

	"github.com/HamletTheHamster/social-discounting/internal/data"
	"github.com/HamletTheHamster/social-discounting/internal/model"
)

// ErrNoGnuplot is returned by Show in builds without the gnuplot tag. The
// glot package requires a gnuplot binary as soon as it is loaded, so it is
// only linked into binaries built with -tags gnuplot.
var ErrNoGnuplot = errors.New("plotting: built without gnuplot support, rebuild with -tags gnuplot")

// Group is a named point set handed to gnuplot.
type Group struct {
	Name  string
	Style string
	// Points holds the x and the y coordinates.
	Points [][]float64
}

// Groups converts a subject and its curves into gnuplot point groups.
func Groups(h model.Hyperbolic, s data.Subject, curves ...Curve) []Group {
	x, y := s.Observed()
	groups := []Group{{Name: "observed", Style: "points", Points: [][]float64{x, y}}}
	if len(x) == 0 {
		return groups
	}
	lo, hi := x[0], x[0]
	for _, v := range x {
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	for _, c := range curves {
		if math.IsNaN(c.Theta) || math.IsNaN(c.Delta) || !h.InDomain(c.Delta, []float64{lo, hi}) {
			continue
		}
		pts := CurvePoints(h, c, lo, hi)
		cx, cy := make([]float64, len(pts)), make([]float64, len(pts))
		for i, pt := range pts {
			cx[i], cy[i] = pt.X, pt.Y
		}
		groups = append(groups, Group{Name: c.Label, Style: "lines", Points: [][]float64{cx, cy}})
	}
	return groups
}
