package plotting

import (
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"

	"github.com/HamletTheHamster/social-discounting/internal/saem"
)

type series struct {
	name string
	at   func(s saem.Snapshot) float64
}

// Trace plots the evolution of each population parameter over the SAEM
// iterations, one figure per parameter in the order theta_mean, delta_mean,
// omega_theta, omega_delta, then the error parameters. k1 marks the start of
// the smoothing phase.
func Trace(trace []saem.Snapshot, k1 int) ([]*plot.Plot, []string, error) {
	if len(trace) == 0 {
		return nil, nil, nil
	}
	all := []series{
		{"theta_mean", func(s saem.Snapshot) float64 { return s.Mu[0] }},
		{"delta_mean", func(s saem.Snapshot) float64 { return s.Mu[1] }},
		{"omega_theta", func(s saem.Snapshot) float64 { return s.Omega[0][0] }},
		{"omega_delta", func(s saem.Snapshot) float64 { return s.Omega[1][1] }},
	}
	for j, name := range trace[0].Error.ParamNames() {
		all = append(all, series{"error_" + name, func(s saem.Snapshot) float64 { return s.Error.Params()[j] }})
	}

	var (
		plots []*plot.Plot
		names []string
	)
	for i, ser := range all {
		pts := make(plotter.XYs, len(trace))
		lo, hi := ser.at(trace[0]), ser.at(trace[0])
		for k, s := range trace {
			pts[k].X = float64(s.Iteration)
			pts[k].Y = ser.at(s)
			lo, hi = min(lo, pts[k].Y), max(hi, pts[k].Y)
		}
		p := newPlot(ser.name, "iteration", ser.name)
		l, err := line(pts, i, false)
		if err != nil {
			return nil, nil, err
		}
		p.Add(l)

		if k1 > 0 && k1 < len(trace) {
			mark, err := line(plotter.XYs{{X: float64(k1), Y: lo}, {X: float64(k1), Y: hi}}, 6, true)
			if err != nil {
				return nil, nil, err
			}
			p.Add(mark)
			p.Legend.Add("smoothing starts", mark)
		}
		plots = append(plots, p)
		names = append(names, "trace_"+ser.name)
	}
	return plots, names, nil
}
