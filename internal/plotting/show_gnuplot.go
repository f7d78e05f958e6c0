//go:build gnuplot

package plotting

import (
	"fmt"

	"github.com/Arafatk/glot"
)

// GnuplotAvailable reports whether Show can open a gnuplot window.
const GnuplotAvailable = true

// Show opens a persistent gnuplot window with the groups and, when file is
// not empty, also saves the view there. It needs a gnuplot binary on the PATH.
func Show(title string, groups []Group, file string) error {
	p, err := glot.NewPlot(2, true, false)
	if err != nil {
		return fmt.Errorf("failed to start gnuplot: %w", err)
	}
	for _, g := range groups {
		if err := p.AddPointGroup(g.Name, g.Style, g.Points); err != nil {
			return fmt.Errorf("failed to add %q: %w", g.Name, err)
		}
	}
	p.SetTitle(title)
	p.SetXLabel("social distance")
	p.SetYLabel("amount forgone")
	if file != "" {
		if err := p.SavePlot(file); err != nil {
			return fmt.Errorf("failed to save gnuplot view: %w", err)
		}
	}
	return nil
}
