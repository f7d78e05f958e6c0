// Package plotting renders the fixed diagnostic figures of a fit: the SAEM
// convergence trace and the per-subject curves.
package plotting

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Formats are the file types written by Save.
var Formats = []string{"png", "svg", "pdf"}

// Size is the edge length of a saved figure.
const Size = 8 * vg.Inch

func palette(brush int) color.RGBA {
	col := []color.RGBA{
		{R: 31, G: 211, B: 172, A: 255},
		{R: 255, G: 122, B: 180, A: 255},
		{R: 122, G: 156, B: 255, A: 255},
		{R: 255, G: 193, B: 122, A: 255},
		{R: 188, G: 117, B: 255, A: 255},
		{R: 46, G: 140, B: 60, A: 255},
		{R: 140, G: 46, B: 49, A: 255},
		{R: 27, G: 150, B: 146, A: 255},
	}
	return col[brush%len(col)]
}

// newPlot returns a plot with the house style: sans fonts, heavy axes and the
// legend in the top right corner.
func newPlot(title, xlabel, ylabel string) *plot.Plot {
	p := plot.New()
	p.BackgroundColor = color.RGBA{A: 0}
	p.Title.Text = title
	p.Title.TextStyle.Font.Typeface = "liberation"
	p.Title.TextStyle.Font.Variant = "Sans"
	p.Title.TextStyle.Font.Size = 24
	p.Title.Padding = vg.Points(20)

	p.X.Label.Text = xlabel
	p.X.Label.TextStyle.Font.Variant = "Sans"
	p.X.Label.TextStyle.Font.Size = 18
	p.X.Label.Padding = vg.Points(10)
	p.X.LineStyle.Width = vg.Points(1.5)
	p.X.Tick.LineStyle.Width = vg.Points(1.5)
	p.X.Tick.Label.Font.Variant = "Sans"
	p.X.Tick.Label.Font.Size = 16

	p.Y.Label.Text = ylabel
	p.Y.Label.TextStyle.Font.Variant = "Sans"
	p.Y.Label.TextStyle.Font.Size = 18
	p.Y.Label.Padding = vg.Points(10)
	p.Y.LineStyle.Width = vg.Points(1.5)
	p.Y.Tick.LineStyle.Width = vg.Points(1.5)
	p.Y.Tick.Label.Font.Variant = "Sans"
	p.Y.Tick.Label.Font.Size = 16

	p.Legend.TextStyle.Font.Variant = "Sans"
	p.Legend.TextStyle.Font.Size = 14
	p.Legend.Top = true
	p.Legend.Padding = vg.Points(6)
	p.Legend.ThumbnailWidth = vg.Points(30)
	return p
}

func line(pts plotter.XYs, brush int, dashed bool) (*plotter.Line, error) {
	l, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	l.LineStyle.Width = vg.Points(2)
	l.LineStyle.Color = palette(brush)
	if dashed {
		l.LineStyle.Dashes = []vg.Length{vg.Points(6), vg.Points(4)}
	}
	return l, nil
}

// Save writes p as dir/name.png, .svg and .pdf, creating dir as needed.
func Save(p *plot.Plot, dir, name string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create plot directory: %w", err)
	}
	path := filepath.Join(dir, name)
	for _, ext := range Formats {
		if err := p.Save(Size, Size, path+"."+ext); err != nil {
			return fmt.Errorf("failed to save %s.%s: %w", name, ext, err)
		}
	}
	return nil
}
