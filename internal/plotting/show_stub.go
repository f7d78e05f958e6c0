//go:build !gnuplot

package plotting

// GnuplotAvailable reports whether Show can open a gnuplot window.
const GnuplotAvailable = false

// Show reports ErrNoGnuplot.
func Show(title string, groups []Group, file string) error {
	return ErrNoGnuplot
}
