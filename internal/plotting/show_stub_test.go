//go:build !gnuplot

package plotting

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/HamletTheHamster/social-discounting/internal/model"
)

func TestShowWithoutGnuplot(t *testing.T) {
	assert.False(t, GnuplotAvailable)
	groups := Groups(model.NewHyperbolic(model.DefaultK), subjectA(t), Curve{Label: "LM", Theta: 1.3416, Delta: 0.0605})
	assert.ErrorIs(t, Show("subject 1", groups, ""), ErrNoGnuplot)
}
