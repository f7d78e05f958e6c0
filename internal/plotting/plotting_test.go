package plotting

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HamletTheHamster/social-discounting/internal/data"
	"github.com/HamletTheHamster/social-discounting/internal/model"
	"github.com/HamletTheHamster/social-discounting/internal/saem"
)

func subjectA(t *testing.T) data.Subject {
	t.Helper()
	x := []float64{1, 5, 20, 50, 100}
	y := []float64{87.5, 87.5, 52.5, 12.5, 7.5}
	var obs []data.Observation
	for i := range x {
		obs = append(obs, data.Observation{SubjectID: 1, Predictor: x[i], Response: y[i]})
	}
	tbl, err := data.NewTable(obs)
	require.NoError(t, err)
	s, ok := tbl.Subject(1)
	require.True(t, ok)
	return s
}

func assertSaved(t *testing.T, dir, name string) {
	t.Helper()
	for _, ext := range Formats {
		info, err := os.Stat(filepath.Join(dir, name+"."+ext))
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
}

func TestCurvePoints(t *testing.T) {
	h := model.NewHyperbolic(model.DefaultK)
	pts := CurvePoints(h, Curve{Theta: 1, Delta: 0.05}, 1, 100)
	require.Len(t, pts, curvePoints)
	assert.InDelta(t, 1, pts[0].X, 1e-12)
	assert.InDelta(t, 100, pts[len(pts)-1].X, 1e-9)
	assert.InDelta(t, 75/1.05, pts[0].Y, 1e-9)
	for i := 1; i < len(pts); i++ {
		assert.Less(t, pts[i].Y, pts[i-1].Y)
	}
}

func TestSubjectSaves(t *testing.T) {
	h := model.NewHyperbolic(model.DefaultK)
	p, err := Subject(h, subjectA(t),
		Curve{Label: "LM", Theta: 1.3416, Delta: 0.0605},
		Curve{Label: "SAEM", Theta: 1.2, Delta: 0.05},
		Curve{Label: "undefined", Theta: math.NaN(), Delta: math.NaN()},
	)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "fits")
	require.NoError(t, Save(p, dir, "subject_1"))
	assertSaved(t, dir, "subject_1")
}

func TestSubjectWithoutResponses(t *testing.T) {
	h := model.NewHyperbolic(model.DefaultK)
	s := data.Subject{ID: 9, Observations: []data.Observation{{SubjectID: 9, Predictor: 1, Response: math.NaN()}}}
	_, err := Subject(h, s)
	assert.Error(t, err)
}

func TestTraceSaves(t *testing.T) {
	var trace []saem.Snapshot
	for k := 0; k < 20; k++ {
		trace = append(trace, saem.Snapshot{
			Iteration: k,
			Mu:        [2]float64{1 + 1/float64(k+1), 0.05},
			Omega:     [2][2]float64{{0.04, 0}, {0, 0.0004}},
			Error:     model.ErrorModel{Type: model.Combined, A: 1, B: 0.1},
		})
	}
	plots, names, err := Trace(trace, 10)
	require.NoError(t, err)
	require.Len(t, plots, 6)
	assert.Equal(t, []string{
		"trace_theta_mean", "trace_delta_mean", "trace_omega_theta",
		"trace_omega_delta", "trace_error_a", "trace_error_b",
	}, names)

	dir := t.TempDir()
	require.NoError(t, Save(plots[0], dir, names[0]))
	assertSaved(t, dir, names[0])

	plots, _, err = Trace(nil, 10)
	require.NoError(t, err)
	assert.Empty(t, plots)
}

func TestGroups(t *testing.T) {
	h := model.NewHyperbolic(model.DefaultK)
	groups := Groups(h, subjectA(t), Curve{Label: "LM", Theta: 1.3416, Delta: 0.0605}, Curve{Label: "bad", Theta: math.NaN()})
	require.Len(t, groups, 2)
	assert.Equal(t, "points", groups[0].Style)
	assert.Len(t, groups[0].Points[0], 5)
	assert.Equal(t, "lines", groups[1].Style)
	assert.Len(t, groups[1].Points[1], curvePoints)
}
