package data

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTableGroupsInOrder(t *testing.T) {
	tbl, err := NewTable([]Observation{
		{SubjectID: 7, Predictor: 1, Response: 80},
		{SubjectID: 3, Predictor: 1, Response: 70},
		{SubjectID: 7, Predictor: 5, Response: 60},
		{SubjectID: 3, Predictor: 20, Response: math.NaN()},
		{SubjectID: 7, Predictor: 20, Response: 40},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, []int{7, 3}, tbl.IDs())
	assert.Equal(t, 4, tbl.NumObservations())

	s, ok := tbl.Subject(7)
	require.True(t, ok)
	x, y := s.Observed()
	assert.Equal(t, []float64{1, 5, 20}, x)
	assert.Equal(t, []float64{80, 60, 40}, y)

	s, ok = tbl.Subject(3)
	require.True(t, ok)
	assert.Len(t, s.Observations, 2)
	assert.Equal(t, 1, s.NumObserved())
	assert.True(t, s.Observations[1].Missing())

	_, ok = tbl.Subject(99)
	assert.False(t, ok)
}

func TestNewTableRejects(t *testing.T) {
	tests := []struct {
		name string
		obs  []Observation
	}{
		{"duplicate pair", []Observation{{1, 5, 10}, {1, 5, 11}}},
		{"zero predictor", []Observation{{1, 0, 10}}},
		{"negative predictor", []Observation{{1, -1, 10}}},
		{"nan predictor", []Observation{{1, math.NaN(), 10}}},
		{"infinite response", []Observation{{1, 1, math.Inf(1)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable(tt.obs)
			assert.Error(t, err)
		})
	}
}

func TestSubjectCopiesAreIndependent(t *testing.T) {
	tbl, err := NewTable([]Observation{{1, 1, 10}, {1, 5, 8}})
	require.NoError(t, err)

	s, _ := tbl.Subject(1)
	s.Observations[0].Response = -1

	again, _ := tbl.Subject(1)
	assert.Equal(t, 10.0, again.Observations[0].Response)
}

func TestSubsetOnlyShrinks(t *testing.T) {
	tbl, err := NewTable([]Observation{{1, 1, 10}, {2, 1, 10}, {3, 1, 10}})
	require.NoError(t, err)

	sub := tbl.Subset([]int{3, 1, 42})
	assert.Equal(t, []int{1, 3}, sub.IDs())
	assert.Equal(t, []int{1, 2, 3}, tbl.IDs())
}

func TestReadCSV(t *testing.T) {
	in := `subject_id,predictor,response
1,1,87.5
1,5,87.5
1,20,NA
2,1,
2,5,12.5
`
	tbl, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, tbl.IDs())

	s, _ := tbl.Subject(1)
	assert.True(t, s.Observations[2].Missing())
	s, _ = tbl.Subject(2)
	assert.True(t, s.Observations[0].Missing())
	assert.Equal(t, 12.5, s.Observations[1].Response)
}

func TestReadCSVColumnOrder(t *testing.T) {
	in := "response,subject_id,predictor\n7.5,4,100\n"
	tbl, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	s, ok := tbl.Subject(4)
	require.True(t, ok)
	assert.Equal(t, Observation{SubjectID: 4, Predictor: 100, Response: 7.5}, s.Observations[0])
}

func TestReadCSVErrors(t *testing.T) {
	tests := map[string]string{
		"empty":          "",
		"missing column": "subject_id,predictor\n1,1\n",
		"bad id":         "subject_id,predictor,response\nx,1,2\n",
		"bad predictor":  "subject_id,predictor,response\n1,far,2\n",
		"bad response":   "subject_id,predictor,response\n1,1,lots\n",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(in))
			assert.Error(t, err)
		})
	}
}

func TestWriteCSVReadsBack(t *testing.T) {
	tbl, err := NewTable([]Observation{{1, 1, 87.5}, {1, 5, math.NaN()}, {2, 100, 7.5}})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, tbl))
	assert.Contains(t, buf.String(), "1,5,NA")

	got, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, tbl.IDs(), got.IDs())
	assert.Equal(t, tbl.NumObservations(), got.NumObservations())
}
