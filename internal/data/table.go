// Package data holds the grouped observation table the solvers read from.
//
// A Table is built once and never mutated; every accessor hands out copies so
// that per-subject fits running in parallel cannot interfere with each other.
package data

import (
	"fmt"
	"math"
)

// Observation is one (subject, predictor, response) triple. A missing
// response is stored as NaN.
type Observation struct {
	SubjectID int
	Predictor float64
	Response  float64
}

// Missing reports whether the response was not recorded.
func (o Observation) Missing() bool {
	return math.IsNaN(o.Response)
}

// Subject is the ordered group of observations sharing a subject id.
type Subject struct {
	ID           int
	Observations []Observation
}

// Observed returns the predictors and responses of the non-missing
// observations, in insertion order.
func (s Subject) Observed() (x, y []float64) {
	x = make([]float64, 0, len(s.Observations))
	y = make([]float64, 0, len(s.Observations))
	for _, o := range s.Observations {
		if o.Missing() {
			continue
		}
		x = append(x, o.Predictor)
		y = append(y, o.Response)
	}
	return x, y
}

// NumObserved is the number of non-missing responses.
func (s Subject) NumObserved() int {
	n := 0
	for _, o := range s.Observations {
		if !o.Missing() {
			n++
		}
	}
	return n
}

// Table groups observations by subject. Subjects keep the order in which
// they were first seen, observations keep their insertion order.
type Table struct {
	ids      []int
	subjects map[int][]Observation
}

// NewTable groups obs by subject id. It rejects non-positive or non-finite
// predictors, infinite responses and repeated (subject, predictor) pairs.
func NewTable(obs []Observation) (*Table, error) {
	t := &Table{subjects: make(map[int][]Observation)}
	seen := make(map[[2]float64]bool, len(obs))

	for i, o := range obs {
		if math.IsNaN(o.Predictor) || math.IsInf(o.Predictor, 0) || o.Predictor <= 0 {
			return nil, fmt.Errorf("data: row %d: predictor must be positive and finite, got %g", i, o.Predictor)
		}
		if math.IsInf(o.Response, 0) {
			return nil, fmt.Errorf("data: row %d: response must be finite or missing", i)
		}
		key := [2]float64{float64(o.SubjectID), o.Predictor}
		if seen[key] {
			return nil, fmt.Errorf("data: row %d: duplicate predictor %g for subject %d", i, o.Predictor, o.SubjectID)
		}
		seen[key] = true

		if _, ok := t.subjects[o.SubjectID]; !ok {
			t.ids = append(t.ids, o.SubjectID)
		}
		t.subjects[o.SubjectID] = append(t.subjects[o.SubjectID], o)
	}
	return t, nil
}

// Len is the number of subjects.
func (t *Table) Len() int {
	return len(t.ids)
}

// IDs returns the subject ids in table order.
func (t *Table) IDs() []int {
	return append([]int(nil), t.ids...)
}

// Subject returns the subject with the given id.
func (t *Table) Subject(id int) (Subject, bool) {
	obs, ok := t.subjects[id]
	if !ok {
		return Subject{}, false
	}
	return Subject{ID: id, Observations: append([]Observation(nil), obs...)}, true
}

// Subjects returns every subject in table order.
func (t *Table) Subjects() []Subject {
	out := make([]Subject, 0, len(t.ids))
	for _, id := range t.ids {
		s, _ := t.Subject(id)
		out = append(out, s)
	}
	return out
}

// Subset returns a table restricted to ids, keeping this table's order.
// Ids that are not present are ignored, so the subject set can only shrink.
func (t *Table) Subset(ids []int) *Table {
	want := make(map[int]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	sub := &Table{subjects: make(map[int][]Observation)}
	for _, id := range t.ids {
		if !want[id] {
			continue
		}
		sub.ids = append(sub.ids, id)
		sub.subjects[id] = t.subjects[id]
	}
	return sub
}

// NumObservations counts the non-missing responses over all subjects.
func (t *Table) NumObservations() int {
	n := 0
	for _, id := range t.ids {
		for _, o := range t.subjects[id] {
			if !o.Missing() {
				n++
			}
		}
	}
	return n
}
