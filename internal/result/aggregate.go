// Package result merges the per-subject least-squares fits, the outlier
// decisions and the SAEM estimates into tables keyed by subject id.
package result

import (
	"errors"

	"github.com/HamletTheHamster/social-discounting/internal/data"
	"github.com/HamletTheHamster/social-discounting/internal/errs"
	"github.com/HamletTheHamster/social-discounting/internal/fit"
	"github.com/HamletTheHamster/social-discounting/internal/outlier"
	"github.com/HamletTheHamster/social-discounting/internal/saem"
)

// Status is the fate of one subject in the pipeline.
type Status string

const (
	// Fitted subjects have a least-squares fit but were not part of a
	// population fit.
	Fitted Status = "fitted"
	// InsufficientData subjects had fewer than two observed responses.
	InsufficientData Status = "insufficient-data"
	// NotConverged subjects have a least-squares fit that failed.
	NotConverged Status = "not-converged"
	// Outlier subjects were removed by the threshold filter.
	Outlier Status = "outlier"
	// Population subjects contributed to the SAEM fit.
	Population Status = "saem"
)

// Row is the outcome for one subject. LM is always set when the subject was
// fitted; Exclusion and SAEM only when they apply.
type Row struct {
	SubjectID int
	Status    Status
	LM        *fit.ParameterEstimate
	Exclusion *outlier.Exclusion
	SAEM      *saem.Individual
}

// Trustworthy reports whether the least-squares estimate of the row can be
// relied on.
func (r Row) Trustworthy() bool {
	return r.LM != nil && r.LM.Trustworthy()
}

// Aggregate returns one row per subject of table, in table order, so no
// subject disappears silently. lm and pop may be nil.
func Aggregate(
	table *data.Table,
	lm *fit.Estimates,
	outcome outlier.Outcome,
	pop *saem.Result,
) (
	[]Row,
) {
	rows := make([]Row, 0, table.Len())
	for _, id := range table.IDs() {
		row := Row{SubjectID: id, Status: Fitted}

		if lm != nil {
			if est, ok := lm.Get(id); ok {
				row.LM = &est
			}
		}
		if ex, ok := outcome.Exclusion(id); ok {
			row.Exclusion = &ex
		}
		if pop != nil {
			if ind, ok := pop.Individual(id); ok {
				row.SAEM = &ind
			}
		}

		switch {
		case row.LM == nil || errors.Is(row.LM.Issue, errs.ErrInsufficientData):
			row.Status = InsufficientData
		case row.Exclusion != nil && (row.Exclusion.Reason == outlier.NotConverged || row.Exclusion.Reason == outlier.Undefined):
			row.Status = NotConverged
		case row.Exclusion != nil:
			row.Status = Outlier
		case row.SAEM != nil:
			row.Status = Population
		}
		rows = append(rows, row)
	}
	return rows
}

// Count tallies rows per status.
func Count(rows []Row) map[Status]int {
	out := make(map[Status]int)
	for _, r := range rows {
		out[r.Status]++
	}
	return out
}
