package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/HamletTheHamster/social-discounting/internal/data"
	"github.com/HamletTheHamster/social-discounting/internal/model"
	"github.com/HamletTheHamster/social-discounting/internal/simulate"
)

func runSimulate(args []string) error {
	var (
		out, truth, errorModel               string
		subjects, firstID                    int
		seed                                 uint64
		theta, delta, omegaTheta, omegaDelta float64
		omegaCov, a, b, scaleK               float64
	)
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	fs.StringVar(&out, "out", "", "cohort CSV, standard output when empty")
	fs.StringVar(&truth, "truth", "", "write the drawn individual parameters to this CSV")
	fs.StringVar(&errorModel, "error", "constant", "residual error model: constant, proportional, combined")
	fs.IntVar(&subjects, "subjects", 100, "number of subjects")
	fs.IntVar(&firstID, "first-id", 1, "id of the first subject")
	fs.Uint64Var(&seed, "seed", 632545, "random seed")
	fs.Float64Var(&theta, "theta", 1, "population mean of theta")
	fs.Float64Var(&delta, "delta", 0.05, "population mean of delta")
	fs.Float64Var(&omegaTheta, "omega-theta", 0.04, "variance of theta")
	fs.Float64Var(&omegaDelta, "omega-delta", 0.0004, "variance of delta")
	fs.Float64Var(&omegaCov, "omega-cov", 0, "covariance of theta and delta")
	fs.Float64Var(&a, "a", 1, "constant error parameter")
	fs.Float64Var(&b, "b", 0.1, "proportional error parameter")
	fs.Float64Var(&scaleK, "k", model.DefaultK, "scale constant of the curve")
	if err := fs.Parse(args); err != nil {
		return err
	}

	et, err := model.ParseErrorType(errorModel)
	if err != nil {
		return err
	}
	pop := simulate.Population{
		ThetaMean: theta,
		DeltaMean: delta,
		Omega:     [2][2]float64{{omegaTheta, omegaCov}, {omegaCov, omegaDelta}},
		Error:     model.ErrorModel{Type: et, A: a, B: b},
	}
	design := simulate.Design{
		Subjects:   subjects,
		Predictors: simulate.ReferencePredictors,
		FirstID:    firstID,
	}
	table, truths, err := simulate.Cohort(model.NewHyperbolic(scaleK), pop, design, seed)
	if err != nil {
		return err
	}

	if out == "" {
		if err := data.WriteCSV(os.Stdout, table); err != nil {
			return err
		}
	} else if err := writeFile(out, func(w io.Writer) error { return data.WriteCSV(w, table) }); err != nil {
		return err
	}
	if truth != "" {
		return writeFile(truth, func(w io.Writer) error { return writeTruth(w, truths) })
	}
	return nil
}

func writeFile(path string, write func(w io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func writeTruth(w io.Writer, truths []simulate.Truth) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"subject_id", "theta", "delta"}); err != nil {
		return err
	}
	for _, t := range truths {
		rec := []string{
			strconv.Itoa(t.SubjectID),
			strconv.FormatFloat(t.Theta, 'g', -1, 64),
			strconv.FormatFloat(t.Delta, 'g', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
