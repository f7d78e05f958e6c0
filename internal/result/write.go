package result

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/HamletTheHamster/social-discounting/internal/fit"
	"github.com/HamletTheHamster/social-discounting/internal/saem"
)

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func writeAll(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// WriteLM writes one row per estimate: subject_id, method, theta, se_theta,
// delta, se_delta, residual_1..residual_n, log_likelihood, converged, issue.
// n is the largest number of residuals of any estimate; shorter rows are
// padded with NA.
func WriteLM(w io.Writer, estimates []fit.ParameterEstimate) error {
	n := 0
	for _, est := range estimates {
		n = max(n, len(est.Residuals))
	}
	header := []string{"subject_id", "method", "theta", "se_theta", "delta", "se_delta"}
	for i := 1; i <= n; i++ {
		header = append(header, fmt.Sprintf("residual_%d", i))
	}
	header = append(header, "log_likelihood", "converged", "issue")

	rows := make([][]string, 0, len(estimates))
	for _, est := range estimates {
		row := []string{
			strconv.Itoa(est.SubjectID),
			string(est.Method),
			formatFloat(est.Theta),
			formatFloat(est.SETheta),
			formatFloat(est.Delta),
			formatFloat(est.SEDelta),
		}
		for i := 0; i < n; i++ {
			if i < len(est.Residuals) {
				row = append(row, formatFloat(est.Residuals[i]))
			} else {
				row = append(row, "NA")
			}
		}
		issue := ""
		if est.Issue != nil {
			issue = est.Issue.Error()
		}
		row = append(row, formatFloat(est.LogLikelihood), strconv.FormatBool(est.Converged), issue)
		rows = append(rows, row)
	}
	return writeAll(w, header, rows)
}

// WriteSAEM writes the per-subject SAEM table.
func WriteSAEM(w io.Writer, res *saem.Result) error {
	header := []string{
		"subject_id", "theta_map", "delta_map", "theta_mean", "delta_mean",
		"theta_var", "delta_var", "log_likelihood_lin", "log_likelihood_is", "map_converged",
	}
	rows := make([][]string, 0, len(res.Individuals))
	for _, ind := range res.Individuals {
		rows = append(rows, []string{
			strconv.Itoa(ind.SubjectID),
			formatFloat(ind.ThetaMAP),
			formatFloat(ind.DeltaMAP),
			formatFloat(ind.ThetaMean),
			formatFloat(ind.DeltaMean),
			formatFloat(ind.ThetaVar),
			formatFloat(ind.DeltaVar),
			formatFloat(ind.LogLikLin),
			formatFloat(ind.LogLikIS),
			strconv.FormatBool(ind.MAPConverged),
		})
	}
	return writeAll(w, header, rows)
}

// WritePopulation writes the population model as parameter, estimate, se
// rows followed by the likelihood criteria.
func WritePopulation(w io.Writer, p saem.PopulationModel) error {
	param := func(name string, v, se float64) []string {
		return []string{name, formatFloat(v), formatFloat(se)}
	}
	rows := [][]string{
		param("theta_mean", p.ThetaMean, p.SE.ThetaMean),
		param("delta_mean", p.DeltaMean, p.SE.DeltaMean),
		param("omega_theta", p.Omega[0][0], p.SE.OmegaTheta),
		param("omega_delta", p.Omega[1][1], p.SE.OmegaDelta),
	}
	if p.Covariance == saem.Full {
		rows = append(rows, param("omega_theta_delta", p.Omega[0][1], p.SE.OmegaCov))
	}
	names := p.Error.ParamNames()
	for i, v := range p.Error.Params() {
		se := math.NaN()
		if i < len(p.SE.Error) {
			se = p.SE.Error[i]
		}
		rows = append(rows, param("error_"+names[i], v, se))
	}

	nan := math.NaN()
	rows = append(rows,
		param("log_likelihood_lin", p.LogLikLin, nan),
		param("log_likelihood_is", p.LogLikIS, nan),
		param("aic_lin", p.AICLin, nan),
		param("bic_lin", p.BICLin, nan),
		param("aic_is", p.AICIS, nan),
		param("bic_is", p.BICIS, nan),
		[]string{"error_model", p.Error.Type.String(), "NA"},
		[]string{"covariance_model", string(p.Covariance), "NA"},
		[]string{"subjects", strconv.Itoa(p.NumSubjects), "NA"},
		[]string{"observations", strconv.Itoa(p.NumObservations), "NA"},
	)
	return writeAll(w, []string{"parameter", "estimate", "se"}, rows)
}

// WriteComparison writes the merged per-subject table.
func WriteComparison(w io.Writer, rows []Row) error {
	header := []string{
		"subject_id", "status", "lm_theta", "lm_delta", "lm_trustworthy",
		"saem_theta", "saem_delta", "reason",
	}
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		lmTheta, lmDelta := math.NaN(), math.NaN()
		if r.LM != nil {
			lmTheta, lmDelta = r.LM.Theta, r.LM.Delta
		}
		saemTheta, saemDelta := math.NaN(), math.NaN()
		if r.SAEM != nil {
			saemTheta, saemDelta = r.SAEM.ThetaMAP, r.SAEM.DeltaMAP
		}
		reason := ""
		switch {
		case r.Exclusion != nil:
			reason = string(r.Exclusion.Reason)
		case r.LM != nil && r.LM.Issue != nil:
			reason = r.LM.Issue.Error()
		}
		out = append(out, []string{
			strconv.Itoa(r.SubjectID),
			string(r.Status),
			formatFloat(lmTheta),
			formatFloat(lmDelta),
			strconv.FormatBool(r.Trustworthy()),
			formatFloat(saemTheta),
			formatFloat(saemDelta),
			reason,
		})
	}
	return writeAll(w, header, out)
}
