package fit

import (
	"context"
	"runtime"

	"go.uber.org/zap"

	"github.com/HamletTheHamster/social-discounting/internal/data"
	"github.com/HamletTheHamster/social-discounting/internal/logging"
	"github.com/HamletTheHamster/social-discounting/internal/model"
)

// Estimates is the result table of one batch: one ParameterEstimate per
// subject, keyed by subject id, in DataTable order.
type Estimates struct {
	order []int
	byID  map[int]ParameterEstimate
}

// Len is the number of estimates.
func (e *Estimates) Len() int {
	return len(e.order)
}

// Get returns the estimate of subject id.
func (e *Estimates) Get(id int) (ParameterEstimate, bool) {
	est, ok := e.byID[id]
	return est, ok
}

// All returns the estimates in DataTable order.
func (e *Estimates) All() []ParameterEstimate {
	out := make([]ParameterEstimate, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.byID[id])
	}
	return out
}

// FitAll maps FitSubject over every subject of table on up to workers
// goroutines (GOMAXPROCS when workers < 1). Subjects are independent, so the
// result does not depend on the number of workers. Per-subject failures are
// recorded on the estimates; the only error returned is ctx's.
func FitAll(
	ctx context.Context,
	table *data.Table,
	h model.Hyperbolic,
	opts Options,
	workers int,
	log *zap.Logger,
) (
	*Estimates, error,
) {
	log = logging.OrNop(log)
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}

	jobs := make(chan data.Subject)
	results := make(chan ParameterEstimate)
	go func() {
		defer close(jobs)
		for _, s := range table.Subjects() {
			select {
			case jobs <- s:
			case <-ctx.Done():
				return
			}
		}
	}()

	done := make(chan bool)
	for i := 0; i < workers; i++ {
		go func() {
			for s := range jobs {
				results <- FitSubject(h, s, opts)
			}
			done <- true
		}()
	}
	go func() {
		for i := 0; i < workers; i++ {
			<-done
		}
		close(results)
	}()

	out := &Estimates{
		order: table.IDs(),
		byID:  make(map[int]ParameterEstimate, table.Len()),
	}
	for est := range results {
		if est.Issue != nil {
			log.Warn("subject fit degraded",
				zap.Int("subject", est.SubjectID),
				zap.String("method", string(est.Method)),
				zap.Bool("converged", est.Converged),
				zap.Error(est.Issue),
			)
		}
		out.byID[est.SubjectID] = est
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log.Info("subject fits complete",
		zap.Int("subjects", out.Len()),
		zap.String("method", string(opts.Method)),
	)
	return out, nil
}
