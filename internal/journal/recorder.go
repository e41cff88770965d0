package journal

import (
	"context"
	"iter"

	"github.com/rahul/deepresearch/internal/observability"
	"github.com/rahul/deepresearch/internal/research"
)

// Recorder journals a run's event sequence while passing it through.
// Journal failures are logged and never interrupt the run.
type Recorder struct {
	Journal *Journal
	Logger  *observability.Logger
}

// Record wraps seq. The run is started on the first pull and finished with
// completed (a done event was seen), failed (an error element) or cancelled.
func (r *Recorder) Record(ctx context.Context, runID, question, researchType string, seq iter.Seq2[research.Event, error]) iter.Seq2[research.Event, error] {
	logger := r.Logger
	if logger == nil {
		logger = observability.Nop()
	}
	return func(yield func(research.Event, error) bool) {
		// Journal writes outlive a cancelled request.
		store := context.WithoutCancel(ctx)
		if err := r.Journal.StartRun(store, runID, question, researchType); err != nil {
			logger.Warn().Err(err).Str("run_id", runID).Msg("journal: start run")
		}

		status := StatusCancelled
		n := 0
		defer func() {
			if err := r.Journal.FinishRun(store, runID, status); err != nil {
				logger.Warn().Err(err).Str("run_id", runID).Msg("journal: finish run")
			}
		}()

		for ev, err := range seq {
			n++
			if err != nil {
				status = StatusFailed
				if jerr := r.Journal.AppendError(store, runID, n, err); jerr != nil {
					logger.Warn().Err(jerr).Str("run_id", runID).Msg("journal: append error")
				}
			} else {
				if ev.Type() == "done" {
					status = StatusCompleted
				}
				if jerr := r.Journal.Append(store, runID, n, ev); jerr != nil {
					logger.Warn().Err(jerr).Str("run_id", runID).Msg("journal: append event")
				}
			}
			if !yield(ev, err) {
				return
			}
		}
	}
}
