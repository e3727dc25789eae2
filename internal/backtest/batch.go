package backtest

import (
	"context"
	"sync"

	"meridian/internal/domain"
	"meridian/internal/policy"
	"meridian/internal/strategy"
)

// Job is one independent backtest. Each job must carry its own strategy and
// policy instances.
type Job struct {
	Symbol   string
	Bars     []domain.Bar
	Strategy strategy.Strategy
	Policy   policy.Policy
}

// BatchResult is the outcome of the job at Index.
type BatchResult struct {
	Index  int
	Result *domain.BacktestResult
	Err    error
}

// RunBatch runs jobs on up to workers goroutines and returns one result per
// job, in job order. A failing job does not stop the others.
func (bt *Backtester) RunBatch(ctx context.Context, jobs []Job, workers int) []BatchResult {
	results := make([]BatchResult, len(jobs))
	if len(jobs) == 0 {
		return results
	}

	jobCh := make(chan int, len(jobs))
	for i := range jobs {
		jobCh <- i
	}
	close(jobCh)

	var wg sync.WaitGroup
	workers = max(1, min(workers, len(jobs)))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobCh {
				if err := ctx.Err(); err != nil {
					results[idx] = BatchResult{Index: idx, Err: err}
					continue
				}
				job := jobs[idx]
				res, err := bt.Run(ctx, job.Symbol, job.Bars, job.Strategy, job.Policy)
				results[idx] = BatchResult{Index: idx, Result: res, Err: err}
			}
		}()
	}
	wg.Wait()

	return results
}
