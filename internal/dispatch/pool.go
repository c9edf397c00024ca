package dispatch

import (
	"context"
	"sync"
)

type job func() error

// runPool executes jobs with at most maxWorkers in flight and returns
// every error the jobs produced. Once ctx is cancelled no further job
// starts; jobs already in flight finish, and the cancellation is
// reported as an error so callers see the work was cut short.
func runPool(ctx context.Context, maxWorkers int, jobs []job) []error {
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	sem := make(chan struct{}, maxWorkers)

	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(j job) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := j(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(j)
	}
	wg.Wait()
	return errs
}
