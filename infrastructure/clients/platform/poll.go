package platform

import (
	"context"
	"time"

	"crosspost/domain/model"
)

// pollCheck inspects asynchronous processing once. wait, when positive, is
// the platform-suggested delay before the next check and overrides the
// backoff progression.
type pollCheck func(ctx context.Context) (done bool, wait time.Duration, err error)

// poller drives repeated status checks with capped exponential backoff until
// processing finishes or the budget lapses.
type poller struct {
	initial time.Duration
	max     time.Duration
	budget  time.Duration
}

// processingPoll is the shared policy for every platform's processing wait:
// 1s doubling to a 30s cap, bounded by a 10 minute budget.
var processingPoll = poller{
	initial: time.Second,
	max:     30 * time.Second,
	budget:  10 * time.Minute,
}

func (p poller) run(ctx context.Context, what string, check pollCheck) error {
	deadline := time.Now().Add(p.budget)
	gap := p.initial
	for {
		done, wait, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		step := gap
		gap *= 2
		if gap > p.max {
			gap = p.max
		}
		if wait > 0 {
			step = wait
			if step > p.max {
				step = p.max
			}
		}

		if time.Now().Add(step).After(deadline) {
			return model.Errf(model.KindUploadProcessingTimeout,
				"%s still processing after %s", what, p.budget)
		}
		select {
		case <-ctx.Done():
			return classifyTransport(ctx.Err())
		case <-time.After(step):
		}
	}
}
