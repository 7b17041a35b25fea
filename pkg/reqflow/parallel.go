package reqflow

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one step of a parallel batch, at its input position.
type Result struct {
	Index    int
	Response *Response
	Err      error
	Duration time.Duration
}

// ParallelHooks observe a parallel batch as a whole.
type ParallelHooks struct {
	// OnSuccess receives every result, failed ones included, after all
	// steps have finished.
	OnSuccess func(results []Result)
	// OnError runs once per failed step, in index order.
	OnError func(err error, index int)
	// OnFinally runs once, last.
	OnFinally func()
}

// ParallelOption configures a ParallelComposer.
type ParallelOption func(*ParallelComposer)

// FailFast cancels the remaining steps when one fails and makes Send
// return that failure.
func FailFast() ParallelOption {
	return func(p *ParallelComposer) {
		p.failFast = true
	}
}

// WithConcurrency limits the number of steps in flight. Zero or less is unlimited.
func WithConcurrency(limit int) ParallelOption {
	return func(p *ParallelComposer) {
		p.limit = limit
	}
}

// ParallelComposer sends all steps concurrently.
type ParallelComposer struct {
	steps    []Step
	hooks    ParallelHooks
	failFast bool
	limit    int
}

// NewParallel creates a parallel composer.
func NewParallel(steps []Step, hooks ParallelHooks, opts ...ParallelOption) *ParallelComposer {
	composer := &ParallelComposer{steps: steps, hooks: hooks}
	for _, opt := range opts {
		opt(composer)
	}

	return composer
}

// Send runs every step and returns results in input order. Without
// FailFast the error is always nil and failures are reported per result.
func (p *ParallelComposer) Send(ctx context.Context) ([]Result, error) {
	if p.hooks.OnFinally != nil {
		defer p.hooks.OnFinally()
	}

	results := make([]Result, len(p.steps))

	group, groupCtx := errgroup.WithContext(ctx)
	if p.limit > 0 {
		group.SetLimit(p.limit)
	}

	for index, step := range p.steps {
		group.Go(func() error {
			start := time.Now()
			resp, err := p.sendStep(groupCtx, step)

			results[index] = Result{
				Index:    index,
				Response: resp,
				Err:      err,
				Duration: time.Since(start),
			}

			if err != nil && p.failFast {
				return &CompositionError{Index: index, Err: err}
			}

			return nil
		})
	}

	groupErr := group.Wait()

	if p.hooks.OnError != nil {
		for _, result := range results {
			if result.Err != nil {
				p.hooks.OnError(result.Err, result.Index)
			}
		}
	}

	if p.hooks.OnSuccess != nil {
		p.hooks.OnSuccess(results)
	}

	return results, groupErr
}

func (p *ParallelComposer) sendStep(ctx context.Context, step Step) (resp *Response, err error) {
	if step == nil {
		return nil, ErrNilStep
	}

	err = ctx.Err()
	if err != nil {
		return nil, fmt.Errorf("batch cancelled: %w", err)
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			resp = nil
			err = fmt.Errorf("%w: %v", ErrDispatchPanic, recovered)
		}
	}()

	return step.Send(ctx)
}

// Summary counts the outcomes of a parallel batch.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
}

// AllFailed reports whether every step failed.
func (s Summary) AllFailed() bool {
	return s.Total > 0 && s.Failed == s.Total
}

// Partial reports whether some, but not all, steps failed.
func (s Summary) Partial() bool {
	return s.Failed > 0 && s.Succeeded > 0
}

// Summarize counts results.
func Summarize(results []Result) Summary {
	summary := Summary{Total: len(results)}

	for _, result := range results {
		if result.Err != nil {
			summary.Failed++
		} else {
			summary.Succeeded++
		}
	}

	return summary
}

// Parallel creates a parallel composer.
func Parallel(steps []Step, hooks ParallelHooks, opts ...ParallelOption) *ParallelComposer {
	return NewParallel(steps, hooks, opts...)
}

// ParallelRequests is Parallel for request instances.
func ParallelRequests(hooks ParallelHooks, requests []*RequestInstance, opts ...ParallelOption) *ParallelComposer {
	return NewParallel(requestSteps(requests), hooks, opts...)
}
