package reqflow_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fivetwenty-io/reqflow/pkg/reqflow"
)

func delayedStep(delay time.Duration, body string, err error) reqflow.Step {
	return reqflow.StepFunc(func(ctx context.Context) (*reqflow.Response, error) {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		if err != nil {
			return nil, err
		}

		return ok(body), nil
	})
}

func TestParallel_PreservesInputOrder(t *testing.T) {
	t.Parallel()

	var events []string

	results, err := reqflow.Parallel([]reqflow.Step{
		delayedStep(30*time.Millisecond, "slow", nil),
		delayedStep(0, "fast", nil),
		delayedStep(10*time.Millisecond, "medium", nil),
	}, reqflow.ParallelHooks{
		OnSuccess: func(results []reqflow.Result) { events = append(events, "success") },
		OnError:   func(err error, index int) { events = append(events, "error") },
		OnFinally: func() { events = append(events, "finally") },
	}).Send(t.Context())

	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "slow", results[0].Response.Data)
	assert.Equal(t, "fast", results[1].Response.Data)
	assert.Equal(t, "medium", results[2].Response.Data)

	for i, result := range results {
		assert.Equal(t, i, result.Index)
	}

	assert.Equal(t, []string{"success", "finally"}, events)
}

func TestParallel_PartialFailureReportsEveryOutcome(t *testing.T) {
	t.Parallel()

	var (
		events   []string
		failedAt []int
	)

	results, err := reqflow.Parallel([]reqflow.Step{
		delayedStep(0, "a", nil),
		delayedStep(5*time.Millisecond, "", errBoom),
		delayedStep(0, "c", nil),
		delayedStep(0, "", errBoom),
	}, reqflow.ParallelHooks{
		OnSuccess: func(results []reqflow.Result) { events = append(events, "success") },
		OnError: func(err error, index int) {
			events = append(events, "error")
			failedAt = append(failedAt, index)
		},
		OnFinally: func() { events = append(events, "finally") },
	}).Send(t.Context())

	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, failedAt)
	assert.Equal(t, []string{"error", "error", "success", "finally"}, events)

	summary := reqflow.Summarize(results)
	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 2, summary.Failed)
	assert.True(t, summary.Partial())
	assert.False(t, summary.AllFailed())
}

func TestParallel_AllFailed(t *testing.T) {
	t.Parallel()

	results, err := reqflow.Parallel([]reqflow.Step{
		delayedStep(0, "", errBoom),
		delayedStep(0, "", errBoom),
	}, reqflow.ParallelHooks{}).Send(t.Context())

	require.NoError(t, err)

	summary := reqflow.Summarize(results)
	assert.True(t, summary.AllFailed())
	assert.False(t, summary.Partial())
}

func TestParallel_FailFastCancelsOthers(t *testing.T) {
	t.Parallel()

	results, err := reqflow.Parallel([]reqflow.Step{
		delayedStep(time.Second, "slow", nil),
		delayedStep(0, "", errBoom),
	}, reqflow.ParallelHooks{}, reqflow.FailFast()).Send(t.Context())

	require.ErrorIs(t, err, errBoom)

	compositionErr := &reqflow.CompositionError{}
	require.ErrorAs(t, err, &compositionErr)
	assert.Equal(t, 1, compositionErr.Index)

	require.ErrorIs(t, results[0].Err, context.Canceled)
}

func TestParallel_ConcurrencyLimit(t *testing.T) {
	t.Parallel()

	var (
		inFlight atomic.Int32
		peak     atomic.Int32
		mu       sync.Mutex
	)

	step := reqflow.StepFunc(func(ctx context.Context) (*reqflow.Response, error) {
		current := inFlight.Add(1)
		defer inFlight.Add(-1)

		mu.Lock()
		if current > peak.Load() {
			peak.Store(current)
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		return ok("x"), nil
	})

	steps := make([]reqflow.Step, 8)
	for i := range steps {
		steps[i] = step
	}

	results, err := reqflow.Parallel(steps, reqflow.ParallelHooks{}, reqflow.WithConcurrency(2)).Send(t.Context())
	require.NoError(t, err)
	assert.Len(t, results, 8)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestParallelRequests_SharedCacheKeyDispatchesOnce(t *testing.T) {
	t.Parallel()

	adapter := &countingAdapter{delay: 20 * time.Millisecond}
	client := reqflow.NewClient(reqflow.WithAdapter(adapter))

	requests := make([]*reqflow.RequestInstance, 5)
	for i := range requests {
		requests[i] = client.NewRequest("GET", "https://example.com/shared",
			reqflow.WithCachePolicy(reqflow.CachePolicy{}),
		)
	}

	results, err := reqflow.ParallelRequests(reqflow.ParallelHooks{}, requests).Send(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 5, reqflow.Summarize(results).Succeeded)
	assert.Equal(t, int32(1), adapter.calls.Load())
}
