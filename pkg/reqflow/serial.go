package reqflow

import (
	"context"
	"fmt"
)

// Step is anything a composer can send. *RequestInstance is a Step.
type Step interface {
	Send(ctx context.Context) (*Response, error)
}

// StepFunc lets an ordinary function serve as a Step.
type StepFunc func(ctx context.Context) (*Response, error)

// Send calls f(ctx).
func (f StepFunc) Send(ctx context.Context) (*Response, error) {
	return f(ctx)
}

// dependentStep is built from the previous step's response when a serial
// chain reaches it.
type dependentStep struct {
	build func(prev *Response) (Step, error)
}

// Then returns a step built from the previous response of a serial chain.
// Outside a chain, or as the first step, prev is nil.
func Then(build func(prev *Response) (Step, error)) Step {
	return &dependentStep{build: build}
}

func (s *dependentStep) Send(ctx context.Context) (*Response, error) {
	return s.sendAfter(ctx, nil)
}

func (s *dependentStep) sendAfter(ctx context.Context, prev *Response) (*Response, error) {
	step, err := s.build(prev)
	if err != nil {
		return nil, err
	}

	if step == nil {
		return nil, ErrNilStep
	}

	return step.Send(ctx)
}

// SerialHooks observe a serial chain as a whole.
type SerialHooks struct {
	// OnSuccess receives the responses of the steps that succeeded, in
	// order. It runs after OnError when the chain stopped early.
	OnSuccess func(responses []*Response)
	// OnError receives the stopping error and the failed step's index.
	OnError func(err error, index int)
	// OnFinally runs once, last.
	OnFinally func()
}

// SerialComposer sends steps one after another and stops at the first failure.
type SerialComposer struct {
	steps []Step
	hooks SerialHooks
}

// NewSerial creates a serial composer.
func NewSerial(steps []Step, hooks SerialHooks) *SerialComposer {
	return &SerialComposer{steps: steps, hooks: hooks}
}

// Send runs the chain. On failure it returns the responses gathered so far
// and a *CompositionError naming the failed step. A cancelled context
// prevents later steps from starting but does not interrupt a running one
// beyond what the step itself does with ctx.
func (s *SerialComposer) Send(ctx context.Context) ([]*Response, error) {
	if s.hooks.OnFinally != nil {
		defer s.hooks.OnFinally()
	}

	results := make([]*Response, 0, len(s.steps))

	for index, step := range s.steps {
		resp, err := s.sendStep(ctx, step, results)
		if err != nil {
			if s.hooks.OnError != nil {
				s.hooks.OnError(err, index)
			}

			if s.hooks.OnSuccess != nil {
				s.hooks.OnSuccess(results)
			}

			return results, &CompositionError{Index: index, Err: err}
		}

		results = append(results, resp)
	}

	if s.hooks.OnSuccess != nil {
		s.hooks.OnSuccess(results)
	}

	return results, nil
}

func (s *SerialComposer) sendStep(ctx context.Context, step Step, results []*Response) (*Response, error) {
	err := ctx.Err()
	if err != nil {
		return nil, fmt.Errorf("chain cancelled: %w", err)
	}

	if step == nil {
		return nil, ErrNilStep
	}

	if dependent, ok := step.(*dependentStep); ok {
		var prev *Response
		if len(results) > 0 {
			prev = results[len(results)-1]
		}

		return dependent.sendAfter(ctx, prev)
	}

	return step.Send(ctx)
}

// Serial creates a serial composer.
func Serial(steps []Step, hooks SerialHooks) *SerialComposer {
	return NewSerial(steps, hooks)
}

// SerialRequests is Serial for request instances.
func SerialRequests(hooks SerialHooks, requests ...*RequestInstance) *SerialComposer {
	return NewSerial(requestSteps(requests), hooks)
}

func requestSteps(requests []*RequestInstance) []Step {
	steps := make([]Step, len(requests))

	for i, request := range requests {
		if request != nil {
			steps[i] = request
		}
	}

	return steps
}
