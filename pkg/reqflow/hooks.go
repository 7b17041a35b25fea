package reqflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/time/rate"
)

// BeforeHook may transform or replace the configuration before dispatch.
// Returning a nil configuration keeps the input.
type BeforeHook func(ctx context.Context, config *RequestConfig) (*RequestConfig, error)

// SuccessHook observes a successful response.
type SuccessHook func(ctx context.Context, resp *Response) error

// ErrorHook observes the error outcome of a call.
type ErrorHook func(ctx context.Context, err error) error

// FinallyHook runs last, whatever the outcome.
type FinallyHook func(ctx context.Context) error

// Hooks are the four lifecycle callbacks of a single call. They run in the
// fixed order OnBefore, dispatch, OnSuccess or OnError, OnFinally.
type Hooks struct {
	OnBefore  BeforeHook
	OnSuccess SuccessHook
	OnError   ErrorHook
	OnFinally FinallyHook
}

// merge returns h with every slot set in override replaced.
func (h Hooks) merge(override Hooks) Hooks {
	if override.OnBefore != nil {
		h.OnBefore = override.OnBefore
	}

	if override.OnSuccess != nil {
		h.OnSuccess = override.OnSuccess
	}

	if override.OnError != nil {
		h.OnError = override.OnError
	}

	if override.OnFinally != nil {
		h.OnFinally = override.OnFinally
	}

	return h
}

type dispatchFunc func(ctx context.Context, config *RequestConfig) (*Response, error)

// pipeline runs one call through its lifecycle hooks.
type pipeline struct {
	hooks  Hooks
	logger Logger
}

// run executes the call. A non-nil resolveErr short-circuits straight to
// OnError; OnFinally runs in every case and its failure never masks the outcome.
func (p pipeline) run(ctx context.Context, config *RequestConfig, resolveErr error, dispatch dispatchFunc) (*Response, error) {
	resp, err := p.execute(ctx, config, resolveErr, dispatch)

	if p.hooks.OnFinally != nil {
		finallyErr := guard("OnFinally", func() error { return p.hooks.OnFinally(ctx) })
		if finallyErr != nil {
			p.logger.Warn("OnFinally hook failed", map[string]interface{}{
				"error": finallyErr.Error(),
			})
		}
	}

	return resp, err
}

func (p pipeline) execute(ctx context.Context, config *RequestConfig, resolveErr error, dispatch dispatchFunc) (*Response, error) {
	if resolveErr != nil {
		return nil, p.fail(ctx, resolveErr)
	}

	if p.hooks.OnBefore != nil {
		var replacement *RequestConfig

		err := guard("OnBefore", func() error {
			var hookErr error

			replacement, hookErr = p.hooks.OnBefore(ctx, config.Clone())

			return hookErr
		})
		if err != nil {
			return nil, p.fail(ctx, err)
		}

		if replacement != nil {
			config, err = finalize(replacement)
			if err != nil {
				return nil, p.fail(ctx, err)
			}
		}
	}

	resp, err := dispatch(ctx, config)
	if err != nil {
		return nil, p.fail(ctx, err)
	}

	if p.hooks.OnSuccess != nil {
		err = guard("OnSuccess", func() error { return p.hooks.OnSuccess(ctx, resp) })
		if err != nil {
			return nil, err
		}
	}

	return resp, nil
}

// fail routes err through OnError. A failing OnError is joined with the
// original error so neither is lost.
func (p pipeline) fail(ctx context.Context, err error) error {
	if p.hooks.OnError == nil {
		return err
	}

	hookErr := guard("OnError", func() error { return p.hooks.OnError(ctx, err) })
	if hookErr != nil {
		return errors.Join(hookErr, err)
	}

	return err
}

// guard runs a hook and converts both returned errors and panics into *HookError.
func guard(name string, hook func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = &HookError{Hook: name, Err: fmt.Errorf("%w: %v", ErrHookPanic, recovered)}
		}
	}()

	hookErr := hook()
	if hookErr != nil {
		return &HookError{Hook: name, Err: hookErr}
	}

	return nil
}

// Common hooks

// ChainBefore runs before hooks in order, each receiving the previous output.
func ChainBefore(hooks ...BeforeHook) BeforeHook {
	return func(ctx context.Context, config *RequestConfig) (*RequestConfig, error) {
		current := config

		for _, hook := range hooks {
			next, err := hook(ctx, current)
			if err != nil {
				return nil, err
			}

			if next != nil {
				current = next
			}
		}

		return current, nil
	}
}

// ChainHooks combines two hook sets slot by slot; first runs before second.
func ChainHooks(first, second Hooks) Hooks {
	combined := first.merge(second)

	if first.OnBefore != nil && second.OnBefore != nil {
		combined.OnBefore = ChainBefore(first.OnBefore, second.OnBefore)
	}

	if first.OnSuccess != nil && second.OnSuccess != nil {
		combined.OnSuccess = func(ctx context.Context, resp *Response) error {
			err := first.OnSuccess(ctx, resp)
			if err != nil {
				return err
			}

			return second.OnSuccess(ctx, resp)
		}
	}

	if first.OnError != nil && second.OnError != nil {
		combined.OnError = func(ctx context.Context, err error) error {
			hookErr := first.OnError(ctx, err)
			if hookErr != nil {
				return hookErr
			}

			return second.OnError(ctx, err)
		}
	}

	if first.OnFinally != nil && second.OnFinally != nil {
		combined.OnFinally = func(ctx context.Context) error {
			return errors.Join(first.OnFinally(ctx), second.OnFinally(ctx))
		}
	}

	return combined
}

// HeaderHook sets fixed headers on every request.
func HeaderHook(headers map[string]string) BeforeHook {
	return func(ctx context.Context, config *RequestConfig) (*RequestConfig, error) {
		if config.Headers == nil {
			config.Headers = make(http.Header)
		}

		for key, value := range headers {
			config.Headers.Set(key, value)
		}

		return config, nil
	}
}

// AuthenticationHook adds a bearer token obtained from tokenProvider.
func AuthenticationHook(tokenProvider func(context.Context) (string, error)) BeforeHook {
	return func(ctx context.Context, config *RequestConfig) (*RequestConfig, error) {
		token, err := tokenProvider(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get authentication token: %w", err)
		}

		if config.Headers == nil {
			config.Headers = make(http.Header)
		}

		config.Headers.Set("Authorization", "Bearer "+token)

		return config, nil
	}
}

// RateLimitHook blocks until limiter admits the request or ctx ends.
func RateLimitHook(limiter *rate.Limiter) BeforeHook {
	return func(ctx context.Context, config *RequestConfig) (*RequestConfig, error) {
		err := limiter.Wait(ctx)
		if err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		return config, nil
	}
}

// LoggingHooks logs requests, responses and errors.
func LoggingHooks(logger Logger) Hooks {
	return Hooks{
		OnBefore: func(ctx context.Context, config *RequestConfig) (*RequestConfig, error) {
			logger.Debug("API Request", map[string]interface{}{
				"method": config.Method,
				"url":    config.URL,
			})

			return config, nil
		},
		OnSuccess: func(ctx context.Context, resp *Response) error {
			logger.Debug("API Response", map[string]interface{}{
				"status_code": resp.StatusCode,
			})

			return nil
		},
		OnError: func(ctx context.Context, err error) error {
			logger.Error("API Response Error", map[string]interface{}{
				"status_code": StatusCode(err),
				"error":       err.Error(),
			})

			return nil
		},
	}
}
