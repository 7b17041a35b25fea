package constants

import "errors"

// Configuration errors.
var (
	ErrConfigFileNotFound  = errors.New("config file not found")
	ErrConfigFileExists    = errors.New("config file already exists, use --force to overwrite")
	ErrUnknownConfigKey    = errors.New("unknown configuration key")
	ErrInvalidOutputFormat = errors.New("invalid output format, use table, json or yaml")
)

// Plan errors.
var (
	ErrPlanFileRequired = errors.New("plan file is required")
	ErrEmptyPlan        = errors.New("plan contains no requests")
	ErrURLRequired      = errors.New("--url flag or positional URL is required")
	ErrInvalidHeader    = errors.New("invalid header, expected Name:Value")
)

// Request errors.
var (
	ErrRequestFailed   = errors.New("request failed")
	ErrSomeStepsFailed = errors.New("one or more requests failed")
)
