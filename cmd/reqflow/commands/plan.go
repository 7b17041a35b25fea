package commands

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fivetwenty-io/reqflow/internal/constants"
	"github.com/fivetwenty-io/reqflow/pkg/reqflow"
)

// Plan is a YAML description of several requests, run by chain or batch.
type Plan struct {
	BaseURL  string            `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"  yaml:"headers,omitempty"`
	Requests []PlanRequest     `json:"requests"           yaml:"requests"`
}

// PlanRequest describes one request of a plan.
type PlanRequest struct {
	Name        string            `json:"name,omitempty"        yaml:"name,omitempty"`
	Method      string            `json:"method,omitempty"      yaml:"method,omitempty"`
	URL         string            `json:"url"                   yaml:"url"`
	Headers     map[string]string `json:"headers,omitempty"     yaml:"headers,omitempty"`
	Query       map[string]string `json:"query,omitempty"       yaml:"query,omitempty"`
	Body        interface{}       `json:"body,omitempty"        yaml:"body,omitempty"`
	Timeout     time.Duration     `json:"timeout,omitempty"     yaml:"timeout,omitempty"`
	Cache       *PlanCache        `json:"cache,omitempty"       yaml:"cache,omitempty"`
	Idempotency *PlanIdempotency  `json:"idempotency,omitempty" yaml:"idempotency,omitempty"`
	Retry       *PlanRetry        `json:"retry,omitempty"       yaml:"retry,omitempty"`
}

// PlanCache enables response caching for a request.
type PlanCache struct {
	Key string         `json:"key,omitempty" yaml:"key,omitempty"`
	TTL *time.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
}

// PlanIdempotency enables idempotent deduplication for a request.
type PlanIdempotency struct {
	Key    string         `json:"key,omitempty"    yaml:"key,omitempty"`
	TTL    *time.Duration `json:"ttl,omitempty"    yaml:"ttl,omitempty"`
	Header string         `json:"header,omitempty" yaml:"header,omitempty"`
}

// PlanRetry overrides the retry policy for a request.
type PlanRetry struct {
	MaxAttempts int           `json:"max_attempts"       yaml:"max_attempts"`
	Strategy    string        `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Delay       time.Duration `json:"delay,omitempty"    yaml:"delay,omitempty"`
}

// LoadPlan reads and validates a plan file.
func LoadPlan(path string) (*Plan, error) {
	if path == "" {
		return nil, constants.ErrPlanFileRequired
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path is supplied by the user on the command line
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}

	return ParsePlan(data)
}

// ParsePlan decodes and validates plan YAML.
func ParsePlan(data []byte) (*Plan, error) {
	var plan Plan

	err := yaml.Unmarshal(data, &plan)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}

	if len(plan.Requests) == 0 {
		return nil, constants.ErrEmptyPlan
	}

	for i, request := range plan.Requests {
		if request.URL == "" {
			return nil, fmt.Errorf("request %d: %w", i, constants.ErrURLRequired)
		}
	}

	return &plan, nil
}

// name returns the request's display name.
func (r PlanRequest) name(index int) string {
	if r.Name != "" {
		return r.Name
	}

	return "#" + strconv.Itoa(index+1)
}

// Options converts the plan entry into request options.
func (r PlanRequest) Options(plan *Plan) []reqflow.RequestOption {
	var opts []reqflow.RequestOption

	if plan.BaseURL != "" {
		opts = append(opts, reqflow.WithBaseURL(plan.BaseURL))
	}

	for key, value := range plan.Headers {
		opts = append(opts, reqflow.WithHeader(key, value))
	}

	for key, value := range r.Headers {
		opts = append(opts, reqflow.WithHeader(key, value))
	}

	for key, value := range r.Query {
		opts = append(opts, reqflow.WithQuery(key, value))
	}

	if r.Body != nil {
		opts = append(opts, reqflow.WithBody(r.Body))
	}

	if r.Timeout > 0 {
		opts = append(opts, reqflow.WithTimeout(r.Timeout))
	}

	if r.Cache != nil {
		opts = append(opts, reqflow.WithCachePolicy(reqflow.CachePolicy{Key: r.Cache.Key, TTL: r.Cache.TTL}))
	}

	if r.Idempotency != nil {
		header := r.Idempotency.Header
		if header == "" {
			header = constants.DefaultIdempotencyHeader
		}

		opts = append(opts, reqflow.WithIdempotency(reqflow.IdempotentPolicy{
			Key:    r.Idempotency.Key,
			TTL:    r.Idempotency.TTL,
			Header: header,
		}))
	}

	if r.Retry != nil {
		policy := reqflow.DefaultRetryPolicy()
		policy.MaxAttempts = r.Retry.MaxAttempts

		if r.Retry.Strategy != "" {
			policy.Strategy = reqflow.DelayStrategy(r.Retry.Strategy)
		}

		if r.Retry.Delay > 0 {
			policy.Delay = r.Retry.Delay
		}

		opts = append(opts, reqflow.WithRetry(*policy))
	}

	return opts
}

// Instances builds one request instance per plan entry.
func (p *Plan) Instances(client *reqflow.Client) []*reqflow.RequestInstance {
	requests := make([]*reqflow.RequestInstance, 0, len(p.Requests))

	for _, request := range p.Requests {
		requests = append(requests, client.NewRequest(request.Method, request.URL, request.Options(p)...))
	}

	return requests
}

// NewPlanCommand creates the plan command group.
func NewPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Inspect request plans",
		Long:  "Validate and display YAML request plans used by chain and batch",
	}

	cmd.AddCommand(newPlanValidateCommand())

	return cmd
}

func newPlanValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate PLAN_FILE",
		Short: "Validate a request plan",
		Long:  "Parse a plan file and list the requests it would send",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := LoadPlan(args[0])
			if err != nil {
				return err
			}

			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}

			if format != constants.FormatTable {
				return encode(cmd.OutOrStdout(), format, plan)
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("Name", "Method", "URL", "Cache", "Idempotent", "Retry")

			for i, request := range plan.Requests {
				method := request.Method
				if method == "" {
					method = constants.DefaultMethod
				}

				_ = table.Append(
					request.name(i),
					method,
					request.URL,
					strconv.FormatBool(request.Cache != nil),
					strconv.FormatBool(request.Idempotency != nil),
					retryDescription(request.Retry),
				)
			}

			err = table.Render()
			if err != nil {
				return fmt.Errorf("failed to render table: %w", err)
			}

			return nil
		},
	}
}

func retryDescription(retry *PlanRetry) string {
	if retry == nil {
		return "default"
	}

	return strconv.Itoa(retry.MaxAttempts) + " attempts"
}
