package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fivetwenty-io/reqflow/internal/constants"
	"github.com/fivetwenty-io/reqflow/pkg/reqflow"
)

// NewBatchCommand creates the batch command.
func NewBatchCommand() *cobra.Command {
	var (
		concurrency int
		failFast    bool
		stats       bool
	)

	cmd := &cobra.Command{
		Use:   "batch PLAN_FILE",
		Short: "Send the requests of a plan concurrently",
		Long: `Send every request of a plan concurrently and report each outcome in
plan order. Failures of individual requests do not stop the others unless
--fail-fast is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := LoadPlan(args[0])
			if err != nil {
				return err
			}

			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}

			session, err := newSession(cmd)
			if err != nil {
				return err
			}

			opts := []reqflow.ParallelOption{reqflow.WithConcurrency(concurrency)}
			if failFast {
				opts = append(opts, reqflow.FailFast())
			}

			batch, batchErr := reqflow.ParallelRequests(reqflow.ParallelHooks{}, plan.Instances(session.client), opts...).Send(cmd.Context())
			if batchErr != nil && batch == nil {
				return fmt.Errorf("%w: %w", constants.ErrRequestFailed, batchErr)
			}

			results := make([]stepResult, 0, len(batch))

			for _, outcome := range batch {
				result := stepResult{
					Index:    outcome.Index,
					Name:     plan.Requests[outcome.Index].name(outcome.Index),
					Status:   statusOfError(outcome.Response, outcome.Err),
					Duration: outcome.Duration.Round(time.Millisecond).String(),
					Error:    describeError(outcome.Err),
				}

				if outcome.Response != nil {
					result.Data = outcome.Response.Data
				}

				results = append(results, result)
			}

			err = printStepResults(cmd.OutOrStdout(), format, results)
			if err != nil {
				return err
			}

			if stats {
				err = session.stats.render(cmd.ErrOrStderr())
				if err != nil {
					return err
				}
			}

			if batchErr != nil {
				return fmt.Errorf("%w: %w", constants.ErrRequestFailed, batchErr)
			}

			summary := reqflow.Summarize(batch)
			if summary.Failed > 0 {
				return fmt.Errorf("%w: %d of %d", constants.ErrSomeStepsFailed, summary.Failed, summary.Total)
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", constants.DefaultConcurrencyLimit, "maximum requests in flight (0 is unbounded)")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "stop at the first failure")
	cmd.Flags().BoolVar(&stats, "stats", false, "print per-endpoint statistics")

	return cmd
}
