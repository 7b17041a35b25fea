package commands

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/fivetwenty-io/reqflow/internal/constants"
	"github.com/fivetwenty-io/reqflow/pkg/reqflow"
)

// stepResult is the printable outcome of one request of a plan.
type stepResult struct {
	Index    int         `json:"index"              yaml:"index"`
	Name     string      `json:"name"               yaml:"name"`
	Status   string      `json:"status"             yaml:"status"`
	Duration string      `json:"duration,omitempty" yaml:"duration,omitempty"`
	Error    string      `json:"error,omitempty"    yaml:"error,omitempty"`
	Data     interface{} `json:"data,omitempty"     yaml:"data,omitempty"`
	Skipped  bool        `json:"skipped,omitempty"  yaml:"skipped,omitempty"`
}

// NewChainCommand creates the chain command.
func NewChainCommand() *cobra.Command {
	var stats bool

	cmd := &cobra.Command{
		Use:   "chain PLAN_FILE",
		Short: "Send the requests of a plan one after another",
		Long: `Send the requests of a plan strictly in order.

The chain stops at the first failing request; later requests are not sent.`,
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

			var failed error

			failedAt := -1
			hooks := reqflow.SerialHooks{
				OnError: func(err error, index int) {
					failed, failedAt = err, index
				},
			}

			responses, chainErr := reqflow.SerialRequests(hooks, plan.Instances(session.client)...).Send(cmd.Context())

			results := make([]stepResult, 0, len(plan.Requests))

			for i, request := range plan.Requests {
				result := stepResult{Index: i, Name: request.name(i)}

				switch {
				case i < len(responses):
					result.Status = statusOf(responses[i])
					result.Data = responses[i].Data
				case i == failedAt:
					result.Status = statusOfError(nil, failed)
					result.Error = describeError(failed)
				default:
					result.Status = "skipped"
					result.Skipped = true
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

			if chainErr != nil {
				return fmt.Errorf("%w: %w", constants.ErrRequestFailed, chainErr)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&stats, "stats", false, "print per-endpoint statistics")

	return cmd
}

func printStepResults(w io.Writer, format string, results []stepResult) error {
	if format != constants.FormatTable {
		return encode(w, format, results)
	}

	table := tablewriter.NewWriter(w)
	table.Header("#", "Name", "Status", "Duration", "Error")

	for _, result := range results {
		_ = table.Append(fmt.Sprint(result.Index+1), result.Name, result.Status, result.Duration, result.Error)
	}

	err := table.Render()
	if err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	return nil
}
