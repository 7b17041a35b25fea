package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/fivetwenty-io/reqflow/internal/constants"
	"github.com/fivetwenty-io/reqflow/pkg/flowclient"
	"github.com/fivetwenty-io/reqflow/pkg/reqflow"
)

// Common string constants used throughout the commands package.
const (
	Masked = "***"

	// JSON formatting.
	defaultJSONIndent = 2
)

// session is a client plus the per-endpoint statistics it records.
type session struct {
	client *reqflow.Client
	stats  *statsTable
}

// newSession builds a client from viper and the command line.
func newSession(cmd *cobra.Command) (*session, error) {
	config, err := flowclient.LoadConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}

	stats := newStatsTable()

	client, err := flowclient.New(cmd.Context(), config, flowclient.WithMetrics(stats.collector))
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &session{client: client, stats: stats}, nil
}

// statsTable remembers which endpoints the collector has seen.
type statsTable struct {
	collector *reqflow.StatsCollector

	mu        sync.Mutex
	endpoints map[string]reqflow.EndpointStats
}

func newStatsTable() *statsTable {
	table := &statsTable{
		collector: reqflow.NewStatsCollector(),
		endpoints: make(map[string]reqflow.EndpointStats),
	}

	table.collector.SetOnChange(func(endpoint string, stats reqflow.EndpointStats) {
		table.mu.Lock()
		defer table.mu.Unlock()

		table.endpoints[endpoint] = stats
	})

	return table
}

func (s *statsTable) render(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.endpoints))
	for key := range s.endpoints {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	table := tablewriter.NewWriter(w)
	table.Header("Endpoint", "Requests", "Errors", "Retries", "Avg Latency")

	for _, key := range keys {
		stats := s.endpoints[key]
		_ = table.Append(
			key,
			strconv.FormatInt(stats.TotalRequests, 10),
			strconv.FormatInt(stats.TotalErrors, 10),
			strconv.FormatInt(stats.TotalRetries, 10),
			stats.AverageLatency.Round(time.Millisecond).String(),
		)
	}

	hits, misses, joins := s.collector.CacheStats()
	_ = table.Append("cache hits/misses/joins", strconv.FormatInt(hits, 10), strconv.FormatInt(misses, 10), strconv.FormatInt(joins, 10), "")

	err := table.Render()
	if err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	return nil
}

// outputFormat returns the requested output format. Without one, terminals
// get tables and everything else gets JSON.
func outputFormat(cmd *cobra.Command) (string, error) {
	format := strings.ToLower(viper.GetString("output"))

	switch format {
	case constants.FormatJSON, constants.FormatYAML, constants.FormatTable:
		return format, nil
	case "":
		if file, ok := cmd.OutOrStdout().(*os.File); ok && term.IsTerminal(int(file.Fd())) {
			return constants.FormatTable, nil
		}

		return constants.FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", constants.ErrInvalidOutputFormat, format)
	}
}

// encode writes value as JSON or YAML.
func encode(w io.Writer, format string, value interface{}) error {
	if format == constants.FormatYAML {
		encoder := yaml.NewEncoder(w)
		defer func() { _ = encoder.Close() }()

		err := encoder.Encode(value)
		if err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}

		return nil
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", strings.Repeat(" ", defaultJSONIndent))

	err := encoder.Encode(value)
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	return nil
}

// parseHeaders turns "Name: Value" pairs into a map.
func parseHeaders(values []string) (map[string]string, error) {
	headers := make(map[string]string, len(values))

	for _, value := range values {
		name, val, ok := strings.Cut(value, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: %s", constants.ErrInvalidHeader, value)
		}

		headers[strings.TrimSpace(name)] = strings.TrimSpace(val)
	}

	return headers, nil
}

// describeError reduces an error to a short table cell.
func describeError(err error) string {
	if err == nil {
		return ""
	}

	return truncate(err.Error(), constants.StringTruncationLimit)
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}

	return value[:limit-3] + "..."
}

func statusOf(resp *reqflow.Response) string {
	if resp == nil {
		return constants.NotAvailable
	}

	return strconv.Itoa(resp.StatusCode)
}

// statusOfError reports the HTTP status carried by a transport error.
func statusOfError(resp *reqflow.Response, err error) string {
	var transportErr *reqflow.TransportError
	if resp == nil && errors.As(err, &transportErr) && transportErr.StatusCode > 0 {
		return strconv.Itoa(transportErr.StatusCode)
	}

	return statusOf(resp)
}
