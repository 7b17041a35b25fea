package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/fivetwenty-io/reqflow/internal/constants"
	"github.com/fivetwenty-io/reqflow/pkg/reqflow"
)

type sendOptions struct {
	method         string
	headers        []string
	query          []string
	data           string
	rawData        bool
	timeout        time.Duration
	retries        int
	cacheKey       string
	cacheTTL       time.Duration
	idempotencyKey string
	idempotent     bool
	promptToken    bool
	stats          bool
}

// sendResult is the printable outcome of a single request.
type sendResult struct {
	Method     string              `json:"method"            yaml:"method"`
	URL        string              `json:"url"               yaml:"url"`
	StatusCode int                 `json:"status_code"       yaml:"status_code"`
	Headers    map[string][]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Data       interface{}         `json:"data,omitempty"    yaml:"data,omitempty"`
	Duration   string              `json:"duration"          yaml:"duration"`
}

// NewSendCommand creates the send command.
func NewSendCommand() *cobra.Command {
	opts := &sendOptions{}

	cmd := &cobra.Command{
		Use:   "send [METHOD] URL",
		Short: "Send a single request",
		Long: `Send a single request through the reqflow pipeline.

The URL may be absolute or relative to the configured base URL. Caching,
idempotency and retry behaviour are enabled with flags.`,
		Example: `  reqflow send https://api.example.com/v1/users
  reqflow send POST /v1/users -d '{"name":"ada"}' --idempotent
  reqflow send /v1/users --cache-key users --cache-ttl 30s`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.method, "method", "X", "", "HTTP method")
	cmd.Flags().StringArrayVarP(&opts.headers, "header", "H", nil, "request header as Name:Value (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.query, "query", "q", nil, "query parameter as key=value (repeatable)")
	cmd.Flags().StringVarP(&opts.data, "data", "d", "", "request body; JSON unless --raw is set, @FILE reads a file")
	cmd.Flags().BoolVar(&opts.rawData, "raw", false, "send --data as is instead of as JSON")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "per-attempt timeout")
	cmd.Flags().IntVar(&opts.retries, "retries", 0, "maximum attempts, first try included (0 uses the configured policy)")
	cmd.Flags().StringVar(&opts.cacheKey, "cache-key", "", "cache the response under this key")
	cmd.Flags().DurationVar(&opts.cacheTTL, "cache-ttl", 0, "cache entry lifetime (0 never expires)")
	cmd.Flags().StringVar(&opts.idempotencyKey, "idempotency-key", "", "explicit idempotency key")
	cmd.Flags().BoolVar(&opts.idempotent, "idempotent", false, "send an idempotency key derived from the request")
	cmd.Flags().BoolVar(&opts.promptToken, "prompt-token", false, "read a bearer token from the terminal")
	cmd.Flags().BoolVar(&opts.stats, "stats", false, "print per-endpoint statistics")

	return cmd
}

func runSend(cmd *cobra.Command, args []string, opts *sendOptions) error {
	method, target := opts.method, args[0]
	if len(args) == 2 {
		method, target = strings.ToUpper(args[0]), args[1]
	}

	if target == "" {
		return constants.ErrURLRequired
	}

	requestOpts, err := opts.requestOptions(cmd)
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

	request := session.client.NewRequest(method, target, requestOpts...)

	start := time.Now()
	resp, sendErr := request.Send(cmd.Context())
	elapsed := time.Since(start)

	var transportErr *reqflow.TransportError
	if sendErr != nil && errors.As(sendErr, &transportErr) && transportErr.Response != nil {
		resp = transportErr.Response
	}

	if resp != nil {
		config := request.Config()
		result := sendResult{
			Method:     strings.ToUpper(config.Method),
			URL:        target,
			StatusCode: resp.StatusCode,
			Headers:    resp.Headers,
			Data:       resp.Data,
			Duration:   elapsed.Round(time.Millisecond).String(),
		}

		if result.Method == "" {
			result.Method = constants.DefaultMethod
		}

		err = printSendResult(cmd.OutOrStdout(), format, result)
		if err != nil {
			return err
		}
	}

	if opts.stats {
		err = session.stats.render(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
	}

	if sendErr != nil {
		return fmt.Errorf("%w: %w", constants.ErrRequestFailed, sendErr)
	}

	return nil
}

func (o *sendOptions) requestOptions(cmd *cobra.Command) ([]reqflow.RequestOption, error) {
	var opts []reqflow.RequestOption

	headers, err := parseHeaders(o.headers)
	if err != nil {
		return nil, err
	}

	for key, value := range headers {
		opts = append(opts, reqflow.WithHeader(key, value))
	}

	for _, pair := range o.query {
		key, value, _ := strings.Cut(pair, "=")
		opts = append(opts, reqflow.WithQuery(key, value))
	}

	if o.data != "" {
		body, err := o.body()
		if err != nil {
			return nil, err
		}

		opts = append(opts, reqflow.WithBody(body))
	}

	if o.timeout > 0 {
		opts = append(opts, reqflow.WithTimeout(o.timeout))
	}

	if o.retries > 0 {
		policy := reqflow.DefaultRetryPolicy()
		policy.MaxAttempts = o.retries
		opts = append(opts, reqflow.WithRetry(*policy))
	}

	if o.cacheKey != "" {
		policy := reqflow.CachePolicy{Key: o.cacheKey}
		if cmd.Flags().Changed("cache-ttl") {
			ttl := o.cacheTTL
			policy.TTL = &ttl
		}

		opts = append(opts, reqflow.WithCachePolicy(policy))
	}

	if o.idempotent || o.idempotencyKey != "" {
		opts = append(opts, reqflow.WithIdempotency(reqflow.IdempotentPolicy{
			Key:    o.idempotencyKey,
			Header: constants.DefaultIdempotencyHeader,
		}))
	}

	if o.promptToken {
		token, err := readToken(cmd)
		if err != nil {
			return nil, err
		}

		opts = append(opts, reqflow.WithHeader("Authorization", "Bearer "+token))
	}

	return opts, nil
}

// body decodes --data. JSON input is re-encoded by the adapter so the
// idempotency fingerprint does not depend on formatting.
func (o *sendOptions) body() (interface{}, error) {
	data := []byte(o.data)

	if strings.HasPrefix(o.data, "@") {
		contents, err := os.ReadFile(strings.TrimPrefix(o.data, "@")) // #nosec G304 -- path is supplied by the user on the command line
		if err != nil {
			return nil, fmt.Errorf("failed to read body file: %w", err)
		}

		data = contents
	}

	if o.rawData {
		return data, nil
	}

	var body interface{}

	err := json.Unmarshal(data, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse body as JSON (use --raw to send it as is): %w", err)
	}

	return body, nil
}

func readToken(cmd *cobra.Command) (string, error) {
	if viper.GetString("token") != "" {
		return viper.GetString("token"), nil
	}

	_, _ = fmt.Fprint(cmd.ErrOrStderr(), "Token: ")

	token, err := term.ReadPassword(int(syscall.Stdin))
	_, _ = fmt.Fprintln(cmd.ErrOrStderr())

	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}

	return strings.TrimSpace(string(token)), nil
}

func printSendResult(w io.Writer, format string, result sendResult) error {
	if format != constants.FormatTable {
		return encode(w, format, result)
	}

	table := tablewriter.NewWriter(w)
	table.Header("Property", "Value")
	_ = table.Append("Method", result.Method)
	_ = table.Append("URL", result.URL)
	_ = table.Append("Status", strconv.Itoa(result.StatusCode)+" "+http.StatusText(result.StatusCode))
	_ = table.Append("Duration", result.Duration)

	names := make([]string, 0, len(result.Headers))
	for name := range result.Headers {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		_ = table.Append(name, strings.Join(result.Headers[name], ", "))
	}

	err := table.Render()
	if err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	if result.Data != nil {
		return encode(w, constants.FormatJSON, result.Data)
	}

	return nil
}
