package commands_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fivetwenty-io/reqflow/cmd/reqflow/commands"
	"github.com/fivetwenty-io/reqflow/internal/constants"
)

// execute runs the CLI with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("log_level", "error")

	cmd := commands.NewRootCommand("1.2.3", "abc123", "2026-01-01")

	var out bytes.Buffer

	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(t.Context())

	return out.String(), err
}

func writePlan(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "plan.yml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	return path
}

// findSubcommand finds a subcommand by name within a cobra command.
func findSubcommand(cmd *cobra.Command, name string) *cobra.Command {
	for _, c := range cmd.Commands() {
		if c.Name() == name {
			return c
		}
	}

	return nil
}

func TestNewRootCommand(t *testing.T) {
	cmd := commands.NewRootCommand("dev", "none", "unknown")
	assert.Equal(t, "reqflow", cmd.Use)

	for _, name := range []string{"send", "chain", "batch", "plan", "config", "version"} {
		assert.NotNil(t, findSubcommand(cmd, name), "command %s should exist", name)
	}

	send := findSubcommand(cmd, "send")
	for _, flagName := range []string{"method", "header", "query", "data", "timeout", "retries", "cache-key", "cache-ttl", "idempotency-key", "idempotent"} {
		assert.NotNil(t, send.Flags().Lookup(flagName), "Flag %s should exist", flagName)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)

	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "1.2.3", info["version"])
	assert.Equal(t, "abc123", info["commit"])

	out, err = execute(t, "version", "--output", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "1.2.3")

	_, err = execute(t, "version", "--output", "xml")
	require.ErrorIs(t, err, constants.ErrInvalidOutputFormat)
}

func TestSendCommand(t *testing.T) {
	t.Run("GET with relative URL", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			assert.Equal(t, "/v1/users", request.URL.Path)
			assert.Equal(t, "2", request.URL.Query().Get("page"))
			assert.Equal(t, "blue", request.Header.Get("X-Tenant"))
			assert.Equal(t, "Bearer secret", request.Header.Get("Authorization"))

			writer.Header().Set("Content-Type", "application/json")
			_, _ = writer.Write([]byte(`[{"name":"ada"}]`))
		}))
		defer server.Close()

		out, err := execute(t, "send", "/v1/users", "--base-url", server.URL, "--token", "secret",
			"-H", "X-Tenant: blue", "-q", "page=2")
		require.NoError(t, err)

		var result map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(out), &result))
		assert.Equal(t, "GET", result["method"])
		assert.InDelta(t, 200, result["status_code"], 0)
		assert.Equal(t, []interface{}{map[string]interface{}{"name": "ada"}}, result["data"])
	})

	t.Run("POST with JSON body and idempotency key", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			assert.Equal(t, "POST", request.Method)
			assert.Equal(t, "order-1", request.Header.Get("Idempotency-Key"))

			var body map[string]interface{}
			assert.NoError(t, json.NewDecoder(request.Body).Decode(&body))
			assert.Equal(t, "widget", body["item"])

			writer.WriteHeader(http.StatusCreated)
		}))
		defer server.Close()

		out, err := execute(t, "send", "post", server.URL+"/orders", "-d", `{"item":"widget"}`, "--idempotency-key", "order-1")
		require.NoError(t, err)
		assert.Contains(t, out, `"status_code": 201`)
	})

	t.Run("retries and reports failure", func(t *testing.T) {
		var hits atomic.Int32

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			hits.Add(1)
			writer.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		out, err := execute(t, "send", server.URL, "--retries", "2")
		require.ErrorIs(t, err, constants.ErrRequestFailed)
		assert.Equal(t, int32(2), hits.Load())
		assert.Contains(t, out, `"status_code": 503`)
	})

	t.Run("invalid header", func(t *testing.T) {
		_, err := execute(t, "send", "https://api.example.com", "-H", "broken")
		require.ErrorIs(t, err, constants.ErrInvalidHeader)
	})

	t.Run("invalid JSON body", func(t *testing.T) {
		_, err := execute(t, "send", "POST", "https://api.example.com", "-d", "{not json")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--raw")
	})
}

func TestChainCommand(t *testing.T) {
	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		hits.Add(1)

		if request.URL.Path == "/missing" {
			writer.WriteHeader(http.StatusNotFound)

			return
		}

		_, _ = writer.Write([]byte("ok"))
	}))
	defer server.Close()

	plan := writePlan(t, `
base_url: `+server.URL+`
requests:
  - name: first
    url: /one
  - name: second
    url: /missing
  - name: third
    url: /three
`)

	out, err := execute(t, "chain", plan)
	require.ErrorIs(t, err, constants.ErrRequestFailed)
	assert.Equal(t, int32(2), hits.Load())

	var results []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 3)
	assert.Equal(t, "200", results[0]["status"])
	assert.Equal(t, "404", results[1]["status"])
	assert.Equal(t, "skipped", results[2]["status"])
	assert.Equal(t, true, results[2]["skipped"])
}

func TestBatchCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path == "/fail" {
			writer.WriteHeader(http.StatusBadRequest)

			return
		}

		_, _ = writer.Write([]byte(strings.TrimPrefix(request.URL.Path, "/")))
	}))
	defer server.Close()

	t.Run("all succeed in plan order", func(t *testing.T) {
		plan := writePlan(t, `
base_url: `+server.URL+`
requests:
  - url: /a
  - url: /b
  - url: /c
`)

		out, err := execute(t, "batch", plan, "--concurrency", "2")
		require.NoError(t, err)

		var results []map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(out), &results))
		require.Len(t, results, 3)

		for i, expected := range []string{"a", "b", "c"} {
			assert.Equal(t, expected, results[i]["data"])
			assert.Equal(t, "#"+string(rune('1'+i)), results[i]["name"])
		}
	})

	t.Run("partial failure", func(t *testing.T) {
		plan := writePlan(t, `
base_url: `+server.URL+`
requests:
  - url: /a
  - url: /fail
`)

		out, err := execute(t, "batch", plan)
		require.ErrorIs(t, err, constants.ErrSomeStepsFailed)
		assert.Contains(t, out, `"status": "400"`)
	})
}

func TestPlanValidateCommand(t *testing.T) {
	plan := writePlan(t, `
requests:
  - name: create
    method: POST
    url: https://api.example.com/items
    idempotency: {}
    retry:
      max_attempts: 4
  - url: https://api.example.com/items
    cache:
      key: items
      ttl: 30s
`)

	out, err := execute(t, "plan", "validate", plan, "--output", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "create")
	assert.Contains(t, out, "4 attempts")
	assert.Contains(t, out, "#2")
}

func TestConfigCommands(t *testing.T) {
	t.Run("show masks the token", func(t *testing.T) {
		out, err := execute(t, "config", "show", "--token", "secret", "--output", "yaml")
		require.NoError(t, err)
		assert.Contains(t, out, "***")
		assert.NotContains(t, out, "secret")
		assert.Contains(t, out, "backend: memory")
	})

	t.Run("get", func(t *testing.T) {
		out, err := execute(t, "config", "get", "cache.backend")
		require.NoError(t, err)
		assert.Equal(t, "memory\n", out)

		_, err = execute(t, "config", "get", "no.such.key")
		require.ErrorIs(t, err, constants.ErrUnknownConfigKey)
	})

	t.Run("init writes defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "config.yml")

		_, err := execute(t, "config", "init", path)
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "max_attempts: 3")

		_, err = execute(t, "config", "init", path)
		require.ErrorIs(t, err, constants.ErrConfigFileExists)
	})
}

func TestParsePlan(t *testing.T) {
	_, err := commands.LoadPlan("")
	require.ErrorIs(t, err, constants.ErrPlanFileRequired)

	_, err = commands.ParsePlan([]byte("requests: []"))
	require.ErrorIs(t, err, constants.ErrEmptyPlan)

	_, err = commands.ParsePlan([]byte("requests:\n  - method: GET\n"))
	require.ErrorIs(t, err, constants.ErrURLRequired)

	plan, err := commands.ParsePlan([]byte("requests:\n  - url: /x\n    timeout: 2s\n    body: {a: 1}\n"))
	require.NoError(t, err)
	assert.Equal(t, "2s", plan.Requests[0].Timeout.String())
	assert.Equal(t, map[string]interface{}{"a": 1}, plan.Requests[0].Body)
}
