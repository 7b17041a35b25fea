package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/fivetwenty-io/reqflow/internal/constants"
	"github.com/fivetwenty-io/reqflow/pkg/flowclient"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect CLI configuration",
		Long:  "Show the effective configuration assembled from defaults, the config file, environment and flags",
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigGetCommand())
	cmd.AddCommand(newConfigPathCommand())
	cmd.AddCommand(newConfigInitCommand())

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long:  "Display every configuration value after defaults, file, environment and flags are applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := flowclient.LoadConfig(viper.GetViper())
			if err != nil {
				return err
			}

			if config.Token != "" {
				config.Token = Masked
			}

			if config.Cache.Redis.Password != "" {
				config.Cache.Redis.Password = Masked
			}

			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}

			if format != constants.FormatTable {
				return encode(cmd.OutOrStdout(), format, config)
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("Key", "Value")

			for _, row := range flatten(config) {
				_ = table.Append(row[0], row[1])
			}

			err = table.Render()
			if err != nil {
				return fmt.Errorf("failed to render table: %w", err)
			}

			return nil
		},
	}
}

func newConfigGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print one configuration value",
		Long:  "Print a single configuration value, using dotted keys such as cache.backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.GetViper()
			flowclient.SetDefaults(v)

			key := strings.ToLower(args[0])
			if !v.IsSet(key) {
				return fmt.Errorf("%w: %s", constants.ErrUnknownConfigKey, args[0])
			}

			value := v.Get(key)
			if key == "token" || key == "cache.redis.password" {
				value = Masked
			}

			_, err := fmt.Fprintln(cmd.OutOrStdout(), value)

			return err
		},
	}
}

func newConfigPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file in use",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.ConfigFileUsed()
			if path == "" {
				return constants.ErrConfigFileNotFound
			}

			_, err := fmt.Fprintln(cmd.OutOrStdout(), path)

			return err
		},
	}
}

func newConfigInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [PATH]",
		Short: "Write a default config file",
		Long:  "Write the default configuration to PATH, or to $HOME/.reqflow/config.yml",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := defaultConfigPath()
			if err != nil {
				return err
			}

			if len(args) == 1 {
				path = args[0]
			}

			if _, statErr := os.Stat(path); statErr == nil && !force {
				return fmt.Errorf("%w: %s", constants.ErrConfigFileExists, path)
			}

			err = WriteDefaultConfig(path)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Wrote", path)

			return err
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	return cmd
}

// WriteDefaultConfig writes DefaultConfig as YAML to path.
func WriteDefaultConfig(path string) error {
	err := os.MkdirAll(filepath.Dir(path), constants.ConfigDirPerm)
	if err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(flowclient.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	err = os.WriteFile(path, data, constants.ConfigFilePerm)
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func defaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}

	return filepath.Join(home, ".reqflow", "config.yml"), nil
}

// flatten lists a config as sorted dotted key/value pairs.
func flatten(config *flowclient.Config) [][2]string {
	data, err := yaml.Marshal(config)
	if err != nil {
		return nil
	}

	var tree map[string]interface{}

	err = yaml.Unmarshal(data, &tree)
	if err != nil {
		return nil
	}

	var rows [][2]string

	var walk func(prefix string, node map[string]interface{})

	walk = func(prefix string, node map[string]interface{}) {
		for key, value := range node {
			name := key
			if prefix != "" {
				name = prefix + "." + key
			}

			if child, ok := value.(map[string]interface{}); ok && !strings.HasSuffix(name, "headers") {
				walk(name, child)

				continue
			}

			rows = append(rows, [2]string{name, fmt.Sprint(value)})
		}
	}

	walk("", tree)

	sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })

	return rows
}
