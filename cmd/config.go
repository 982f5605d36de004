package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/parley-dev/parley/internal/config"
	"github.com/parley-dev/parley/internal/models"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change daemon configuration",
	Long: `Show or change the runtime configuration stored in config.json.

Running bare 'parley config' is the same as 'parley config show'.
'parley config sources' lists the process-level settings (viper) and
where each value comes from.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the runtime configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a runtime configuration value",
	Long: `Set a runtime configuration value. Keys: model, theme, base-url,
auth-type. Changes take effect on the next agent turn without a daemon
restart.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return configSetRun(args[0], args[1])
	},
}

var configSourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Show process-level settings and their sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configSourcesRun()
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSourcesCmd)
	rootCmd.AddCommand(configCmd)
}

func cfgStore() *config.Store {
	return config.NewStore(viper.GetString("state_dir"))
}

func configShowRun() error {
	cfg := cfgStore().Load()

	fmt.Fprintf(ui.Out, "  %-10s %s\n", "model", orUnset(cfg.Model))
	fmt.Fprintf(ui.Out, "  %-10s %s\n", "theme", string(cfg.Theme))
	fmt.Fprintf(ui.Out, "  %-10s %s\n", "base-url", orUnset(cfg.BaseURL))
	fmt.Fprintf(ui.Out, "  %-10s %s\n", "auth-type", orUnset(string(cfg.AuthType)))
	return nil
}

func orUnset(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}

func configSetRun(key, value string) error {
	if err := os.MkdirAll(viper.GetString("state_dir"), 0o700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	update := config.Update{}
	switch key {
	case "model":
		update.Model = &value
	case "theme":
		theme := models.Theme(value)
		update.Theme = &theme
	case "base-url":
		update.BaseURL = &value
	case "auth-type":
		at := models.AuthType(value)
		update.AuthType = &at
	default:
		return fmt.Errorf("unknown config key: %s (known: model, theme, base-url, auth-type)", key)
	}

	if _, err := cfgStore().Save(update); err != nil {
		return err
	}
	ui.Success("Set %s = %s", key, value)
	return nil
}

// configKeyInfo describes a process-level setting for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "PARLEY_STATE_DIR"},
	{Key: "listen_addr", EnvVar: "PARLEY_LISTEN_ADDR"},
	{Key: "anthropic.api_key", EnvVar: "PARLEY_ANTHROPIC_API_KEY"},
	{Key: "anthropic.base_url", EnvVar: "PARLEY_ANTHROPIC_BASE_URL"},
	{Key: "anthropic.model", EnvVar: "PARLEY_ANTHROPIC_MODEL"},
	{Key: "agent.max_tokens", EnvVar: "PARLEY_AGENT_MAX_TOKENS"},
	{Key: "agent.system_prompt", EnvVar: "PARLEY_AGENT_SYSTEM_PROMPT"},
}

func configSourcesRun() error {
	cfgPath := ""
	if dir, err := configDirFunc(); err == nil {
		cfgPath = filepath.Join(dir, "config.yaml")
	}

	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Key == "anthropic.api_key" && val != "" {
			val = "(set)"
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-22s %v  %s\n", k.Key, val, source)
	}
	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}
