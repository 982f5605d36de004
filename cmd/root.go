// Package cmd implements the parley CLI: a local daemon that backs
// desktop chat frontends, plus direct commands for sessions, auth, and
// configuration.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/parley-dev/parley/internal/output"
	"github.com/parley-dev/parley/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Local backend for desktop chat frontends",
	Long: `parley runs a local daemon that persists chat sessions, holds
encrypted credentials, and relays streaming agent conversations to UI
frontends over a REST + WebSocket API.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/parley/config.yaml)")
}

// stateDirFunc returns the state directory path, replaceable in tests.
var stateDirFunc = defaultStateDir

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".parley"), nil
}

// configDirFunc returns the process config directory, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "parley"), nil
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if configDir, err := configDirFunc(); err == nil {
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("PARLEY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	stateDir, _ := stateDirFunc()

	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("listen_addr", "127.0.0.1:8129")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.base_url", "")
	viper.SetDefault("anthropic.model", "claude-sonnet-4-5")
	viper.SetDefault("agent.max_tokens", 4096)
	viper.SetDefault("agent.system_prompt", "")

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
}

// getStore returns the shared session store, initializing it on first
// call. Commands that never touch sessions run without one.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	s, err := store.NewFileStore(viper.GetString("state_dir"))
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	dataStore = s
	return dataStore, nil
}
