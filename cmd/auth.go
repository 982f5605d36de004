package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/parley-dev/parley/internal/credentials"
	"github.com/parley-dev/parley/internal/models"
)

var authAPIKey string

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the stored Anthropic credential",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Save an API key to the encrypted credential store",
	Long: `Save an API key to the encrypted credential store. The key is
encrypted at rest and bound to this machine; copying the credential
file to another host makes it unreadable.

Pass --api-key or enter the key at the prompt.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return authLoginRun()
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a credential is stored",
	RunE: func(cmd *cobra.Command, args []string) error {
		return authStatusRun()
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Delete the stored credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		return authLogoutRun()
	},
}

func init() {
	authLoginCmd.Flags().StringVar(&authAPIKey, "api-key", "", "API key to store (prompted if omitted)")
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authLogoutCmd)
	rootCmd.AddCommand(authCmd)
}

func credStore() *credentials.Store {
	return credentials.NewStore(viper.GetString("state_dir"))
}

func authLoginRun() error {
	key := authAPIKey
	if key == "" {
		fmt.Fprint(ui.Out, "API key: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read API key: %w", err)
		}
		key = strings.TrimSpace(line)
	}
	if key == "" {
		return fmt.Errorf("no API key provided")
	}
	if !strings.HasPrefix(key, "sk-ant-") {
		ui.Warning("Key does not look like an Anthropic API key (expected sk-ant- prefix)")
	}

	if err := os.MkdirAll(viper.GetString("state_dir"), 0o700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	if err := credStore().Save(&models.Credentials{
		Type:      models.AuthAPIKey,
		Value:     key,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	ui.Success("Credential saved")
	return nil
}

func authStatusRun() error {
	creds, err := credStore().Load()
	if err != nil {
		return err
	}
	if creds == nil {
		ui.Info("No credential stored. Run 'parley auth login'.")
		return nil
	}
	ui.Success("Credential stored (%s, saved %s)", creds.Type, creds.CreatedAt.Local().Format("2006-01-02"))
	return nil
}

func authLogoutRun() error {
	if !credStore().Has() {
		ui.Info("No credential stored.")
		return nil
	}
	if err := credStore().Delete(); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	ui.Success("Credential deleted")
	return nil
}
