package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/parley-dev/parley/internal/output"
	"github.com/parley-dev/parley/internal/store"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage stored chat sessions",
	Long: `Inspect and manage stored chat sessions directly, without going
through the daemon API.

Running bare 'parley session' is the same as 'parley session list'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionListRun()
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recently updated first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionListRun()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionShowRun(args[0])
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and its transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionDeleteRun(args[0])
	},
}

var sessionRenameCmd = &cobra.Command{
	Use:   "rename <session-id> <new-name>",
	Short: "Rename a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionRenameRun(args[0], args[1])
	},
}

func init() {
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)
	sessionCmd.AddCommand(sessionRenameCmd)
	rootCmd.AddCommand(sessionCmd)
}

func sessionListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	items, err := s.ListSessions()
	if err != nil {
		return err
	}

	if len(items) == 0 {
		ui.Info("No sessions yet.")
		return nil
	}

	table := ui.Table([]string{"ID", "Name", "Messages", "Updated", "Preview"})
	for _, item := range items {
		if err := table.Append([]string{
			output.Cyan(item.ID),
			item.Name,
			fmt.Sprintf("%d", item.MessageCount),
			item.UpdatedAt.Local().Format("2006-01-02 15:04"),
			item.Preview,
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func sessionShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	sess, err := s.LoadSession(id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s (%s)\n", sess.Name, output.Dim(sess.ID))
	fmt.Fprintf(ui.Out, "Created %s, updated %s\n",
		sess.CreatedAt.Local().Format(time.RFC822),
		sess.UpdatedAt.Local().Format(time.RFC822))
	if sess.Usage != nil {
		fmt.Fprintf(ui.Out, "Tokens: %d in / %d out\n", sess.Usage.InputTokens, sess.Usage.OutputTokens)
	}
	fmt.Fprintln(ui.Out)

	for _, m := range sess.Messages {
		label := output.RoleColor(string(m.Role))
		if m.ToolName != "" {
			label += output.Dim(" [" + m.ToolName + "]")
		}
		fmt.Fprintf(ui.Out, "%s  %s\n", label, m.Timestamp.Local().Format("15:04:05"))
		fmt.Fprintln(ui.Out, indent(m.Content, "  "))
		fmt.Fprintln(ui.Out)
	}
	return nil
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

func sessionDeleteRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	existed, err := s.DeleteSession(id)
	if err != nil {
		return err
	}
	if !existed {
		ui.Warning("No such session: %s", id)
		return nil
	}
	ui.Success("Deleted session %s", id)
	return nil
}

func sessionRenameRun(id, name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	sess, err := s.UpdateSession(id, store.SessionUpdate{Name: &name})
	if err != nil {
		return err
	}
	ui.Success("Renamed session %s to %q", sess.ID, sess.Name)
	return nil
}
