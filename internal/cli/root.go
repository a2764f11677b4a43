// Package cli implements sortctl, the operator command line for the sorting
// cell. It talks to the SQLite store directly and to the robot over TCP.
package cli

import (
	"fmt"
	"time"

	"sorter/internal/config"
	"sorter/internal/dispatcher"
	"sorter/internal/robot"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	DB       string // overrides DB_PATH
	Operator string // defaults to ADMIN_USERNAME
	Format   string // "json" | "text"

	newSender func(cfg config.AppConfig) dispatcher.Sender
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for sortctl.
func NewRootCommand() *cobra.Command {
	return newRootCommand(robotSender)
}

func robotSender(cfg config.AppConfig) dispatcher.Sender {
	return robot.NewClient(cfg.RobotHost, cfg.RobotPort, robot.WithTimeout(cfg.DispatchTimeout))
}

func newRootCommand(newSender func(cfg config.AppConfig) dispatcher.Sender) *cobra.Command {
	opts := &RootOptions{newSender: newSender}

	cmd := &cobra.Command{
		Use:   "sortctl",
		Short: "sortctl - sorting cell operator tool",
		Long:  "Create orders, dispatch queued jobs to the robot and report their outcome.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "SQLite database path (default $DB_PATH)")
	cmd.PersistentFlags().StringVar(&opts.Operator, "operator", "", "acting user (default $ADMIN_USERNAME)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewCreateTestOrderCommand(opts))
	cmd.AddCommand(NewDispatchCommand(opts))
	cmd.AddCommand(NewCompleteCommand(opts))
	cmd.AddCommand(NewDoneLastCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewResetCommand(opts))
	cmd.AddCommand(NewTestMoveCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// elapsedMs is used in text output.
func elapsedMs(d time.Duration) string {
	return fmt.Sprintf("%dms", d.Milliseconds())
}
