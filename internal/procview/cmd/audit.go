package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nxadm/tail"
	"github.com/spf13/cobra"

	"procview/internal/procview/styles"
	"procview/internal/ui/colorize"
)

var auditCmd = &cobra.Command{
	Use:   "audit [file]",
	Short: "Print the patch audit log",
	Long: `Print the audit log of patch, restore and reapply operations. The file
defaults to auditLog from the configuration.`,
	Example: `
# Watch patches as they are applied
procview audit --follow /tmp/procview-audit.log
  `,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		path := cfg.AuditLog
		if len(args) > 0 {
			path = args[0]
		}
		if path == "" {
			return errors.New("no audit log configured")
		}
		follow, _ := cmd.Flags().GetBool("follow")
		return printAudit(cmd.Context(), cmd.OutOrStdout(), path, follow)
	},
}

func init() {
	auditCmd.Flags().BoolP("follow", "f", false, "Keep printing new entries")
}

// printAudit copies the audit log at path to out, highlighting failures.
// With follow it waits for new lines until ctx is done.
func printAudit(ctx context.Context, out io.Writer, path string, follow bool) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow:    follow,
		ReOpen:    follow,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer t.Cleanup()

	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return t.Stop()
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				return line.Err
			}
			if _, err := fmt.Fprintln(out, auditLine(line.Text)); err != nil {
				return err
			}
		}
	}
}

func auditLine(text string) string {
	if colorize.Disabled() {
		return text
	}
	if strings.Contains(text, "level=error") {
		return styles.Error.Render(text)
	}
	return text
}
