package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"procview/internal/disasm"
	"procview/internal/session"
	"procview/internal/ui/colorize"
	"procview/internal/ui/gutter"
)

var dumpCmd = &cobra.Command{
	Use:   "dump [address]",
	Short: "Print the window around an address and exit",
	Long: `Decode the window around an address and print it with control-flow
arrows, the same rows the TUI would show on its first screen.`,
	Example: `
# Print 40 rows around main
procview dump --elf ./a.out --rows 40 main

# Print the whole decoded window
procview dump --pid 4242 --all 0x401000
  `,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := attach(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		rows, _ := cmd.Flags().GetInt("rows")
		if all, _ := cmd.Flags().GetBool("all"); all {
			rows = a.session.Config().Decode.UnitCap()
		}
		color, _ := cmd.Flags().GetBool("color")

		w := a.session.Navigate(a.start)
		if w.Unreadable {
			return fmt.Errorf("%#x: %w", a.start, errUnreadable)
		}
		return writeListing(cmd.OutOrStdout(), a.session, rows, color && !colorize.Disabled())
	},
}

var errUnreadable = errors.New("memory is unreadable")

func init() {
	dumpCmd.Flags().IntP("rows", "r", 0, "Rows to print (default: one page)")
	dumpCmd.Flags().BoolP("all", "a", false, "Print every decoded row")
	dumpCmd.Flags().Bool("color", false, "Colorize the output")
}

// writeListing prints rows rows of the current window, positioned the way
// the TUI positions its first screen.
func writeListing(out io.Writer, s *session.Session, rows int, color bool) error {
	w := s.Window()
	if w.Empty() {
		_, err := fmt.Fprintln(out, "; no instructions")
		return err
	}
	if rows <= 0 {
		rows = s.Config().Decode.PageRows
	}
	sel := s.Selection()
	sel.SetRows(rows)
	sel.Reset(len(w.Units), w.TargetIndex)

	from, to := sel.Visible()
	cols := columns(s, from, to)
	layout := s.Layout()

	var sb strings.Builder
	fmt.Fprintf(&sb, "; %s\n", s.Label(w.Target))
	for i := from; i < to; i++ {
		u := w.Units[i]
		marker := " "
		if i == w.TargetIndex {
			marker = ">"
		}
		parts := disasm.Parts(u, s.Label(u.Address), s.Text(u))
		var text string
		if color {
			text = colorize.Row(parts, cols)
		} else {
			text = colorize.Plain(parts, cols)
		}
		if note := s.Annotation(u); note != "" {
			text += "  ; " + note
		}
		fmt.Fprintf(&sb, "%s %s %s\n", marker, gutter.Render(layout, i, color), text)
	}
	if layout.Exhausted {
		fmt.Fprintf(&sb, "; %d arrows share %d lanes\n", len(layout.Edges), layout.Lanes)
	}
	_, err := io.WriteString(out, sb.String())
	return err
}
