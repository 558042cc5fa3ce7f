package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/pprof"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (JSON)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")
	rootCmd.PersistentFlags().IntP("pid", "p", 0, "Attach to a running process")
	rootCmd.PersistentFlags().StringP("elf", "e", "", "Load an ELF file as a memory snapshot")
	rootCmd.PersistentFlags().String("base", "", "Rebase the snapshot to this address")
	rootCmd.PersistentFlags().Int("mode", 0, "Decoding mode, 32 or 64 (default from the target)")
	rootCmd.PersistentFlags().String("syntax", "", "Instruction syntax, intel or gnu")
	rootCmd.PersistentFlags().String("audit", "", "Append patch operations to this file")

	rootCmd.Flags().BoolP("help", "h", false, "Help")
	rootCmd.Flags().BoolP("no-tui", "n", false, "Print the window around the address without the TUI")
	rootCmd.Flags().String("cpuprofile", "", "Write CPU profile to file")
	rootCmd.Flags().String("memprofile", "", "Write memory profile to file")

	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(auditCmd)
}

var rootCmd = &cobra.Command{
	Use:   "procview [address]",
	Short: "Interactive disassembler and patcher for process memory",
	Long: `Procview decodes x86 instructions around an address in a live process
or an ELF snapshot, draws control-flow arrows between them and lets you
patch the bytes in place with a full undo history.`,
	Example: `
# Browse a running process at an address
procview --pid 4242 0x401000

# Browse an ELF file at a symbol
procview --elf ./a.out main+0x10

# Print the window without the TUI
procview --elf ./a.out -n main
  `,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cpuprofile, _ := cmd.Flags().GetString("cpuprofile")
		if cpuprofile != "" {
			f, err := os.Create(cpuprofile)
			if err != nil {
				return fmt.Errorf("could not create CPU profile: %v", err)
			}
			defer f.Close()
			if err := pprof.StartCPUProfile(f); err != nil {
				return fmt.Errorf("could not start CPU profile: %v", err)
			}
			defer pprof.StopCPUProfile()
		}

		memprofile, _ := cmd.Flags().GetString("memprofile")
		if memprofile != "" {
			defer func() {
				f, err := os.Create(memprofile)
				if err != nil {
					fmt.Fprintf(os.Stderr, "could not create memory profile: %v\n", err)
					return
				}
				defer f.Close()
				if err := pprof.WriteHeapProfile(f); err != nil {
					fmt.Fprintf(os.Stderr, "could not write memory profile: %v\n", err)
				}
			}()
		}

		a, err := attach(cmd, args)
		if err != nil {
			return err
		}
		defer a.Close()

		noTUI, _ := cmd.Flags().GetBool("no-tui")
		if !term.IsTerminal(os.Stdout.Fd()) {
			noTUI = true
		}
		if noTUI {
			os.Setenv("PROCVIEW_NO_COLOR", "1")
			a.session.Navigate(a.start)
			return writeListing(cmd.OutOrStdout(), a.session, a.session.Config().Decode.PageRows, false)
		}

		program := tea.NewProgram(
			newModel(a.session, a.name, a.start),
			tea.WithAltScreen(),
			tea.WithMouseCellMotion(),
			tea.WithContext(cmd.Context()),
		)
		if _, err := program.Run(); err != nil {
			slog.Error("TUI run error", "error", err)
			return fmt.Errorf("TUI error: %v", err)
		}
		return nil
	},
}

func Execute() {
	noTUI := false
	for _, arg := range os.Args[1:] {
		if arg == "--no-tui" || arg == "-n" {
			noTUI = true
			break
		}
	}

	// fang renders help and errors for a terminal; piped output gets plain cobra.
	if !noTUI && !term.IsTerminal(os.Stdout.Fd()) {
		noTUI = true
	}

	if noTUI {
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
	} else {
		if err := fang.Execute(
			context.Background(),
			rootCmd,
			fang.WithNotifySignal(os.Interrupt),
		); err != nil {
			os.Exit(1)
		}
	}
}
