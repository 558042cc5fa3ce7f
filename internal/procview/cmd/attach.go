package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"procview/internal/config"
	"procview/internal/logging"
	"procview/internal/procview/log"
	"procview/internal/session"
	"procview/internal/target"
)

var (
	errNoTarget   = errors.New("one of --pid or --elf is required")
	errTwoTargets = errors.New("--pid and --elf are mutually exclusive")
)

// attachment is an open target with the session built over it.
type attachment struct {
	session *session.Session
	name    string
	start   uint64
	closers []io.Closer
}

func (a *attachment) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// symbolTable resolves symbol names in address expressions.
type symbolTable interface {
	Symbol(name string) (uint64, bool)
}

// loadConfig reads the config file and applies the persistent flags on top.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Debug = true
	}
	if v, _ := cmd.Flags().GetString("audit"); v != "" {
		cfg.AuditLog = v
	}
	if v, _ := cmd.Flags().GetString("syntax"); v != "" {
		cfg.Decode.Syntax = v
	}
	if v, _ := cmd.Flags().GetInt("mode"); v != 0 {
		cfg.Decode.Mode = v
	}
	return cfg, cfg.Validate()
}

// attach opens the target named by the flags and resolves the start
// address from args.
func attach(cmd *cobra.Command, args []string) (*attachment, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log.Setup(cfg.LogFile, cfg.Debug)

	pid, _ := cmd.Flags().GetInt("pid")
	elfPath, _ := cmd.Flags().GetString("elf")
	switch {
	case pid != 0 && elfPath != "":
		return nil, errTwoTargets
	case pid == 0 && elfPath == "":
		return nil, errNoTarget
	}

	a := &attachment{}
	var (
		t    target.Target
		opts []session.Option
		syms symbolTable
		expr string
	)
	if len(args) > 0 {
		expr = args[0]
	}

	if pid != 0 {
		p, err := target.OpenProcess(pid)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p)
		a.name = fmt.Sprintf("pid %d", pid)
		t = p
		if expr == "" {
			a.Close()
			return nil, errors.New("an address is required when attaching to a process")
		}
	} else {
		baseArg, _ := cmd.Flags().GetString("base")
		var base uint64
		if baseArg != "" {
			if base, err = parseHex(baseArg); err != nil {
				return nil, fmt.Errorf("--base: %w", err)
			}
		}
		snap, err := target.OpenSnapshot(elfPath, base)
		if err != nil {
			return nil, err
		}
		a.name = snap.Name()
		t = snap
		syms = snap
		opts = append(opts, session.WithSymbols(snap.Lookup))
		if mode := snap.Mode(); mode != 0 && !cmd.Flags().Changed("mode") {
			cfg.Decode.Mode = mode
		}
		if expr == "" {
			a.start = snap.Entry()
		}
	}

	if cfg.AuditLog != "" {
		audit, err := logging.NewAuditLogger(cfg.AuditLog)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, audit)
		opts = append(opts, session.WithAudit(audit.Logger))
	}

	if expr != "" {
		if a.start, err = parseAddress(expr, syms); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.session = session.New(t, cfg, opts...)
	slog.Debug("attached", "target", a.name, "start", fmt.Sprintf("%#x", a.start), "mode", cfg.Decode.Mode)
	return a, nil
}

// parseAddress accepts a hex address with or without 0x, or a symbol name
// with an optional +offset or -offset when syms is set.
func parseAddress(expr string, syms symbolTable) (uint64, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, errors.New("empty address")
	}
	if addr, err := parseHex(expr); err == nil {
		return addr, nil
	}
	if syms == nil {
		return 0, fmt.Errorf("invalid address %q", expr)
	}

	name, op, off := expr, byte('+'), uint64(0)
	if i := strings.LastIndexAny(expr, "+-"); i > 0 {
		v, err := parseHex(expr[i+1:])
		if err != nil {
			return 0, fmt.Errorf("invalid offset in %q", expr)
		}
		name, op, off = expr[:i], expr[i], v
	}
	addr, ok := syms.Symbol(name)
	if !ok {
		return 0, fmt.Errorf("unknown symbol %q", name)
	}
	if op == '-' {
		return addr - off, nil
	}
	return addr + off, nil
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseUint(s, 16, 64)
}
