package colorize

import (
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss/v2"

	"procview/internal/disasm"
)

var (
	addressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	bytesStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	dataStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#EACD53"))
)

// Disabled reports whether PROCVIEW_NO_COLOR turns colors off.
func Disabled() bool {
	return os.Getenv("PROCVIEW_NO_COLOR") != ""
}

// getAssemblyLexer returns an x86 assembly lexer with fallbacks
func getAssemblyLexer() chroma.Lexer {
	candidates := []string{"nasm", "gas", "GAS"}
	for _, name := range candidates {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

// getDisasmStyle returns the disassembly style with fallbacks
func getDisasmStyle() *chroma.Style {
	candidates := []string{"disasm-dark", "dracula", "monokai"}
	for _, name := range candidates {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

func getTerminalFormatter() chroma.Formatter {
	candidates := []string{"terminal16m", "terminal256"}
	for _, name := range candidates {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// Instruction highlights one line of x86 assembly. The input is returned
// unchanged when colors are disabled or highlighting fails.
func Instruction(code string) string {
	if Disabled() || code == "" {
		return code
	}

	lexer := getAssemblyLexer()
	if lexer == nil {
		return code
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}

	var buf strings.Builder
	if err := getTerminalFormatter().Format(&buf, getDisasmStyle(), iterator); err != nil {
		return code
	}
	return strings.ReplaceAll(buf.String(), "\n", "")
}

// Columns are the padded widths of the address and bytes columns.
type Columns struct {
	Address int
	Bytes   int
}

// Row renders the parts of one listing row. Address and byte columns are
// padded to cols so the instruction text lines up.
func Row(parts []disasm.Part, cols Columns) string {
	plain := Disabled()

	var sb strings.Builder
	var code []string
	for _, p := range parts {
		switch p.Kind {
		case disasm.PartAddress:
			text := pad(p.Text, cols.Address)
			if !plain {
				text = addressStyle.Render(text)
			}
			sb.WriteString(text)
			sb.WriteString("  ")
		case disasm.PartBytes:
			text := pad(p.Text, cols.Bytes)
			if !plain {
				text = bytesStyle.Render(text)
			}
			sb.WriteString(text)
			sb.WriteString("  ")
		case disasm.PartMnemonic, disasm.PartOperands:
			code = append(code, p.Text)
		case disasm.PartData:
			if plain {
				sb.WriteString(p.Text)
			} else {
				sb.WriteString(dataStyle.Render(p.Text))
			}
		}
	}
	if len(code) > 0 {
		sb.WriteString(Instruction(strings.Join(code, " ")))
	}
	return strings.TrimRight(sb.String(), " ")
}

// Plain renders parts without any color regardless of the environment.
func Plain(parts []disasm.Part, cols Columns) string {
	var sb strings.Builder
	for i, p := range parts {
		text := p.Text
		switch p.Kind {
		case disasm.PartAddress:
			text = pad(text, cols.Address)
		case disasm.PartBytes:
			text = pad(text, cols.Bytes)
		}
		switch {
		case i == 0:
		case p.Kind == disasm.PartOperands:
			sb.WriteByte(' ')
		default:
			sb.WriteString("  ")
		}
		sb.WriteString(text)
	}
	return strings.TrimRight(sb.String(), " ")
}

func pad(s string, width int) string {
	if n := lipgloss.Width(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

// StripANSI removes ANSI escape sequences from s.
func StripANSI(s string) string {
	var result strings.Builder
	inEscape := false

	for _, r := range s {
		if r == '\x1b' {
			inEscape = true
		} else if inEscape {
			if r == 'm' {
				inEscape = false
			}
		} else {
			result.WriteRune(r)
		}
	}

	return result.String()
}
