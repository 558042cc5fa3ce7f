package cmd

import (
	"fmt"
	"strings"

	"procview/internal/disasm"
	"procview/internal/patch"
)

const helpMarkdown = `# procview

## Listing

| Key | Action |
|---|---|
| ↑ ↓ / k j | move the cursor |
| pgup pgdown home end | page and jump |
| shift+↑ shift+↓ / K J | extend the selection from the anchor |
| space | toggle the cursor row |
| click, shift+click, ctrl+click, drag | select with the mouse |
| enter | follow the branch under the cursor |
| backspace / b | go back |
| g | go to an address or symbol |
| ctrl+r | re-read memory |

## Patching

| Key | Action |
|---|---|
| n | replace the selection with NOPs |
| f | fill the selection with a byte |
| a | assemble over the selection |
| u | undo the latest applied patch |
| U | restore every patch |

Patches that are shorter than the selection are padded with NOPs. A
patch that runs past the selection asks for confirmation first.

## Patches view

| Key | Action |
|---|---|
| r | restore the patch (refused while a later patch overlaps it) |
| p | reapply the patch (refused while another applied patch overlaps it) |
| enter | show the patched address |
`

// ledgerMarkdown summarizes the patch history for the help pane.
func ledgerMarkdown(history []*patch.Record) string {
	var sb strings.Builder
	sb.WriteString("\n## Session patches\n\n")
	if len(history) == 0 {
		sb.WriteString("*No patches yet.*\n")
		return sb.String()
	}
	applied := 0
	for _, rec := range history {
		if rec.Applied() {
			applied++
		}
	}
	fmt.Fprintf(&sb, "**%d** of %d applied.\n\n", applied, len(history))
	sb.WriteString("| Address | State | Bytes | Description |\n|---|---|---|---|\n")
	for _, rec := range history {
		state := "restored"
		if rec.Applied() {
			state = "**applied**"
		}
		fmt.Fprintf(&sb, "| `%#x` | %s | `%s` | %s |\n",
			rec.Address, state, disasm.HexBytes(rec.Replacement),
			strings.ReplaceAll(rec.Description, "|", "/"))
	}
	return sb.String()
}
