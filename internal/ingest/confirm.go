package ingest

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Confirmer answers yes/no before a destructive step. Injected so the
// pipeline core never blocks on a terminal in tests or non-interactive
// deployments.
type Confirmer func(prompt string) bool

// AutoConfirm answers yes to everything (--yes deployments).
func AutoConfirm(string) bool { return true }

// DenyAll answers no to everything.
func DenyAll(string) bool { return false }

// TerminalConfirmer prompts on w and reads an answer from r. Anything other
// than "y"/"yes" is a no.
func TerminalConfirmer(r io.Reader, w io.Writer) Confirmer {
	reader := bufio.NewReader(r)
	return func(prompt string) bool {
		fmt.Fprintf(w, "%s (y/N): ", prompt)
		line, err := reader.ReadString('\n')
		if err != nil {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		default:
			return false
		}
	}
}
