package display

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/refuturo/refuturo/internal/imaging"
)

// Displayer renders variants inline using the kitty graphics protocol.
type Displayer struct {
	out io.Writer
}

func New(out io.Writer) *Displayer {
	return &Displayer{out: out}
}

// ShowDataURL decodes a data URL and renders the image bytes inline.
func (d *Displayer) ShowDataURL(url string) error {
	data, _, err := imaging.DecodeDataURL(url)
	if err != nil {
		return err
	}

	if err := writeKitty(d.out, data); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}

	fmt.Fprintln(d.out)
	return nil
}

// ShowVariants renders every variant in order, labeling each one.
func (d *Displayer) ShowVariants(urls []string, selected int) error {
	for i, url := range urls {
		marker := " "
		if i == selected {
			marker = "*"
		}
		fmt.Fprintf(d.out, "%s variant %d:\n", marker, i+1)
		if err := d.ShowDataURL(url); err != nil {
			return fmt.Errorf("failed to display variant %d: %w", i+1, err)
		}
	}
	return nil
}

// IsTerminalSupported reports whether stdout is an interactive terminal
// that understands the kitty graphics protocol.
func IsTerminalSupported() bool {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return false
	}

	termProgram := strings.ToLower(os.Getenv("TERM_PROGRAM"))
	supportedPrograms := []string{"kitty", "ghostty", "iterm.app", "wezterm"}

	for _, prog := range supportedPrograms {
		if termProgram == prog {
			return true
		}
	}

	if os.Getenv("KITTY_WINDOW_ID") != "" {
		return true
	}

	if os.Getenv("ITERM_SESSION_ID") != "" {
		return true
	}

	t := strings.ToLower(os.Getenv("TERM"))
	return strings.Contains(t, "kitty") || strings.Contains(t, "ghostty")
}
