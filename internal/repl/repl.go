package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/refuturo/refuturo/internal/display"
	"github.com/refuturo/refuturo/internal/prefs"
	"github.com/refuturo/refuturo/internal/scenario"
	"github.com/refuturo/refuturo/internal/session"
	"github.com/refuturo/refuturo/pkg/models"
)

type REPL struct {
	in        io.Reader
	out       io.Writer
	err       io.Writer
	editor    *session.Editor
	saver     *session.Saver
	storage   session.Storage
	catalog   *scenario.Catalog
	prefStore *prefs.Store
	prefs     prefs.Preferences
	displayer *display.Displayer
	commands  map[string]Command
	running   bool
}

type Config struct {
	In        io.Reader
	Out       io.Writer
	Err       io.Writer
	Editor    *session.Editor
	Saver     *session.Saver
	Storage   session.Storage
	Catalog   *scenario.Catalog
	PrefStore *prefs.Store
	Prefs     prefs.Preferences
	Displayer *display.Displayer
}

func New(cfg *Config) *REPL {
	r := &REPL{
		in:        cfg.In,
		out:       cfg.Out,
		err:       cfg.Err,
		editor:    cfg.Editor,
		saver:     cfg.Saver,
		storage:   cfg.Storage,
		catalog:   cfg.Catalog,
		prefStore: cfg.PrefStore,
		prefs:     cfg.Prefs,
		displayer: cfg.Displayer,
		commands:  make(map[string]Command),
	}
	r.registerCommands()
	r.editor.SetPromptFunc(r.composePrompt)
	return r
}

// composePrompt binds the time-travel preferences into the generation
// prompt. It reads the live preferences so a 'time' command takes effect
// on the next generate.
func (r *REPL) composePrompt(scen models.Scenario, customPrompt string) string {
	return scenario.Compose(scen, customPrompt, r.prefs.TimeMagnitude, r.prefs.TimeDirection)
}

func (r *REPL) Run(ctx context.Context) error {
	r.running = true
	r.printWelcome()

	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for r.running {
		r.printPrompt()
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := r.execute(ctx, line); err != nil {
			fmt.Fprintf(r.err, "Error: %v\n", err)
		}
	}

	// Best-effort final save so nothing committed since the last debounce
	// is lost on exit.
	if r.editor.HasSession() {
		if err := r.saver.Flush(ctx, r.editor); err != nil {
			fmt.Fprintf(r.err, "Warning: failed to save session: %v\n", err)
		}
	}

	return scanner.Err()
}

func (r *REPL) execute(ctx context.Context, line string) error {
	parts := parseCommand(line)
	if len(parts) == 0 {
		return nil
	}

	cmdName := strings.ToLower(parts[0])
	args := parts[1:]

	cmd, ok := r.commands[cmdName]
	if !ok {
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmdName)
	}

	return cmd.Execute(ctx, r, args)
}

func (r *REPL) Stop() {
	r.running = false
}

func (r *REPL) printWelcome() {
	fmt.Fprintln(r.out, "refuturo interactive mode")
	fmt.Fprintln(r.out, "Type 'help' for available commands, 'quit' to exit.")
	fmt.Fprintln(r.out)
}

func (r *REPL) printPrompt() {
	if sess := r.editor.Session(); sess != nil {
		if len(sess.Variants) > 0 {
			fmt.Fprintf(r.out, "refuturo [%s] (%d/%d)> ",
				sess.SourceName, sess.SelectedIndex+1, len(sess.Variants))
		} else {
			fmt.Fprintf(r.out, "refuturo [%s]> ", sess.SourceName)
		}
		return
	}
	fmt.Fprint(r.out, "refuturo> ")
}

// currentScenario resolves the session's scenario value against the
// catalog, falling back to the catalog default.
func (r *REPL) currentScenario() models.Scenario {
	if sess := r.editor.Session(); sess != nil && sess.ScenarioValue != "" {
		if scen, ok := r.catalog.Find(sess.ScenarioValue); ok {
			return scen
		}
	}
	return r.catalog.Default()
}

func (r *REPL) savePrefs(ctx context.Context) {
	if r.prefStore == nil {
		return
	}
	if err := r.prefStore.Save(ctx, r.prefs); err != nil {
		fmt.Fprintf(r.err, "Warning: failed to save preferences: %v\n", err)
	}
}

func parseCommand(line string) []string {
	var parts []string
	var current strings.Builder
	inQuotes := false
	quoteChar := rune(0)

	for _, ch := range line {
		switch {
		case ch == '"' || ch == '\'':
			if inQuotes && ch == quoteChar {
				inQuotes = false
				quoteChar = 0
			} else if !inQuotes {
				inQuotes = true
				quoteChar = ch
			} else {
				current.WriteRune(ch)
			}
		case ch == ' ' && !inQuotes:
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(ch)
		}
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}
