package repl

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/refuturo/refuturo/internal/display"
	"github.com/refuturo/refuturo/internal/imaging"
	"github.com/refuturo/refuturo/internal/prefs"
	"github.com/refuturo/refuturo/internal/security"
	"github.com/refuturo/refuturo/internal/session"
	"github.com/refuturo/refuturo/pkg/models"
)

type Command interface {
	Name() string
	Aliases() []string
	Description() string
	Usage() string
	Execute(ctx context.Context, r *REPL, args []string) error
}

func (r *REPL) registerCommands() {
	commands := []Command{
		&OpenCommand{},
		&ScenarioCommand{},
		&PromptCommand{},
		&TimeCommand{},
		&GenerateCommand{},
		&RefineCommand{},
		&MaskCommand{},
		&SelectCommand{},
		&UndoCommand{},
		&RedoCommand{},
		&HistoryCommand{},
		&RevertCommand{},
		&ClearCommand{},
		&ShowCommand{},
		&ExportCommand{},
		&StatusCommand{},
		&HelpCommand{},
		&QuitCommand{},
	}

	for _, cmd := range commands {
		r.commands[cmd.Name()] = cmd
		for _, alias := range cmd.Aliases() {
			r.commands[alias] = cmd
		}
	}
}

// OpenCommand loads a source photo and attaches its session, restoring
// persisted state when the same file was worked on before.
type OpenCommand struct{}

func (c *OpenCommand) Name() string      { return "open" }
func (c *OpenCommand) Aliases() []string { return []string{"o", "load"} }
func (c *OpenCommand) Description() string {
	return "Open a source photo and restore its session if one exists"
}
func (c *OpenCommand) Usage() string { return "open <file>" }

func (c *OpenCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	// Persist the outgoing session before switching.
	if r.editor.HasSession() {
		if err := r.saver.Flush(ctx, r.editor); err != nil {
			fmt.Fprintf(r.err, "Warning: failed to save previous session: %v\n", err)
		}
	}

	upload, err := imaging.LoadUpload(args[0])
	if err != nil {
		return err
	}

	key := session.DeriveKey(upload.Name, upload.Size, upload.ModTime)

	sess, err := r.saver.Load(ctx, key)
	if err != nil {
		fmt.Fprintf(r.err, "Warning: could not restore previous session (%v), starting fresh\n", err)
		sess = nil
	}
	if sess == nil {
		sourceURL := imaging.EncodeDataURL(upload.Data, upload.MimeType)
		sess = session.NewSession(key, upload.Name, sourceURL, r.catalog.Default().Value)
		fmt.Fprintf(r.out, "Opened %s (%s)\n", upload.Name, humanize.Bytes(uint64(upload.Size)))
	} else {
		fmt.Fprintf(r.out, "Opened %s, restored session with %d history entries\n",
			upload.Name, sess.Log.Len())
	}

	r.editor.Open(sess)
	return nil
}

// ScenarioCommand lists scenarios, selects one, or adds a custom one.
type ScenarioCommand struct{}

func (c *ScenarioCommand) Name() string        { return "scenario" }
func (c *ScenarioCommand) Aliases() []string   { return []string{"sc"} }
func (c *ScenarioCommand) Description() string { return "List, select, or add scenarios" }
func (c *ScenarioCommand) Usage() string       { return "scenario [name | add <name> <description>]" }

func (c *ScenarioCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		current := r.currentScenario()
		fmt.Fprintln(r.out, "Available scenarios:")
		for _, s := range r.catalog.List() {
			marker := "  "
			if strings.EqualFold(s.Value, current.Value) {
				marker = "* "
			}
			fmt.Fprintf(r.out, "%s%-12s %s\n", marker, s.Value, s.Description)
		}
		return nil
	}

	if strings.EqualFold(args[0], "add") {
		if len(args) < 3 {
			return fmt.Errorf("usage: scenario add <name> <description>")
		}
		return c.add(ctx, r, args[1], strings.Join(args[2:], " "))
	}

	scen, ok := r.catalog.Find(args[0])
	if !ok {
		return fmt.Errorf("unknown scenario: %s", args[0])
	}
	if err := r.editor.SetScenario(scen.Value); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Scenario set to: %s\n", scen.Label)
	return nil
}

func (c *ScenarioCommand) add(ctx context.Context, r *REPL, name, description string) error {
	value := strings.ToLower(name)
	if _, ok := r.catalog.Find(value); ok {
		return fmt.Errorf("scenario already exists: %s", value)
	}

	list := append(r.catalog.List(), models.Scenario{
		Label:       strings.ToUpper(name[:1]) + name[1:],
		Value:       value,
		Description: description,
	})
	if err := r.catalog.Save(ctx, list); err != nil {
		return err
	}

	fmt.Fprintf(r.out, "Added scenario: %s\n", value)
	return nil
}

// PromptCommand shows or sets the free-text prompt that augments the
// scenario description.
type PromptCommand struct{}

func (c *PromptCommand) Name() string        { return "prompt" }
func (c *PromptCommand) Aliases() []string   { return []string{"p"} }
func (c *PromptCommand) Description() string { return "Show, set, or clear the custom prompt" }
func (c *PromptCommand) Usage() string       { return "prompt [text|clear]" }

func (c *PromptCommand) Execute(_ context.Context, r *REPL, args []string) error {
	sess := r.editor.Session()
	if sess == nil {
		return session.ErrNoSession
	}

	if len(args) == 0 {
		if sess.PromptText == "" {
			fmt.Fprintln(r.out, "No custom prompt set (scenario description will be used)")
		} else {
			fmt.Fprintf(r.out, "Custom prompt: %s\n", sess.PromptText)
		}
		return nil
	}

	text := strings.Join(args, " ")
	if strings.EqualFold(text, "clear") {
		text = ""
	}
	if err := r.editor.SetPrompt(text); err != nil {
		return err
	}
	if text == "" {
		fmt.Fprintln(r.out, "Custom prompt cleared")
	} else {
		fmt.Fprintf(r.out, "Custom prompt set: %s\n", text)
	}
	return nil
}

// TimeCommand configures the time-travel direction and distance.
type TimeCommand struct{}

func (c *TimeCommand) Name() string        { return "time" }
func (c *TimeCommand) Aliases() []string   { return []string{"t"} }
func (c *TimeCommand) Description() string { return "Show or set the time travel (direction and years)" }
func (c *TimeCommand) Usage() string       { return "time [future|past] [years]" }

func (c *TimeCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(r.out, "Time travel: %d years into the %s\n",
			r.prefs.TimeMagnitude, r.prefs.TimeDirection)
		return nil
	}

	direction := strings.ToLower(args[0])
	if direction != prefs.DirectionFuture && direction != prefs.DirectionPast {
		return fmt.Errorf("direction must be 'future' or 'past'")
	}
	r.prefs.TimeDirection = direction

	if len(args) > 1 {
		years, err := strconv.Atoi(args[1])
		if err != nil || years < 1 {
			return fmt.Errorf("years must be a positive number")
		}
		r.prefs.TimeMagnitude = years
	}

	r.savePrefs(ctx)
	fmt.Fprintf(r.out, "Time travel: %d years into the %s\n",
		r.prefs.TimeMagnitude, r.prefs.TimeDirection)
	return nil
}

// GenerateCommand produces a fresh variant set from the source photo.
type GenerateCommand struct{}

func (c *GenerateCommand) Name() string        { return "generate" }
func (c *GenerateCommand) Aliases() []string   { return []string{"gen", "g"} }
func (c *GenerateCommand) Description() string { return "Generate variants for the selected scenario" }
func (c *GenerateCommand) Usage() string       { return "generate [count]" }

func (c *GenerateCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	sess := r.editor.Session()
	if sess == nil {
		return session.ErrNoSession
	}

	count := r.prefs.GenerationCount
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("count must be a number")
		}
		count = n
	}

	scen := r.currentScenario()
	fmt.Fprintf(r.out, "Generating %d variant(s) for scenario %q...\n", count, scen.Label)

	if err := r.editor.Generate(ctx, scen, sess.PromptText, count); err != nil {
		return err
	}

	sess = r.editor.Session()
	if len(sess.Variants) < count {
		fmt.Fprintf(r.out, "Generated %d of %d variants (some requests failed)\n",
			len(sess.Variants), count)
	} else {
		fmt.Fprintf(r.out, "Generated %d variant(s)\n", len(sess.Variants))
	}

	r.showSelected()
	return nil
}

// RefineCommand applies a text-guided edit to the selected variant.
type RefineCommand struct{}

func (c *RefineCommand) Name() string        { return "refine" }
func (c *RefineCommand) Aliases() []string   { return []string{"r", "edit"} }
func (c *RefineCommand) Description() string { return "Refine the selected variant with a text prompt" }
func (c *RefineCommand) Usage() string       { return "refine <prompt>" }

func (c *RefineCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	prompt := strings.Join(args, " ")
	fmt.Fprintln(r.out, "Refining selected variant...")

	if err := r.editor.RefineText(ctx, prompt); err != nil {
		return err
	}

	fmt.Fprintln(r.out, "Variant refined (use 'undo' to go back)")
	r.showSelected()
	return nil
}

// MaskCommand applies a region-constrained edit, reading the mask from a
// PNG file painted in an external tool.
type MaskCommand struct{}

func (c *MaskCommand) Name() string        { return "mask" }
func (c *MaskCommand) Aliases() []string   { return []string{} }
func (c *MaskCommand) Description() string { return "Refine only the region painted in a mask image" }
func (c *MaskCommand) Usage() string       { return "mask <mask-file> <prompt>" }

func (c *MaskCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	mask, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read mask: %w", err)
	}

	prompt := strings.Join(args[1:], " ")
	fmt.Fprintln(r.out, "Refining masked region...")

	if err := r.editor.RefineMask(ctx, mask, prompt); err != nil {
		return err
	}

	fmt.Fprintln(r.out, "Variant refined (use 'undo' to go back)")
	r.showSelected()
	return nil
}

// SelectCommand changes which variant slot is active.
type SelectCommand struct{}

func (c *SelectCommand) Name() string        { return "select" }
func (c *SelectCommand) Aliases() []string   { return []string{"sel", "v"} }
func (c *SelectCommand) Description() string { return "Select a variant by number" }
func (c *SelectCommand) Usage() string       { return "select <n>" }

func (c *SelectCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("variant number must be a number")
	}
	if err := r.editor.Select(n - 1); err != nil {
		return err
	}

	fmt.Fprintf(r.out, "Selected variant %d\n", n)
	r.showSelected()
	return nil
}

// UndoCommand restores the selected slot's previous image.
type UndoCommand struct{}

func (c *UndoCommand) Name() string        { return "undo" }
func (c *UndoCommand) Aliases() []string   { return []string{"u"} }
func (c *UndoCommand) Description() string { return "Undo the last refinement of the selected variant" }
func (c *UndoCommand) Usage() string       { return "undo" }

func (c *UndoCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	if err := r.editor.Undo(); err != nil {
		return err
	}
	fmt.Fprintln(r.out, "Undone (use 'redo' to reapply)")
	r.showSelected()
	return nil
}

// RedoCommand reapplies the image displaced by the last undo.
type RedoCommand struct{}

func (c *RedoCommand) Name() string        { return "redo" }
func (c *RedoCommand) Aliases() []string   { return []string{} }
func (c *RedoCommand) Description() string { return "Reapply the refinement undone last" }
func (c *RedoCommand) Usage() string       { return "redo" }

func (c *RedoCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	if err := r.editor.Redo(); err != nil {
		return err
	}
	fmt.Fprintln(r.out, "Redone")
	r.showSelected()
	return nil
}

// HistoryCommand lists the edit history, most recent first.
type HistoryCommand struct{}

func (c *HistoryCommand) Name() string        { return "history" }
func (c *HistoryCommand) Aliases() []string   { return []string{"h", "hist"} }
func (c *HistoryCommand) Description() string { return "Show the edit history" }
func (c *HistoryCommand) Usage() string       { return "history" }

func (c *HistoryCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	if !r.editor.HasSession() {
		return session.ErrNoSession
	}

	entries := r.editor.History()
	if len(entries) == 0 {
		fmt.Fprintln(r.out, "No history yet")
		return nil
	}

	for i, entry := range entries {
		fmt.Fprintf(r.out, "[%d] %-8s  %-10s  %s: %q\n",
			i+1,
			entry.ID[:8],
			entry.Kind.Label(),
			humanize.Time(entry.Timestamp),
			truncate(entry.Prompt, 50))
	}

	return nil
}

// RevertCommand restores the variant set of a history entry.
type RevertCommand struct{}

func (c *RevertCommand) Name() string        { return "revert" }
func (c *RevertCommand) Aliases() []string   { return []string{"rev"} }
func (c *RevertCommand) Description() string { return "Restore the variants of a history entry" }
func (c *RevertCommand) Usage() string       { return "revert <n|id-prefix>" }

func (c *RevertCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	if !r.editor.HasSession() {
		return session.ErrNoSession
	}

	entries := r.editor.History()

	var id string
	if n, err := strconv.Atoi(args[0]); err == nil {
		if n < 1 || n > len(entries) {
			return fmt.Errorf("history entry %d out of range (1-%d)", n, len(entries))
		}
		id = entries[n-1].ID
	} else {
		for _, entry := range entries {
			if strings.HasPrefix(entry.ID, args[0]) {
				id = entry.ID
				break
			}
		}
		if id == "" {
			return fmt.Errorf("history entry not found: %s", args[0])
		}
	}

	if err := r.editor.RevertTo(id); err != nil {
		return err
	}

	fmt.Fprintln(r.out, "Reverted")
	r.showSelected()
	return nil
}

// ClearCommand empties the history log.
type ClearCommand struct{}

func (c *ClearCommand) Name() string        { return "clear" }
func (c *ClearCommand) Aliases() []string   { return []string{} }
func (c *ClearCommand) Description() string { return "Clear the edit history" }
func (c *ClearCommand) Usage() string       { return "clear" }

func (c *ClearCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	if err := r.editor.ClearHistory(); err != nil {
		return err
	}
	fmt.Fprintln(r.out, "History cleared")
	return nil
}

// ShowCommand renders the variants inline when the terminal supports it.
type ShowCommand struct{}

func (c *ShowCommand) Name() string        { return "show" }
func (c *ShowCommand) Aliases() []string   { return []string{"display", "view"} }
func (c *ShowCommand) Description() string { return "Display the variants in the terminal" }
func (c *ShowCommand) Usage() string       { return "show [all]" }

func (c *ShowCommand) Execute(_ context.Context, r *REPL, args []string) error {
	sess := r.editor.Session()
	if sess == nil {
		return session.ErrNoSession
	}
	if len(sess.Variants) == 0 {
		return fmt.Errorf("no variants yet - use 'generate' first")
	}

	if !display.IsTerminalSupported() {
		return fmt.Errorf("terminal does not support inline images (kitty graphics protocol required)")
	}

	if len(args) > 0 && strings.EqualFold(args[0], "all") {
		return r.displayer.ShowVariants(sess.Variants, sess.SelectedIndex)
	}

	url, ok := sess.SelectedImage()
	if !ok {
		return fmt.Errorf("no variant selected")
	}
	return r.displayer.ShowDataURL(url)
}

// ExportCommand writes the selected variant to a file.
type ExportCommand struct{}

func (c *ExportCommand) Name() string        { return "export" }
func (c *ExportCommand) Aliases() []string   { return []string{"save"} }
func (c *ExportCommand) Description() string { return "Save the selected variant to a file" }
func (c *ExportCommand) Usage() string       { return "export [filename]" }

func (c *ExportCommand) Execute(_ context.Context, r *REPL, args []string) error {
	sess := r.editor.Session()
	if sess == nil {
		return session.ErrNoSession
	}

	url, ok := sess.SelectedImage()
	if !ok {
		return fmt.Errorf("no variant to export - use 'generate' first")
	}

	data, mimeType, err := imaging.DecodeDataURL(url)
	if err != nil {
		return fmt.Errorf("failed to decode variant: %w", err)
	}

	var destPath string
	if len(args) > 0 {
		destPath = args[0]
		// Validate path to prevent path traversal attacks
		if err := security.ValidateSavePath(destPath); err != nil {
			return fmt.Errorf("invalid save path: %w", err)
		}
	} else {
		destPath = security.ExportName(sess.SourceName, sess.SelectedIndex, mimeType)
	}

	if err := os.WriteFile(destPath, data, 0644); err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}

	fmt.Fprintf(r.out, "Saved: %s (%s)\n", destPath, humanize.Bytes(uint64(len(data))))
	return nil
}

// StatusCommand summarizes the session and storage usage.
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Aliases() []string   { return []string{"st"} }
func (c *StatusCommand) Description() string { return "Show session and storage status" }
func (c *StatusCommand) Usage() string       { return "status" }

func (c *StatusCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	sess := r.editor.Session()
	if sess == nil {
		fmt.Fprintln(r.out, "No session open - use 'open <file>' to start")
	} else {
		fmt.Fprintf(r.out, "Source:   %s\n", sess.SourceName)
		fmt.Fprintf(r.out, "Scenario: %s\n", r.currentScenario().Label)
		if len(sess.Variants) > 0 {
			fmt.Fprintf(r.out, "Variants: %d (selected: %d)\n",
				len(sess.Variants), sess.SelectedIndex+1)
		} else {
			fmt.Fprintln(r.out, "Variants: none yet")
		}
		fmt.Fprintf(r.out, "History:  %d entries\n", sess.Log.Len())
		fmt.Fprintf(r.out, "Undo:     %v  Redo: %v\n", r.editor.CanUndo(), r.editor.CanRedo())
	}

	used, err := r.storage.UsedBytes(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Storage:  %s of %s used\n",
		humanize.Bytes(uint64(used)), humanize.Bytes(uint64(r.storage.QuotaBytes())))
	return nil
}

// HelpCommand shows available commands
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Aliases() []string   { return []string{"?"} }
func (c *HelpCommand) Description() string { return "Show available commands" }
func (c *HelpCommand) Usage() string       { return "help" }

func (c *HelpCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	commands := []Command{
		&OpenCommand{},
		&ScenarioCommand{},
		&PromptCommand{},
		&TimeCommand{},
		&GenerateCommand{},
		&RefineCommand{},
		&MaskCommand{},
		&SelectCommand{},
		&UndoCommand{},
		&RedoCommand{},
		&HistoryCommand{},
		&RevertCommand{},
		&ClearCommand{},
		&ShowCommand{},
		&ExportCommand{},
		&StatusCommand{},
		&HelpCommand{},
		&QuitCommand{},
	}

	fmt.Fprintln(r.out, "Available commands:")
	fmt.Fprintln(r.out)

	for _, cmd := range commands {
		aliases := ""
		if len(cmd.Aliases()) > 0 {
			aliases = fmt.Sprintf(" (%s)", strings.Join(cmd.Aliases(), ", "))
		}
		fmt.Fprintf(r.out, "  %-12s%s\n", cmd.Name()+aliases, cmd.Description())
		fmt.Fprintf(r.out, "               Usage: %s\n", cmd.Usage())
	}

	return nil
}

// QuitCommand exits the REPL
type QuitCommand struct{}

func (c *QuitCommand) Name() string        { return "quit" }
func (c *QuitCommand) Aliases() []string   { return []string{"exit", "q"} }
func (c *QuitCommand) Description() string { return "Exit interactive mode" }
func (c *QuitCommand) Usage() string       { return "quit" }

func (c *QuitCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Goodbye!")
	r.Stop()
	return nil
}

// showSelected renders the active variant inline when possible; silence
// is fine in plain terminals.
func (r *REPL) showSelected() {
	if !display.IsTerminalSupported() {
		return
	}
	sess := r.editor.Session()
	if sess == nil {
		return
	}
	url, ok := sess.SelectedImage()
	if !ok {
		return
	}
	if err := r.displayer.ShowDataURL(url); err != nil {
		fmt.Fprintf(r.err, "Warning: failed to display: %v\n", err)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen - 3
	// Back up to a rune boundary so a multi-byte character is never split.
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
