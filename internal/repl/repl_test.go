package repl

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/refuturo/refuturo/internal/display"
	"github.com/refuturo/refuturo/internal/prefs"
	"github.com/refuturo/refuturo/internal/provider"
	"github.com/refuturo/refuturo/internal/scenario"
	"github.com/refuturo/refuturo/internal/session"
)

func writeTestPhoto(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "street.png")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

type testREPL struct {
	repl    *REPL
	out     *bytes.Buffer
	errOut  *bytes.Buffer
	storage session.Storage
	editor  *session.Editor
}

// newTestREPL wires a REPL over the offline provider and in-memory
// storage, fed by a scripted command sequence.
func newTestREPL(t *testing.T, script string) *testREPL {
	t.Helper()

	logger := zerolog.Nop()
	storage := session.NewMemStorage(0)
	editor := session.NewEditor(provider.NewDev(), logger)
	saver := session.NewSaver(storage, logger)
	editor.SetOnCommit(func() { saver.Schedule(editor) })

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}

	r := New(&Config{
		In:        strings.NewReader(script),
		Out:       out,
		Err:       errOut,
		Editor:    editor,
		Saver:     saver,
		Storage:   storage,
		Catalog:   scenario.NewCatalog(storage, logger),
		PrefStore: prefs.NewStore(storage, logger),
		Prefs:     prefs.Default(),
		Displayer: display.New(out),
	})

	return &testREPL{repl: r, out: out, errOut: errOut, storage: storage, editor: editor}
}

func (tr *testREPL) run(t *testing.T) {
	t.Helper()
	if err := tr.repl.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"generate 2", []string{"generate", "2"}},
		{`refine "add more trees"`, []string{"refine", "add more trees"}},
		{"open 'my photo.png'", []string{"open", "my photo.png"}},
		{"  undo  ", []string{"undo"}},
		{"", nil},
	}

	for _, tt := range tests {
		got := parseCommand(tt.input)
		if len(got) != len(tt.want) {
			t.Errorf("parseCommand(%q) = %v, want %v", tt.input, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("parseCommand(%q)[%d] = %q, want %q", tt.input, i, got[i], tt.want[i])
			}
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"a longer prompt text", 10, "a longe..."},
		// Cutting mid-rune must back up to the previous boundary.
		{strings.Repeat("日", 10), 10, "日日..."},
		{"café café café", 7, "caf..."},
	}

	for _, tt := range tests {
		got := truncate(tt.input, tt.maxLen)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) = %q, not valid UTF-8", tt.input, tt.maxLen, got)
		}
	}
}

func TestREPL_UnknownCommand(t *testing.T) {
	tr := newTestREPL(t, "frobnicate\nquit\n")
	tr.run(t)

	if !strings.Contains(tr.errOut.String(), "unknown command: frobnicate") {
		t.Errorf("stderr = %q, want unknown-command error", tr.errOut.String())
	}
}

func TestREPL_CommandsRequireSession(t *testing.T) {
	tr := newTestREPL(t, "generate\nquit\n")
	tr.run(t)

	if !strings.Contains(tr.errOut.String(), "no session open") {
		t.Errorf("stderr = %q, want no-session error", tr.errOut.String())
	}
}

func TestREPL_FullFlow(t *testing.T) {
	t.Chdir(t.TempDir())
	photo := writeTestPhoto(t)

	script := strings.Join([]string{
		"open " + photo,
		"scenario pessimistic",
		"prompt with abandoned trams",
		"generate 2",
		"select 2",
		"refine remove the cars",
		"undo",
		"redo",
		"history",
		"status",
		"export out.png",
		"quit",
	}, "\n") + "\n"

	tr := newTestREPL(t, script)
	tr.run(t)

	out := tr.out.String()
	if tr.errOut.Len() != 0 {
		t.Errorf("unexpected errors: %q", tr.errOut.String())
	}

	for _, want := range []string{
		"Opened street.png",
		"Scenario set to: Pessimistic",
		"Custom prompt set: with abandoned trams",
		"Generated 2 variant(s)",
		"Selected variant 2",
		"Variant refined",
		"Undone",
		"Redone",
		"Saved: out.png",
		"Goodbye!",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}

	// History shows the generation and the refinement.
	if !strings.Contains(out, "generation") || !strings.Contains(out, "text refinement") {
		t.Error("history output should list both entry kinds")
	}

	// Status reports storage usage.
	if !strings.Contains(out, "Storage:") {
		t.Error("status output should report storage usage")
	}

	if _, err := os.Stat("out.png"); err != nil {
		t.Errorf("exported file missing: %v", err)
	}
}

func TestREPL_SessionPersistsAcrossRuns(t *testing.T) {
	photo := writeTestPhoto(t)

	tr := newTestREPL(t, "open "+photo+"\ngenerate 1\nquit\n")
	tr.run(t)
	if tr.errOut.Len() != 0 {
		t.Fatalf("first run errors: %q", tr.errOut.String())
	}

	// Second REPL over the same storage restores the session on open.
	logger := zerolog.Nop()
	editor := session.NewEditor(provider.NewDev(), logger)
	saver := session.NewSaver(tr.storage, logger)
	out := &bytes.Buffer{}
	r2 := New(&Config{
		In:        strings.NewReader("open " + photo + "\nquit\n"),
		Out:       out,
		Err:       &bytes.Buffer{},
		Editor:    editor,
		Saver:     saver,
		Storage:   tr.storage,
		Catalog:   scenario.NewCatalog(tr.storage, logger),
		PrefStore: prefs.NewStore(tr.storage, logger),
		Prefs:     prefs.Default(),
		Displayer: display.New(out),
	})
	if err := r2.Run(context.Background()); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	if !strings.Contains(out.String(), "restored session with 1 history entries") {
		t.Errorf("output = %q, want session restored", out.String())
	}
}

func TestREPL_TimeCommand(t *testing.T) {
	tr := newTestREPL(t, "time past 50\ntime\nquit\n")
	tr.run(t)

	if !strings.Contains(tr.out.String(), "50 years into the past") {
		t.Errorf("output = %q, want updated time travel", tr.out.String())
	}
	if tr.repl.prefs.TimeDirection != prefs.DirectionPast || tr.repl.prefs.TimeMagnitude != 50 {
		t.Errorf("prefs = %+v, want past/50", tr.repl.prefs)
	}

	// The change is persisted for the next run.
	saved, err := prefs.NewStore(tr.storage, zerolog.Nop()).Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if saved.TimeDirection != prefs.DirectionPast || saved.TimeMagnitude != 50 {
		t.Errorf("persisted prefs = %+v, want past/50", saved)
	}
}

func TestREPL_ScenarioAdd(t *testing.T) {
	tr := newTestREPL(t, "scenario add solarpunk Lush greenery woven into the streetscape\nscenario\nquit\n")
	tr.run(t)

	if tr.errOut.Len() != 0 {
		t.Fatalf("unexpected errors: %q", tr.errOut.String())
	}
	if !strings.Contains(tr.out.String(), "Added scenario: solarpunk") {
		t.Errorf("output = %q, want add confirmation", tr.out.String())
	}
	if _, ok := tr.repl.catalog.Find("solarpunk"); !ok {
		t.Error("catalog should contain the new scenario")
	}

	// The custom scenario survives a catalog reload from storage.
	fresh := scenario.NewCatalog(tr.storage, zerolog.Nop())
	if err := fresh.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	scen, ok := fresh.Find("solarpunk")
	if !ok {
		t.Fatal("reloaded catalog missing the new scenario")
	}
	if scen.Description != "Lush greenery woven into the streetscape" {
		t.Errorf("Description = %q", scen.Description)
	}
}

func TestREPL_UndoWithoutRefinement(t *testing.T) {
	photo := writeTestPhoto(t)
	tr := newTestREPL(t, "open "+photo+"\ngenerate 1\nundo\nquit\n")
	tr.run(t)

	if !strings.Contains(tr.errOut.String(), "nothing to undo") {
		t.Errorf("stderr = %q, want nothing-to-undo error", tr.errOut.String())
	}
}

func TestREPL_ExportRejectsTraversal(t *testing.T) {
	photo := writeTestPhoto(t)
	tr := newTestREPL(t, "open "+photo+"\ngenerate 1\nexport ../escape.png\nquit\n")
	tr.run(t)

	if !strings.Contains(tr.errOut.String(), "invalid save path") {
		t.Errorf("stderr = %q, want invalid-save-path error", tr.errOut.String())
	}
}

func TestREPL_RevertByNumber(t *testing.T) {
	photo := writeTestPhoto(t)
	script := strings.Join([]string{
		"open " + photo,
		"generate 1",
		"refine add trams",
		"revert 2", // the generation entry (most recent first)
		"quit",
	}, "\n") + "\n"

	tr := newTestREPL(t, script)
	tr.run(t)

	if tr.errOut.Len() != 0 {
		t.Errorf("unexpected errors: %q", tr.errOut.String())
	}
	if !strings.Contains(tr.out.String(), "Reverted") {
		t.Error("output should confirm the revert")
	}
	// Revert clears the registers, so undo is refused afterwards.
	if tr.editor.CanUndo() {
		t.Error("undo register should be empty after revert")
	}
}
