package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/refuturo/refuturo/pkg/models"
)

func newTestSaver(storage Storage) *Saver {
	return NewSaver(storage, zerolog.Nop())
}

// editorWithHistory builds an editor whose session carries one generation
// and extra refinements.
func editorWithHistory(t *testing.T, refinements int) *Editor {
	t.Helper()
	fake := &fakeProvider{refineImg: &models.GeneratedImage{Data: pngBytes(t, 30), MimeType: "image/png"}}
	e := generated(t, fake)
	for i := 0; i < refinements; i++ {
		fake.refineImg = &models.GeneratedImage{Data: pngBytes(t, uint8(40+i)), MimeType: "image/png"}
		if err := e.RefineText(context.Background(), "refinement"); err != nil {
			t.Fatalf("RefineText() error = %v", err)
		}
	}
	return e
}

func TestSaver_SaveLoad_Roundtrip(t *testing.T) {
	ctx := context.Background()
	storage := NewMemStorage(0)
	saver := newTestSaver(storage)

	e := editorWithHistory(t, 2)
	sess := e.Session()
	if err := e.SetPrompt("with neon signs"); err != nil {
		t.Fatal(err)
	}

	if err := saver.Save(ctx, e); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := saver.Load(ctx, sess.Key)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded == nil {
		t.Fatal("Load() = nil, want restored session")
	}

	if loaded.SourceName != sess.SourceName {
		t.Errorf("SourceName = %q, want %q", loaded.SourceName, sess.SourceName)
	}
	if loaded.ScenarioValue != sess.ScenarioValue {
		t.Errorf("ScenarioValue = %q, want %q", loaded.ScenarioValue, sess.ScenarioValue)
	}
	if loaded.PromptText != "with neon signs" {
		t.Errorf("PromptText = %q", loaded.PromptText)
	}
	if loaded.SelectedIndex != sess.SelectedIndex {
		t.Errorf("SelectedIndex = %d, want %d", loaded.SelectedIndex, sess.SelectedIndex)
	}
	if len(loaded.Variants) != len(sess.Variants) {
		t.Errorf("variants = %d, want %d", len(loaded.Variants), len(sess.Variants))
	}

	wantEntries := e.History()
	gotEntries := loaded.Log.Entries()
	if len(gotEntries) != len(wantEntries) {
		t.Fatalf("history = %d entries, want %d", len(gotEntries), len(wantEntries))
	}
	for i := range wantEntries {
		if gotEntries[i].ID != wantEntries[i].ID {
			t.Errorf("entry %d ID = %q, want %q (order must survive)", i, gotEntries[i].ID, wantEntries[i].ID)
		}
		if _, ok := loaded.Log.Snapshot(gotEntries[i].ID); !ok {
			t.Errorf("entry %d lost its snapshot", i)
		}
	}

	// Persisted images are recompressed; they must still be data URLs.
	for i, url := range loaded.Variants {
		if !strings.HasPrefix(url, "data:image/") {
			t.Errorf("variant %d is not a data URL: %.30q", i, url)
		}
	}
}

func TestSaver_Load_Absent(t *testing.T) {
	saver := newTestSaver(NewMemStorage(0))
	sess, err := saver.Load(context.Background(), "history_missing_1_1")
	if err != nil {
		t.Errorf("Load(absent) error = %v, want nil", err)
	}
	if sess != nil {
		t.Error("Load(absent) = session, want nil")
	}
}

func TestSaver_Load_Corrupt(t *testing.T) {
	ctx := context.Background()
	storage := NewMemStorage(0)
	storage.Put(ctx, "k", "{not valid json")

	saver := newTestSaver(storage)
	if _, err := saver.Load(ctx, "k"); err == nil {
		t.Error("Load(corrupt) error = nil, want error")
	}
}

func TestSaver_Load_VersionMismatch(t *testing.T) {
	ctx := context.Background()
	storage := NewMemStorage(0)

	env := persistedSession{Version: 99}
	data, _ := json.Marshal(&env)
	storage.Put(ctx, "k", string(data))

	saver := newTestSaver(storage)
	if _, err := saver.Load(ctx, "k"); err == nil {
		t.Error("Load(wrong version) error = nil, want error")
	}
}

func TestSaver_Load_MissingSnapshot(t *testing.T) {
	ctx := context.Background()
	storage := NewMemStorage(0)

	env := persistedSession{
		Version: schemaVersion,
		HistoryLog: []models.HistoryEntry{
			{ID: "orphan", Kind: models.KindInitial},
		},
		SnapshotStore: map[string][]string{},
	}
	data, _ := json.Marshal(&env)
	storage.Put(ctx, "k", string(data))

	saver := newTestSaver(storage)
	if _, err := saver.Load(ctx, "k"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("Load(orphan entry) = %v, want ErrSnapshotNotFound", err)
	}
}

func TestSaver_Load_ClampsSelection(t *testing.T) {
	ctx := context.Background()
	storage := NewMemStorage(0)

	env := persistedSession{
		Version:         schemaVersion,
		SourceName:      "street.png",
		VariantDataURLs: []string{"data:image/png;base64,AA=="},
		SelectedIndex:   7,
		SnapshotStore:   map[string][]string{},
	}
	data, _ := json.Marshal(&env)
	storage.Put(ctx, "k", string(data))

	saver := newTestSaver(storage)
	sess, err := saver.Load(ctx, "k")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if sess.SelectedIndex != 0 {
		t.Errorf("SelectedIndex = %d, want clamped to 0", sess.SelectedIndex)
	}
}

func TestSaver_Save_PrunesOnQuota(t *testing.T) {
	ctx := context.Background()

	// Measure the full payload, then replay into a storage one byte too
	// small, forcing the prune-retry loop.
	e := editorWithHistory(t, 3)
	key := e.Session().Key
	entriesBefore := len(e.History())

	big := NewMemStorage(0)
	if err := newTestSaver(big).Save(ctx, e); err != nil {
		t.Fatalf("Save() into large storage error = %v", err)
	}
	full, ok, _ := big.Get(ctx, key)
	if !ok {
		t.Fatal("payload missing after save")
	}

	small := NewMemStorage(int64(len(full) - 1))
	if err := newTestSaver(small).Save(ctx, e); err != nil {
		t.Fatalf("Save() into tight storage error = %v", err)
	}

	// Something was written and the oldest entries were shed.
	stored, ok, _ := small.Get(ctx, key)
	if !ok {
		t.Fatal("payload missing after pruned save")
	}
	if int64(len(stored)) > small.QuotaBytes() {
		t.Errorf("stored %d bytes, over the %d quota", len(stored), small.QuotaBytes())
	}

	entriesAfter := len(e.History())
	if entriesAfter >= entriesBefore {
		t.Errorf("history = %d entries, want fewer than %d (pruning mirrored in memory)", entriesAfter, entriesBefore)
	}

	// The pruned payload must load cleanly and agree with memory.
	loaded, err := newTestSaver(small).Load(ctx, key)
	if err != nil {
		t.Fatalf("Load() after prune error = %v", err)
	}
	if loaded.Log.Len() != entriesAfter {
		t.Errorf("loaded history = %d entries, want %d", loaded.Log.Len(), entriesAfter)
	}
}

func TestSaver_Save_FailsWhenNothingFits(t *testing.T) {
	ctx := context.Background()
	e := editorWithHistory(t, 1)

	tiny := NewMemStorage(16)
	err := newTestSaver(tiny).Save(ctx, e)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("Save() into tiny storage = %v, want ErrQuotaExceeded", err)
	}
}

func TestSaver_Save_NoSession(t *testing.T) {
	e := NewEditor(&fakeProvider{}, zerolog.Nop())
	if err := newTestSaver(NewMemStorage(0)).Save(context.Background(), e); err != nil {
		t.Errorf("Save() with no session = %v, want nil no-op", err)
	}
}

func TestSaver_ScheduleDebounces(t *testing.T) {
	ctx := context.Background()
	storage := NewMemStorage(0)
	saver := newTestSaver(storage)
	saver.delay = 20 * time.Millisecond

	e := editorWithHistory(t, 0)
	key := e.Session().Key

	saver.Schedule(e)
	saver.Schedule(e) // re-arm; only one save should land

	if _, ok, _ := storage.Get(ctx, key); ok {
		t.Error("save fired before the debounce delay")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok, _ := storage.Get(ctx, key); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("debounced save never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSaver_FlushSavesImmediately(t *testing.T) {
	ctx := context.Background()
	storage := NewMemStorage(0)
	saver := newTestSaver(storage)

	e := editorWithHistory(t, 0)
	saver.Schedule(e)

	if err := saver.Flush(ctx, e); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if _, ok, _ := storage.Get(ctx, e.Session().Key); !ok {
		t.Error("Flush() did not persist the session")
	}
}
