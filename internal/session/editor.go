package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/refuturo/refuturo/internal/imaging"
	"github.com/refuturo/refuturo/internal/provider"
	"github.com/refuturo/refuturo/pkg/models"
)

var (
	ErrNoSession        = errors.New("no session open")
	ErrNothingToUndo    = errors.New("nothing to undo for the selected variant")
	ErrNothingToRedo    = errors.New("nothing to redo for the selected variant")
	ErrInvalidSelection = errors.New("variant index out of range")
)

// PromptFunc builds the text sent to the generation backend from the
// scenario and the optional free-text prompt.
type PromptFunc func(scen models.Scenario, customPrompt string) string

func defaultPrompt(scen models.Scenario, customPrompt string) string {
	text := customPrompt
	if strings.TrimSpace(text) == "" {
		text = scen.Description
	}
	return fmt.Sprintf("%s. %s", scen.Label, text)
}

// Editor drives every state transition of the open session: generation,
// refinement, undo/redo, history revert. Each mutating operation stages
// its full result first and commits in one step, so a failure anywhere
// leaves the session exactly as it was.
type Editor struct {
	mu       sync.Mutex
	provider provider.Provider
	sess     *Session
	undo     *Checkpoint
	redo     *Checkpoint
	compose  PromptFunc
	onCommit func()
	log      zerolog.Logger
}

func NewEditor(p provider.Provider, logger zerolog.Logger) *Editor {
	return &Editor{
		provider: p,
		compose:  defaultPrompt,
		log:      logger.With().Str("component", "editor").Logger(),
	}
}

// SetPromptFunc overrides how generation prompts are composed.
func (e *Editor) SetPromptFunc(f PromptFunc) {
	if f != nil {
		e.compose = f
	}
}

// SetOnCommit registers a callback invoked after every committed state
// change. The persistence manager hooks its debounced save here.
func (e *Editor) SetOnCommit(f func()) {
	e.onCommit = f
}

// Open attaches a session, replacing any previous one. The undo and redo
// registers are ephemeral and never survive a session switch.
func (e *Editor) Open(sess *Session) {
	e.mu.Lock()
	e.sess = sess
	e.undo = nil
	e.redo = nil
	e.mu.Unlock()
}

// Session returns the currently open session.
func (e *Editor) Session() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess
}

func (e *Editor) HasSession() bool {
	return e.Session() != nil
}

func (e *Editor) notify() {
	if e.onCommit != nil {
		e.onCommit()
	}
}

// Generate replaces the whole variant set with count fresh images for the
// scenario. Partial success is accepted: the call succeeds with whichever
// subset of the parallel generations came back. Both registers are
// cleared; a fresh generation invalidates finer-grained edit state.
func (e *Editor) Generate(ctx context.Context, scen models.Scenario, customPrompt string, count int) error {
	e.mu.Lock()
	sess := e.sess
	e.mu.Unlock()
	if sess == nil {
		return ErrNoSession
	}
	if sess.SourceURL == "" {
		return models.ErrNoSourceImage
	}
	if strings.TrimSpace(scen.Description) == "" && strings.TrimSpace(customPrompt) == "" {
		return models.ErrMissingPrompt
	}
	if count < 1 {
		return models.ErrInvalidCount
	}
	if count > models.MaxVariants {
		return models.ErrCountExceedsMax
	}

	data, mimeType, err := imaging.DecodeDataURL(sess.SourceURL)
	if err != nil {
		return fmt.Errorf("failed to decode source image: %w", err)
	}

	req := &models.GenerateRequest{
		Image:    data,
		MimeType: mimeType,
		Prompt:   e.compose(scen, customPrompt),
		Count:    count,
	}

	resp, err := e.provider.GenerateVariants(ctx, req)
	if err != nil {
		return err
	}
	if len(resp.Images) == 0 {
		return provider.NewError(provider.ReasonGenerationRefused, "", provider.ErrNoImages)
	}

	urls := make([]string, 0, len(resp.Images))
	for _, img := range resp.Images {
		urls = append(urls, imaging.EncodeDataURL(img.Data, img.MimeType))
	}

	thumb, err := imaging.Thumbnail(resp.Images[0].Data)
	if err != nil {
		return fmt.Errorf("failed to build history thumbnail: %w", err)
	}

	entry := models.HistoryEntry{
		ID:                 uuid.New().String(),
		Timestamp:          time.Now(),
		Kind:               models.KindInitial,
		Prompt:             historyPrompt(scen, customPrompt),
		ThumbnailURL:       thumb,
		ActiveVariantIndex: 0,
	}

	e.mu.Lock()
	sess.Variants = urls
	sess.SelectedIndex = 0
	e.undo = nil
	e.redo = nil
	sess.Log.Append(entry, urls)
	e.mu.Unlock()

	e.log.Info().Int("requested", count).Int("received", len(urls)).Msg("generation committed")
	e.notify()
	return nil
}

// RefineText replaces the selected variant slot with a text-guided edit of
// its current image. The displaced image is recorded in the undo register;
// the redo register is cleared because a new edit invalidates the redo path.
func (e *Editor) RefineText(ctx context.Context, modificationPrompt string) error {
	return e.refine(ctx, modificationPrompt, nil)
}

// RefineMask is RefineText constrained to a painted region. The mask is
// produced elsewhere and opaque here.
func (e *Editor) RefineMask(ctx context.Context, mask []byte, prompt string) error {
	if len(mask) == 0 {
		return models.ErrNoMaskImage
	}
	return e.refine(ctx, prompt, mask)
}

func (e *Editor) refine(ctx context.Context, prompt string, mask []byte) error {
	e.mu.Lock()
	sess := e.sess
	var selectedURL string
	var selectedIndex int
	var ok bool
	if sess != nil {
		selectedURL, ok = sess.SelectedImage()
		selectedIndex = sess.SelectedIndex
	}
	e.mu.Unlock()

	if sess == nil {
		return ErrNoSession
	}
	if !ok {
		return models.ErrNoVariantSelected
	}
	if strings.TrimSpace(prompt) == "" {
		return models.ErrMissingModification
	}

	data, mimeType, err := imaging.DecodeDataURL(selectedURL)
	if err != nil {
		return fmt.Errorf("failed to decode selected variant: %w", err)
	}

	var img *models.GeneratedImage
	kind := models.KindRefinement
	if mask != nil {
		kind = models.KindMaskEdit
		img, err = e.provider.RefineWithMask(ctx, &models.MaskRequest{
			Image:    data,
			MimeType: mimeType,
			Mask:     mask,
			Prompt:   prompt,
		})
	} else {
		img, err = e.provider.RefineWithPrompt(ctx, &models.RefineRequest{
			Image:    data,
			MimeType: mimeType,
			Prompt:   prompt,
		})
	}
	if err != nil {
		return err
	}

	newURL := imaging.EncodeDataURL(img.Data, img.MimeType)
	thumb, err := imaging.Thumbnail(img.Data)
	if err != nil {
		return fmt.Errorf("failed to build history thumbnail: %w", err)
	}

	entry := models.HistoryEntry{
		ID:                 uuid.New().String(),
		Timestamp:          time.Now(),
		Kind:               kind,
		Prompt:             prompt,
		ThumbnailURL:       thumb,
		ActiveVariantIndex: selectedIndex,
	}

	e.mu.Lock()
	// The selection may only have been moved by this same goroutine, but
	// re-check against the staged index before committing.
	if selectedIndex >= len(sess.Variants) {
		e.mu.Unlock()
		return ErrInvalidSelection
	}
	displaced := sess.Variants[selectedIndex]
	sess.Variants[selectedIndex] = newURL
	e.undo = &Checkpoint{ImageURL: displaced, Index: selectedIndex}
	e.redo = nil
	sess.Log.Append(entry, sess.Variants)
	e.mu.Unlock()

	e.log.Info().Str("kind", kind.String()).Int("slot", selectedIndex).Msg("refinement committed")
	e.notify()
	return nil
}

// CanUndo reports whether the undo register targets the selected slot.
// Moving the selection to another slot hides undo without clearing it.
func (e *Editor) CanUndo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess != nil && e.undo != nil && e.undo.Index == e.sess.SelectedIndex
}

func (e *Editor) CanRedo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess != nil && e.redo != nil && e.redo.Index == e.sess.SelectedIndex
}

// Undo swaps the undo register's image back into its slot and moves the
// displaced image to the redo register. History is untouched: undo/redo is
// an ephemeral single-level facility layered on top of the log.
func (e *Editor) Undo() error {
	e.mu.Lock()
	if e.sess == nil {
		e.mu.Unlock()
		return ErrNoSession
	}
	if e.undo == nil || e.undo.Index != e.sess.SelectedIndex || e.undo.Index >= len(e.sess.Variants) {
		e.mu.Unlock()
		return ErrNothingToUndo
	}

	displaced := e.sess.Variants[e.undo.Index]
	e.sess.Variants[e.undo.Index] = e.undo.ImageURL
	e.redo = &Checkpoint{ImageURL: displaced, Index: e.undo.Index}
	e.undo = nil
	e.mu.Unlock()

	e.notify()
	return nil
}

// Redo reapplies the image displaced by the last Undo.
func (e *Editor) Redo() error {
	e.mu.Lock()
	if e.sess == nil {
		e.mu.Unlock()
		return ErrNoSession
	}
	if e.redo == nil || e.redo.Index != e.sess.SelectedIndex || e.redo.Index >= len(e.sess.Variants) {
		e.mu.Unlock()
		return ErrNothingToRedo
	}

	displaced := e.sess.Variants[e.redo.Index]
	e.sess.Variants[e.redo.Index] = e.redo.ImageURL
	e.undo = &Checkpoint{ImageURL: displaced, Index: e.redo.Index}
	e.redo = nil
	e.mu.Unlock()

	e.notify()
	return nil
}

// Select changes which variant slot is viewed. It does not clear the
// registers; undo/redo for other slots merely become unavailable.
func (e *Editor) Select(index int) error {
	e.mu.Lock()
	if e.sess == nil {
		e.mu.Unlock()
		return ErrNoSession
	}
	if index < 0 || index >= len(e.sess.Variants) {
		e.mu.Unlock()
		return ErrInvalidSelection
	}
	e.sess.SelectedIndex = index
	e.mu.Unlock()

	e.notify()
	return nil
}

// RevertTo restores the variant set recorded for a history entry. The
// revert is all-or-nothing: a missing snapshot leaves the session as it
// was. On success both registers are cleared.
func (e *Editor) RevertTo(entryID string) error {
	e.mu.Lock()
	if e.sess == nil {
		e.mu.Unlock()
		return ErrNoSession
	}

	entry, ok := e.sess.Log.Entry(entryID)
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	snapshot, ok := e.sess.Log.Snapshot(entryID)
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, entryID)
	}

	e.sess.Variants = snapshot
	e.sess.SelectedIndex = entry.ActiveVariantIndex
	if e.sess.SelectedIndex >= len(snapshot) {
		e.sess.SelectedIndex = 0
	}
	e.undo = nil
	e.redo = nil
	e.mu.Unlock()

	e.notify()
	return nil
}

// ClearHistory empties the history log and snapshot store together.
func (e *Editor) ClearHistory() error {
	e.mu.Lock()
	if e.sess == nil {
		e.mu.Unlock()
		return ErrNoSession
	}
	e.sess.Log.Clear()
	e.mu.Unlock()

	e.notify()
	return nil
}

// History returns the log entries most-recent-first.
func (e *Editor) History() []models.HistoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return nil
	}
	return e.sess.Log.Entries()
}

// SetScenario records the selected scenario value.
func (e *Editor) SetScenario(value string) error {
	e.mu.Lock()
	if e.sess == nil {
		e.mu.Unlock()
		return ErrNoSession
	}
	e.sess.ScenarioValue = value
	e.mu.Unlock()

	e.notify()
	return nil
}

// SetPrompt records the free-text custom prompt.
func (e *Editor) SetPrompt(text string) error {
	e.mu.Lock()
	if e.sess == nil {
		e.mu.Unlock()
		return ErrNoSession
	}
	e.sess.PromptText = text
	e.mu.Unlock()

	e.notify()
	return nil
}

// persistedCopy builds the serialization envelope from the live aggregate.
// Images are copied as-is; the persistence manager compresses them before
// writing.
func (e *Editor) persistedCopy() (*persistedSession, string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return nil, "", false
	}

	snapshots := make(map[string][]string)
	for _, id := range e.sess.Log.SnapshotIDs() {
		snap, _ := e.sess.Log.Snapshot(id)
		snapshots[id] = snap
	}

	return &persistedSession{
		Version:            schemaVersion,
		SourceName:         e.sess.SourceName,
		SourceImageDataURL: e.sess.SourceURL,
		VariantDataURLs:    append([]string(nil), e.sess.Variants...),
		SelectedIndex:      e.sess.SelectedIndex,
		ScenarioID:         e.sess.ScenarioValue,
		PromptText:         e.sess.PromptText,
		HistoryLog:         e.sess.Log.Entries(),
		SnapshotStore:      snapshots,
	}, e.sess.Key, true
}

// applyPrune mirrors entries dropped during a persistence attempt back
// into the in-memory log, so memory and storage never diverge.
func (e *Editor) applyPrune(ids []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != nil {
		e.sess.Log.Remove(ids)
	}
}

func historyPrompt(scen models.Scenario, customPrompt string) string {
	text := customPrompt
	if strings.TrimSpace(text) == "" {
		text = scen.Description
	}
	return fmt.Sprintf("Scenario: %s. %s", scen.Label, text)
}
