package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/refuturo/refuturo/internal/imaging"
)

// debounceDelay coalesces rapid successive state changes into one write.
const debounceDelay = time.Second

// Saver mirrors the in-memory session into quota-limited storage. Saves
// are debounced and best-effort: a write that still fails after pruning
// the whole history is logged, and the in-memory session stays
// authoritative.
type Saver struct {
	mu      sync.Mutex
	storage Storage
	delay   time.Duration
	timer   *time.Timer
	cache   *cache.Cache
	log     zerolog.Logger
}

func NewSaver(storage Storage, logger zerolog.Logger) *Saver {
	return &Saver{
		storage: storage,
		delay:   debounceDelay,
		cache:   cache.New(10*time.Minute, 15*time.Minute),
		log:     logger.With().Str("component", "saver").Logger(),
	}
}

// Schedule arms the debounce timer; the save fires after the delay unless
// another change re-arms it first.
func (s *Saver) Schedule(e *Editor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.delay, func() {
		// Errors are already logged inside Save; persistence never
		// surfaces to the user.
		_ = s.Save(context.Background(), e)
	})
}

// Flush cancels any pending debounce and saves immediately.
func (s *Saver) Flush(ctx context.Context, e *Editor) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	return s.Save(ctx, e)
}

// Save serializes the aggregate and writes it under the session key. On a
// quota failure it prunes the oldest history entry plus its snapshot and
// retries; each retry strictly shrinks the payload, so the loop terminates
// after at most len(historyLog)+1 attempts. Pruning that actually happened
// is applied back to the in-memory log.
func (s *Saver) Save(ctx context.Context, e *Editor) error {
	env, key, ok := e.persistedCopy()
	if !ok {
		return nil
	}

	s.compressEnvelope(env)

	var pruned []string
	for {
		data, err := json.Marshal(env)
		if err != nil {
			s.log.Error().Err(err).Msg("failed to serialize session")
			return err
		}

		err = s.storage.Put(ctx, key, string(data))
		if err == nil {
			break
		}
		if !errors.Is(err, ErrQuotaExceeded) {
			s.log.Error().Err(err).Str("key", key).Msg("failed to persist session")
			return err
		}
		if len(env.HistoryLog) == 0 {
			s.log.Error().Err(err).Str("key", key).
				Msg("session does not fit in storage even with empty history")
			return err
		}

		oldest := env.HistoryLog[len(env.HistoryLog)-1]
		env.HistoryLog = env.HistoryLog[:len(env.HistoryLog)-1]
		delete(env.SnapshotStore, oldest.ID)
		pruned = append(pruned, oldest.ID)
		s.log.Warn().Str("entry", oldest.ID).Msg("storage quota exceeded, pruned oldest history entry")
	}

	if len(pruned) > 0 {
		e.applyPrune(pruned)
	}

	s.log.Debug().Str("key", key).Int("history", len(env.HistoryLog)).Msg("session persisted")
	return nil
}

// compressEnvelope re-encodes every image in the envelope to the bounded
// persistence size. Compression is best-effort per image; a failure keeps
// the original data URL. Results are cached so unchanged variants are not
// recompressed on every debounced save.
func (s *Saver) compressEnvelope(env *persistedSession) {
	env.SourceImageDataURL = s.compressed(env.SourceImageDataURL)
	for i, url := range env.VariantDataURLs {
		env.VariantDataURLs[i] = s.compressed(url)
	}
	for id, snap := range env.SnapshotStore {
		out := make([]string, len(snap))
		for i, url := range snap {
			out[i] = s.compressed(url)
		}
		env.SnapshotStore[id] = out
	}
}

func (s *Saver) compressed(url string) string {
	if url == "" {
		return url
	}
	if v, ok := s.cache.Get(url); ok {
		return v.(string)
	}
	out, err := imaging.CompressDataURL(url, imaging.CompressWidth, imaging.CompressQuality)
	if err != nil {
		s.log.Debug().Err(err).Msg("image compression failed, persisting original")
		return url
	}
	s.cache.SetDefault(url, out)
	return out
}

// Load restores a persisted session, or returns (nil, nil) when no state
// exists for the key. A corrupt or incompatible payload is an error; the
// caller logs it and bootstraps a fresh session instead of crashing.
func (s *Saver) Load(ctx context.Context, key string) (*Session, error) {
	value, ok, err := s.storage.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var env persistedSession
	if err := json.Unmarshal([]byte(value), &env); err != nil {
		return nil, fmt.Errorf("corrupt session data: %w", err)
	}
	if env.Version != schemaVersion {
		return nil, fmt.Errorf("unsupported session schema version %d", env.Version)
	}

	log := NewHistoryLog()
	for i := len(env.HistoryLog) - 1; i >= 0; i-- {
		entry := env.HistoryLog[i]
		snap, ok := env.SnapshotStore[entry.ID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, entry.ID)
		}
		log.Append(entry, snap)
	}

	sess := &Session{
		Key:           key,
		SourceName:    env.SourceName,
		SourceURL:     env.SourceImageDataURL,
		Variants:      env.VariantDataURLs,
		SelectedIndex: env.SelectedIndex,
		ScenarioValue: env.ScenarioID,
		PromptText:    env.PromptText,
		Log:           log,
	}
	if sess.SelectedIndex < 0 || sess.SelectedIndex >= len(sess.Variants) {
		sess.SelectedIndex = 0
	}

	s.log.Debug().Str("key", key).Int("history", log.Len()).Msg("session restored")
	return sess, nil
}
