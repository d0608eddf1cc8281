package prefs

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/refuturo/refuturo/internal/session"
	"github.com/refuturo/refuturo/pkg/models"
)

const storageKey = "appPreferences"

const (
	DirectionFuture = "future"
	DirectionPast   = "past"
)

// Preferences are the simple app settings persisted independently of any
// session.
type Preferences struct {
	GenerationCount int    `json:"generationCount"`
	DevMode         bool   `json:"devMode"`
	Language        string `json:"language"`
	TimeDirection   string `json:"timeDirection"`
	TimeMagnitude   int    `json:"timeMagnitude"`
}

func Default() Preferences {
	return Preferences{
		GenerationCount: 3,
		Language:        "en",
		TimeDirection:   DirectionFuture,
		TimeMagnitude:   25,
	}
}

// Normalize clamps out-of-range values back to usable ones.
func (p *Preferences) Normalize() {
	if p.GenerationCount < 1 || p.GenerationCount > models.MaxVariants {
		p.GenerationCount = Default().GenerationCount
	}
	if p.TimeDirection != DirectionFuture && p.TimeDirection != DirectionPast {
		p.TimeDirection = DirectionFuture
	}
	if p.TimeMagnitude < 1 {
		p.TimeMagnitude = Default().TimeMagnitude
	}
	if p.Language == "" {
		p.Language = Default().Language
	}
}

// Store persists preferences in the shared key-value storage.
type Store struct {
	storage session.Storage
	log     zerolog.Logger
}

func NewStore(storage session.Storage, logger zerolog.Logger) *Store {
	return &Store{
		storage: storage,
		log:     logger.With().Str("component", "prefs").Logger(),
	}
}

// Load returns the persisted preferences, or the defaults when nothing is
// stored or the payload is corrupt.
func (s *Store) Load(ctx context.Context) (Preferences, error) {
	value, ok, err := s.storage.Get(ctx, storageKey)
	if err != nil {
		return Default(), err
	}
	if !ok {
		return Default(), nil
	}

	var p Preferences
	if err := json.Unmarshal([]byte(value), &p); err != nil {
		s.log.Warn().Err(err).Msg("corrupt preferences, using defaults")
		return Default(), nil
	}
	p.Normalize()
	return p, nil
}

func (s *Store) Save(ctx context.Context, p Preferences) error {
	p.Normalize()
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.storage.Put(ctx, storageKey, string(data))
}
