package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/refuturo/refuturo/internal/session"
	"github.com/refuturo/refuturo/pkg/models"
)

// storageKey holds the user's custom scenario list, independent of any
// session.
const storageKey = "futureScenarios"

// Defaults returns the built-in scenario catalog.
func Defaults() []models.Scenario {
	return []models.Scenario{
		{
			Label: "Optimistic",
			Value: "optimistic",
			Description: "a hopeful, sustainable future with green infrastructure, " +
				"clean public transit, and thriving street life",
		},
		{
			Label: "Pessimistic",
			Value: "pessimistic",
			Description: "a decayed, neglected future with crumbling infrastructure, " +
				"pollution, and abandoned storefronts",
		},
	}
}

// Catalog manages the scenario list, persisting customizations under a
// dedicated storage key.
type Catalog struct {
	storage   session.Storage
	scenarios []models.Scenario
	log       zerolog.Logger
}

func NewCatalog(storage session.Storage, logger zerolog.Logger) *Catalog {
	return &Catalog{
		storage:   storage,
		scenarios: Defaults(),
		log:       logger.With().Str("component", "scenarios").Logger(),
	}
}

// Load replaces the catalog with the persisted list, falling back to the
// defaults when nothing is stored or the payload is corrupt.
func (c *Catalog) Load(ctx context.Context) error {
	value, ok, err := c.storage.Get(ctx, storageKey)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	var scenarios []models.Scenario
	if err := json.Unmarshal([]byte(value), &scenarios); err != nil {
		c.log.Warn().Err(err).Msg("corrupt scenario list, using defaults")
		return nil
	}
	if len(scenarios) > 0 {
		c.scenarios = scenarios
	}
	return nil
}

// Save persists the given list and makes it the active catalog.
func (c *Catalog) Save(ctx context.Context, scenarios []models.Scenario) error {
	data, err := json.Marshal(scenarios)
	if err != nil {
		return err
	}
	if err := c.storage.Put(ctx, storageKey, string(data)); err != nil {
		return fmt.Errorf("failed to persist scenarios: %w", err)
	}
	c.scenarios = scenarios
	return nil
}

// List returns the active catalog.
func (c *Catalog) List() []models.Scenario {
	return append([]models.Scenario(nil), c.scenarios...)
}

// Find looks a scenario up by its value, case-insensitively.
func (c *Catalog) Find(value string) (models.Scenario, bool) {
	for _, s := range c.scenarios {
		if strings.EqualFold(s.Value, value) {
			return s, true
		}
	}
	return models.Scenario{}, false
}

// Default returns the first scenario in the catalog.
func (c *Catalog) Default() models.Scenario {
	if len(c.scenarios) == 0 {
		return Defaults()[0]
	}
	return c.scenarios[0]
}

// Compose builds the generation prompt from a scenario, the free-text
// prompt, and the configured time travel.
func Compose(scen models.Scenario, customPrompt string, years int, direction string) string {
	when := "years into the future"
	if direction == "past" {
		when = "years into the past"
	}

	text := strings.TrimSpace(customPrompt)
	if text == "" {
		text = scen.Description
	}

	return fmt.Sprintf(
		"Re-imagine this photograph of a city street %d %s, in a %s scenario: %s. "+
			"Keep the camera angle and street layout recognizable.",
		years, when, strings.ToLower(scen.Label), text)
}
