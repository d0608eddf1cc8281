// Package keys stores API keys in a keys.json under the platform config
// directory, readable only by the owner.
package keys

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

type Store struct {
	configDir string
}

func NewStore() (*Store, error) {
	dir, err := configDir()
	if err != nil {
		return nil, err
	}
	return &Store{configDir: dir}, nil
}

func configDir() (string, error) {
	// Test override.
	if dir := os.Getenv("REFUTURO_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "refuturo"), nil
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "refuturo"), nil
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "refuturo"), nil
	default:
		// Follow XDG Base Directory Specification
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			configHome = filepath.Join(home, ".config")
		}
		return filepath.Join(configHome, "refuturo"), nil
	}
}

// Path returns the location of the keys.json file.
func (s *Store) Path() string {
	return filepath.Join(s.configDir, "keys.json")
}

func (s *Store) load() (map[string]string, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}

	var stored map[string]string
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse keys.json: %w", err)
	}
	return stored, nil
}

func (s *Store) save(stored map[string]string) error {
	if err := os.MkdirAll(s.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}

	// Owner read/write only.
	if err := os.WriteFile(s.Path(), data, 0600); err != nil {
		return fmt.Errorf("failed to write keys.json: %w", err)
	}
	return nil
}

// Set stores the key for a provider.
func (s *Store) Set(provider, key string) error {
	stored, err := s.load()
	if err != nil {
		return err
	}
	stored[provider] = key
	return s.save(stored)
}

// Get returns the key for a provider, or "" when none is stored.
func (s *Store) Get(provider string) (string, error) {
	stored, err := s.load()
	if err != nil {
		return "", err
	}
	return stored[provider], nil
}

// Delete removes the key for a provider.
func (s *Store) Delete(provider string) error {
	stored, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := stored[provider]; !ok {
		return fmt.Errorf("no key found for %s", provider)
	}
	delete(stored, provider)
	return s.save(stored)
}

// Exists reports whether a key is stored for a provider.
func (s *Store) Exists(provider string) (bool, error) {
	stored, err := s.load()
	if err != nil {
		return false, err
	}
	_, ok := stored[provider]
	return ok, nil
}

// MaskKey hides the middle of a key for display.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

// GetAPIKey resolves the key to use: an explicit flag value wins, then
// the stored key, then the environment variable. The second return value
// names the source for logging.
func GetAPIKey(explicitKey, provider, envVar string) (string, string, error) {
	if explicitKey != "" {
		return explicitKey, "command-line flag", nil
	}

	if store, err := NewStore(); err == nil {
		if stored, err := store.Get(provider); err == nil && stored != "" {
			return stored, "stored key (keys.json)", nil
		}
	}

	if envKey := os.Getenv(envVar); envKey != "" {
		return envKey, fmt.Sprintf("environment variable (%s)", envVar), nil
	}

	return "", "", fmt.Errorf("API key required: run 'refuturo keys set' or set %s environment variable", envVar)
}
