package session

import (
	"fmt"
	"time"

	"github.com/refuturo/refuturo/pkg/models"
)

// schemaVersion tags the persisted aggregate so future layout changes can
// be detected instead of silently misread.
const schemaVersion = 1

// keyPrefix namespaces session entries within the shared key-value store.
const keyPrefix = "history_"

// Checkpoint holds the image displaced from one variant slot, so a single
// mutating edit can be reversed. A nil *Checkpoint means the register is
// empty.
type Checkpoint struct {
	ImageURL string
	Index    int
}

// Session is the complete editing state associated with one uploaded
// source image. All images are carried as data URLs.
type Session struct {
	Key           string
	SourceName    string
	SourceURL     string
	Variants      []string
	SelectedIndex int
	ScenarioValue string
	PromptText    string
	Log           *HistoryLog
}

// NewSession bootstraps an empty session for a fresh upload.
func NewSession(key, sourceName, sourceURL, scenarioValue string) *Session {
	return &Session{
		Key:           key,
		SourceName:    sourceName,
		SourceURL:     sourceURL,
		ScenarioValue: scenarioValue,
		Log:           NewHistoryLog(),
	}
}

// DeriveKey builds the storage key for an uploaded file from its name,
// size, and modification time. This is a heuristic identity, not a content
// hash: two different files with the same name, size, and mtime collide.
func DeriveKey(name string, size int64, modTime time.Time) string {
	return fmt.Sprintf("%s%s_%d_%d", keyPrefix, name, size, modTime.UnixMilli())
}

// SelectedImage returns the data URL of the currently selected variant.
func (s *Session) SelectedImage() (string, bool) {
	if len(s.Variants) == 0 || s.SelectedIndex < 0 || s.SelectedIndex >= len(s.Variants) {
		return "", false
	}
	return s.Variants[s.SelectedIndex], true
}

// persistedSession is the versioned serialization boundary for the
// aggregate written to storage.
type persistedSession struct {
	Version            int                    `json:"version"`
	SourceName         string                 `json:"sourceName"`
	SourceImageDataURL string                 `json:"sourceImageDataUrl"`
	VariantDataURLs    []string               `json:"variantDataUrls"`
	SelectedIndex      int                    `json:"selectedIndex"`
	ScenarioID         string                 `json:"scenarioId"`
	PromptText         string                 `json:"promptText"`
	HistoryLog         []models.HistoryEntry  `json:"historyLog"`
	SnapshotStore      map[string][]string    `json:"snapshotStore"`
}
