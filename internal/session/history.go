package session

import (
	"errors"

	"github.com/refuturo/refuturo/pkg/models"
)

// ErrSnapshotNotFound is a data-integrity failure: a history entry exists
// without its snapshot. Not expected in normal operation.
var ErrSnapshotNotFound = errors.New("snapshot not found for history entry")

// ErrEntryNotFound reports a revert against an ID the log does not hold.
var ErrEntryNotFound = errors.New("history entry not found")

// HistoryLog is the append-at-the-front edit lineage plus the snapshot
// store pairing every entry with the full variant set recorded at that
// point. Entries and snapshots are always inserted and removed together.
type HistoryLog struct {
	entries   []models.HistoryEntry
	snapshots map[string][]string
}

func NewHistoryLog() *HistoryLog {
	return &HistoryLog{
		snapshots: make(map[string][]string),
	}
}

// Append prepends entry to the log and stores its snapshot. The snapshot
// is copied so later variant-set mutations cannot reach into history.
func (l *HistoryLog) Append(entry models.HistoryEntry, snapshot []string) {
	l.entries = append([]models.HistoryEntry{entry}, l.entries...)
	l.snapshots[entry.ID] = append([]string(nil), snapshot...)
}

// Entries returns the log most-recent-first.
func (l *HistoryLog) Entries() []models.HistoryEntry {
	return append([]models.HistoryEntry(nil), l.entries...)
}

func (l *HistoryLog) Len() int {
	return len(l.entries)
}

// Entry looks up a history entry by ID.
func (l *HistoryLog) Entry(id string) (models.HistoryEntry, bool) {
	for _, e := range l.entries {
		if e.ID == id {
			return e, true
		}
	}
	return models.HistoryEntry{}, false
}

// Snapshot returns a copy of the variant set recorded for entry id.
func (l *HistoryLog) Snapshot(id string) ([]string, bool) {
	snap, ok := l.snapshots[id]
	if !ok {
		return nil, false
	}
	return append([]string(nil), snap...), true
}

// SnapshotIDs returns the keys currently held by the snapshot store.
func (l *HistoryLog) SnapshotIDs() []string {
	ids := make([]string, 0, len(l.snapshots))
	for id := range l.snapshots {
		ids = append(ids, id)
	}
	return ids
}

// PruneOldest removes the oldest entry and its snapshot. Used by the
// persistence layer under storage-quota pressure; never user-invoked.
func (l *HistoryLog) PruneOldest() (models.HistoryEntry, bool) {
	if len(l.entries) == 0 {
		return models.HistoryEntry{}, false
	}
	oldest := l.entries[len(l.entries)-1]
	l.entries = l.entries[:len(l.entries)-1]
	delete(l.snapshots, oldest.ID)
	return oldest, true
}

// Remove deletes the entries with the given IDs and their snapshots. Used
// to mirror pruning that happened during a persistence attempt back into
// the in-memory log.
func (l *HistoryLog) Remove(ids []string) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := l.entries[:0]
	for _, e := range l.entries {
		if drop[e.ID] {
			delete(l.snapshots, e.ID)
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
}

// Clear empties the log and the snapshot store together.
func (l *HistoryLog) Clear() {
	l.entries = nil
	l.snapshots = make(map[string][]string)
}
