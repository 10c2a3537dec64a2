package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SnapshotVersion identifies the snapshot document format.
const SnapshotVersion = 1

// Snapshot is the full serializable variant set. Loading reconstructs the
// champion and content-type indexes from the variant list itself rather
// than trusting a separately stored index.
type Snapshot struct {
	Version  int       `json:"version" bson:"version"`
	SavedAt  time.Time `json:"saved_at" bson:"savedAt"`
	Variants []Variant `json:"variants" bson:"variants"`
}

// Snapshot captures the current variant set.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	variants := make([]Variant, 0, len(r.variants))
	// Registration order per content type keeps snapshots diff-friendly.
	seen := make(map[string]bool, len(r.variants))
	for _, ids := range r.byType {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				variants = append(variants, *r.variants[id].clone())
			}
		}
	}
	return Snapshot{
		Version:  SnapshotVersion,
		SavedAt:  time.Now(),
		Variants: variants,
	}
}

// Restore replaces the registry contents with a snapshot, rebuilding both
// indexes. It fails without mutating state when the snapshot itself is
// inconsistent (two champions for one content type).
func (r *Registry) Restore(s Snapshot) error {
	variants := make(map[string]*Variant, len(s.Variants))
	byType := make(map[string][]string)
	champions := make(map[string]string)

	for i := range s.Variants {
		v := s.Variants[i]
		if v.ID == "" || v.ContentType == "" {
			return fmt.Errorf("%w: snapshot variant %d missing id or content type", ErrValidationFailed, i)
		}
		if _, dup := variants[v.ID]; dup {
			return fmt.Errorf("%w: duplicate variant id %s in snapshot", ErrValidationFailed, v.ID)
		}
		if v.Status == StatusChampion {
			if prev, ok := champions[v.ContentType]; ok {
				return fmt.Errorf("%w: content type %q has two champions (%s, %s)", ErrValidationFailed, v.ContentType, prev, v.ID)
			}
			champions[v.ContentType] = v.ID
		}
		variants[v.ID] = v.clone()
		byType[v.ContentType] = append(byType[v.ContentType], v.ID)
	}

	r.mu.Lock()
	r.variants = variants
	r.byType = byType
	r.champions = champions
	r.mu.Unlock()
	return nil
}

// SnapshotStore persists registry snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, s Snapshot) error
	Load(ctx context.Context) (*Snapshot, error)
}

// FileSnapshotStore writes snapshots as JSON via temp-file rename, so a
// crash mid-write never corrupts the previous snapshot.
type FileSnapshotStore struct {
	Path string
}

// NewFileSnapshotStore creates a file-backed snapshot store.
func NewFileSnapshotStore(path string) *FileSnapshotStore {
	return &FileSnapshotStore{Path: path}
}

// Save writes the snapshot atomically.
func (s *FileSnapshotStore) Save(_ context.Context, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if dir := filepath.Dir(s.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create snapshot dir: %w", err)
		}
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Load reads the latest snapshot. Returns (nil, nil) when none exists yet.
func (s *FileSnapshotStore) Load(_ context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}
