package reminder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists reminders.
type Store interface {
	// Save creates (empty ID) or replaces a reminder.
	Save(r *Reminder) error
	Get(id string) (*Reminder, error)
	// List returns copies sorted by time of day.
	List() ([]*Reminder, error)
	Delete(id string) error
}

// JSONStore implements Store with a JSON file. An empty path keeps
// reminders in memory only.
type JSONStore struct {
	path      string
	reminders map[string]*Reminder
	mu        sync.RWMutex
}

type storeData struct {
	Version   int         `json:"version"`
	UpdatedAt string      `json:"updated_at"`
	Reminders []*Reminder `json:"reminders"`
}

const currentVersion = 1

// NewJSONStore opens the store at path, loading it if the file exists.
func NewJSONStore(path string) (*JSONStore, error) {
	s := &JSONStore{
		path:      path,
		reminders: make(map[string]*Reminder),
	}
	if path == "" {
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("failed to load reminders: %w", err)
		}
	}
	return s, nil
}

// NewMemoryStore returns a store that is never written to disk.
func NewMemoryStore() *JSONStore {
	s, _ := NewJSONStore("")
	return s
}

func (s *JSONStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var stored storeData
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range stored.Reminders {
		if r.ID == "" {
			continue
		}
		s.reminders[r.ID] = r
	}
	return nil
}

// save writes the file atomically. Callers hold mu.
func (s *JSONStore) save() error {
	if s.path == "" {
		return nil
	}
	stored := storeData{
		Version:   currentVersion,
		UpdatedAt: time.Now().Format(time.RFC3339),
		Reminders: s.sortedLocked(),
	}
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Save implements Store. It assigns an ID and timestamps.
func (s *JSONStore) Save(r *Reminder) error {
	if err := r.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if r.ID == "" {
		r.ID = uuid.New().String()
	} else if prev, ok := s.reminders[r.ID]; ok && r.CreatedAt.IsZero() {
		r.CreatedAt = prev.CreatedAt
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	cp := *r
	s.reminders[r.ID] = &cp
	return s.save()
}

// Get implements Store.
func (s *JSONStore) Get(id string) (*Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reminders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *r
	return &cp, nil
}

// List implements Store.
func (s *JSONStore) List() ([]*Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked(), nil
}

// Delete implements Store.
func (s *JSONStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reminders[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.reminders, id)
	return s.save()
}

func (s *JSONStore) sortedLocked() []*Reminder {
	out := make([]*Reminder, 0, len(s.reminders))
	for _, r := range s.reminders {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return out[i].Medicine < out[j].Medicine
	})
	return out
}

var _ Store = (*JSONStore)(nil)
