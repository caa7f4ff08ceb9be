// ABOUTME: Thread-safe in-memory map of agent runtime state persisted as a JSON file
// ABOUTME: Lazy defaults on read, atomic read-modify-write, atomic file replacement on save

package runtimestate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SchemaVersion is written at the root of every saved document.
const SchemaVersion = 1

// Snapshot is an immutable copy of the whole store.
type Snapshot struct {
	SchemaVersion int                   `json:"schemaVersion"`
	UpdatedAtUTC  time.Time             `json:"updatedAtUtc"`
	Agents        map[string]AgentState `json:"agents"`
}

// Store is the runtime-state mirror shared by agents and observers.
type Store struct {
	path   string
	mu     sync.Mutex
	doc    Snapshot
	now    func() time.Time
	logger *slog.Logger
}

// NewStore creates an empty store backed by path. Call Reload to read an
// existing file. Pass nil logger for default.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   path,
		doc:    emptySnapshot(),
		now:    time.Now,
		logger: logger.With("component", "runtimestate"),
	}
}

func emptySnapshot() Snapshot {
	return Snapshot{
		SchemaVersion: SchemaVersion,
		Agents:        make(map[string]AgentState),
	}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Reload replaces the in-memory state with the file contents. A missing file
// yields an empty store and no error. An unreadable or corrupt file also
// yields an empty store; the cause is returned so the caller can report it.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)

	s.mu.Lock()
	defer s.mu.Unlock()

	if errors.Is(err, fs.ErrNotExist) {
		s.doc = emptySnapshot()
		return nil
	}
	if err != nil {
		s.doc = emptySnapshot()
		s.logger.Warn("runtime state unreadable, starting empty", "path", s.path, "error", err)
		return fmt.Errorf("reading runtime state: %w", err)
	}

	doc := emptySnapshot()
	if err := json.Unmarshal(data, &doc); err != nil {
		s.doc = emptySnapshot()
		s.logger.Warn("runtime state corrupt, starting empty", "path", s.path, "error", err)
		return fmt.Errorf("parsing runtime state: %w", err)
	}
	if doc.Agents == nil {
		doc.Agents = make(map[string]AgentState)
	}
	s.doc = doc

	s.logger.Debug("runtime state loaded", "path", s.path, "agents", len(doc.Agents))
	return nil
}

// Save writes the current state to disk, refreshing the schema version and
// updatedAtUtc. The file is replaced atomically.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	now := s.now().UTC()
	if now.Before(s.doc.UpdatedAtUTC) {
		now = s.doc.UpdatedAtUTC
	}
	s.doc.SchemaVersion = SchemaVersion
	s.doc.UpdatedAtUTC = now

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding runtime state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating runtime state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".runtime_state-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing runtime state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing runtime state: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing runtime state: %w", err)
	}
	return nil
}

// Agent returns a copy of the state for agentID, defaulting it on first access.
func (s *Store) Agent(agentID string) AgentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentLocked(agentID)
}

func (s *Store) agentLocked(agentID string) AgentState {
	st, ok := s.doc.Agents[agentID]
	if !ok {
		st = NewAgentState()
		s.doc.Agents[agentID] = st
	}
	return st
}

// UpdateAgent applies mutate to the state of agentID under the store lock.
// mutate must not call back into the store.
func (s *Store) UpdateAgent(agentID string, mutate func(*AgentState)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.agentLocked(agentID)
	mutate(&st)
	s.doc.Agents[agentID] = st
}

// UpdateAndSave is UpdateAgent followed by Save, both under one lock so no
// other mutation can slip between them.
func (s *Store) UpdateAndSave(agentID string, mutate func(*AgentState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.agentLocked(agentID)
	mutate(&st)
	s.doc.Agents[agentID] = st
	return s.saveLocked()
}

// Snapshot returns a copy of the whole store.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		SchemaVersion: s.doc.SchemaVersion,
		UpdatedAtUTC:  s.doc.UpdatedAtUTC,
		Agents:        maps.Clone(s.doc.Agents),
	}
}

// ReadFile decodes a runtime-state document without creating a Store.
func ReadFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading runtime state: %w", err)
	}
	doc := emptySnapshot()
	if err := json.Unmarshal(data, &doc); err != nil {
		return Snapshot{}, fmt.Errorf("parsing runtime state: %w", err)
	}
	if doc.Agents == nil {
		doc.Agents = make(map[string]AgentState)
	}
	return doc, nil
}
