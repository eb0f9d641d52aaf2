// Package transcript keeps a local, append-only record of finished
// turns per project, stored as JSONL files. It is a convenience for
// the CLI and review tooling; the backend remains the authoritative
// message store.
package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskweave/taskweave/pkg/protocol"
)

// Entry is one transcript line: a user utterance or the assistant's
// resolved response for a turn.
type Entry struct {
	TurnID    string              `json:"turn_id,omitempty"`
	Role      string              `json:"role"`
	Content   string              `json:"content"`
	ToolCalls []protocol.ToolCall `json:"tool_calls,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// Manager reads and writes per-project transcript files.
type Manager struct {
	dir        string
	logger     zerolog.Logger
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// New creates a manager rooted at dir, creating it if needed.
func New(dir string, logger zerolog.Logger) (*Manager, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".taskweave", "transcripts")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}

	return &Manager{
		dir:        dir,
		logger:     logger,
		writeLocks: make(map[string]*sync.Mutex),
	}, nil
}

// validateProjectID keeps project IDs safe to use as file names.
func (m *Manager) validateProjectID(projectID string) error {
	if projectID == "" {
		return fmt.Errorf("project ID cannot be empty")
	}
	if strings.Contains(projectID, "..") {
		return fmt.Errorf("project ID cannot contain '..'")
	}
	if strings.ContainsAny(projectID, "/\\\x00") {
		return fmt.Errorf("project ID cannot contain path separators")
	}
	return nil
}

func (m *Manager) path(projectID string) string {
	return filepath.Join(m.dir, projectID+".jsonl")
}

func (m *Manager) lockFor(projectID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	if lock, ok := m.writeLocks[projectID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	m.writeLocks[projectID] = lock
	return lock
}

// Append writes one entry to the project's transcript.
func (m *Manager) Append(projectID string, entry Entry) error {
	if err := m.validateProjectID(projectID); err != nil {
		return err
	}
	if entry.Role == "" {
		return fmt.Errorf("entry role cannot be empty")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	lock := m.lockFor(projectID)
	lock.Lock()
	defer lock.Unlock()

	file, err := os.OpenFile(m.path(projectID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open transcript file: %w", err)
	}
	defer file.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode transcript entry: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write transcript entry: %w", err)
	}
	return nil
}

// Load reads a project's transcript in order. Corrupt lines are
// skipped with a warning rather than failing the load.
func (m *Manager) Load(projectID string) ([]Entry, error) {
	if err := m.validateProjectID(projectID); err != nil {
		return nil, err
	}

	file, err := os.Open(m.path(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open transcript file: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			m.logger.Warn().Err(err).Str("project_id", projectID).Msg("Skipping corrupt transcript line")
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript file: %w", err)
	}
	return entries, nil
}

// Clear removes a project's transcript.
func (m *Manager) Clear(projectID string) error {
	if err := m.validateProjectID(projectID); err != nil {
		return err
	}

	lock := m.lockFor(projectID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(m.path(projectID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove transcript file: %w", err)
	}
	return nil
}
