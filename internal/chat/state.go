package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LocalState is what a single client remembers about the chat between
// runs. It never leaves the device.
type LocalState struct {
	LastCleared time.Time `json:"last_cleared"`
}

// StatePath returns the state file kept next to the database.
func StatePath(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), "chat_state.json")
}

// LoadState reads path. A missing file is an empty state.
func LoadState(path string) (LocalState, error) {
	var st LocalState
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("read chat state: %w", err)
	}
	if err := json.Unmarshal(b, &st); err != nil {
		return st, fmt.Errorf("parse chat state: %w", err)
	}
	return st, nil
}

// SaveState writes st to path, creating its directory.
func SaveState(path string, st LocalState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write chat state: %w", err)
	}
	return os.Rename(tmp, path)
}
