package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// cliState is persisted between runs.
type cliState struct {
	UserID string `yaml:"user_id"`
}

func defaultStatePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, ".fixit", "state.yaml"), nil
}

func resolveStatePath() (string, error) {
	if statePath != "" {
		return statePath, nil
	}
	return defaultStatePath()
}

// loadOrCreateState reads path, creating it with a fresh user id when it
// does not exist or has none.
func loadOrCreateState(path string) (cliState, error) {
	var st cliState
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &st); err != nil {
			return cliState{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return cliState{}, fmt.Errorf("read %s: %w", path, err)
	}
	if st.UserID != "" {
		return st, nil
	}
	st.UserID = uuid.NewString()
	return st, saveState(path, st)
}

func saveState(path string, st cliState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := yaml.Marshal(st)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
