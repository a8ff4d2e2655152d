package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateStatePersistsID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.yaml")

	first, err := loadOrCreateState(path)
	require.NoError(t, err)
	_, err = uuid.Parse(first.UserID)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := loadOrCreateState(path)
	require.NoError(t, err)
	assert.Equal(t, first.UserID, second.UserID)
}

func TestLoadOrCreateStateKeepsExistingID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte("user_id: abc-123\n"), 0o600))

	st, err := loadOrCreateState(path)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", st.UserID)
}

func TestLoadOrCreateStateBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte("user_id: [oops"), 0o600))

	_, err := loadOrCreateState(path)
	assert.Error(t, err)
}
