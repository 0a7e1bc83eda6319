package orchestrator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateFileCreatesAndOverwrites(t *testing.T) {
	dir := t.TempDir()
	w := NewWorkingDir(dir)

	path, err := w.UpdateFile("models/orders.sql", "SELECT 1")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", string(data))

	_, err = w.UpdateFile("models/orders.sql", "SELECT 2")
	require.NoError(t, err)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 2", string(data))
}

func TestDeleteFileIsNoOpWhenAbsent(t *testing.T) {
	w := NewWorkingDir(t.TempDir())
	_, err := w.DeleteFile("models/missing.sql")
	assert.NoError(t, err)
}

func TestDeleteFileRemovesExisting(t *testing.T) {
	dir := t.TempDir()
	w := NewWorkingDir(dir)
	path, err := w.UpdateFile("sources/customers.py", "# source")
	require.NoError(t, err)

	_, err = w.DeleteFile("sources/customers.py")
	require.NoError(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestMoveFileRefusesToOverwriteExistingDestination(t *testing.T) {
	dir := t.TempDir()
	w := NewWorkingDir(dir)
	_, err := w.UpdateFile("sources/a.py", "a")
	require.NoError(t, err)
	_, err = w.UpdateFile("sources/b.py", "b")
	require.NoError(t, err)

	err = w.MoveFile("sources/a.py", "sources/b.py")
	assert.Error(t, err)
}

func TestMoveFileRenamesSource(t *testing.T) {
	dir := t.TempDir()
	w := NewWorkingDir(dir)
	_, err := w.UpdateFile("sources/a.py", "a")
	require.NoError(t, err)

	require.NoError(t, w.MoveFile("sources/a.py", "sources/c.py"))
	_, err = os.Stat(filepath.Join(dir, "sources", "c.py"))
	assert.NoError(t, err)
}
