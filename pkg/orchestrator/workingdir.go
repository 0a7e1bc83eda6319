package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
)

// WorkingDir is the file-level view over a data stack's directory: the
// sources/, models/, and stores/ trees a higher layer (an editor UI, a
// git-backed sync) mutates directly, distinct from the bookkeeping state
// in orchestrator.sqlite3. Grounded on DataStack's update_file/
// delete_file/move_file, which operate on the same directory the
// orchestrator itself loads definitions from.
type WorkingDir struct {
	root string
}

// NewWorkingDir returns a WorkingDir rooted at dir.
func NewWorkingDir(dir string) *WorkingDir {
	return &WorkingDir{root: dir}
}

// UpdateFile overwrites filename (relative to the working directory) with
// source, creating it if absent.
func (w *WorkingDir) UpdateFile(filename, source string) (string, error) {
	path := filepath.Join(w.root, filename)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create parent dirs for %s: %w", filename, err)
	}
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", filename, err)
	}
	return path, nil
}

// DeleteFile removes filename if it exists; deleting an absent file is a
// no-op, not an error.
func (w *WorkingDir) DeleteFile(filename string) (string, error) {
	path := filepath.Join(w.root, filename)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("delete %s: %w", filename, err)
	}
	return path, nil
}

// MoveFile renames src to dst, both relative to the working directory.
// It refuses to overwrite an existing dst, matching the original's
// behavior of raising rather than silently clobbering.
func (w *WorkingDir) MoveFile(src, dst string) error {
	srcPath := filepath.Join(w.root, src)
	dstPath := filepath.Join(w.root, dst)

	if _, err := os.Stat(srcPath); err != nil {
		return fmt.Errorf("move %s to %s: source does not exist: %w", src, dst, err)
	}
	if _, err := os.Stat(dstPath); err == nil {
		return fmt.Errorf("move %s to %s: destination already exists", src, dst)
	}
	if err := os.Rename(srcPath, dstPath); err != nil {
		return fmt.Errorf("move %s to %s: %w", src, dst, err)
	}
	return nil
}
