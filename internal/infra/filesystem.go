package infra

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/rmgrab/internal/domain"
)

// FileSystemManagerImpl implements domain.FileSystemManager.
type FileSystemManagerImpl struct {
	homeDir string
}

// NewFileSystemManager creates a new filesystem manager.
func NewFileSystemManager() domain.FileSystemManager {
	home, _ := os.UserHomeDir()
	return &FileSystemManagerImpl{homeDir: home}
}

// NewFileSystemManagerWithHome creates a filesystem manager with custom home (for testing).
func NewFileSystemManagerWithHome(home string) domain.FileSystemManager {
	return &FileSystemManagerImpl{homeDir: home}
}

// EnsureDir creates the directory and its parents.
func (fm *FileSystemManagerImpl) EnsureDir(path string) error {
	return os.MkdirAll(fm.ExpandHome(path), 0755)
}

// WriteFile writes data using the temp-file-and-rename pattern.
func (fm *FileSystemManagerImpl) WriteFile(path string, data []byte) error {
	return atomicWrite(fm.ExpandHome(path), func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// ReadFile reads a whole file.
func (fm *FileSystemManagerImpl) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(fm.ExpandHome(path))
}

// ExpandHome expands ~ to the user's home directory.
func (fm *FileSystemManagerImpl) ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(fm.homeDir, path[2:])
	}
	if path == "~" {
		return fm.homeDir
	}
	return path
}

// atomicWrite writes to a temp file in the destination directory, syncs, and
// renames over dst so readers never observe a half-written file.
func atomicWrite(dst string, write func(w io.Writer) error) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".rmgrab-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on any error
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err = write(tmpFile); err != nil {
		tmpFile.Close()
		return err
	}
	if err = tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	if err = tmpFile.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmpPath, 0644); err != nil {
		return err
	}
	if err = os.Rename(tmpPath, dst); err != nil {
		return err
	}

	success = true
	return nil
}

// Ensure FileSystemManagerImpl implements domain.FileSystemManager.
var _ domain.FileSystemManager = (*FileSystemManagerImpl)(nil)
