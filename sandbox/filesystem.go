package sandbox

import (
	"io/fs"
	"os"
	"path/filepath"
)

// FileSystem defines the host filesystem operations the workspace manager needs
type FileSystem interface {
	Mkdir(path string, perm os.FileMode) error
	WriteFile(filename string, data []byte, perm os.FileMode) error
	Chmod(path string, mode os.FileMode) error
	Glob(pattern string) ([]string, error)
	RemoveAll(path string) error
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) Mkdir(path string, perm os.FileMode) error {
	return os.Mkdir(path, perm)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	// O_EXCL: the source file is created exactly once per workspace
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (RealFileSystem) Chmod(path string, mode os.FileMode) error {
	return os.Chmod(path, mode)
}

func (RealFileSystem) Glob(pattern string) ([]string, error) {
	return filepath.Glob(pattern)
}

// RemoveAll removes path recursively. Directories left without owner write
// permission are opened up and the removal retried once.
func (RealFileSystem) RemoveAll(path string) error {
	err := os.RemoveAll(path)
	if err == nil {
		return nil
	}

	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr == nil && d.IsDir() {
			_ = os.Chmod(p, 0o700)
		}
		return nil
	})

	return os.RemoveAll(path)
}
