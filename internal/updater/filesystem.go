package updater

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// Filesystem is the subset of file operations the install sequence uses.
type Filesystem interface {
	Exists(path string) bool
	IsDir(path string) bool
	// List returns the entry names directly below a directory, sorted.
	List(path string) ([]string, error)
	IsWritable(path string) bool
	// Move renames src to dst. With overwrite an existing dst is removed first.
	Move(src, dst string, overwrite bool) error
	RemoveAll(path string) error
}

// FilesystemProvider hands out a ready filesystem, or fails when none can
// be initialised.
type FilesystemProvider func() (Filesystem, error)

// AferoFilesystem implements Filesystem over an afero.Fs.
type AferoFilesystem struct {
	fs afero.Fs
}

// NewAferoFilesystem wraps fsys.
func NewAferoFilesystem(fsys afero.Fs) *AferoFilesystem {
	return &AferoFilesystem{fs: fsys}
}

// OSFilesystemProvider returns a provider backed by the real disk.
func OSFilesystemProvider() FilesystemProvider {
	return func() (Filesystem, error) {
		return NewAferoFilesystem(afero.NewOsFs()), nil
	}
}

func (a *AferoFilesystem) Exists(path string) bool {
	ok, err := afero.Exists(a.fs, path)
	return err == nil && ok
}

func (a *AferoFilesystem) IsDir(path string) bool {
	ok, err := afero.IsDir(a.fs, path)
	return err == nil && ok
}

func (a *AferoFilesystem) List(path string) ([]string, error) {
	entries, err := afero.ReadDir(a.fs, path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// IsWritable probes a directory by creating and removing a temporary file.
func (a *AferoFilesystem) IsWritable(path string) bool {
	if !a.IsDir(path) {
		return false
	}
	probe := filepath.Join(path, ".write_check_"+uuid.NewString())
	f, err := a.fs.OpenFile(probe, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return false
	}
	f.Close()
	_ = a.fs.Remove(probe)
	return true
}

func (a *AferoFilesystem) Move(src, dst string, overwrite bool) error {
	if a.Exists(dst) {
		if !overwrite {
			return fmt.Errorf("destination %s already exists", dst)
		}
		if err := a.fs.RemoveAll(dst); err != nil {
			return fmt.Errorf("failed to clear destination %s: %w", dst, err)
		}
	}
	if err := a.fs.Rename(src, dst); err != nil {
		return err
	}
	return nil
}

func (a *AferoFilesystem) RemoveAll(path string) error {
	return a.fs.RemoveAll(path)
}

var _ Filesystem = (*AferoFilesystem)(nil)
