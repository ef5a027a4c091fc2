package upgrader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mholt/archives"
)

var (
	// ErrUnsupportedPackage means the download is not an archive we can extract.
	ErrUnsupportedPackage = errors.New("unsupported package format")
	// ErrUnsafePath means an archive entry would land outside the target.
	ErrUnsafePath = errors.New("archive entry escapes extraction directory")
)

// Extract unpacks the archive at archivePath into dest. Symbolic links are
// skipped and entries that would escape dest abort the extraction.
func Extract(ctx context.Context, archivePath, dest string) (int, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open package: %w", err)
	}
	defer f.Close()

	format, _, err := archives.Identify(ctx, filepath.Base(archivePath), f)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedPackage, err)
	}
	extractor, ok := format.(archives.Extractor)
	if !ok {
		return 0, fmt.Errorf("%w: %T cannot be extracted", ErrUnsupportedPackage, format)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to rewind package: %w", err)
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return 0, fmt.Errorf("failed to create extraction directory: %w", err)
	}

	written := 0
	err = extractor.Extract(ctx, f, func(ctx context.Context, entry archives.FileInfo) error {
		target, err := safeJoin(dest, entry.NameInArchive)
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if entry.LinkTarget != "" || entry.Mode()&fs.ModeSymlink != 0 {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		if err := writeEntry(entry, target); err != nil {
			return fmt.Errorf("failed to extract %s: %w", entry.NameInArchive, err)
		}
		written++
		return nil
	})
	if err != nil {
		return written, err
	}
	return written, nil
}

func writeEntry(entry archives.FileInfo, target string) error {
	src, err := entry.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	perm := entry.Mode().Perm()
	if perm == 0 {
		perm = 0644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func safeJoin(dest, name string) (string, error) {
	rel := filepath.FromSlash(name)
	if rel == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return filepath.Join(dest, rel), nil
}
