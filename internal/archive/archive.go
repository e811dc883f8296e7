// Package archive reads and rewrites the zip containers the pipeline deals
// in: the build data archive, server jars and packaged mapping files.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// ErrEntryNotFound is returned when a named entry is absent from an archive.
var ErrEntryNotFound = errors.New("archive entry not found")

// Filter selects entries by name. A nil Filter selects everything.
type Filter func(name string) bool

// HasPrefix selects entries whose name starts with prefix.
func HasPrefix(prefix string) Filter {
	return func(name string) bool { return strings.HasPrefix(name, prefix) }
}

// IsZip reports whether the file at path starts with a zip local header.
func IsZip(p string) (bool, error) {
	f, err := os.Open(p)
	if err != nil {
		return false, err
	}
	defer f.Close()
	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}
	return string(magic[:]) == "PK\x03\x04", nil
}

// ReadEntry returns the content of the entry called name.
func ReadEntry(archivePath, name string) ([]byte, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", archivePath, err)
	}
	defer zr.Close()

	f := find(&zr.Reader, name)
	if f == nil {
		return nil, fmt.Errorf("%s in %s: %w", name, archivePath, ErrEntryNotFound)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s in %s: %w", name, archivePath, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// CopyEntry writes the entry called name to dest, creating parent directories.
func CopyEntry(archivePath, name, dest string) error {
	data, err := ReadEntry(archivePath, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}

// Unzip extracts the selected file entries of archivePath below dest,
// keeping their full names. It returns the number of files written.
func Unzip(archivePath, dest string, keep Filter) (int, error) {
	return extract(archivePath, dest, keep, "")
}

// ExtractTree extracts the entries under dir (for example "bin/") into dest
// with that prefix removed.
func ExtractTree(archivePath, dir, dest string) (int, error) {
	dir = strings.TrimSuffix(dir, "/") + "/"
	return extract(archivePath, dest, HasPrefix(dir), dir)
}

func extract(archivePath, dest string, keep Filter, trim string) (int, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", archivePath, err)
	}
	defer zr.Close()

	n := 0
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || (keep != nil && !keep(f.Name)) {
			continue
		}
		rel := strings.TrimPrefix(f.Name, trim)
		target, err := safeJoin(dest, rel)
		if err != nil {
			return n, err
		}
		if err := writeEntry(f, target); err != nil {
			return n, fmt.Errorf("extracting %s: %w", f.Name, err)
		}
		n++
	}
	return n, nil
}

func writeEntry(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Strip writes a new archive at dest holding only the selected entries of
// src, copied without recompression. It returns the number of entries kept.
func Strip(src, dest string, keep Filter) (n int, err error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", src, err)
	}
	defer zr.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	out, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	zw := zip.NewWriter(out)
	for _, f := range zr.File {
		if keep != nil && !keep(f.Name) {
			continue
		}
		if err := zw.Copy(f); err != nil {
			return n, fmt.Errorf("copying %s: %w", f.Name, err)
		}
		n++
	}
	if err := zw.Close(); err != nil {
		return n, err
	}
	return n, nil
}

// Entry is one file to be written by Write.
type Entry struct {
	Name string
	Data []byte
}

// Write writes entries as a deflated zip archive to w.
func Write(w io.Writer, entries ...Entry) error {
	zw := zip.NewWriter(w)
	for _, e := range entries {
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: e.Name, Method: zip.Deflate})
		if err != nil {
			return err
		}
		if _, err := fw.Write(e.Data); err != nil {
			return err
		}
	}
	return zw.Close()
}

// WriteFile writes entries as a zip archive at dest.
func WriteFile(dest string, entries ...Entry) (err error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return Write(f, entries...)
}

func find(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// safeJoin rejects entry names that would escape dest.
func safeJoin(dest, name string) (string, error) {
	clean := path.Clean("/" + name)
	if clean == "/" {
		return "", fmt.Errorf("invalid entry name %q", name)
	}
	target := filepath.Join(dest, filepath.FromSlash(clean[1:]))
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return "", fmt.Errorf("entry %q escapes %s", name, dest)
	}
	return target, nil
}
