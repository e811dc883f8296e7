package fetch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ETagSuffix names the sidecar file holding a downloaded artifact's ETag.
const ETagSuffix = ".etag"

// Downloader persists fetched artifacts on disk, using the file's mtime and
// ETag sidecar as the conditional-request validators.
type Downloader struct {
	Fetcher *Fetcher
	Offline bool
}

// Download refreshes target from url. It reports whether the file changed.
func (d *Downloader) Download(ctx context.Context, target, url string, compressed bool) (bool, error) {
	etagPath := target + ETagSuffix

	var lastModified time.Time
	if info, err := os.Stat(target); err == nil {
		lastModified = info.ModTime()
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat %s: %w", target, err)
	}

	// An ETag without its file validates nothing.
	var etag string
	if !lastModified.IsZero() {
		var err error
		if etag, err = readETag(etagPath); err != nil {
			return false, err
		}
	}

	out, err := d.Fetcher.Fetch(ctx, Request{
		URL:          url,
		ETag:         etag,
		LastModified: lastModified,
		Offline:      d.Offline,
		Compressed:   compressed,
	})
	if err != nil {
		return false, err
	}
	if out.Unchanged {
		return false, nil
	}
	defer out.Body.Close()

	if err := writeAtomic(target, out.Body); err != nil {
		return false, fmt.Errorf("writing %s: %w", target, err)
	}
	if !out.LastModified.IsZero() {
		if err := os.Chtimes(target, out.LastModified, out.LastModified); err != nil {
			return false, fmt.Errorf("setting mtime on %s: %w", target, err)
		}
	}
	if out.ETag != "" {
		if err := os.WriteFile(etagPath, []byte(out.ETag+"\n"), 0o644); err != nil {
			return false, fmt.Errorf("writing etag: %w", err)
		}
	}
	return true, nil
}

func readETag(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("reading etag: %w", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if sc.Scan() {
		return strings.TrimSpace(sc.Text()), nil
	}
	return "", sc.Err()
}

// writeAtomic streams r into a temp file beside path, then renames it over path.
func writeAtomic(path string, r io.Reader) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = io.Copy(tmp, r); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
