package common

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// rotatingFile appends to path and, before a write would push the file
// past maxSize, gzips it aside and starts a fresh one. At most maxBackups
// rotated copies are kept. Callers serialize access.
type rotatingFile struct {
	path       string
	maxSize    int64
	maxBackups int

	f    *os.File
	size int64
	now  func() time.Time
}

func openRotatingFile(path string, maxSize int64, maxBackups int) (*rotatingFile, error) {
	r := &rotatingFile{
		path:       path,
		maxSize:    maxSize,
		maxBackups: maxBackups,
		now:        time.Now,
	}
	if info, err := os.Stat(path); err == nil && info.Size() >= maxSize {
		r.archive()
	}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *rotatingFile) open() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	r.f = f
	r.size = info.Size()
	return nil
}

func (r *rotatingFile) Write(p []byte) (int, error) {
	if r.f == nil {
		return 0, ErrClosed
	}
	if r.size > 0 && r.size+int64(len(p)) > r.maxSize {
		r.f.Close()
		r.f = nil
		r.archive()
		if err := r.open(); err != nil {
			return 0, err
		}
	}
	n, err := r.f.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *rotatingFile) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// archive moves the current file aside and prunes old copies.
func (r *rotatingFile) archive() {
	rotated := r.path + "." + r.now().Format("20060102-150405.000") + ".gz"
	if err := compressFile(r.path, rotated); err != nil {
		os.Remove(rotated)
		os.Rename(r.path, strings.TrimSuffix(rotated, ".gz"))
	} else {
		os.Remove(r.path)
	}
	pruneBackups(r.path, r.maxBackups)
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// pruneBackups removes the oldest rotated copies of path beyond keep.
func pruneBackups(path string, keep int) {
	matches, err := filepath.Glob(path + ".*")
	if err != nil || len(matches) <= keep {
		return
	}

	modTimes := make(map[string]time.Time, len(matches))
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil {
			modTimes[m] = info.ModTime()
		}
	}
	slices.SortFunc(matches, func(a, b string) int {
		if c := modTimes[a].Compare(modTimes[b]); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	for _, m := range matches[:len(matches)-keep] {
		os.Remove(m)
	}
}
