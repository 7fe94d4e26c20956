// Package sandbox confines downloaded artifact content to a single local
// directory. Content is addressed by the artifact-relative path it was
// recorded under, and nothing the path says can place a file outside the
// root.
package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrTraversal is returned when a destination would escape the root.
var ErrTraversal = errors.New("sandbox: path traversal not allowed")

const (
	dataDirName   = "data"
	indexFileName = "index.json"
)

// Entry records one completed download.
type Entry struct {
	File      string    `json:"file"`
	Size      int64     `json:"size"`
	SourceURL string    `json:"source_url,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

type indexFile struct {
	Entries map[string]Entry `json:"entries"`
}

// Stats summarizes the sandbox contents.
type Stats struct {
	Files      int
	TotalBytes int64
}

// Root is the directory all fetched content lands in. Files live under
// data/ named by their artifact-relative path; the index records completed
// writes only, so a crash mid-download never surfaces a partial file.
type Root struct {
	mu        sync.Mutex
	absRoot   string
	dataDir   string
	indexPath string
	entries   map[string]Entry
}

func New(root string) (*Root, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("sandbox: empty root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(abs, dataDirName), 0o755); err != nil {
		return nil, fmt.Errorf("sandbox: create root: %w", err)
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	r := &Root{
		absRoot:   abs,
		dataDir:   filepath.Join(abs, dataDirName),
		indexPath: filepath.Join(abs, indexFileName),
		entries:   make(map[string]Entry),
	}
	if err := r.loadIndex(); err != nil {
		return nil, err
	}
	r.pruneMissing()
	if err := r.persistIndexLocked(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Root) Dir() string {
	if r == nil {
		return ""
	}
	return r.absRoot
}

// Resolve maps an artifact-relative path to its destination under the root.
// Absolute paths, drive-qualified paths and any `..` escape are rejected
// before any I/O happens.
func (r *Root) Resolve(rel string) (string, error) {
	if r == nil {
		return "", errors.New("sandbox: not configured")
	}
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return "", errors.New("sandbox: empty path")
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" ||
		strings.HasPrefix(clean, string(filepath.Separator)) {
		return "", ErrTraversal
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", ErrTraversal
	}
	joined := filepath.Join(r.dataDir, clean)
	if !hasPathPrefix(joined, r.dataDir) {
		return "", ErrTraversal
	}
	return joined, nil
}

// Write stores content at the relative path atomically: a temp file is
// renamed into place and only then indexed.
func (r *Root) Write(rel string, data []byte, sourceURL string) (string, error) {
	dest, err := r.Resolve(rel)
	if err != nil {
		return "", err
	}
	key := indexKey(rel)

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	r.entries[key] = Entry{
		File:      key,
		Size:      int64(len(data)),
		SourceURL: strings.TrimSpace(sourceURL),
		FetchedAt: time.Now().UTC(),
	}
	if err := r.persistIndexLocked(); err != nil {
		return "", err
	}
	return dest, nil
}

// Lookup reports the destination path when a completed download exists for
// the relative path. Stray files never recorded in the index do not count.
func (r *Root) Lookup(rel string) (string, bool) {
	dest, err := r.Resolve(rel)
	if err != nil {
		return "", false
	}
	key := indexKey(rel)

	r.mu.Lock()
	_, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return "", false
	}
	info, statErr := os.Stat(dest)
	if statErr != nil || info.IsDir() {
		return "", false
	}
	return dest, true
}

func (r *Root) Stats() Stats {
	if r == nil {
		return Stats{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var s Stats
	for _, e := range r.entries {
		s.Files++
		s.TotalBytes += e.Size
	}
	return s
}

// Entries returns the recorded downloads sorted by file path.
func (r *Root) Entries() []Entry {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].File < out[j].File })
	return out
}

// Clear removes all downloaded content and resets the index.
func (r *Root) Clear() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.RemoveAll(r.dataDir); err != nil {
		return err
	}
	if err := os.MkdirAll(r.dataDir, 0o755); err != nil {
		return err
	}
	r.entries = make(map[string]Entry)
	return r.persistIndexLocked()
}

func (r *Root) loadIndex() error {
	raw, err := os.ReadFile(r.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var idx indexFile
	if err := json.Unmarshal(raw, &idx); err != nil {
		// A corrupt index only loses download bookkeeping; start over.
		return nil
	}
	for k, e := range idx.Entries {
		r.entries[k] = e
	}
	return nil
}

// pruneMissing drops index entries whose file no longer exists on disk.
func (r *Root) pruneMissing() {
	for key := range r.entries {
		p := filepath.Join(r.dataDir, filepath.FromSlash(key))
		if info, err := os.Stat(p); err != nil || info.IsDir() {
			delete(r.entries, key)
		}
	}
}

func (r *Root) persistIndexLocked() error {
	idx := indexFile{Entries: r.entries}
	raw, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.indexPath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.indexPath)
}

func indexKey(rel string) string {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimSpace(rel)))
	return strings.TrimPrefix(filepath.ToSlash(clean), "./")
}

// hasPathPrefix reports whether p is base itself or lives beneath it.
func hasPathPrefix(p, base string) bool {
	p = filepath.Clean(p)
	base = filepath.Clean(base)
	if runtime.GOOS == "windows" {
		p = strings.ToLower(p)
		base = strings.ToLower(base)
	}
	if p == base {
		return true
	}
	if !strings.HasSuffix(base, string(filepath.Separator)) {
		base += string(filepath.Separator)
	}
	return strings.HasPrefix(p, base)
}
