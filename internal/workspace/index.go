package workspace

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	lru "github.com/hashicorp/golang-lru/v2"
)

// skipDirs are never indexed or watched.
var skipDirs = map[string]struct{}{
	".git":         {},
	".hg":          {},
	".svn":         {},
	"node_modules": {},
	"vendor":       {},
	"target":       {},
	"build":        {},
	".next":        {},
	".cache":       {},
}

const extMemoSize = 64

type IndexConfig struct {
	Root string
	// Excludes are doublestar globs matched against slash-separated paths
	// relative to Root.
	Excludes []string
}

// Index maintains a basename lookup over the workspace tree. The walk runs
// lazily on first use and again after Invalidate.
type Index struct {
	mu       sync.Mutex
	root     string
	excludes []string

	built  bool
	byBase map[string][]string
	count  int

	extMemo *lru.Cache[string, []string]
}

func NewIndex(cfg IndexConfig) (*Index, error) {
	root := strings.TrimSpace(cfg.Root)
	if root == "" {
		return nil, fmt.Errorf("workspace root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	memo, err := lru.New[string, []string](extMemoSize)
	if err != nil {
		return nil, err
	}
	return &Index{
		root:     abs,
		excludes: append([]string(nil), cfg.Excludes...),
		extMemo:  memo,
	}, nil
}

func (x *Index) Root() string {
	if x == nil {
		return ""
	}
	return x.root
}

// DistinctPath returns the absolute path of the only workspace file carrying
// this basename. An unknown or ambiguous basename reports ok=false.
func (x *Index) DistinctPath(basename string) (string, bool) {
	basename = strings.TrimSpace(basename)
	if x == nil || basename == "" {
		return "", false
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.buildLocked()
	paths := x.byBase[basename]
	if len(paths) != 1 {
		return "", false
	}
	return paths[0], true
}

// PathsByExt returns the absolute paths of all indexed files with the given
// extension (dot included, case-insensitive), sorted.
func (x *Index) PathsByExt(ext string) []string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if x == nil || ext == "" {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.buildLocked()
	if cached, ok := x.extMemo.Get(ext); ok {
		return append([]string(nil), cached...)
	}
	var out []string
	for base, paths := range x.byBase {
		if strings.ToLower(filepath.Ext(base)) != ext {
			continue
		}
		out = append(out, paths...)
	}
	sort.Strings(out)
	x.extMemo.Add(ext, append([]string(nil), out...))
	return out
}

// Len reports the number of indexed files.
func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.buildLocked()
	return x.count
}

// Invalidate drops the built state; the next lookup walks the tree again.
func (x *Index) Invalidate() {
	if x == nil {
		return
	}
	x.mu.Lock()
	x.built = false
	x.byBase = nil
	x.count = 0
	x.extMemo.Purge()
	x.mu.Unlock()
}

func (x *Index) buildLocked() {
	if x.built {
		return
	}
	byBase := make(map[string][]string)
	count := 0
	_ = filepath.WalkDir(x.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			return nil
		}
		if d.IsDir() {
			if _, skip := skipDirs[filepath.Base(p)]; skip && p != x.root {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, relErr := filepath.Rel(x.root, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		for _, glob := range x.excludes {
			if ok, _ := doublestar.Match(glob, rel); ok {
				return nil
			}
		}
		base := filepath.Base(p)
		byBase[base] = append(byBase[base], p)
		count++
		return nil
	})
	x.byBase = byBase
	x.count = count
	x.built = true
}
