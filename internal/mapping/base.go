package mapping

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"repath/internal/uripath"
)

// BaseEntry is one learned rewrite rule: artifact URIs starting with
// ArtifactPrefix map to LocalPrefix plus the remaining segments.
type BaseEntry struct {
	ArtifactPrefix string
	LocalPrefix    string
}

type baseRule struct {
	artifact []string
	local    []string
}

// BaseSet holds rewrite rules derived from confirmed mappings and applies
// them speculatively to unresolved artifact URIs. Candidates it produces are
// guesses; callers must existence-check them before accepting.
type BaseSet struct {
	mu    sync.RWMutex
	rules []baseRule
	seen  map[string]struct{}
}

func NewBaseSet() *BaseSet {
	return &BaseSet{seen: make(map[string]struct{})}
}

// Derive splits both URIs into segments, strips their longest common suffix
// and records the remaining prefixes as a rule. Two URIs with no common
// suffix at all still produce a full-path rule scoped to that one artifact.
// The second return is false when nothing new was learned.
func (b *BaseSet) Derive(artifactURI, localURI string) (BaseEntry, bool) {
	if b == nil {
		return BaseEntry{}, false
	}
	segsA := uripath.Segments(artifactURI)
	segsL := uripath.Segments(localURI)
	if len(segsA) == 0 || len(segsL) == 0 {
		return BaseEntry{}, false
	}
	n := uripath.CommonSuffixLen(segsA, segsL)
	prefA := segsA[:len(segsA)-n]
	prefL := segsL[:len(segsL)-n]
	if n == 0 {
		prefA = segsA
		prefL = segsL
	}
	if len(prefA) == 0 && len(prefL) == 0 {
		return BaseEntry{}, false
	}
	entry := BaseEntry{
		ArtifactPrefix: strings.Join(prefA, "/"),
		LocalPrefix:    strings.Join(prefL, "/"),
	}
	key := fmt.Sprintf("%d:%s\x00%d:%s", len(prefA), entry.ArtifactPrefix, len(prefL), entry.LocalPrefix)

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.seen[key]; dup {
		return entry, false
	}
	b.seen[key] = struct{}{}
	b.rules = append(b.rules, baseRule{
		artifact: slices.Clone(prefA),
		local:    slices.Clone(prefL),
	})
	return entry, true
}

// Apply returns candidate local URIs for the artifact, newest rule first,
// deduplicated. Nothing is existence-checked here.
func (b *BaseSet) Apply(artifactURI string) []string {
	if b == nil {
		return nil
	}
	segs := uripath.Segments(artifactURI)
	if len(segs) == 0 {
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []string
	seen := map[string]struct{}{}
	for i := len(b.rules) - 1; i >= 0; i-- {
		r := b.rules[i]
		if len(r.artifact) > len(segs) {
			continue
		}
		if !slices.Equal(segs[:len(r.artifact)], r.artifact) {
			continue
		}
		cand := strings.Join(append(slices.Clone(r.local), segs[len(r.artifact):]...), "/")
		if cand == "" {
			continue
		}
		if _, dup := seen[cand]; dup {
			continue
		}
		seen[cand] = struct{}{}
		out = append(out, cand)
	}
	return out
}

// Entries returns a copy of the learned rules, oldest first.
func (b *BaseSet) Entries() []BaseEntry {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]BaseEntry, 0, len(b.rules))
	for _, r := range b.rules {
		out = append(out, BaseEntry{
			ArtifactPrefix: strings.Join(r.artifact, "/"),
			LocalPrefix:    strings.Join(r.local, "/"),
		})
	}
	return out
}

func (b *BaseSet) Len() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rules)
}
