package mapping

import (
	"strings"
	"sync"

	"repath/internal/uripath"
)

// Event describes one confirmed artifact/local pairing.
type Event struct {
	ArtifactURI string
	LocalURI    string
}

type CacheConfig struct {
	// FoldLocalCase lower-cases local-side keys so differently cased
	// references to one file collide. Defaults to the platform behavior.
	FoldLocalCase bool
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{FoldLocalCase: uripath.CaseInsensitivePlatform()}
}

// Cache is the bidirectional map of confirmed artifact/local pairs. Entries
// live for the process session; there is no eviction.
type Cache struct {
	mu         sync.RWMutex
	foldLocal  bool
	byArtifact map[string]string
	byLocal    map[string]string

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

func NewCache(cfg CacheConfig) *Cache {
	return &Cache{
		foldLocal:  cfg.FoldLocalCase,
		byArtifact: make(map[string]string),
		byLocal:    make(map[string]string),
		subs:       make(map[int]chan Event),
	}
}

func (c *Cache) normalize(local string) string {
	return uripath.NormalizeLocalFold(local, c.foldLocal)
}

// Record inserts the pair in both directions, superseding any previous entry
// for either key, and notifies subscribers.
func (c *Cache) Record(artifactURI, localURI string) {
	if c == nil {
		return
	}
	artifactURI = strings.TrimSpace(artifactURI)
	localURI = strings.TrimSpace(localURI)
	if artifactURI == "" || localURI == "" {
		return
	}
	norm := c.normalize(localURI)

	c.mu.Lock()
	if old, ok := c.byArtifact[artifactURI]; ok {
		delete(c.byLocal, c.normalize(old))
	}
	if old, ok := c.byLocal[norm]; ok {
		delete(c.byArtifact, old)
	}
	c.byArtifact[artifactURI] = localURI
	c.byLocal[norm] = artifactURI
	c.mu.Unlock()

	c.publish(Event{ArtifactURI: artifactURI, LocalURI: localURI})
}

func (c *Cache) LookupByArtifact(artifactURI string) (string, bool) {
	if c == nil {
		return "", false
	}
	artifactURI = strings.TrimSpace(artifactURI)
	if artifactURI == "" {
		return "", false
	}
	c.mu.RLock()
	local, ok := c.byArtifact[artifactURI]
	c.mu.RUnlock()
	return local, ok
}

func (c *Cache) LookupByLocal(localURI string) (string, bool) {
	if c == nil {
		return "", false
	}
	localURI = strings.TrimSpace(localURI)
	if localURI == "" {
		return "", false
	}
	c.mu.RLock()
	artifact, ok := c.byLocal[c.normalize(localURI)]
	c.mu.RUnlock()
	return artifact, ok
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byArtifact)
}

// Subscribe returns a channel receiving one Event per recorded mapping and a
// cancel function releasing the subscription. A slow subscriber loses the
// oldest buffered event rather than blocking Record.
func (c *Cache) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subMu.Unlock()

	cancel := func() {
		c.subMu.Lock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
		c.subMu.Unlock()
	}
	return ch, cancel
}

func (c *Cache) publish(ev Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		pushEvent(ch, ev)
	}
}

func pushEvent(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}
