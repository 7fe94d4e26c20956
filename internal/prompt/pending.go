package prompt

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// pendingPrompt tracks one in-flight interactive prompt.
type pendingPrompt struct {
	uri       string
	result    string
	done      chan struct{}
	closeOnce sync.Once
}

func (p *pendingPrompt) finish(result string) {
	p.closeOnce.Do(func() {
		p.result = result
		close(p.done)
	})
}

// Token is held by the caller that owns a prompt; Finish releases it.
type Token struct {
	set *PendingSet
	p   *pendingPrompt
}

// Finish records the prompt outcome (empty for cancel) and wakes waiters.
func (t *Token) Finish(localURI string) {
	if t == nil || t.set == nil || t.p == nil {
		return
	}
	t.set.mu.Lock()
	if cur, ok := t.set.byURI[t.p.uri]; ok && cur == t.p {
		delete(t.set.byURI, t.p.uri)
	}
	t.set.mu.Unlock()
	t.p.finish(strings.TrimSpace(localURI))
}

// Outcome lets a caller await a prompt owned by someone else.
type Outcome struct {
	p *pendingPrompt
}

// Wait blocks until the owning prompt finishes or ctx is done. The result
// is empty when the user cancelled.
func (o *Outcome) Wait(ctx context.Context) (string, error) {
	if o == nil || o.p == nil {
		return "", nil
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-o.p.done:
		return o.p.result, nil
	}
}

// PendingSet deduplicates concurrent prompts for the same artifact URI. The
// first caller gets a Token and owns the prompt; later callers get an
// Outcome to await instead of prompting again.
type PendingSet struct {
	mu    sync.Mutex
	byURI map[string]*pendingPrompt
}

func NewPendingSet() *PendingSet {
	return &PendingSet{byURI: make(map[string]*pendingPrompt)}
}

// Begin claims the prompt for uri. Exactly one of the returns is non-nil;
// a Token whose Finish is a no-op comes back for unusable URIs.
func (s *PendingSet) Begin(uri string) (*Token, *Outcome) {
	uri = strings.TrimSpace(uri)
	if s == nil || uri == "" {
		return &Token{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.byURI[uri]; ok {
		return nil, &Outcome{p: cur}
	}
	p := &pendingPrompt{uri: uri, done: make(chan struct{})}
	s.byURI[uri] = p
	return &Token{set: s, p: p}, nil
}

// Has reports whether a prompt for uri is currently in flight.
func (s *PendingSet) Has(uri string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byURI[strings.TrimSpace(uri)]
	return ok
}

// URIs lists artifact URIs currently awaiting user input, sorted.
func (s *PendingSet) URIs() []string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	out := make([]string, 0, len(s.byURI))
	for uri := range s.byURI {
		out = append(out, uri)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}
