// Package fetch downloads raw artifact content from version-control hosts
// and object-store mirrors.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNotFound reports content missing at the origin.
var ErrNotFound = errors.New("fetch: content not found")

// Source downloads the raw bytes addressed by a URL.
type Source interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Mux routes fetches to a Source by URL scheme.
type Mux struct {
	byScheme map[string]Source
}

func NewMux() *Mux {
	return &Mux{byScheme: make(map[string]Source)}
}

// Register binds a scheme (e.g. "https") to a source. Later bindings win.
func (m *Mux) Register(scheme string, src Source) {
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	if m == nil || scheme == "" || src == nil {
		return
	}
	m.byScheme[scheme] = src
}

func (m *Mux) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if m == nil {
		return nil, errors.New("fetch: no sources configured")
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("fetch: parse url: %w", err)
	}
	src, ok := m.byScheme[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, fmt.Errorf("fetch: no source for scheme %q", u.Scheme)
	}
	return src.Fetch(ctx, rawURL)
}

// HostOf extracts the lowercased hostname a URL downloads from, for trust
// decisions. Malformed URLs yield the empty string.
func HostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
