package resolver

import (
	"strings"
	"sync"
)

// HostContext supplies the surrounding application's view of the world. The
// resolver only reads through it; hosts mutate their own implementation.
type HostContext interface {
	// InjectedBases lists base URIs configured by the host, in
	// registration order.
	InjectedBases() []string
	// WorkspaceRoot returns the primary workspace folder, empty when no
	// workspace is open.
	WorkspaceRoot() string
	// OpenDocumentURIs lists documents currently open in the host editor.
	OpenDocumentURIs() []string
	// KnownArtifacts lists every artifact URI mentioned by the loaded
	// reports.
	KnownArtifacts() []string
}

// StaticHost is a mutable HostContext for hosts without a richer adapter.
type StaticHost struct {
	mu        sync.RWMutex
	bases     []string
	root      string
	openDocs  []string
	artifacts []string
}

func NewStaticHost() *StaticHost {
	return &StaticHost{}
}

func (h *StaticHost) SetWorkspaceRoot(root string) {
	h.mu.Lock()
	h.root = strings.TrimSpace(root)
	h.mu.Unlock()
}

func (h *StaticHost) SetInjectedBases(bases ...string) {
	h.mu.Lock()
	h.bases = h.bases[:0]
	for _, b := range bases {
		if b = strings.TrimSpace(b); b != "" {
			h.bases = append(h.bases, b)
		}
	}
	h.mu.Unlock()
}

func (h *StaticHost) AddOpenDocument(uri string) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, d := range h.openDocs {
		if d == uri {
			return
		}
	}
	h.openDocs = append(h.openDocs, uri)
}

func (h *StaticHost) RemoveOpenDocument(uri string) {
	uri = strings.TrimSpace(uri)
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, d := range h.openDocs {
		if d == uri {
			h.openDocs = append(h.openDocs[:i], h.openDocs[i+1:]...)
			return
		}
	}
}

// RegisterArtifacts records artifact URIs seen in loaded reports, deduped.
func (h *StaticHost) RegisterArtifacts(uris ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, uri := range uris {
		uri = strings.TrimSpace(uri)
		if uri == "" {
			continue
		}
		dup := false
		for _, a := range h.artifacts {
			if a == uri {
				dup = true
				break
			}
		}
		if !dup {
			h.artifacts = append(h.artifacts, uri)
		}
	}
}

func (h *StaticHost) InjectedBases() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), h.bases...)
}

func (h *StaticHost) WorkspaceRoot() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.root
}

func (h *StaticHost) OpenDocumentURIs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), h.openDocs...)
}

func (h *StaticHost) KnownArtifacts() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), h.artifacts...)
}
