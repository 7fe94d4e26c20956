// Package trust persists the set of hosts the user allows unattended
// downloads from.
package trust

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

type trustFile struct {
	Hosts []string `yaml:"hosts"`
}

// Store holds trusted hostnames, lowercased. The zero value works purely in
// memory; give it a path to persist across sessions.
type Store struct {
	mu    sync.Mutex
	path  string
	hosts map[string]struct{}
}

func NewStore(path string) *Store {
	return &Store{path: strings.TrimSpace(path)}
}

// Load reads the trust file, replacing the in-memory set. A missing file
// leaves the set empty.
func (s *Store) Load() error {
	if s == nil {
		return errors.New("trust: store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts = make(map[string]struct{})
	if s.path == "" {
		return nil
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var tf trustFile
	if err := yaml.Unmarshal(raw, &tf); err != nil {
		return fmt.Errorf("trust: parse %s: %w", s.path, err)
	}
	for _, h := range tf.Hosts {
		if h = canonical(h); h != "" {
			s.hosts[h] = struct{}{}
		}
	}
	return nil
}

// Save writes the current set to the trust file. Add and Remove persist on
// their own; Save exists for hosts that edit the set through other means.
func (s *Store) Save() error {
	if s == nil {
		return errors.New("trust: store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// Add marks a host as trusted and persists immediately.
func (s *Store) Add(host string) error {
	if s == nil {
		return errors.New("trust: store is nil")
	}
	host = canonical(host)
	if host == "" {
		return errors.New("trust: empty host")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hosts == nil {
		s.hosts = make(map[string]struct{})
	}
	if _, ok := s.hosts[host]; ok {
		return nil
	}
	s.hosts[host] = struct{}{}
	return s.saveLocked()
}

// Remove drops a host from the set and persists.
func (s *Store) Remove(host string) error {
	if s == nil {
		return errors.New("trust: store is nil")
	}
	host = canonical(host)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hosts[host]; !ok {
		return nil
	}
	delete(s.hosts, host)
	return s.saveLocked()
}

func (s *Store) IsTrusted(host string) bool {
	if s == nil {
		return false
	}
	host = canonical(host)
	if host == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.hosts[host]
	return ok
}

// Hosts returns the trusted hostnames, sorted.
func (s *Store) Hosts() []string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

func (s *Store) listLocked() []string {
	out := make([]string, 0, len(s.hosts))
	for h := range s.hosts {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	raw, err := yaml.Marshal(trustFile{Hosts: s.listLocked()})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func canonical(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}
