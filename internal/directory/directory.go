// Package directory resolves the recipients of an incident from the
// configured recipient directory.
package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/marcus-qen/incidentd/internal/incident"
)

// Wildcard matches any domain or scope.
const Wildcard = "*"

// Entry binds recipients to a domain and scope. An empty or "*" scope matches
// every scope of the domain, including the global evaluation.
type Entry struct {
	Domain     string               `yaml:"domain"`
	Scope      string               `yaml:"scope"`
	Recipients []incident.Recipient `yaml:"recipients"`
}

// File is the on-disk directory format.
type File struct {
	Entries []Entry `yaml:"entries"`
}

// Static is an in-memory directory. It implements incident.RecipientResolver
// and can be swapped atomically on config reload.
type Static struct {
	mu       sync.RWMutex
	entries  []Entry
	channels map[string]bool
}

var _ incident.RecipientResolver = (*Static)(nil)

// NewStatic creates a directory. When channels is non-empty, recipients that
// name any other channel are reported as resolution failures.
func NewStatic(entries []Entry, channels []string) *Static {
	s := &Static{}
	s.Replace(entries, channels)
	return s
}

// LoadFile reads a directory file.
func LoadFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse directory %s: %w", path, err)
	}
	return f.Entries, nil
}

// Replace swaps the directory contents.
func (s *Static) Replace(entries []Entry, channels []string) {
	known := make(map[string]bool, len(channels))
	for _, c := range channels {
		known[c] = true
	}
	cp := make([]Entry, len(entries))
	copy(cp, entries)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = cp
	s.channels = known
}

// Recipients implements incident.RecipientResolver. Recipients are returned
// sorted by ID and deduplicated; invalid ones are skipped and reported in
// the returned error alongside the valid ones.
func (s *Static) Recipients(ctx context.Context, domain, scopeID string) ([]incident.Recipient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var (
		out  []incident.Recipient
		errs []error
	)
	for _, e := range s.entries {
		if !matches(e.Domain, domain) || !matchesScope(e.Scope, scopeID) {
			continue
		}
		for _, r := range e.Recipients {
			if seen[r.ID] {
				continue
			}
			if err := s.validate(r); err != nil {
				errs = append(errs, err)
				continue
			}
			seen[r.ID] = true
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, errors.Join(errs...)
}

func (s *Static) validate(r incident.Recipient) error {
	if r.ID == "" {
		return fmt.Errorf("recipient without id")
	}
	if r.Channel == "" {
		return fmt.Errorf("recipient %s has no channel", r.ID)
	}
	if len(s.channels) > 0 && !s.channels[r.Channel] {
		return fmt.Errorf("recipient %s uses unknown channel %q", r.ID, r.Channel)
	}
	return nil
}

func matches(pattern, v string) bool {
	return pattern == Wildcard || pattern == v
}

func matchesScope(pattern, scopeID string) bool {
	return pattern == "" || pattern == Wildcard || pattern == scopeID
}
