package update

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Status tracks one fan-out's per-device outcomes. At every observation point
// the three sets are pairwise disjoint and their union equals the target set;
// all mutations are serialized by the status's own lock.
type Status struct {
	mu        sync.Mutex
	pending   map[string]struct{}
	succeeded map[string]struct{}
	failed    map[string]struct{}
}

func NewStatus(targets []string) *Status {
	s := &Status{
		pending:   make(map[string]struct{}, len(targets)),
		succeeded: make(map[string]struct{}),
		failed:    make(map[string]struct{}),
	}
	for _, uuid := range targets {
		s.pending[uuid] = struct{}{}
	}
	return s
}

func (s *Status) MarkSucceeded(uuid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, uuid)
	delete(s.failed, uuid)
	s.succeeded[uuid] = struct{}{}
}

func (s *Status) MarkFailed(uuid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.succeeded[uuid]; done {
		return
	}
	delete(s.pending, uuid)
	s.failed[uuid] = struct{}{}
}

// RequeueFailed moves every failed device back to pending for the next retry
// round.
func (s *Status) RequeueFailed(uuid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.failed[uuid]; !ok {
		return
	}
	delete(s.failed, uuid)
	s.pending[uuid] = struct{}{}
}

func sorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for uuid := range set {
		out = append(out, uuid)
	}
	sort.Strings(out)
	return out
}

func (s *Status) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sorted(s.pending)
}

func (s *Status) Succeeded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sorted(s.succeeded)
}

func (s *Status) Failed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sorted(s.failed)
}

// AllSucceeded reports whether every target landed.
func (s *Status) AllSucceeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) == 0 && len(s.failed) == 0
}

// Details renders the per-device outcome summary carried in acks.
func (s *Status) Details() string {
	return fmt.Sprintf("Succeeded on: %s; Failed on: %s",
		strings.Join(s.Succeeded(), ", "),
		strings.Join(s.Failed(), ", "))
}
