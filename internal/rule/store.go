package rule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound      = errors.New("rule not found")
	ErrDuplicateName = errors.New("rule name already exists")
	ErrNotScheduled  = errors.New("rule is not a scheduled rule")
)

// Filter narrows List. Zero values match everything.
type Filter struct {
	Owner   string
	Query   string // case-insensitive substring of name or description
	Trigger Trigger
}

// Store persists rules. Deleted rules are invisible to every read.
// Implementations return copies; callers may mutate what they get.
type Store interface {
	Create(ctx context.Context, r *Rule) error
	Get(ctx context.Context, id string) (*Rule, error)
	// Update writes the definition of r. Counters and run times are left
	// as stored; only RecordExecution, MarkScheduledRun and Reschedule
	// change them.
	Update(ctx context.Context, r *Rule) error
	Delete(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context, f Filter) ([]*Rule, error)

	// ListByTrigger returns enabled rules for a trigger ordered by priority.
	ListByTrigger(ctx context.Context, t Trigger) ([]*Rule, error)
	// ListDueScheduled returns enabled scheduled rules that never ran or
	// whose next run is not after now.
	ListDueScheduled(ctx context.Context, now time.Time) ([]*Rule, error)

	// RecordExecution increments the execution counter, and the failure
	// counter when failed is set, in one step.
	RecordExecution(ctx context.Context, id string, failed bool) error
	// MarkScheduledRun stores the run timestamps and disables the rule when disable is set.
	MarkScheduledRun(ctx context.Context, id string, lastRun time.Time, nextRun *time.Time, disable bool) error
	// Reschedule replaces the next run time after a schedule change.
	Reschedule(ctx context.Context, id string, nextRun *time.Time) error
}

// InMemoryStore implements Store using an in-memory map.
// Thread-safe with RWMutex.
type InMemoryStore struct {
	mu    sync.RWMutex
	rules map[string]*Rule
	seq   map[string]int // insertion order breaks priority ties
	next  int
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		rules: make(map[string]*Rule),
		seq:   make(map[string]int),
	}
}

func (s *InMemoryStore) Create(_ context.Context, r *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[r.ID]; exists {
		return fmt.Errorf("rule with ID %s already exists", r.ID)
	}
	if s.nameTaken(r.Name, "") {
		return fmt.Errorf("%w: %s", ErrDuplicateName, r.Name)
	}
	s.rules[r.ID] = r.Clone()
	s.seq[r.ID] = s.next
	s.next++
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[id]
	if !ok || r.Deleted {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.Clone(), nil
}

func (s *InMemoryStore) Update(_ context.Context, r *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rules[r.ID]
	if !ok || existing.Deleted {
		return fmt.Errorf("%w: %s", ErrNotFound, r.ID)
	}
	if s.nameTaken(r.Name, r.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateName, r.Name)
	}
	next := r.Clone()
	next.ExecutionCount = existing.ExecutionCount
	next.FailureCount = existing.FailureCount
	next.LastRunAt = existing.LastRunAt
	next.NextRunAt = existing.NextRunAt
	next.CreatedAt = existing.CreatedAt
	s.rules[r.ID] = next
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[id]
	if !ok || r.Deleted {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.Deleted = true
	r.DeletedAt = &at
	r.UpdatedAt = at
	return nil
}

func (s *InMemoryStore) List(_ context.Context, f Filter) ([]*Rule, error) {
	q := strings.ToLower(strings.TrimSpace(f.Query))
	return s.collect(func(r *Rule) bool {
		if f.Owner != "" && r.Owner != f.Owner {
			return false
		}
		if f.Trigger != "" && r.Trigger != f.Trigger {
			return false
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(r.Name), q) &&
			!strings.Contains(strings.ToLower(r.Description), q) {
			return false
		}
		return true
	}), nil
}

func (s *InMemoryStore) ListByTrigger(_ context.Context, t Trigger) ([]*Rule, error) {
	return s.collect(func(r *Rule) bool {
		return r.Enabled && r.Trigger == t
	}), nil
}

func (s *InMemoryStore) ListDueScheduled(_ context.Context, now time.Time) ([]*Rule, error) {
	return s.collect(func(r *Rule) bool {
		return r.Enabled && r.IsScheduled() && (r.NextRunAt == nil || !r.NextRunAt.After(now))
	}), nil
}

func (s *InMemoryStore) RecordExecution(_ context.Context, id string, failed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.ExecutionCount++
	if failed {
		r.FailureCount++
	}
	return nil
}

func (s *InMemoryStore) MarkScheduledRun(_ context.Context, id string, lastRun time.Time, nextRun *time.Time, disable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.LastRunAt = &lastRun
	r.NextRunAt = cloneTime(nextRun)
	if disable {
		r.Enabled = false
	}
	return nil
}

func (s *InMemoryStore) Reschedule(_ context.Context, id string, nextRun *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[id]
	if !ok || r.Deleted {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.NextRunAt = cloneTime(nextRun)
	return nil
}

// collect returns copies of the live rules accepted by keep, ordered by
// priority and then insertion.
func (s *InMemoryStore) collect(keep func(*Rule) bool) []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Rule
	for _, r := range s.rules {
		if !r.Deleted && keep(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return s.seq[out[i].ID] < s.seq[out[j].ID]
	})
	return out
}

// nameTaken must be called with the lock held.
func (s *InMemoryStore) nameTaken(name, exceptID string) bool {
	for id, r := range s.rules {
		if id != exceptID && !r.Deleted && strings.EqualFold(r.Name, name) {
			return true
		}
	}
	return false
}
