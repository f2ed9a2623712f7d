// Package schedule translates job definitions into triggerable entries.
//
// A Set is immutable once built: the runtime swaps whole Sets and never
// patches one in place, so readers can hold a Set across a reload without
// observing a half-built schedule.
package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"jobsman/internal/job"
)

// Entry is one live triggerable unit: the definition it came from plus its
// parsed cron schedule and resolved timeout.
type Entry struct {
	Job      job.Definition
	Schedule cron.Schedule
	Timeout  time.Duration
}

// Set is the active schedule set, keyed by job id. Always reconstructible
// from the datastore; never the source of truth.
type Set struct {
	entries map[string]Entry
	builtAt time.Time
}

// Build constructs a Set from definitions. It is all-or-nothing: any
// invalid definition fails the whole build so callers keep their previous
// Set. Duplicate ids cannot occur in datastore output (primary key), but a
// later duplicate would overwrite, matching upsert semantics.
func Build(defs []job.Definition) (*Set, error) {
	parser := job.Parser()
	entries := make(map[string]Entry, len(defs))
	for _, d := range defs {
		d = d.Normalized()
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("build schedule: %w", err)
		}
		sched, err := parser.Parse(d.Spec())
		if err != nil {
			return nil, fmt.Errorf("build schedule: job %q: %w", d.ID, err)
		}
		entries[d.ID] = Entry{
			Job:      d,
			Schedule: sched,
			Timeout:  time.Duration(d.Timeout) * time.Second,
		}
	}
	return &Set{entries: entries, builtAt: time.Now()}, nil
}

// Empty returns a Set with no entries.
func Empty() *Set {
	return &Set{entries: map[string]Entry{}, builtAt: time.Now()}
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Empty reports whether the Set has no entries. Nil-safe.
func (s *Set) Empty() bool { return s.Len() == 0 }

func (s *Set) BuiltAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.builtAt
}

// Get returns the entry for a job id.
func (s *Set) Get(id string) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	e, ok := s.entries[id]
	return e, ok
}

// Entries returns the entries sorted by job id.
func (s *Set) Entries() []Entry {
	if s == nil {
		return nil
	}
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job.ID < out[j].Job.ID })
	return out
}

// Jobs returns the definitions backing this Set, sorted by id.
func (s *Set) Jobs() []job.Definition {
	entries := s.Entries()
	out := make([]job.Definition, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Job)
	}
	return out
}
