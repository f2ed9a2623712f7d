package schedule

import (
	"errors"
	"testing"
	"time"

	"jobsman/internal/job"
)

func TestBuildEveryFiveMinutes(t *testing.T) {
	t.Parallel()
	def := job.Definition{ID: "echo5", Command: "echo hi", Second: "0", Minute: "*/5", Timeout: 10}.Normalized()
	set, err := Build([]job.Definition{def})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	e, ok := set.Get("echo5")
	if !ok {
		t.Fatal("echo5 missing from set")
	}
	if e.Timeout != 10*time.Second {
		t.Fatalf("Timeout = %v", e.Timeout)
	}

	// Consecutive fire times must be 5 minutes apart.
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	first := e.Schedule.Next(from)
	second := e.Schedule.Next(first)
	if got := second.Sub(first); got != 5*time.Minute {
		t.Fatalf("fire interval = %v, want 5m", got)
	}
	if first.Minute()%5 != 0 || first.Second() != 0 {
		t.Fatalf("first fire %v not aligned to */5", first)
	}
}

func TestBuildIdempotent(t *testing.T) {
	t.Parallel()
	defs := []job.Definition{
		job.New("a", "echo a"),
		{ID: "b", Command: "echo b", Minute: "30", Hour: "4", Timeout: 120},
	}
	s1, err := Build(defs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	s2, err := Build(defs)
	if err != nil {
		t.Fatalf("Build (second): %v", err)
	}
	if s1.Len() != s2.Len() {
		t.Fatalf("Len mismatch: %d vs %d", s1.Len(), s2.Len())
	}

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, e1 := range s1.Entries() {
		e2, ok := s2.Get(e1.Job.ID)
		if !ok {
			t.Fatalf("job %q missing from second build", e1.Job.ID)
		}
		if e1.Job != e2.Job || e1.Timeout != e2.Timeout {
			t.Fatalf("entries differ for %q", e1.Job.ID)
		}
		if !e1.Schedule.Next(from).Equal(e2.Schedule.Next(from)) {
			t.Fatalf("schedules differ for %q", e1.Job.ID)
		}
	}
}

func TestBuildRejectsCorruptField(t *testing.T) {
	t.Parallel()
	defs := []job.Definition{
		job.New("good", "true"),
		{ID: "bad", Command: "true", Minute: "not-a-minute", Timeout: 5},
	}
	set, err := Build(defs)
	if err == nil {
		t.Fatal("Build accepted a corrupt schedule field")
	}
	if !errors.Is(err, job.ErrInvalidSchedule) {
		t.Fatalf("err = %v, want ErrInvalidSchedule", err)
	}
	if set != nil {
		t.Fatal("Build returned a partial set alongside an error")
	}
}

func TestBuildNormalizesStoredDefaults(t *testing.T) {
	t.Parallel()
	// Rows written by older tooling may miss fields; build fills them.
	set, err := Build([]job.Definition{{ID: "old", Command: "true", Timeout: 60}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	e, _ := set.Get("old")
	if e.Job.Second != "*" {
		t.Fatalf("Second = %q, want *", e.Job.Second)
	}
}

func TestEmptySet(t *testing.T) {
	t.Parallel()
	s := Empty()
	if s.Len() != 0 {
		t.Fatalf("Len = %d", s.Len())
	}
	if !s.Empty() {
		t.Fatal("Empty() = false for a set with no entries")
	}
	if got := s.Entries(); len(got) != 0 {
		t.Fatalf("Entries = %v", got)
	}
	var nilSet *Set
	if nilSet.Len() != 0 {
		t.Fatal("nil set Len != 0")
	}
	if !nilSet.Empty() {
		t.Fatal("nil set Empty() = false")
	}

	populated, err := Build([]job.Definition{{ID: "x", Command: "true", Timeout: 5}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if populated.Empty() {
		t.Fatal("Empty() = true for a populated set")
	}
}
