package cron

import (
	"context"
	"testing"
	"time"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryStoresJobs(t *testing.T) {
	registry := NewRegistry()
	jobA := &stubJob{name: "a"}
	jobB := &stubJob{name: "b"}
	registry.Register(jobA)
	registry.Register(jobB)
	registry.Register(nil)
	jobs := registry.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0] != jobA || jobs[1] != jobB {
		t.Fatalf("jobs returned out of order")
	}
	// ensure caller cannot mutate internal slice
	jobs[0] = nil
	if registry.Jobs()[0] == nil {
		t.Fatalf("internal slice leaked")
	}
}

func TestEveryWrapsCadence(t *testing.T) {
	job := Every(15*time.Minute, &stubJob{name: "periodic"})
	if job.Name() != "periodic" {
		t.Fatalf("unexpected name %q", job.Name())
	}
	if got := cadenceOf(job); got != 15*time.Minute {
		t.Fatalf("unexpected cadence %s", got)
	}
	if got := cadenceOf(&stubJob{name: "plain"}); got != 0 {
		t.Fatalf("plain job should have no cadence, got %s", got)
	}
	if Every(time.Minute, nil) != nil {
		t.Fatalf("wrapping nil should stay nil")
	}
}
