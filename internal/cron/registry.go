package cron

import (
	"context"
	"time"
)

// Job represents a scheduled task that runs inside the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduled is implemented by jobs that should run less often than every tick.
type Scheduled interface {
	Every() time.Duration
}

// Every wraps job so it runs at most once per period.
func Every(period time.Duration, job Job) Job {
	if job == nil {
		return nil
	}
	return &periodicJob{Job: job, period: period}
}

type periodicJob struct {
	Job
	period time.Duration
}

func (p *periodicJob) Every() time.Duration { return p.period }

func cadenceOf(job Job) time.Duration {
	if scheduled, ok := job.(Scheduled); ok {
		return scheduled.Every()
	}
	return 0
}

// Registry tracks registered cron jobs.
type Registry struct {
	jobs []Job
}

// NewRegistry builds a registry preloaded with the provided jobs.
func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{}
	for _, job := range jobs {
		registry.Register(job)
	}
	return registry
}

// Register adds a job to the registry.
func (r *Registry) Register(job Job) {
	if job == nil {
		return
	}
	r.jobs = append(r.jobs, job)
}

// Jobs returns the registered jobs in the order they were added.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}
