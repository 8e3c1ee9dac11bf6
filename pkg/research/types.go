// Package research implements the cached fan-out/aggregate pipeline: split a
// topic into sections, resolve each section through the cache or a worker,
// then merge the resolved sections into one report. Progress is streamed as
// an ordered sequence of events.
package research

import (
	"context"
	"encoding/json"
	"time"

	"github.com/odvcencio/scout/pkg/config"
)

// SectionStatus is the terminal state of one section's work.
type SectionStatus string

const (
	StatusPending   SectionStatus = "pending"
	StatusCached    SectionStatus = "cached"
	StatusCompleted SectionStatus = "completed"
	StatusFailed    SectionStatus = "failed"
	StatusTimedOut  SectionStatus = "timed_out"
)

// Job is one research submission. Sections keep their submission order;
// that order is preserved all the way into the aggregation input.
type Job struct {
	ID       string
	Topic    string
	Guidance string
	Sections []string
}

// SectionInput is the query handed to a SectionWorker.
type SectionInput struct {
	Topic    string
	Section  string
	Guidance string
}

// SectionOutput is the validated product of a SectionWorker.
type SectionOutput struct {
	Content string   `json:"content"`
	Sources []string `json:"sources"`
}

// SectionResult records how one section resolved. Transitions are monotonic:
// a result never reverts to pending.
type SectionResult struct {
	Section  string
	Index    int
	Status   SectionStatus
	Content  string
	Sources  []string
	Err      string
	CacheHit bool
}

// resolved reports whether the section produced usable content.
func (r SectionResult) resolved() bool {
	return r.Status == StatusCompleted || r.Status == StatusCached
}

// SectionSummary is one entry of the aggregation input.
type SectionSummary struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Sources []string `json:"sources"`
}

// SectionWorker performs the unit of work for one section. Errors carry a
// retryability classification; only retryable errors and timeouts are
// retried.
type SectionWorker interface {
	Produce(ctx context.Context, input SectionInput) (SectionOutput, error)
}

// ReportWorker merges the resolved sections into a single report.
type ReportWorker interface {
	Assemble(ctx context.Context, topic, guidance string, sections []SectionSummary) (string, error)
}

// Cache is the slice of the cache store the pipeline depends on. A nil Cache
// disables caching; every lookup is a miss and writes are dropped.
type Cache interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Options tunes the pipeline. Use OptionsFromConfig to derive them from the
// loaded configuration.
type Options struct {
	SectionTimeout           time.Duration
	AggregateTimeout         time.Duration
	WorkerRetries            int
	WorkerRetryDelay         time.Duration
	RetryOnValidationFailure bool
	ConcurrentSections       bool
	MaxSections              int
	SectionTTL               time.Duration
	ReportTTL                time.Duration
}

// OptionsFromConfig maps the research and cache configuration onto pipeline
// options.
func OptionsFromConfig(r config.ResearchConfig, c config.CacheConfig) Options {
	return Options{
		SectionTimeout:           r.SectionTimeout(),
		AggregateTimeout:         r.AggregateTimeout(),
		WorkerRetries:            r.WorkerRetries,
		WorkerRetryDelay:         r.WorkerRetryDelay(),
		RetryOnValidationFailure: r.RetryOnValidationFailure,
		ConcurrentSections:       r.ConcurrentSections,
		MaxSections:              r.MaxSections,
		SectionTTL:               c.SectionTTL(),
		ReportTTL:                c.ReportTTL(),
	}
}

// withDefaults fills zero values so a hand-built Options is usable in tests.
func (o Options) withDefaults() Options {
	if o.SectionTimeout <= 0 {
		o.SectionTimeout = time.Duration(config.DefaultSectionTimeout) * time.Second
	}
	if o.AggregateTimeout <= 0 {
		o.AggregateTimeout = time.Duration(config.DefaultAggregateTimeout) * time.Second
	}
	if o.WorkerRetries <= 0 {
		o.WorkerRetries = config.DefaultWorkerRetries
	}
	if o.WorkerRetryDelay <= 0 {
		o.WorkerRetryDelay = time.Duration(config.DefaultWorkerRetryDelay) * time.Second
	}
	if o.MaxSections <= 0 {
		o.MaxSections = config.DefaultMaxSections
	}
	if o.SectionTTL <= 0 {
		o.SectionTTL = time.Duration(config.DefaultSectionTTL) * time.Second
	}
	if o.ReportTTL <= 0 {
		o.ReportTTL = time.Duration(config.DefaultReportTTL) * time.Second
	}
	return o
}
