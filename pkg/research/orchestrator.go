package research

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/scout/pkg/cache"
	scouterrors "github.com/odvcencio/scout/pkg/errors"
	"github.com/odvcencio/scout/pkg/logging"
)

// Orchestrator drives a research job end to end: whole-job cache check,
// section fan-out, ordered aggregation, report caching, and progress-event
// emission. One Orchestrator serves many concurrent jobs; all per-job state
// lives on the goroutine running that job.
type Orchestrator struct {
	cache    Cache
	sections SectionWorker
	reports  ReportWorker
	logger   *logging.Logger
	opts     Options
}

// reportRecord is the cached whole-job entry.
type reportRecord struct {
	Report            string `json:"report"`
	SectionsCompleted int    `json:"sections_completed"`
	TotalSections     int    `json:"total_sections"`
}

// metaRecord is stored next to a cached report for the admin surface.
type metaRecord struct {
	Topic    string   `json:"topic"`
	Guidance string   `json:"guidance,omitempty"`
	Sections []string `json:"sections"`
	CachedAt string   `json:"cached_at"`
}

// New creates an Orchestrator. cache may be nil to disable caching.
func New(c Cache, sections SectionWorker, reports ReportWorker, logger *logging.Logger, opts Options) *Orchestrator {
	return &Orchestrator{
		cache:    c,
		sections: sections,
		reports:  reports,
		logger:   logger,
		opts:     opts.withDefaults(),
	}
}

// RunJob starts the job and returns its event stream. The channel is closed
// after the terminal event, or without one if the context is cancelled; no
// event is emitted after cancellation is observed.
func (o *Orchestrator) RunJob(ctx context.Context, job Job) <-chan Event {
	events := make(chan Event)
	go o.run(ctx, job, events)
	return events
}

func (o *Orchestrator) run(ctx context.Context, job Job, events chan<- Event) {
	defer close(events)

	started := time.Now()
	metricJobs.Inc()
	defer func() {
		metricJobDuration.Observe(time.Since(started).Seconds())
	}()

	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	total := len(job.Sections)
	reportKey := cache.ReportKey(job.Topic, job.Guidance, job.Sections)

	// Whole-job short-circuit: a cached report skips all worker invocations.
	if rec, ok := o.cachedReport(ctx, reportKey); ok {
		metricJobsCached.Inc()
		o.logger.Info(logging.CategoryResearch, "job_cache_hit", "serving cached report", map[string]any{
			"job_id": job.ID,
			"key":    reportKey,
		})
		if !emit(Event{Type: EventStatus, Message: "Serving cached result", Progress: 90, CacheHit: true}) {
			return
		}
		emit(Event{
			Type:              EventReportComplete,
			Report:            rec.Report,
			SectionsCompleted: rec.SectionsCompleted,
			TotalSections:     rec.TotalSections,
			Progress:          100,
			CacheHit:          true,
		})
		return
	}

	if !emit(Event{Type: EventStatus, Message: "Starting research", Progress: 0}) {
		return
	}

	task := NewSectionTask(o.cache, o.sections, o.logger, o.opts)
	results := make([]SectionResult, total)
	var completed atomic.Int64

	runSection := func(sectionCtx context.Context, i int, title string) {
		emit(Event{
			Type:          EventSectionStart,
			Section:       title,
			SectionNumber: i + 1,
			TotalSections: total,
			Progress:      float64(completed.Load()) / float64(total) * 80,
		})

		res := task.Run(sectionCtx, job, i, title)
		results[i] = res

		progress := float64(completed.Add(1)) / float64(total) * 80
		if res.resolved() {
			emit(Event{
				Type:          EventSectionComplete,
				Section:       title,
				SectionNumber: i + 1,
				TotalSections: total,
				Content:       res.Content,
				Sources:       res.Sources,
				Progress:      progress,
				CacheHit:      res.CacheHit,
			})
		} else {
			emit(Event{
				Type:          EventSectionError,
				Section:       title,
				SectionNumber: i + 1,
				TotalSections: total,
				Error:         res.Err,
				Progress:      progress,
			})
		}
	}

	if o.opts.ConcurrentSections {
		g, gctx := errgroup.WithContext(ctx)
		for i, title := range job.Sections {
			i, title := i, title
			g.Go(func() error {
				runSection(gctx, i, title)
				return nil
			})
		}
		g.Wait()
	} else {
		for i, title := range job.Sections {
			if ctx.Err() != nil {
				break
			}
			runSection(ctx, i, title)
		}
	}

	if ctx.Err() != nil {
		return
	}

	if !emit(Event{Type: EventStatus, Message: "Assembling report", Progress: 80}) {
		return
	}

	// Aggregation input preserves submission order regardless of the order
	// sections resolved in.
	summaries := make([]SectionSummary, total)
	resolved := 0
	for i, res := range results {
		summaries[i] = SectionSummary{Title: res.Section, Content: res.Content, Sources: res.Sources}
		if res.resolved() {
			resolved++
		}
	}

	report, err := o.assemble(ctx, job, summaries)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metricReportFailures.Inc()
		o.logger.Error(logging.CategoryAssembly, "report_failed", err.Error(), map[string]any{
			"job_id": job.ID,
		})
		emit(Event{Type: EventError, Message: "Report assembly failed", Error: err.Error(), Progress: 80})
		return
	}

	o.cacheReport(ctx, reportKey, job, reportRecord{
		Report:            report,
		SectionsCompleted: resolved,
		TotalSections:     total,
	})

	emit(Event{
		Type:              EventReportComplete,
		Report:            report,
		SectionsCompleted: resolved,
		TotalSections:     total,
		Progress:          100,
	})
}

// assemble invokes the aggregation worker under the long timeout budget with
// the same retry discipline as sections, minus the validation retry: an
// aggregator's output is trusted if non-empty.
func (o *Orchestrator) assemble(ctx context.Context, job Job, sections []SectionSummary) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= o.opts.WorkerRetries; attempt++ {
		if attempt > 1 {
			o.logger.Warn(logging.CategoryRetry, "assembly_retry", lastErr.Error(), map[string]any{
				"job_id":  job.ID,
				"attempt": attempt,
				"max":     o.opts.WorkerRetries,
			})
			select {
			case <-time.After(o.opts.WorkerRetryDelay):
			case <-ctx.Done():
				return "", scouterrors.Wrap(ctx.Err(), scouterrors.ErrCodeJobCancelled, "cancelled between retries")
			}
		}

		report, err := o.assembleOnce(ctx, job, sections)
		if err == nil {
			return report, nil
		}
		if ctx.Err() != nil {
			return "", scouterrors.Wrap(ctx.Err(), scouterrors.ErrCodeJobCancelled, "cancelled during assembly")
		}

		lastErr = err
		if !retryableWorkerError(err) {
			return "", err
		}
	}

	return "", lastErr
}

func (o *Orchestrator) assembleOnce(ctx context.Context, job Job, sections []SectionSummary) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, o.opts.AggregateTimeout)
	defer cancel()

	report, err := o.reports.Assemble(attemptCtx, job.Topic, job.Guidance, sections)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return "", scouterrors.Wrap(err, scouterrors.ErrCodeWorkerTimeout, "aggregation worker timed out").
				WithContext("timeout", o.opts.AggregateTimeout.String()).
				WithRetryable(true)
		}
		return "", err
	}
	if report == "" {
		return "", scouterrors.New(scouterrors.ErrCodeWorkerOutputInvalid, "aggregation worker returned an empty report")
	}
	return report, nil
}

func (o *Orchestrator) cachedReport(ctx context.Context, key string) (reportRecord, bool) {
	if o.cache == nil {
		return reportRecord{}, false
	}

	raw, hit, err := o.cache.Get(ctx, key)
	if err != nil || !hit {
		return reportRecord{}, false
	}

	var rec reportRecord
	if err := json.Unmarshal(raw, &rec); err != nil || rec.Report == "" {
		return reportRecord{}, false
	}
	return rec, true
}

// cacheReport writes the report plus its metadata side-entry. Best-effort:
// failures are logged and forgotten.
func (o *Orchestrator) cacheReport(ctx context.Context, key string, job Job, rec reportRecord) {
	if o.cache == nil {
		return
	}

	if err := o.cache.Set(ctx, key, rec, o.opts.ReportTTL); err != nil {
		o.logger.Warn(logging.CategoryCache, "report_cache_write_failed", err.Error(), map[string]any{
			"key": key,
		})
		return
	}

	meta := metaRecord{
		Topic:    job.Topic,
		Guidance: job.Guidance,
		Sections: job.Sections,
		CachedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := o.cache.Set(ctx, cache.MetaKey(key), meta, o.opts.ReportTTL); err != nil {
		o.logger.Warn(logging.CategoryCache, "meta_cache_write_failed", err.Error(), map[string]any{
			"key": key,
		})
	}
}
