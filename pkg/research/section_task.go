package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/odvcencio/scout/pkg/cache"
	scouterrors "github.com/odvcencio/scout/pkg/errors"
	"github.com/odvcencio/scout/pkg/logging"
)

// SectionTask wraps one section's unit of work: cache lookup, worker
// invocation under timeout and bounded retries, output validation, and a
// best-effort cache write. A task never fails the job; terminal failures
// resolve to a placeholder result so aggregation can still proceed.
type SectionTask struct {
	cache  Cache
	worker SectionWorker
	logger *logging.Logger
	opts   Options
}

// NewSectionTask creates a task runner. cache may be nil to disable caching.
func NewSectionTask(c Cache, worker SectionWorker, logger *logging.Logger, opts Options) *SectionTask {
	return &SectionTask{
		cache:  c,
		worker: worker,
		logger: logger,
		opts:   opts.withDefaults(),
	}
}

// Run resolves one section. The returned result is always terminal:
// cached, completed, failed, or timed out.
func (t *SectionTask) Run(ctx context.Context, job Job, index int, section string) SectionResult {
	res := SectionResult{Section: section, Index: index, Status: StatusPending}

	key := cache.SectionKey(job.Topic, section, job.Guidance)
	if out, ok := t.lookup(ctx, key); ok {
		res.Status = StatusCached
		res.CacheHit = true
		res.Content = out.Content
		res.Sources = out.Sources
		metricSectionsCached.Inc()
		return res
	}

	out, err := t.produce(ctx, SectionInput{Topic: job.Topic, Section: section, Guidance: job.Guidance})
	if err != nil {
		res.Err = err.Error()
		res.Content = placeholderContent(section, err)
		if scouterrors.IsCode(err, scouterrors.ErrCodeWorkerTimeout) {
			res.Status = StatusTimedOut
		} else {
			res.Status = StatusFailed
		}
		metricSectionsFailed.Inc()
		t.logger.Error(logging.CategoryResearch, "section_failed", res.Err, map[string]any{
			"section": section,
			"status":  string(res.Status),
		})
		return res
	}

	res.Status = StatusCompleted
	res.Content = out.Content
	res.Sources = out.Sources
	metricSectionsCompleted.Inc()

	// Best-effort write; a cache failure never degrades the result.
	t.store(ctx, key, out)

	return res
}

// produce invokes the worker up to the retry limit. Only retryable errors,
// timeouts, and (when enabled) output-validation failures are retried; the
// inter-attempt delay is fixed.
func (t *SectionTask) produce(ctx context.Context, in SectionInput) (SectionOutput, error) {
	var lastErr error

	for attempt := 1; attempt <= t.opts.WorkerRetries; attempt++ {
		if attempt > 1 {
			t.logger.Warn(logging.CategoryRetry, "worker_retry", lastErr.Error(), map[string]any{
				"section": in.Section,
				"attempt": attempt,
				"max":     t.opts.WorkerRetries,
			})
			select {
			case <-time.After(t.opts.WorkerRetryDelay):
			case <-ctx.Done():
				return SectionOutput{}, scouterrors.Wrap(ctx.Err(), scouterrors.ErrCodeJobCancelled, "cancelled between retries")
			}
		}

		out, err := t.invokeOnce(ctx, in)
		if err == nil {
			if verr := validateSectionOutput(out); verr != nil {
				lastErr = verr
				if t.opts.RetryOnValidationFailure {
					continue
				}
				return SectionOutput{}, verr
			}
			return out, nil
		}

		if ctx.Err() != nil {
			return SectionOutput{}, scouterrors.Wrap(ctx.Err(), scouterrors.ErrCodeJobCancelled, "cancelled during worker call")
		}

		lastErr = err
		if !retryableWorkerError(err) {
			return SectionOutput{}, err
		}
	}

	return SectionOutput{}, lastErr
}

// invokeOnce runs a single worker attempt under the section timeout.
func (t *SectionTask) invokeOnce(ctx context.Context, in SectionInput) (SectionOutput, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, t.opts.SectionTimeout)
	defer cancel()

	out, err := t.worker.Produce(attemptCtx, in)
	if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return SectionOutput{}, scouterrors.Wrap(err, scouterrors.ErrCodeWorkerTimeout, "section worker timed out").
			WithContext("timeout", t.opts.SectionTimeout.String()).
			WithRetryable(true)
	}
	return out, err
}

func (t *SectionTask) lookup(ctx context.Context, key string) (SectionOutput, bool) {
	if t.cache == nil {
		return SectionOutput{}, false
	}

	raw, hit, err := t.cache.Get(ctx, key)
	if err != nil || !hit {
		return SectionOutput{}, false
	}

	var out SectionOutput
	if err := json.Unmarshal(raw, &out); err != nil || validateSectionOutput(out) != nil {
		return SectionOutput{}, false
	}
	return out, true
}

func (t *SectionTask) store(ctx context.Context, key string, out SectionOutput) {
	if t.cache == nil {
		return
	}
	if err := t.cache.Set(ctx, key, out, t.opts.SectionTTL); err != nil {
		t.logger.Warn(logging.CategoryCache, "section_cache_write_failed", err.Error(), map[string]any{
			"key": key,
		})
	}
}

// validateSectionOutput enforces the worker output shape: non-empty content
// and a (possibly empty) source list.
func validateSectionOutput(out SectionOutput) error {
	if strings.TrimSpace(out.Content) == "" {
		return scouterrors.New(scouterrors.ErrCodeWorkerOutputInvalid, "worker returned empty content")
	}
	return nil
}

// retryableWorkerError reports whether a worker failure is worth another
// attempt. Fatal failures and cancellation are not.
func retryableWorkerError(err error) bool {
	if scouterrors.IsRetryable(err) {
		return true
	}
	switch scouterrors.GetCode(err) {
	case scouterrors.ErrCodeWorkerTimeout, scouterrors.ErrCodeWorkerTransient,
		scouterrors.ErrCodeModelTimeout, scouterrors.ErrCodeModelRateLimit:
		return true
	}
	return false
}

// placeholderContent is the synthetic section body used when all retries are
// exhausted, so a partial report can still be assembled.
func placeholderContent(section string, err error) string {
	return fmt.Sprintf("Error: unable to research %q (%s)", section, err)
}
