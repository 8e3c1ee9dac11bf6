package research

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/scout/pkg/cache"
	scouterrors "github.com/odvcencio/scout/pkg/errors"
	"github.com/odvcencio/scout/pkg/logging"
)

func TestOrchestrator_SequentialScenario(t *testing.T) {
	fc := newFakeCache()
	job := Job{ID: "j1", Topic: "X", Guidance: "", Sections: []string{"A", "B"}}

	// A succeeds immediately; B exhausts two attempts on a timeout before
	// succeeding on the third.
	worker := newCountingSectionWorker(func(calls int, in SectionInput) (SectionOutput, error) {
		switch in.Section {
		case "A":
			return SectionOutput{Content: "ca", Sources: []string{"u1"}}, nil
		default:
			if calls <= 2 {
				return SectionOutput{}, scouterrors.Wrap(context.DeadlineExceeded, scouterrors.ErrCodeWorkerTimeout, "slow").WithRetryable(true)
			}
			return SectionOutput{Content: "cb", Sources: []string{"u2", "u3"}}, nil
		}
	})

	assembler := reportWorkerFunc(func(ctx context.Context, topic, guidance string, sections []SectionSummary) (string, error) {
		return "# X\nreport body", nil
	})

	opts := fastOptions()
	opts.ConcurrentSections = false
	orch := New(fc, worker, assembler, logging.NewNopLogger(), opts)

	events := collectEvents(t, orch.RunJob(context.Background(), job))

	require.Equal(t, []EventType{
		EventStatus,
		EventSectionStart,
		EventSectionComplete,
		EventSectionStart,
		EventSectionComplete,
		EventStatus,
		EventReportComplete,
	}, eventTypes(events))

	assert.Equal(t, 0.0, events[0].Progress)
	assert.Equal(t, "A", events[2].Section)
	assert.InDelta(t, 40.0, events[2].Progress, 1e-9)
	assert.False(t, events[2].CacheHit)
	assert.Equal(t, "B", events[4].Section)
	assert.InDelta(t, 80.0, events[4].Progress, 1e-9)
	assert.Equal(t, 80.0, events[5].Progress)

	final := events[6]
	assert.Equal(t, "# X\nreport body", final.Report)
	assert.Equal(t, 2, final.SectionsCompleted)
	assert.Equal(t, 2, final.TotalSections)
	assert.Equal(t, 100.0, final.Progress)
	assert.False(t, final.CacheHit)

	assert.Equal(t, 3, worker.count("B"), "two timed-out attempts plus the success")

	reportKey := cache.ReportKey(job.Topic, job.Guidance, job.Sections)
	assert.True(t, fc.has(cache.SectionKey(job.Topic, "A", job.Guidance)))
	assert.True(t, fc.has(cache.SectionKey(job.Topic, "B", job.Guidance)))
	assert.True(t, fc.has(reportKey))
	assert.True(t, fc.has(cache.MetaKey(reportKey)))
}

func TestOrchestrator_PartialFailureStillAssembles(t *testing.T) {
	job := Job{ID: "j2", Topic: "X", Sections: []string{"one", "two", "three"}}

	worker := newCountingSectionWorker(func(calls int, in SectionInput) (SectionOutput, error) {
		if in.Section == "two" {
			return SectionOutput{}, scouterrors.Fatal("section two is cursed", nil)
		}
		return SectionOutput{Content: "content of " + in.Section}, nil
	})

	var assemblies atomic.Int32
	var gotInput []SectionSummary
	var mu sync.Mutex
	assembler := reportWorkerFunc(func(ctx context.Context, topic, guidance string, sections []SectionSummary) (string, error) {
		assemblies.Add(1)
		mu.Lock()
		gotInput = sections
		mu.Unlock()
		return "partial report", nil
	})

	orch := New(newFakeCache(), worker, assembler, logging.NewNopLogger(), fastOptions())
	events := collectEvents(t, orch.RunJob(context.Background(), job))

	require.Equal(t, int32(1), assemblies.Load(), "aggregation runs exactly once")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, gotInput, 3)
	assert.Equal(t, []string{"one", "two", "three"}, []string{gotInput[0].Title, gotInput[1].Title, gotInput[2].Title},
		"aggregation input preserves submission order")
	assert.True(t, strings.HasPrefix(gotInput[1].Content, "Error:"), "failed section carries a placeholder")

	var reports, errs int
	for _, ev := range events {
		switch ev.Type {
		case EventReportComplete:
			reports++
			assert.Equal(t, 2, ev.SectionsCompleted)
			assert.Equal(t, 3, ev.TotalSections)
		case EventError:
			errs++
		}
	}
	assert.Equal(t, 1, reports, "exactly one terminal report event")
	assert.Zero(t, errs)
}

func TestOrchestrator_WholeJobCacheShortCircuit(t *testing.T) {
	fc := newFakeCache()
	job := Job{ID: "j3", Topic: "X", Guidance: "g", Sections: []string{"A", "B"}}

	worker := newCountingSectionWorker(func(calls int, in SectionInput) (SectionOutput, error) {
		return SectionOutput{Content: "c-" + in.Section}, nil
	})
	assembler := reportWorkerFunc(func(ctx context.Context, topic, guidance string, sections []SectionSummary) (string, error) {
		return "full report", nil
	})

	opts := fastOptions()
	opts.ConcurrentSections = false
	orch := New(fc, worker, assembler, logging.NewNopLogger(), opts)

	collectEvents(t, orch.RunJob(context.Background(), job))
	firstRunCalls := worker.total()

	// Same inputs with the sections permuted still hit the cached report.
	rerun := job
	rerun.Sections = []string{"B", "A"}
	events := collectEvents(t, orch.RunJob(context.Background(), rerun))

	assert.Equal(t, firstRunCalls, worker.total(), "no worker invocations on the cached run")
	require.Equal(t, []EventType{EventStatus, EventReportComplete}, eventTypes(events))
	assert.True(t, events[0].CacheHit)
	assert.Equal(t, 90.0, events[0].Progress)
	assert.True(t, events[1].CacheHit)
	assert.Equal(t, "full report", events[1].Report)
	assert.Equal(t, 100.0, events[1].Progress)
}

func TestOrchestrator_AggregationFailureEmitsError(t *testing.T) {
	fc := newFakeCache()
	job := Job{ID: "j4", Topic: "X", Sections: []string{"A"}}

	worker := sectionWorkerFunc(func(ctx context.Context, in SectionInput) (SectionOutput, error) {
		return SectionOutput{Content: "ok"}, nil
	})
	assembler := reportWorkerFunc(func(ctx context.Context, topic, guidance string, sections []SectionSummary) (string, error) {
		return "", scouterrors.Fatal("assembler broken", nil)
	})

	orch := New(fc, worker, assembler, logging.NewNopLogger(), fastOptions())
	events := collectEvents(t, orch.RunJob(context.Background(), job))

	require.NotEmpty(t, events)
	final := events[len(events)-1]
	assert.Equal(t, EventError, final.Type)
	assert.Contains(t, final.Error, "assembler broken")

	for _, ev := range events {
		assert.NotEqual(t, EventReportComplete, ev.Type, "a failed job never reports completion")
	}
	assert.False(t, fc.has(cache.ReportKey(job.Topic, job.Guidance, job.Sections)),
		"a failed job caches nothing under the whole-job key")
}

func TestOrchestrator_AggregationRetriesTransientFailure(t *testing.T) {
	var attempts atomic.Int32
	assembler := reportWorkerFunc(func(ctx context.Context, topic, guidance string, sections []SectionSummary) (string, error) {
		if attempts.Add(1) == 1 {
			return "", scouterrors.Transient("first attempt flaked", nil)
		}
		return "recovered report", nil
	})
	worker := sectionWorkerFunc(func(ctx context.Context, in SectionInput) (SectionOutput, error) {
		return SectionOutput{Content: "ok"}, nil
	})

	orch := New(nil, worker, assembler, logging.NewNopLogger(), fastOptions())
	events := collectEvents(t, orch.RunJob(context.Background(), Job{ID: "j5", Topic: "X", Sections: []string{"A"}}))

	final := events[len(events)-1]
	require.Equal(t, EventReportComplete, final.Type)
	assert.Equal(t, "recovered report", final.Report)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestOrchestrator_CancellationStopsEventsAndRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	worker := sectionWorkerFunc(func(wctx context.Context, in SectionInput) (SectionOutput, error) {
		calls.Add(1)
		return SectionOutput{}, scouterrors.Transient("always failing", nil)
	})
	assembler := reportWorkerFunc(func(ctx context.Context, topic, guidance string, sections []SectionSummary) (string, error) {
		return "unreachable", nil
	})

	opts := fastOptions()
	opts.WorkerRetries = 1000
	opts.WorkerRetryDelay = 5 * time.Millisecond
	opts.ConcurrentSections = false
	orch := New(nil, worker, assembler, logging.NewNopLogger(), opts)

	events := orch.RunJob(ctx, Job{ID: "j6", Topic: "X", Sections: []string{"A"}})

	// Let the first attempts happen, then cancel mid-retry.
	for i := 0; i < 2; i++ {
		select {
		case <-events:
		case <-time.After(2 * time.Second):
			t.Fatal("no initial events")
		}
	}
	cancel()

	deadline := time.After(2 * time.Second)
	for open := true; open; {
		select {
		case _, ok := <-events:
			open = ok
		case <-deadline:
			t.Fatal("event channel did not close after cancellation")
		}
	}

	settled := calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, calls.Load(), "no retries after cancellation")
}

func TestOrchestrator_ConcurrentSectionsPreserveSubmissionOrder(t *testing.T) {
	sections := []string{"s1", "s2", "s3", "s4", "s5"}
	job := Job{ID: "j7", Topic: "X", Sections: sections}

	// Later sections finish first to force out-of-order completion.
	worker := sectionWorkerFunc(func(ctx context.Context, in SectionInput) (SectionOutput, error) {
		var delay time.Duration
		switch in.Section {
		case "s1":
			delay = 20 * time.Millisecond
		case "s2":
			delay = 10 * time.Millisecond
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return SectionOutput{}, ctx.Err()
		}
		return SectionOutput{Content: "content of " + in.Section}, nil
	})

	var got []SectionSummary
	var mu sync.Mutex
	assembler := reportWorkerFunc(func(ctx context.Context, topic, guidance string, sections []SectionSummary) (string, error) {
		mu.Lock()
		got = sections
		mu.Unlock()
		return "ordered report", nil
	})

	opts := fastOptions()
	opts.ConcurrentSections = true
	orch := New(newFakeCache(), worker, assembler, logging.NewNopLogger(), opts)

	events := collectEvents(t, orch.RunJob(context.Background(), job))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, len(sections))
	for i, s := range sections {
		assert.Equal(t, s, got[i].Title)
		assert.Equal(t, "content of "+s, got[i].Content)
	}

	final := events[len(events)-1]
	require.Equal(t, EventReportComplete, final.Type)
	assert.Equal(t, len(sections), final.SectionsCompleted)
}

func TestOrchestrator_NilCacheStillCompletes(t *testing.T) {
	worker := sectionWorkerFunc(func(ctx context.Context, in SectionInput) (SectionOutput, error) {
		return SectionOutput{Content: "c"}, nil
	})
	assembler := reportWorkerFunc(func(ctx context.Context, topic, guidance string, sections []SectionSummary) (string, error) {
		return "uncached report", nil
	})

	orch := New(nil, worker, assembler, logging.NewNopLogger(), fastOptions())
	events := collectEvents(t, orch.RunJob(context.Background(), Job{ID: "j8", Topic: "X", Sections: []string{"A"}}))

	final := events[len(events)-1]
	require.Equal(t, EventReportComplete, final.Type)
	assert.Equal(t, "uncached report", final.Report)
}
