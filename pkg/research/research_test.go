package research

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// fakeCache is an in-memory Cache for pipeline tests.
type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (f *fakeCache) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.data[key]
	if !ok {
		return nil, false, nil
	}
	return json.RawMessage(raw), true, nil
}

func (f *fakeCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = data
	f.sets++
	return nil
}

func (f *fakeCache) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok
}

// sectionWorkerFunc adapts a function to the SectionWorker interface.
type sectionWorkerFunc func(ctx context.Context, in SectionInput) (SectionOutput, error)

func (f sectionWorkerFunc) Produce(ctx context.Context, in SectionInput) (SectionOutput, error) {
	return f(ctx, in)
}

// reportWorkerFunc adapts a function to the ReportWorker interface.
type reportWorkerFunc func(ctx context.Context, topic, guidance string, sections []SectionSummary) (string, error)

func (f reportWorkerFunc) Assemble(ctx context.Context, topic, guidance string, sections []SectionSummary) (string, error) {
	return f(ctx, topic, guidance, sections)
}

// countingSectionWorker tracks per-section invocation counts.
type countingSectionWorker struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(calls int, in SectionInput) (SectionOutput, error)
}

func newCountingSectionWorker(fn func(calls int, in SectionInput) (SectionOutput, error)) *countingSectionWorker {
	return &countingSectionWorker{calls: make(map[string]int), fn: fn}
}

func (w *countingSectionWorker) Produce(ctx context.Context, in SectionInput) (SectionOutput, error) {
	w.mu.Lock()
	w.calls[in.Section]++
	n := w.calls[in.Section]
	w.mu.Unlock()
	return w.fn(n, in)
}

func (w *countingSectionWorker) count(section string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls[section]
}

func (w *countingSectionWorker) total() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	sum := 0
	for _, n := range w.calls {
		sum += n
	}
	return sum
}

// fastOptions keeps test retries and timeouts tight.
func fastOptions() Options {
	return Options{
		SectionTimeout:           50 * time.Millisecond,
		AggregateTimeout:         200 * time.Millisecond,
		WorkerRetries:            3,
		WorkerRetryDelay:         time.Millisecond,
		RetryOnValidationFailure: true,
		MaxSections:              10,
		SectionTTL:               time.Minute,
		ReportTTL:                time.Minute,
	}
}

// collectEvents drains an event channel, failing the test if it does not
// close within the deadline.
func collectEvents(t *testing.T, events <-chan Event) []Event {
	t.Helper()

	var got []Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("event stream did not close; got %d events so far", len(got))
		}
	}
}

func eventTypes(events []Event) []EventType {
	types := make([]EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}
