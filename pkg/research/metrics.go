package research

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricJobs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scout",
		Name:      "research_jobs_total",
		Help:      "Number of research jobs started.",
	})
	metricJobsCached = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scout",
		Name:      "research_jobs_cached_total",
		Help:      "Number of jobs served entirely from the report cache.",
	})
	metricSectionsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scout",
		Name:      "research_sections_completed_total",
		Help:      "Number of sections resolved by a worker.",
	})
	metricSectionsCached = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scout",
		Name:      "research_sections_cached_total",
		Help:      "Number of sections served from the section cache.",
	})
	metricSectionsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scout",
		Name:      "research_sections_failed_total",
		Help:      "Number of sections that resolved to a placeholder after exhausting retries.",
	})
	metricReportFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scout",
		Name:      "research_report_failures_total",
		Help:      "Number of jobs that ended without a report.",
	})
	metricJobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scout",
		Name:      "research_job_duration_seconds",
		Help:      "Wall-clock duration of research jobs.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)
