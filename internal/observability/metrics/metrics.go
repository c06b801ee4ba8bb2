package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

type stageLabel struct {
	stage string
}

// Recorder aggregates in-memory metrics counters and gauges for HTTP requests,
// transcoding job lifecycle events, per-stage pipeline durations, and queue
// activity. It coordinates concurrent writers via a RWMutex while exposing a
// thread-safe gauge for active job tracking.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	jobEvents       map[string]uint64
	stageDuration   map[stageLabel]time.Duration
	stageCount      map[stageLabel]uint64
	queueEvents     map[string]uint64
	activeJobs      atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers can
// immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		jobEvents:       make(map[string]uint64),
		stageDuration:   make(map[stageLabel]time.Duration),
		stageCount:      make(map[stageLabel]uint64),
		queueEvents:     make(map[string]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// JobStarted records a job claim and increments the active job gauge
// atomically so concurrent workers remain consistent.
func (r *Recorder) JobStarted() {
	r.incrementJobEvent("start")
	r.activeJobs.Add(1)
}

// JobCompleted records a successful job and decrements the active job gauge.
func (r *Recorder) JobCompleted() {
	r.incrementJobEvent("complete")
	r.decrementGauge(&r.activeJobs)
}

// JobFailed records a failed job and decrements the active job gauge,
// guarding against negative counts when concurrent updates race.
func (r *Recorder) JobFailed() {
	r.incrementJobEvent("fail")
	r.decrementGauge(&r.activeJobs)
}

// JobDiscarded records a duplicate delivery that was dropped without running
// the pipeline. The active job gauge is untouched.
func (r *Recorder) JobDiscarded() {
	r.incrementJobEvent("discard")
}

func (r *Recorder) incrementJobEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.jobEvents[normalized]++
	r.mu.Unlock()
}

// ObserveStage accumulates the duration of one pipeline stage keyed by stage
// name (e.g., "thumbnail", "encode", "manifest", "probe").
func (r *Recorder) ObserveStage(stage string, duration time.Duration) {
	label := stageLabel{stage: normalizeName(stage)}
	r.mu.Lock()
	r.stageCount[label]++
	r.stageDuration[label] += duration
	r.mu.Unlock()
}

// ObserveQueueEvent records a queue event keyed by event name (e.g.,
// "enqueued", "delivered", "redelivered", "ack_failed").
func (r *Recorder) ObserveQueueEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.queueEvents[normalized]++
	r.mu.Unlock()
}

// ActiveJobs exposes the current gauge of jobs being processed.
func (r *Recorder) ActiveJobs() int64 {
	return r.activeJobs.Load()
}

// JobCounts returns copies of job event counters and the current active job
// gauge value for testing and reporting purposes.
func (r *Recorder) JobCounts() (events map[string]uint64, active int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events = make(map[string]uint64, len(r.jobEvents))
	for k, v := range r.jobEvents {
		events[k] = v
	}
	return events, r.activeJobs.Load()
}

// QueueCounts returns a copy of the queue event counters.
func (r *Recorder) QueueCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := make(map[string]uint64, len(r.queueEvents))
	for k, v := range r.queueEvents {
		events[k] = v
	}
	return events
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.jobEvents = make(map[string]uint64)
	r.stageDuration = make(map[stageLabel]time.Duration)
	r.stageCount = make(map[stageLabel]uint64)
	r.queueEvents = make(map[string]uint64)
	r.activeJobs.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting label
// sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	jobEvents := r.sortedJobEvents()
	stages := r.sortedStageLabels()
	queueEvents := r.sortedQueueEvents()

	fmt.Fprintln(w, "# HELP streamvault_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE streamvault_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "streamvault_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP streamvault_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE streamvault_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "streamvault_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP streamvault_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE streamvault_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "streamvault_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP streamvault_transcoding_jobs_total Transcoding job lifecycle events by type")
	fmt.Fprintln(w, "# TYPE streamvault_transcoding_jobs_total counter")
	for _, event := range jobEvents {
		count := r.jobEvents[event]
		fmt.Fprintf(w, "streamvault_transcoding_jobs_total{event=\"%s\"} %d\n", event, count)
	}

	fmt.Fprintln(w, "# HELP streamvault_transcoding_active_jobs Current number of jobs being processed")
	fmt.Fprintln(w, "# TYPE streamvault_transcoding_active_jobs gauge")
	fmt.Fprintf(w, "streamvault_transcoding_active_jobs %d\n", r.activeJobs.Load())

	fmt.Fprintln(w, "# HELP streamvault_pipeline_stage_duration_seconds_sum Cumulative duration of pipeline stages in seconds")
	fmt.Fprintln(w, "# TYPE streamvault_pipeline_stage_duration_seconds_sum counter")
	for _, label := range stages {
		duration := r.stageDuration[label].Seconds()
		fmt.Fprintf(w, "streamvault_pipeline_stage_duration_seconds_sum{stage=\"%s\"} %f\n", label.stage, duration)
	}

	fmt.Fprintln(w, "# HELP streamvault_pipeline_stage_duration_seconds_count Total number of observations for stage durations")
	fmt.Fprintln(w, "# TYPE streamvault_pipeline_stage_duration_seconds_count counter")
	for _, label := range stages {
		count := r.stageCount[label]
		fmt.Fprintf(w, "streamvault_pipeline_stage_duration_seconds_count{stage=\"%s\"} %d\n", label.stage, count)
	}

	fmt.Fprintln(w, "# HELP streamvault_queue_events_total Queue events by type")
	fmt.Fprintln(w, "# TYPE streamvault_queue_events_total counter")
	for _, event := range queueEvents {
		count := r.queueEvents[event]
		fmt.Fprintf(w, "streamvault_queue_events_total{event=\"%s\"} %d\n", event, count)
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedJobEvents() []string {
	events := make([]string, 0, len(r.jobEvents))
	for event := range r.jobEvents {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

func (r *Recorder) sortedStageLabels() []stageLabel {
	labels := make([]stageLabel, 0, len(r.stageCount))
	for label := range r.stageCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		return labels[i].stage < labels[j].stage
	})
	return labels
}

func (r *Recorder) sortedQueueEvents() []string {
	events := make([]string, 0, len(r.queueEvents))
	for event := range r.queueEvents {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
			continue
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 8 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// JobStarted increments counters on the default recorder.
func JobStarted() {
	defaultRecorder.JobStarted()
}

// JobCompleted records a completed job on the default recorder.
func JobCompleted() {
	defaultRecorder.JobCompleted()
}

// JobFailed records a failed job on the default recorder.
func JobFailed() {
	defaultRecorder.JobFailed()
}

// JobDiscarded records a discarded duplicate delivery on the default recorder.
func JobDiscarded() {
	defaultRecorder.JobDiscarded()
}

// ObserveStage records a stage duration on the default recorder.
func ObserveStage(stage string, duration time.Duration) {
	defaultRecorder.ObserveStage(stage, duration)
}

// ObserveQueueEvent records a queue event on the default recorder.
func ObserveQueueEvent(event string) {
	defaultRecorder.ObserveQueueEvent(event)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
