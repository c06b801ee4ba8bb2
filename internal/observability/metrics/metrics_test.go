package metrics

import (
	"bytes"
	"fmt"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestObserveRequestAndNormalizePath(t *testing.T) {
	recorder := New()

	type testCase struct {
		name     string
		method   string
		path     string
		status   int
		duration time.Duration
	}

	cases := []testCase{
		{
			name:     "root path",
			method:   "get",
			path:     "/",
			status:   200,
			duration: 50 * time.Millisecond,
		},
		{
			name:     "empty path",
			method:   "GET",
			path:     "",
			status:   200,
			duration: 25 * time.Millisecond,
		},
		{
			name:     "id segment",
			method:   "post",
			path:     "/videos/123",
			status:   201,
			duration: 100 * time.Millisecond,
		},
		{
			name:     "trailing slash and alpha id",
			method:   "POST",
			path:     "/videos/abc123def/",
			status:   201,
			duration: 50 * time.Millisecond,
		},
		{
			name:     "multi ids",
			method:   "PATCH",
			path:     "jobs/abc/456/extra",
			status:   404,
			duration: 10 * time.Millisecond,
		},
	}

	expectedCounts := make(map[requestLabel]struct {
		count    uint64
		duration time.Duration
	})

	for _, tc := range cases {
		recorder.ObserveRequest(tc.method, tc.path, tc.status, tc.duration)

		label := requestLabel{
			method: strings.ToUpper(tc.method),
			path:   normalizePath(tc.path),
			status: fmt.Sprintf("%d", tc.status),
		}
		current := expectedCounts[label]
		current.count++
		current.duration += tc.duration
		expectedCounts[label] = current
	}

	if len(recorder.requestCount) != len(expectedCounts) {
		t.Fatalf("unexpected number of labels: got %d want %d", len(recorder.requestCount), len(expectedCounts))
	}

	for label, expected := range expectedCounts {
		gotCount := recorder.requestCount[label]
		gotDuration := recorder.requestDuration[label]
		if gotCount != expected.count {
			t.Errorf("count mismatch for %+v: got %d want %d", label, gotCount, expected.count)
		}
		if gotDuration != expected.duration {
			t.Errorf("duration mismatch for %+v: got %s want %s", label, gotDuration, expected.duration)
		}
	}

	labels := recorder.sortedRequestLabels()
	sortedExpected := make([]requestLabel, 0, len(expectedCounts))
	for label := range expectedCounts {
		sortedExpected = append(sortedExpected, label)
	}
	sort.Slice(sortedExpected, func(i, j int) bool {
		if sortedExpected[i].method != sortedExpected[j].method {
			return sortedExpected[i].method < sortedExpected[j].method
		}
		if sortedExpected[i].path != sortedExpected[j].path {
			return sortedExpected[i].path < sortedExpected[j].path
		}
		return sortedExpected[i].status < sortedExpected[j].status
	})

	if len(labels) != len(sortedExpected) {
		t.Fatalf("sorted labels length mismatch: got %d want %d", len(labels), len(sortedExpected))
	}

	for i := range labels {
		if labels[i] != sortedExpected[i] {
			t.Errorf("sorted label %d mismatch: got %+v want %+v", i, labels[i], sortedExpected[i])
		}
	}
}

func TestJobGaugeConcurrent(t *testing.T) {
	recorder := New()

	var wg sync.WaitGroup
	starts := 100
	completions := 150

	wg.Add(starts + completions)
	for i := 0; i < starts; i++ {
		go func() {
			defer wg.Done()
			recorder.JobStarted()
		}()
	}
	for i := 0; i < completions; i++ {
		go func() {
			defer wg.Done()
			recorder.JobCompleted()
		}()
	}

	wg.Wait()

	if active := recorder.ActiveJobs(); active != 0 {
		t.Fatalf("active jobs should not go negative; got %d", active)
	}

	if count := recorder.jobEvents["start"]; count != uint64(starts) {
		t.Fatalf("unexpected start events: got %d want %d", count, starts)
	}
	if count := recorder.jobEvents["complete"]; count != uint64(completions) {
		t.Fatalf("unexpected complete events: got %d want %d", count, completions)
	}
}

func TestWriteAndHandlerOutput(t *testing.T) {
	recorder := New()

	recorder.ObserveRequest("GET", "/videos/abc123", 200, 150*time.Millisecond)
	recorder.ObserveRequest("get", "/videos/456/", 200, 50*time.Millisecond)
	recorder.ObserveRequest("POST", "/videos", 201, time.Second)

	recorder.JobStarted()
	recorder.JobStarted()
	recorder.JobCompleted()
	recorder.JobDiscarded()

	recorder.ObserveStage(" Encode ", 2*time.Second)
	recorder.ObserveStage("encode", 500*time.Millisecond)
	recorder.ObserveStage("probe", 100*time.Millisecond)

	recorder.ObserveQueueEvent("enqueued")
	recorder.ObserveQueueEvent("enqueued")
	recorder.ObserveQueueEvent("redelivered")

	var buf bytes.Buffer
	recorder.Write(&buf)

	expected := `# HELP streamvault_http_requests_total Total number of HTTP requests processed by the API
# TYPE streamvault_http_requests_total counter
streamvault_http_requests_total{method="GET",path="/videos/:id",status="200"} 2
streamvault_http_requests_total{method="POST",path="/videos",status="201"} 1
# HELP streamvault_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds
# TYPE streamvault_http_request_duration_seconds_sum counter
streamvault_http_request_duration_seconds_sum{method="GET",path="/videos/:id",status="200"} 0.200000
streamvault_http_request_duration_seconds_sum{method="POST",path="/videos",status="201"} 1.000000
# HELP streamvault_http_request_duration_seconds_count Total number of observations for request durations
# TYPE streamvault_http_request_duration_seconds_count counter
streamvault_http_request_duration_seconds_count{method="GET",path="/videos/:id",status="200"} 2
streamvault_http_request_duration_seconds_count{method="POST",path="/videos",status="201"} 1
# HELP streamvault_transcoding_jobs_total Transcoding job lifecycle events by type
# TYPE streamvault_transcoding_jobs_total counter
streamvault_transcoding_jobs_total{event="complete"} 1
streamvault_transcoding_jobs_total{event="discard"} 1
streamvault_transcoding_jobs_total{event="start"} 2
# HELP streamvault_transcoding_active_jobs Current number of jobs being processed
# TYPE streamvault_transcoding_active_jobs gauge
streamvault_transcoding_active_jobs 1
# HELP streamvault_pipeline_stage_duration_seconds_sum Cumulative duration of pipeline stages in seconds
# TYPE streamvault_pipeline_stage_duration_seconds_sum counter
streamvault_pipeline_stage_duration_seconds_sum{stage="encode"} 2.500000
streamvault_pipeline_stage_duration_seconds_sum{stage="probe"} 0.100000
# HELP streamvault_pipeline_stage_duration_seconds_count Total number of observations for stage durations
# TYPE streamvault_pipeline_stage_duration_seconds_count counter
streamvault_pipeline_stage_duration_seconds_count{stage="encode"} 2
streamvault_pipeline_stage_duration_seconds_count{stage="probe"} 1
# HELP streamvault_queue_events_total Queue events by type
# TYPE streamvault_queue_events_total counter
streamvault_queue_events_total{event="enqueued"} 2
streamvault_queue_events_total{event="redelivered"} 1`

	if diff := compareLines(buf.String(), expected); diff != "" {
		t.Fatalf("unexpected write output:\n%s", diff)
	}

	res := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(res, httptest.NewRequest("GET", "/metrics", nil))

	if contentType := res.Result().Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/plain") {
		t.Fatalf("unexpected content type: %s", contentType)
	}

	if diff := compareLines(res.Body.String(), expected); diff != "" {
		t.Fatalf("unexpected handler output:\n%s", diff)
	}
}

func compareLines(actual, expected string) string {
	actualLines := strings.Split(strings.TrimSpace(actual), "\n")
	expectedLines := strings.Split(strings.TrimSpace(expected), "\n")
	if len(actualLines) != len(expectedLines) {
		return formatDiff(actualLines, expectedLines)
	}
	for i := range actualLines {
		if actualLines[i] != expectedLines[i] {
			return formatDiff(actualLines, expectedLines)
		}
	}
	return ""
}

func formatDiff(actual, expected []string) string {
	var b strings.Builder
	b.WriteString("expected\n")
	for _, line := range expected {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("got\n")
	for _, line := range actual {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
