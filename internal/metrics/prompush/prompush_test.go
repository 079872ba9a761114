package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"logparsely/internal/metrics"
)

// readCounterValue reads the current value of a Counter for assertions in tests.
func readCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Counter.Write() error = %v", err)
	}
	if m.GetCounter() == nil {
		t.Fatalf("metric did not contain Counter value")
	}
	return m.GetCounter().GetValue()
}

func readGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Gauge.Write() error = %v", err)
	}
	return m.GetGauge().GetValue()
}

// readSummaryCountSum reads sample count and sum from a SummaryVec for assertions in tests.
func readSummaryCountSum(t *testing.T, v *prometheus.SummaryVec, labels ...string) (uint64, float64) {
	t.Helper()

	m := &dto.Metric{}
	metric, ok := v.WithLabelValues(labels...).(prometheus.Metric)
	if !ok {
		t.Fatalf("SummaryVec.WithLabelValues(...) does not implement prometheus.Metric")
	}
	if err := metric.Write(m); err != nil {
		t.Fatalf("Summary.Write() error = %v", err)
	}
	if m.GetSummary() == nil {
		t.Fatalf("metric did not contain Summary value")
	}
	sum := m.GetSummary()
	return sum.GetSampleCount(), sum.GetSampleSum()
}

func TestNewBackend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		jobName     string
		gatewayURL  string
		wantErr     bool
		wantJobName string
	}{
		{
			name:    "missing gateway URL returns error",
			jobName: "api",
			wantErr: true,
		},
		{
			name:        "empty job name uses default",
			gatewayURL:  "http://pushgateway:9091",
			wantJobName: "logparsely",
		},
		{
			name:        "explicit job name is preserved",
			jobName:     "api",
			gatewayURL:  "http://pushgateway:9091",
			wantJobName: "api",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b, err := NewBackend(tt.jobName, tt.gatewayURL, "")
			if tt.wantErr {
				if err == nil || b != nil {
					t.Fatalf("NewBackend(%q, %q) = %v, %v; want error", tt.jobName, tt.gatewayURL, b, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewBackend(%q, %q) error = %v", tt.jobName, tt.gatewayURL, err)
			}
			if b.jobName != tt.wantJobName {
				t.Fatalf("backend.jobName = %q, want %q", b.jobName, tt.wantJobName)
			}
			if b.stepCounter == nil || b.stepDuration == nil || b.recordCounter == nil ||
				b.batchCounter == nil || b.columns == nil {
				t.Fatalf("collector missing: %+v", b)
			}
		})
	}
}

func TestIncCounter(t *testing.T) {
	t.Parallel()

	type args struct {
		name   string
		delta  float64
		labels metrics.Labels
	}
	tests := []struct {
		name         string
		args         []args
		wantCounters func(t *testing.T, b *Backend)
	}{
		{
			name: "increments step counter with labels",
			args: []args{
				{metrics.StepTotal, 3, metrics.Labels{"job": "api", "step": "flush", "status": "success"}},
			},
			wantCounters: func(t *testing.T, b *Backend) {
				if got := readCounterValue(t, b.stepCounter.WithLabelValues("flush", "success")); got != 3 {
					t.Fatalf("stepCounter value = %v, want 3", got)
				}
			},
		},
		{
			name: "increments record counter with kind label",
			args: []args{
				{metrics.RecordsTotal, 5, metrics.Labels{"kind": "inserted"}},
			},
			wantCounters: func(t *testing.T, b *Backend) {
				if got := readCounterValue(t, b.recordCounter.WithLabelValues("inserted")); got != 5 {
					t.Fatalf("recordCounter value = %v, want 5", got)
				}
			},
		},
		{
			name: "increments batch counter without labels",
			args: []args{
				{metrics.BatchesTotal, 2, metrics.Labels{}},
				{metrics.BatchesTotal, 0.5, metrics.Labels{}},
			},
			wantCounters: func(t *testing.T, b *Backend) {
				if got := readCounterValue(t, b.batchCounter); got != 2.5 {
					t.Fatalf("batchCounter value = %v, want 2.5", got)
				}
			},
		},
		{
			name: "unknown metric name is ignored",
			args: []args{
				{"unknown_metric", 10, metrics.Labels{"foo": "bar"}},
			},
			wantCounters: func(t *testing.T, b *Backend) {
				if got := readCounterValue(t, b.batchCounter); got != 0 {
					t.Fatalf("batchCounter value = %v, want 0 (unchanged)", got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b, err := NewBackend("api", "http://example.com", "")
			if err != nil {
				t.Fatalf("NewBackend() error = %v", err)
			}
			for _, a := range tt.args {
				b.IncCounter(a.name, a.delta, a.labels)
			}
			tt.wantCounters(t, b)
		})
	}
}

// TestNilCollectors ensures a zero-value Backend never panics.
func TestNilCollectors(t *testing.T) {
	t.Parallel()

	b := &Backend{}
	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "s", "status": "success"})
	b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{"kind": "inserted"})
	b.IncCounter(metrics.BatchesTotal, 1, nil)
	b.ObserveHistogram(metrics.StepDuration, 1, nil)
	b.SetGauge(metrics.Columns, 1, nil)
}

func TestObserveHistogram(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("api", "http://example.com", "")
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	lbls := metrics.Labels{"step": "flush", "status": "success"}
	b.ObserveHistogram(metrics.StepDuration, 1.5, lbls)
	b.ObserveHistogram("other_metric", 2.0, lbls)

	count, sum := readSummaryCountSum(t, b.stepDuration, "flush", "success")
	if count != 1 || sum != 1.5 {
		t.Fatalf("summary = %d/%v, want 1/1.5", count, sum)
	}
}

func TestSetGauge(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("api", "http://example.com", "")
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	b.SetGauge(metrics.Columns, 12, nil)
	b.SetGauge(metrics.Columns, 9, nil)
	b.SetGauge("other", 100, nil)
	if got := readGaugeValue(t, b.columns); got != 9 {
		t.Fatalf("columns = %v, want 9", got)
	}
}

// TestFlush verifies that Flush pushes the registry to the gateway under the
// job and instance grouping keys.
func TestFlush(t *testing.T) {
	t.Parallel()

	type pushRequestInfo struct {
		method string
		path   string
		body   string
	}
	reqCh := make(chan pushRequestInfo, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		body, _ := io.ReadAll(r.Body)
		reqCh <- pushRequestInfo{method: r.Method, path: r.URL.Path, body: string(body)}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	b, err := NewBackend("api", server.URL, "run-1")
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{"kind": "inserted"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	var got pushRequestInfo
	select {
	case got = <-reqCh:
	default:
		t.Fatalf("Flush() did not result in any HTTP request to the Pushgateway")
	}
	if got.method != http.MethodPut {
		t.Fatalf("method = %s, want PUT", got.method)
	}
	if !strings.Contains(got.path, "/job/api") || !strings.Contains(got.path, "/instance/run-1") {
		t.Fatalf("path = %q", got.path)
	}
	if len(got.body) == 0 {
		t.Fatalf("Push request body is empty")
	}
}

func TestFlushReportsGatewayError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	b, err := NewBackend("api", server.URL, "")
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	if err := b.Flush(); err == nil || !strings.Contains(err.Error(), "prompush") {
		t.Fatalf("Flush() error = %v, want prompush error", err)
	}
}

func BenchmarkIncCounterRecord(b *testing.B) {
	backend, err := NewBackend("api", "http://example.com", "")
	if err != nil {
		b.Fatalf("NewBackend() error = %v", err)
	}
	labels := metrics.Labels{"kind": "inserted"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		backend.IncCounter(metrics.RecordsTotal, 1, labels)
	}
}
