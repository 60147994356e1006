package prometheus

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	identitykit "github.com/identitykit/identitykit"
)

type fakeSource struct {
	snapshot identitykit.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() identitykit.MetricsSnapshot { return f.snapshot }
func (f *fakeSource) EventsDropped() uint64                        { return f.dropped }

func TestRenderCounters(t *testing.T) {
	source := &fakeSource{
		snapshot: identitykit.MetricsSnapshot{
			Counters: map[identitykit.MetricID]uint64{
				identitykit.MetricSignInSuccess: 7,
				identitykit.MetricSignUpSuccess: 3,
			},
			Histograms: map[identitykit.MetricID][]uint64{},
		},
		dropped: 2,
	}
	out := NewPrometheusExporterFromSource(source).Render()

	for _, want := range []string{
		"identitykit_signin_success_total 7",
		"identitykit_signup_success_total 3",
		"identitykit_events_dropped_total 2",
		"# TYPE identitykit_signin_success_total counter",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render output missing %q", want)
		}
	}
}

func TestRenderHistogramCumulative(t *testing.T) {
	source := &fakeSource{
		snapshot: identitykit.MetricsSnapshot{
			Counters: map[identitykit.MetricID]uint64{},
			Histograms: map[identitykit.MetricID][]uint64{
				identitykit.MetricSignInLatency: {1, 2, 0, 0, 0, 0, 0, 1},
			},
		},
	}
	out := NewPrometheusExporterFromSource(source).Render()

	for _, want := range []string{
		`identitykit_signin_latency_seconds_bucket{le="0.005"} 1`,
		`identitykit_signin_latency_seconds_bucket{le="0.01"} 3`,
		`identitykit_signin_latency_seconds_bucket{le="+Inf"} 4`,
		"identitykit_signin_latency_seconds_count 4",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render output missing %q", want)
		}
	}
}

func TestRenderEmptySnapshot(t *testing.T) {
	source := &fakeSource{snapshot: identitykit.MetricsSnapshot{
		Counters:   map[identitykit.MetricID]uint64{},
		Histograms: map[identitykit.MetricID][]uint64{},
	}}
	if out := NewPrometheusExporterFromSource(source).Render(); out != "" {
		t.Errorf("empty snapshot rendered %d bytes", len(out))
	}
}

func TestHandlerContentType(t *testing.T) {
	source := &fakeSource{
		snapshot: identitykit.MetricsSnapshot{
			Counters:   map[identitykit.MetricID]uint64{identitykit.MetricSignInSuccess: 1},
			Histograms: map[identitykit.MetricID][]uint64{},
		},
	}
	server := httptest.NewServer(NewPrometheusExporterFromSource(source).Handler())
	defer server.Close()

	resp, err := server.Client().Get(server.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Errorf("content type = %q", got)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "identitykit_signin_success_total 1") {
		t.Errorf("body missing counter line: %s", body)
	}
}
