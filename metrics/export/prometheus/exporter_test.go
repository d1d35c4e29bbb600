package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	goAccount "github.com/MrEthical07/goAccount"
)

type fakeSource struct {
	snapshot goAccount.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() goAccount.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                       { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := New(fakeSource{
		snapshot: goAccount.NewMetrics(goAccount.MetricsConfig{Enabled: false}).Snapshot(),
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
	if got := New(nil).Render(); got != "" {
		t.Fatalf("expected empty output for nil source, got:\n%s", got)
	}
}

func TestRenderFromEngineMetrics(t *testing.T) {
	m := goAccount.NewMetrics(goAccount.MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	for i := 0; i < 7; i++ {
		m.Inc(goAccount.MetricLoginSuccess)
	}
	m.Inc(goAccount.MetricRefreshReuseDetected)
	m.Observe(goAccount.MetricAuthenticateLatency, 0)

	out := New(fakeSource{snapshot: m.Snapshot(), dropped: 2}).Render()

	for _, want := range []string{
		"goaccount_login_success_total 7",
		"goaccount_refresh_reuse_detected_total 1",
		"goaccount_signup_success_total 0",
		"goaccount_authenticate_latency_seconds_bucket{le=\"0.005\"} 1",
		"goaccount_authenticate_latency_seconds_bucket{le=\"+Inf\"} 1",
		"goaccount_authenticate_latency_seconds_count 1",
		"goaccount_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestRenderCumulativeBuckets(t *testing.T) {
	exp := New(fakeSource{
		snapshot: goAccount.MetricsSnapshot{
			Counters: map[goAccount.MetricID]uint64{goAccount.MetricLoginSuccess: 1},
			Histograms: map[goAccount.MetricID][]uint64{
				goAccount.MetricAuthenticateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
	})

	out := exp.Render()
	if !strings.Contains(out, "goaccount_authenticate_latency_seconds_bucket{le=\"+Inf\"} 36") {
		t.Fatalf("expected +Inf cumulative bucket in output, got:\n%s", out)
	}
}

func TestRenderOmitsHistogramWhenLatencyDisabled(t *testing.T) {
	m := goAccount.NewMetrics(goAccount.MetricsConfig{Enabled: true})
	m.Inc(goAccount.MetricLogout)

	out := New(fakeSource{snapshot: m.Snapshot()}).Render()
	if strings.Contains(out, "goaccount_authenticate_latency_seconds") {
		t.Fatalf("expected no histogram when latency is disabled, got:\n%s", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := New(fakeSource{
		snapshot: goAccount.MetricsSnapshot{
			Counters:   map[goAccount.MetricID]uint64{goAccount.MetricLoginSuccess: 1},
			Histograms: map[goAccount.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := New(fakeSource{
		snapshot: goAccount.MetricsSnapshot{
			Counters: map[goAccount.MetricID]uint64{
				goAccount.MetricLoginSuccess:   1000,
				goAccount.MetricLoginFailure:   40,
				goAccount.MetricRefreshSuccess: 800,
				goAccount.MetricSignupSuccess:  120,
				goAccount.MetricOTPSent:        300,
			},
			Histograms: map[goAccount.MetricID][]uint64{
				goAccount.MetricAuthenticateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
