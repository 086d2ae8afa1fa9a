package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCollectorRendersRouteCounters(t *testing.T) {
	c := NewCollector()
	c.ObserveHTTPRequest("/api/v1/orchestrate", 200, 120*time.Millisecond)
	c.ObserveHTTPRequest("/api/v1/orchestrate", 502, 40*time.Millisecond)
	c.ObserveHTTPRequest("/health", 200, 2*time.Millisecond)

	out := c.Render()
	if !strings.Contains(out, `xgov_http_requests_total{route="/api/v1/orchestrate"} 2`) {
		t.Fatalf("missing request counter:\n%s", out)
	}
	if !strings.Contains(out, `xgov_http_errors_total{route="/api/v1/orchestrate"} 1`) {
		t.Fatalf("missing error counter:\n%s", out)
	}
	if !strings.Contains(out, `xgov_http_request_duration_seconds_count{route="/health"} 1`) {
		t.Fatalf("missing latency count:\n%s", out)
	}
}

func TestCollectorHistogramBuckets(t *testing.T) {
	c := NewCollector()
	c.ObserveHTTPRequest("/pay", 200, 60*time.Millisecond)

	out := c.Render()
	if strings.Contains(out, `xgov_http_request_duration_seconds_bucket{route="/pay",le="0.05"} 1`) {
		t.Fatalf("60ms must not land in the 0.05 bucket:\n%s", out)
	}
	if !strings.Contains(out, `xgov_http_request_duration_seconds_bucket{route="/pay",le="0.1"} 1`) {
		t.Fatalf("60ms should land in the 0.1 bucket:\n%s", out)
	}
	if !strings.Contains(out, `xgov_http_request_duration_seconds_bucket{route="/pay",le="+Inf"} 1`) {
		t.Fatalf("missing +Inf bucket:\n%s", out)
	}
}

func TestCollectorDomainCounters(t *testing.T) {
	c := NewCollector()
	c.ObservePayment("delivered")
	c.ObservePayment("delivered")
	c.ObservePayment("denied")
	c.ObserveOrchestration(true)
	c.ObserveOrchestration(false)

	out := c.Render()
	if !strings.Contains(out, `xgov_payments_total{status="delivered"} 2`) {
		t.Fatalf("missing payment counter:\n%s", out)
	}
	if !strings.Contains(out, `xgov_payments_total{status="denied"} 1`) {
		t.Fatalf("missing denied counter:\n%s", out)
	}
	if !strings.Contains(out, `xgov_orchestrations_total{result="success"} 1`) {
		t.Fatalf("missing orchestration counter:\n%s", out)
	}
}

func TestHandlerServesTextFormat(t *testing.T) {
	c := NewCollector()
	c.ObserveHTTPRequest("/health", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Fatalf("unexpected content type %q", got)
	}
	if !strings.Contains(rec.Body.String(), "xgov_http_requests_total") {
		t.Fatalf("metrics body missing counters:\n%s", rec.Body.String())
	}
}
