package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func TestHandler(t *testing.T) {
	oldRegistry := Registry
	Registry = prometheus.NewRegistry()
	defer func() { Registry = oldRegistry }()

	Registry.MustRegister(collectors.NewGoCollector())

	m := InitMetrics("test-instance", "1.0.0")
	m.ObserveSinkWrite(100)
	m.ObservePush(100)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)

	resp := w.Result()
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	bodyStr := string(body)

	for _, metric := range []string{
		"pmurelay_sink_bytes_forwarded_total",
		"pmurelay_ack_pushes_total",
		"pmurelay_info",
		"go_goroutines",
	} {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("Expected metric %s not found in response", metric)
		}
	}

	if !strings.Contains(bodyStr, `pmurelay_sink_bytes_forwarded_total{instance_id="test-instance"} 100`) {
		t.Error("Expected sink_bytes_forwarded_total with value 100")
	}
	if !strings.Contains(bodyStr, `pmurelay_ack{instance_id="test-instance"} 100`) {
		t.Error("Expected ack gauge with value 100")
	}
}

func TestHandler_EmptyRegistry(t *testing.T) {
	oldRegistry := Registry
	Registry = prometheus.NewRegistry()
	defer func() { Registry = oldRegistry }()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)

	resp := w.Result()
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
}
