package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHealthzEndpoint(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if body.Engine != "goja" {
		t.Errorf("engine = %q, want goja", body.Engine)
	}
	if body.WorkerID != srv.runner.WorkerID() || body.WorkerID == "" {
		t.Errorf("worker_id = %q, want %q", body.WorkerID, srv.runner.WorkerID())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	// Make a request to generate metrics.
	http.Get(ts.URL + "/healthz")

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/plain") && !strings.Contains(contentType, "text/openmetrics") {
		t.Errorf("Content-Type = %q, expected prometheus format", contentType)
	}

	bodyBytes, _ := io.ReadAll(resp.Body)
	body := string(bodyBytes)

	if !strings.Contains(body, "jsworker_http_requests_total") {
		t.Error("metrics output missing jsworker_http_requests_total")
	}
	if !strings.Contains(body, "jsworker_http_request_duration_seconds") {
		t.Error("metrics output missing jsworker_http_request_duration_seconds")
	}
	if !strings.Contains(body, "jsworker_http_requests_in_flight") {
		t.Error("metrics output missing jsworker_http_requests_in_flight")
	}
	if !strings.Contains(body, "jsworker_queries_total") {
		t.Error("metrics output missing jsworker_queries_total")
	}
}
