package metrics

import (
	"testing"
)

func TestNew_GathersMetrics(t *testing.T) {
	m := New("/contents", "/metrics")

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	// Should include at least Go runtime and process collectors.
	if len(families) == 0 {
		t.Fatal("expected non-empty metric families from Gather()")
	}

	m.RequestsTotal.WithLabelValues("GET", "200", "/contents").Inc()
	m.BackendErrors.WithLabelValues(ErrorKindTimeout).Inc()
	m.RewritesTotal.Inc()

	families, err = m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	want := map[string]bool{
		"contents_proxy_http_requests_total":  false,
		"contents_proxy_backend_errors_total": false,
		"contents_proxy_rewrites_total":       false,
	}
	for _, f := range families {
		if _, ok := want[f.GetName()]; ok {
			want[f.GetName()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected %s in gathered metrics", name)
		}
	}
}

func TestNormalizeMethod(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{"GET", "GET"},
		{"POST", "POST"},
		{"PUT", "PUT"},
		{"DELETE", "DELETE"},
		{"PATCH", "PATCH"},
		{"HEAD", "HEAD"},
		{"OPTIONS", "OPTIONS"},
		{"FOOBAR", "other"},
		{"get", "other"},
		{"X-CUSTOM", "other"},
		{"", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			got := NormalizeMethod(tt.method)
			if got != tt.want {
				t.Errorf("NormalizeMethod(%q) = %q, want %q", tt.method, got, tt.want)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	m := New("/contents/", "/metrics")

	tests := []struct {
		path string
		want string
	}{
		{"/contents/index.html", "/contents"},
		{"/contents", "/contents"},
		{"/contents?x=1", "/contents"},
		{"/contentsx", "other"},
		{"/healthz", "/healthz"},
		{"/proxy/status", "/proxy/status"},
		{"/metrics", "/metrics"},
		{"/unknown", "other"},
		{"/", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := m.NormalizePath(tt.path)
			if got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestNormalizePath_CustomMetricsPath(t *testing.T) {
	m := New("/contents", "/internal/prom")

	if got := m.NormalizePath("/internal/prom"); got != "/internal/prom" {
		t.Errorf("NormalizePath(/internal/prom) = %q, want %q", got, "/internal/prom")
	}
	if got := m.NormalizePath("/metrics"); got != "other" {
		t.Errorf("NormalizePath(/metrics) = %q, want %q", got, "other")
	}
}

func TestNormalizePath_RootMount(t *testing.T) {
	m := New("/", "/metrics")

	tests := []struct {
		path string
		want string
	}{
		{"/index.html", "/"},
		{"/a/b/c.css", "/"},
		{"/", "/"},
		{"/healthz", "/healthz"},
		{"/proxy/status", "/proxy/status"},
		{"/metrics", "/metrics"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := m.NormalizePath(tt.path); got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
