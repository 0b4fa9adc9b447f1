package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/labstack/echo/v4"

	"tcp-upload-bridge/internal/metrics"
)

const requestsTotal = "upload_bridge_admin_requests_total"

// adminLabels returns the label sets recorded for the admin request counter,
// each paired with its value.
func adminLabels(t *testing.T, m *metrics.Metrics) []map[string]string {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	var out []map[string]string
	for _, f := range families {
		if f.GetName() != requestsTotal {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			labels["value"] = strconv.FormatFloat(metric.GetCounter().GetValue(), 'f', -1, 64)
			out = append(out, labels)
		}
	}
	return out
}

func TestMetricsMiddleware_IncrementsCounter(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, "/metrics"))
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	for _, labels := range adminLabels(t, m) {
		if labels["path_prefix"] == "/healthz" {
			if labels["value"] != "1" {
				t.Errorf("counter value = %s, want 1", labels["value"])
			}
			if labels["status_code"] != "200" || labels["method"] != "GET" {
				t.Errorf("labels = %v", labels)
			}
			return
		}
	}
	t.Errorf("expected %s with path_prefix=/healthz", requestsTotal)
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, "/metrics"))
	e.GET("/bridge/status", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/bridge/status", http.NoBody)
	e.ServeHTTP(httptest.NewRecorder(), req)

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() == "upload_bridge_admin_request_duration_seconds" {
			for _, metric := range f.GetMetric() {
				if metric.GetHistogram().GetSampleCount() > 0 {
					return
				}
			}
		}
	}
	t.Error("expected upload_bridge_admin_request_duration_seconds with at least one sample")
}

func TestMetricsMiddleware_CustomMetricsPath(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, "/internal/prom"))
	e.GET("/internal/prom", func(c echo.Context) error {
		return c.String(http.StatusOK, "# metrics")
	})

	req := httptest.NewRequest(http.MethodGet, "/internal/prom", http.NoBody)
	e.ServeHTTP(httptest.NewRecorder(), req)

	for _, labels := range adminLabels(t, m) {
		if labels["path_prefix"] == "/internal/prom" {
			return
		}
	}
	t.Errorf("expected %s with path_prefix=/internal/prom", requestsTotal)
}

func TestMetricsMiddleware_HTTPErrorStatus(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, "/metrics"))
	e.GET("/bridge/status", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "draining")
	})

	req := httptest.NewRequest(http.MethodGet, "/bridge/status", http.NoBody)
	e.ServeHTTP(httptest.NewRecorder(), req)

	for _, labels := range adminLabels(t, m) {
		if labels["path_prefix"] == "/bridge/status" {
			if labels["status_code"] != "503" {
				t.Errorf("status_code = %q, want %q", labels["status_code"], "503")
			}
			return
		}
	}
	t.Errorf("expected %s with path_prefix=/bridge/status", requestsTotal)
}

func TestMetricsMiddleware_UnknownMethodNormalized(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, "/metrics"))
	e.Any("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest("XYZZY", "/healthz", http.NoBody)
	e.ServeHTTP(httptest.NewRecorder(), req)

	for _, labels := range adminLabels(t, m) {
		if labels["path_prefix"] == "/healthz" {
			if labels["method"] != "other" {
				t.Errorf("method = %q, want %q", labels["method"], "other")
			}
			return
		}
	}
	t.Errorf("expected %s with path_prefix=/healthz", requestsTotal)
}

func TestMetricsMiddleware_RouterNotFound(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m, "/metrics"))

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	for _, labels := range adminLabels(t, m) {
		if labels["path_prefix"] == "other" && labels["method"] == "GET" {
			if labels["status_code"] != "404" {
				t.Errorf("status_code = %q, want %q", labels["status_code"], "404")
			}
			return
		}
	}
	t.Errorf("expected %s with path_prefix=other, method=GET", requestsTotal)
}
