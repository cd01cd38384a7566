package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestEnabled(t *testing.T) {
	Registry = nil
	if Enabled() {
		t.Error("Enabled() should return false before Initialize()")
	}

	Initialize()
	defer func() { Registry = nil }()

	if !Enabled() {
		t.Error("Enabled() should return true after Initialize()")
	}
}

// gather returns the metric family called name, or nil.
func gather(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()
	families, err := Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func labelsOf(m *dto.Metric) map[string]string {
	labels := make(map[string]string)
	for _, lp := range m.GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	return labels
}

func TestRecordSync(t *testing.T) {
	Initialize()
	defer func() { Registry = nil }()

	RecordSync("/tmp/test-sync.properties", StatusUpdated, 0.01)
	RecordSync("/tmp/test-sync.properties", StatusUpdated, 0.02)
	RecordSync("/tmp/test-sync.properties", StatusUnchanged, 0.01)
	SetPropertiesWritten("/tmp/test-sync.properties", 7)

	mf := gather(t, "propsort_syncs_total")
	if mf == nil {
		t.Fatal("propsort_syncs_total not gathered")
	}
	counts := make(map[string]float64)
	for _, m := range mf.GetMetric() {
		l := labelsOf(m)
		if l["dest"] == "/tmp/test-sync.properties" {
			counts[l["status"]] = m.GetCounter().GetValue()
		}
	}
	if counts[StatusUpdated] != 2 || counts[StatusUnchanged] != 1 {
		t.Errorf("sync counts = %v", counts)
	}

	mf = gather(t, "propsort_properties_written")
	if mf == nil {
		t.Fatal("propsort_properties_written not gathered")
	}
	found := false
	for _, m := range mf.GetMetric() {
		if labelsOf(m)["dest"] == "/tmp/test-sync.properties" {
			found = true
			if v := m.GetGauge().GetValue(); v != 7 {
				t.Errorf("properties written = %v, want 7", v)
			}
		}
	}
	if !found {
		t.Error("no properties_written sample for dest")
	}
}

func TestRecordSourceRequest(t *testing.T) {
	Initialize()
	defer func() { Registry = nil }()

	RecordSourceRequest("test-source", "get_values", true, 0.5)
	RecordSourceRequest("test-source", "get_values", false, 0.5)
	SetSourceHealthy("test-source", true)

	mf := gather(t, "propsort_source_request_duration_seconds")
	if mf == nil {
		t.Fatal("duration histogram not gathered")
	}
	for _, m := range mf.GetMetric() {
		if labelsOf(m)["source"] == "test-source" {
			if n := m.GetHistogram().GetSampleCount(); n != 2 {
				t.Errorf("sample count = %d, want 2", n)
			}
		}
	}

	mf = gather(t, "propsort_source_healthy")
	if mf == nil {
		t.Fatal("source_healthy not gathered")
	}
}

func TestHandler(t *testing.T) {
	Registry = nil
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("disabled Handler() status = %d, want 404", w.Code)
	}

	Initialize()
	defer func() { Registry = nil }()
	RecordSync("/tmp/handler.properties", StatusNoop, 0)

	srv := httptest.NewServer(Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics error: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "propsort_syncs_total") {
		t.Errorf("exposition output does not contain propsort_syncs_total")
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Errorf("exposition output does not contain Go collector metrics")
	}
}
