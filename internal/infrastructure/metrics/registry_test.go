package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegistry_ServesComponentMetrics(t *testing.T) {
	r := NewRegistry("1.2.3")

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "railhub",
		Subsystem: "test",
		Name:      "events_total",
		Help:      "Test counter",
	})
	r.Registerer().MustRegister(counter)
	counter.Add(3)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	out := string(body)

	for _, want := range []string{
		"railhub_test_events_total 3",
		`railhub_build_info{version="1.2.3"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestRegistry_NilRegisterer(t *testing.T) {
	var r *Registry
	if r.Registerer() != nil {
		t.Error("Registerer() on nil registry should be nil")
	}
}

func TestRegistry_Gatherer(t *testing.T) {
	families, err := NewRegistry("dev").Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(families) == 0 {
		t.Error("Gather() returned no metric families")
	}
}
