package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHandlerExposesMetrics(t *testing.T) {
	before := testutil.ToFloat64(JobsProcessed.WithLabelValues("created"))
	JobsProcessed.WithLabelValues("created").Inc()
	if got := testutil.ToFloat64(JobsProcessed.WithLabelValues("created")); got != before+1 {
		t.Errorf("counter = %v, want %v", got, before+1)
	}

	h := Handler()
	_ = Handler() // registering twice must not panic

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `notesq_jobs_processed_total{status="created"}`) {
		t.Error("metrics output missing notesq_jobs_processed_total")
	}
}
