package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	Register()
	Register()

	before := testutil.ToFloat64(intakeFilesCounter.WithLabelValues("rejected", "too-large"))
	RecordRejected("too-large")
	assert.Equal(t, before+1, testutil.ToFloat64(intakeFilesCounter.WithLabelValues("rejected", "too-large")))

	evictions := testutil.ToFloat64(evictionsCounter)
	RecordEvictions(0)
	RecordEvictions(3)
	assert.Equal(t, evictions+3, testutil.ToFloat64(evictionsCounter))
}

func TestHandler(t *testing.T) {
	Register()
	RecordAccepted()
	RecordStorageError("insert")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "file_intake_files_total"))
	assert.True(t, strings.Contains(body, `file_intake_registry_storage_errors_total{op="insert"}`))
}
