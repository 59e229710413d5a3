package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAction(t *testing.T) {
	before := testutil.ToFloat64(actionsTotal.WithLabelValues("select", ResultChanged))
	RecordAction("select", ResultChanged)
	after := testutil.ToFloat64(actionsTotal.WithLabelValues("select", ResultChanged))
	assert.Equal(t, before+1, after)
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordUnauthorized()
	RecordArchive(ArchiveSent)
	ObserveArchive(2048, 10*time.Millisecond)
	SetSessions(1)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	for _, name := range []string{
		"diskbot_unauthorized_total",
		"diskbot_archives_total",
		"diskbot_archive_bytes",
		"diskbot_archive_build_seconds",
		"diskbot_sessions",
	} {
		assert.Contains(t, string(body), name)
	}
}
