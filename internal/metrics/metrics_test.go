package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestNew_NilRegistryCreatesPrivateOne(t *testing.T) {
	m := New(nil)
	if m.Registry == nil {
		t.Fatal("expected non-nil Registry")
	}
	fams, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if len(fams) == 0 {
		t.Fatal("expected registered metric families")
	}
}

func TestNew_UsesSuppliedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	if m.Registry != reg {
		t.Fatal("expected New to register into the supplied Registry")
	}
}

func TestSetQueueDepth(t *testing.T) {
	m := New(nil)
	m.SetQueueDepth(7)
	if v := testutil.ToFloat64(m.QueueDepth); v != 7 {
		t.Fatalf("QueueDepth = %v, want 7", v)
	}
	m.SetQueueDepth(0)
	if v := testutil.ToFloat64(m.QueueDepth); v != 0 {
		t.Fatalf("QueueDepth = %v, want 0", v)
	}
}

func TestIncMessagesDropped(t *testing.T) {
	m := New(nil)

	m.IncMessagesDropped("queue_full")
	m.IncMessagesDropped("queue_full")
	m.IncMessagesDropped("message_too_large")
	m.IncMessagesDropped("validation_error")
	m.IncMessagesDropped("before_send_dropped")

	cases := map[string]float64{
		"queue_full":          2,
		"message_too_large":   1,
		"validation_error":    1,
		"before_send_dropped": 1,
	}
	for reason, want := range cases {
		if got := testutil.ToFloat64(m.MessagesDroppedTotal.WithLabelValues(reason)); got != want {
			t.Errorf("MessagesDroppedTotal[%s] = %v, want %v", reason, got, want)
		}
	}
}

func TestIncBatchesSent(t *testing.T) {
	m := New(nil)
	m.IncBatchesSent()
	m.IncBatchesSent()
	if v := testutil.ToFloat64(m.BatchesSentTotal); v != 2 {
		t.Fatalf("BatchesSentTotal = %v, want 2", v)
	}
}

func TestRecordBatchSend(t *testing.T) {
	m := New(nil)
	m.RecordBatchSend(250*time.Millisecond, true)
	m.RecordBatchSend(50*time.Millisecond, false)

	var metric dto.Metric
	if err := m.BatchSendDuration.Write(&metric); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := metric.GetHistogram().GetSampleCount(); got != 2 {
		t.Fatalf("sample count = %d, want 2", got)
	}
}

func TestRecordRetry(t *testing.T) {
	m := New(nil)
	m.RecordRetry(429)
	m.RecordRetry(429)
	m.RecordRetry(500)

	if v := testutil.ToFloat64(m.TransportRetriesTotal.WithLabelValues("429")); v != 2 {
		t.Fatalf("TransportRetriesTotal[429] = %v, want 2", v)
	}
	if v := testutil.ToFloat64(m.TransportRetriesTotal.WithLabelValues("500")); v != 1 {
		t.Fatalf("TransportRetriesTotal[500] = %v, want 1", v)
	}
}

func TestRecordPollerFetch(t *testing.T) {
	m := New(nil)
	m.RecordPollerFetch("fetched")
	m.RecordPollerFetch("not_modified")
	m.RecordPollerFetch("not_modified")
	m.RecordPollerFetch("error")

	if v := testutil.ToFloat64(m.PollerFetchesTotal.WithLabelValues("fetched")); v != 1 {
		t.Fatalf("PollerFetchesTotal[fetched] = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.PollerFetchesTotal.WithLabelValues("not_modified")); v != 2 {
		t.Fatalf("PollerFetchesTotal[not_modified] = %v, want 2", v)
	}
	if v := testutil.ToFloat64(m.PollerFetchesTotal.WithLabelValues("error")); v != 1 {
		t.Fatalf("PollerFetchesTotal[error] = %v, want 1", v)
	}
}

func TestSetPollerCacheAge(t *testing.T) {
	m := New(nil)
	m.SetPollerCacheAge(12.5)
	if v := testutil.ToFloat64(m.PollerCacheAgeSeconds); v != 12.5 {
		t.Fatalf("PollerCacheAgeSeconds = %v, want 12.5", v)
	}
}

func TestRecordFlagEvaluation(t *testing.T) {
	m := New(nil)
	m.RecordFlagEvaluation(true)
	m.RecordFlagEvaluation(true)
	m.RecordFlagEvaluation(false)

	if v := testutil.ToFloat64(m.FlagEvaluationsTotal.WithLabelValues("local")); v != 2 {
		t.Fatalf("FlagEvaluationsTotal[local] = %v, want 2", v)
	}
	if v := testutil.ToFloat64(m.FlagEvaluationsTotal.WithLabelValues("remote")); v != 1 {
		t.Fatalf("FlagEvaluationsTotal[remote] = %v, want 1", v)
	}
}

func TestHandler(t *testing.T) {
	m := New(nil)
	m.IncBatchesSent()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Result().Body)
	if !strings.Contains(string(body), "posthog_batches_sent_total") {
		t.Fatal("expected response to contain posthog_batches_sent_total")
	}
}
