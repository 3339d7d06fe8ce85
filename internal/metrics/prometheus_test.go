package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsOnSeparateRegistries(t *testing.T) {
	// two instances must not collide
	a := NewMetrics(prometheus.NewRegistry())
	b := NewMetrics(prometheus.NewRegistry())

	a.RecordDatagram(8000)
	a.RecordDatagram(8000)

	if got := testutil.ToFloat64(a.DatagramsReceived); got != 2 {
		t.Errorf("Expected 2 datagrams, got %v", got)
	}
	if got := testutil.ToFloat64(a.BytesReceived.WithLabelValues("udp")); got != 16000 {
		t.Errorf("Expected 16000 bytes, got %v", got)
	}
	if got := testutil.ToFloat64(b.DatagramsReceived); got != 0 {
		t.Errorf("Expected independent registry, got %v", got)
	}
}

func TestRecordRecognitionAndBroadcast(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordRecognition("text", 0.5)
	m.RecordRecognition("no_match", 0.2)
	m.RecordBroadcast(2, 1)
	m.SetViewers(3, 2)

	if got := testutil.ToFloat64(m.RecognitionRequests); got != 2 {
		t.Errorf("Expected 2 recognition requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.RecognitionOutcomes.WithLabelValues("no_match")); got != 1 {
		t.Errorf("Expected 1 no_match outcome, got %v", got)
	}
	if got := testutil.ToFloat64(m.Deliveries.WithLabelValues("failed")); got != 1 {
		t.Errorf("Expected 1 failed delivery, got %v", got)
	}
	if got := testutil.ToFloat64(m.ViewersSubscribed); got != 2 {
		t.Errorf("Expected 2 subscribed viewers, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordDatagram(1)
	m.RecordSegmentQueued(1)
	m.RecordRecognition("text", 1)
	m.RecordBroadcast(1, 0)
	m.SetViewers(1, 1)
	m.RecordHTTPRequest("GET", "/health", "200", 0.1)
}
