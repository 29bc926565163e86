package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	m := New(prometheus.NewRegistry(), "inst-1", "1.0.0")
	require.NotNil(t, m)

	tests := []struct {
		name   string
		metric interface{}
	}{
		{"BytesRead", m.BytesRead},
		{"BytesForwarded", m.BytesForwarded},
		{"SinkWrites", m.SinkWrites},
		{"Ack", m.Ack},
		{"AckPushes", m.AckPushes},
		{"MirrorBytes", m.MirrorBytes},
		{"MirrorRotations", m.MirrorRotations},
		{"Role", m.Role},
		{"LivenessProbes", m.LivenessProbes},
		{"Info", m.Info},
	}

	for _, tt := range tests {
		if tt.metric == nil {
			t.Errorf("%s is nil", tt.name)
		}
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Info.WithLabelValues("inst-1", "1.0.0")))
}

func TestObserve(t *testing.T) {
	m := New(prometheus.NewRegistry(), "inst-1", "dev")

	m.ObserveRead(10)
	m.ObserveSinkWrite(6)
	m.ObserveSinkWrite(4)
	m.ObservePush(6)
	m.ObservePush(10)
	m.ObserveMirror(10)
	m.ObserveRotation()
	m.ObserveProbe()

	assert.Equal(t, 10.0, testutil.ToFloat64(m.BytesRead))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.BytesForwarded))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SinkWrites))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AckPushes))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.Ack))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.MirrorBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MirrorRotations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LivenessProbes))
}

func TestSetRole(t *testing.T) {
	m := New(prometheus.NewRegistry(), "inst-1", "dev")

	m.SetRole("fresh")
	m.SetRole("recovering")

	assert.Equal(t, 1, testutil.CollectAndCount(m.Role))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Role.WithLabelValues("recovering")))
}

func TestNilMetrics(t *testing.T) {
	var m *RelayMetrics

	assert.NotPanics(t, func() {
		m.ObserveRead(1)
		m.ObserveSinkWrite(1)
		m.ObservePush(1)
		m.ObserveMirror(1)
		m.ObserveRotation()
		m.SetRole("fresh")
		m.ObserveProbe()
	})
}
