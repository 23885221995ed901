package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gathered returns the value of the named series with the given label values, or -1.
func gathered(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := InitRegistry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue series
				}
			}
			if m.Counter != nil {
				return m.GetCounter().GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	return -1
}

func TestRecordCommand(t *testing.T) {
	RecordCommand("ready", "success", 5*time.Millisecond)
	before := gathered(t, "splitsio_races_commands_total", map[string]string{"command": "ready", "outcome": "success"})
	RecordCommand("ready", "success", 5*time.Millisecond)
	after := gathered(t, "splitsio_races_commands_total", map[string]string{"command": "ready", "outcome": "success"})
	assert.Equal(t, before+1, after)
}

func TestSubscriberGauge(t *testing.T) {
	SubscriberAdded("race")
	SubscriberAdded("race")
	SubscriberRemoved("race")
	assert.Equal(t, float64(1), gathered(t, "splitsio_races_subscribers", map[string]string{"scope": "race"}))
	SubscriberRemoved("race")
}

func TestHandlerExposesCollectors(t *testing.T) {
	RecordBroadcast("global", "race_ended")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "splitsio_races_broadcasts_total")
}
