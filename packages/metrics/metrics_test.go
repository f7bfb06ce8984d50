package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Empty(t *testing.T) {
	s := NewRecorder().Summary()
	assert.Zero(t, s.TotalRequests)
	assert.Zero(t, s.P95)
	assert.Empty(t, s.ByName)
}

func TestRecorder_Summary(t *testing.T) {
	r := NewRecorder()
	r.Record("create_data_source", 10*time.Millisecond, false)
	r.Record("introspect", 20*time.Millisecond, false)
	r.Record("introspect", 40*time.Millisecond, false)
	r.Record("run_session", 200*time.Millisecond, true)

	s := r.Summary()

	assert.Equal(t, int64(4), s.TotalRequests)
	assert.Equal(t, int64(1), s.ErrorCount)
	assert.InDelta(t, float64(200*time.Millisecond), float64(s.Max), float64(time.Millisecond))
	assert.InDelta(t, float64(20*time.Millisecond), float64(s.P50), float64(time.Millisecond))

	require.Len(t, s.ByName, 3)
	assert.Equal(t, "create_data_source", s.ByName[0].Name)
	assert.Equal(t, "introspect", s.ByName[1].Name)
	assert.Equal(t, int64(2), s.ByName[1].Total)
	assert.Equal(t, int64(1), s.ByName[2].Errors)
}

func TestRecorder_ClampsOutOfRange(t *testing.T) {
	r := NewRecorder()
	r.Record("instant", 0, false)
	r.Record("forever", time.Hour, false)

	s := r.Summary()
	assert.Equal(t, int64(2), s.TotalRequests)
	assert.InDelta(t, float64(10*time.Minute), float64(s.Max), float64(time.Second))
}

func TestSummary_Slowest(t *testing.T) {
	r := NewRecorder()
	r.Record("a", 5*time.Millisecond, false)
	r.Record("b", 50*time.Millisecond, false)
	r.Record("c", 20*time.Millisecond, false)

	slowest := r.Summary().Slowest(2)
	require.Len(t, slowest, 2)
	assert.Equal(t, "b", slowest[0].Name)
	assert.Equal(t, "c", slowest[1].Name)
}
