package stats

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordValue(t *testing.T) {
	s := &Stats{}
	s.RecordValue(2)
	s.RecordValueExclusive(4, 1)
	s.RecordValue(1)

	assert.Equal(t, int64(3), s.CallCount)
	assert.Equal(t, 7.0, s.Total)
	assert.Equal(t, 4.0, s.TotalExclusive)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 4.0, s.Max)
	assert.Equal(t, 21.0, s.SumOfSquares)
}

func TestMinIsFirstValue(t *testing.T) {
	s := &Stats{}
	s.RecordValue(5)
	assert.Equal(t, 5.0, s.Min, "min must not stay at the zero value")
}

func TestRecordValueInMillisAndBytes(t *testing.T) {
	s := &Stats{}
	s.RecordValueInMillis(1500, 500)
	assert.Equal(t, 1.5, s.Total)
	assert.Equal(t, 0.5, s.TotalExclusive)

	b := &Stats{}
	b.RecordValueInBytes(2*bytesPerMB, bytesPerMB, false)
	assert.Equal(t, 2.0, b.Total)
	assert.Equal(t, 1.0, b.TotalExclusive)

	exact := &Stats{}
	exact.RecordValueInBytes(512, 512, true)
	assert.Equal(t, 512.0, exact.Total)

	d := &Stats{}
	d.RecordDuration(250*time.Millisecond, 100*time.Millisecond)
	assert.Equal(t, 0.25, d.Total)
	assert.Equal(t, 0.1, d.TotalExclusive)
}

func TestMerge(t *testing.T) {
	a := &Stats{}
	a.RecordValue(3)
	b := &Stats{}
	b.RecordValue(1)
	b.RecordValue(7)

	a.Merge(b)
	assert.Equal(t, int64(3), a.CallCount)
	assert.Equal(t, 11.0, a.Total)
	assert.Equal(t, 1.0, a.Min)
	assert.Equal(t, 7.0, a.Max)
	assert.Equal(t, 59.0, a.SumOfSquares)

	// an empty side never drags min to zero
	empty := &Stats{}
	empty.Merge(b)
	assert.Equal(t, 1.0, empty.Min)
	b.Merge(&Stats{})
	assert.Equal(t, 1.0, b.Min)
}

func TestMergeIsCommutative(t *testing.T) {
	build := func(vals ...float64) *Stats {
		s := &Stats{}
		for _, v := range vals {
			s.RecordValue(v)
		}
		return s
	}
	ab := build(2, 9)
	ab.Merge(build(4))
	ba := build(4)
	ba.Merge(build(2, 9))
	assert.Equal(t, ab, ba)
}

func TestStatsJSON(t *testing.T) {
	s := &Stats{}
	s.RecordValueExclusive(2, 1)
	s.IncrementCallCount(2)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `[3,2,1,2,2,4]`, string(data))
}

func TestApdex(t *testing.T) {
	a := NewApdexStats(100 * time.Millisecond)
	a.RecordValue(100 * time.Millisecond)
	a.RecordValue(400 * time.Millisecond)
	a.RecordValue(401 * time.Millisecond)
	a.RecordValueWithThreshold(401*time.Millisecond, time.Second)
	a.IncrementFrustrating()

	assert.Equal(t, int64(2), a.Satisfying)
	assert.Equal(t, int64(1), a.Tolerating)
	assert.Equal(t, int64(2), a.Frustrating)

	other := NewApdexStats(100 * time.Millisecond)
	other.RecordValue(time.Millisecond)
	a.Merge(other)
	assert.Equal(t, int64(3), a.Satisfying)

	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `[3,1,2,0.1,0.1,0]`, string(data))
}
