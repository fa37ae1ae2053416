package stats

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

// ApdexStats counts satisfying, tolerating and frustrating observations
// against a threshold T: at most T satisfies, at most 4T tolerates.
type ApdexStats struct {
	Satisfying  int64
	Tolerating  int64
	Frustrating int64
	ApdexT      time.Duration
}

func NewApdexStats(apdexT time.Duration) *ApdexStats {
	return &ApdexStats{ApdexT: apdexT}
}

// RecordValue classifies d against the stats' own threshold.
func (a *ApdexStats) RecordValue(d time.Duration) {
	a.RecordValueWithThreshold(d, a.ApdexT)
}

// RecordValueWithThreshold classifies d against apdexT, which overrides the
// stats' threshold when positive.
func (a *ApdexStats) RecordValueWithThreshold(d time.Duration, apdexT time.Duration) {
	if apdexT <= 0 {
		apdexT = a.ApdexT
	}
	switch {
	case d <= apdexT:
		a.Satisfying++
	case d <= 4*apdexT:
		a.Tolerating++
	default:
		a.Frustrating++
	}
}

// IncrementFrustrating records an errored request.
func (a *ApdexStats) IncrementFrustrating() {
	a.Frustrating++
}

func (a *ApdexStats) Merge(other *ApdexStats) {
	a.Satisfying += other.Satisfying
	a.Tolerating += other.Tolerating
	a.Frustrating += other.Frustrating
}

// MarshalJSON produces [satisfying, tolerating, frustrating, apdexT, apdexT, 0]
// with apdexT in seconds.
func (a *ApdexStats) MarshalJSON() ([]byte, error) {
	t := a.ApdexT.Seconds()
	return jsoniter.ConfigCompatibleWithStandardLibrary.Marshal([6]float64{
		float64(a.Satisfying),
		float64(a.Tolerating),
		float64(a.Frustrating),
		t,
		t,
		0,
	})
}
