// Package stats holds the value accumulators reported for each agent metric.
package stats

import (
	"math"
	"time"

	jsoniter "github.com/json-iterator/go"
)

const bytesPerMB = 1024 * 1024

// Stats accumulates timed or sized observations. The zero value is ready to
// use. It is not safe for concurrent use; callers serialise access.
type Stats struct {
	CallCount      int64
	Total          float64
	TotalExclusive float64
	Min            float64
	Max            float64
	SumOfSquares   float64
}

// RecordValue records one observation whose exclusive part equals its total.
func (s *Stats) RecordValue(total float64) {
	s.RecordValueExclusive(total, total)
}

func (s *Stats) RecordValueExclusive(total float64, exclusive float64) {
	if s.CallCount > 0 {
		s.Min = math.Min(total, s.Min)
	} else {
		s.Min = total
	}
	s.Max = math.Max(total, s.Max)

	s.SumOfSquares += total * total
	s.CallCount++
	s.Total += total
	s.TotalExclusive += exclusive
}

// RecordValueInMillis records millisecond values as seconds.
func (s *Stats) RecordValueInMillis(totalMs float64, exclusiveMs float64) {
	s.RecordValueExclusive(totalMs/1000, exclusiveMs/1000)
}

func (s *Stats) RecordDuration(total time.Duration, exclusive time.Duration) {
	s.RecordValueExclusive(total.Seconds(), exclusive.Seconds())
}

// RecordValueInBytes records sizes in megabytes unless exact is set.
func (s *Stats) RecordValueInBytes(bytes float64, exclusiveBytes float64, exact bool) {
	conversion := float64(bytesPerMB)
	if exact {
		conversion = 1
	}
	s.RecordValueExclusive(bytes/conversion, exclusiveBytes/conversion)
}

// IncrementCallCount bumps the count without recording a value.
func (s *Stats) IncrementCallCount(n int64) {
	s.CallCount += n
}

// Merge folds other into s. Merging is associative and commutative.
func (s *Stats) Merge(other *Stats) {
	if other.CallCount > 0 {
		if s.CallCount > 0 {
			s.Min = math.Min(s.Min, other.Min)
		} else {
			s.Min = other.Min
		}
	}
	s.Max = math.Max(s.Max, other.Max)

	s.Total += other.Total
	s.TotalExclusive += other.TotalExclusive
	s.SumOfSquares += other.SumOfSquares
	s.CallCount += other.CallCount
}

// MarshalJSON produces the collector array form
// [callCount, total, totalExclusive, min, max, sumOfSquares].
func (s *Stats) MarshalJSON() ([]byte, error) {
	return jsoniter.ConfigCompatibleWithStandardLibrary.Marshal([6]float64{
		float64(s.CallCount),
		s.Total,
		s.TotalExclusive,
		s.Min,
		s.Max,
		s.SumOfSquares,
	})
}
