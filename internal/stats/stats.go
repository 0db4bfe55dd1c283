// Package stats derives elapsed time, throughput and loss from raw session counters.
package stats

import "time"

// Throughput returns bits per second. It is zero when nothing was measured.
func Throughput(bytes uint64, elapsed time.Duration) float64 {
	if bytes == 0 || elapsed <= 0 {
		return 0
	}
	return float64(bytes) * 8 / elapsed.Seconds()
}

// LossPercent is 100 * (1 - accepted/total). With no advertised total
// nothing was received, which counts as full loss.
func LossPercent(accepted, total uint64) float64 {
	if total == 0 {
		return 100
	}
	if accepted >= total {
		return 0
	}
	return 100 * (1 - float64(accepted)/float64(total))
}

// SegmentCount is ceil(size / body).
func SegmentCount(size uint64, body int) uint64 {
	if body <= 0 {
		return 0
	}
	b := uint64(body)
	return size/b + min(size%b, 1)
}

// Counters are the raw observations of one session.
type Counters struct {
	Start time.Time
	End   time.Time

	Bytes         uint64
	Segments      uint64
	TotalSegments uint64
}

func (c Counters) Elapsed() time.Duration {
	if c.End.Before(c.Start) {
		return 0
	}
	return c.End.Sub(c.Start)
}

func (c Counters) Throughput() float64 {
	return Throughput(c.Bytes, c.Elapsed())
}

func (c Counters) LossPercent() float64 {
	return LossPercent(c.Segments, c.TotalSegments)
}

func (c Counters) Missing() uint64 {
	if c.Segments >= c.TotalSegments {
		return 0
	}
	return c.TotalSegments - c.Segments
}

// Summary aggregates completed sessions of one run.
type Summary struct {
	Sessions  int
	Succeeded int
	Bytes     uint64

	// AggregateThroughput sums the per-session rates of successful sessions.
	AggregateThroughput float64
}

func (s *Summary) Add(ok bool, bytes uint64, throughput float64) {
	s.Sessions++
	if !ok {
		return
	}
	s.Succeeded++
	s.Bytes += bytes
	s.AggregateThroughput += throughput
}

func (s Summary) Failed() int {
	return s.Sessions - s.Succeeded
}
