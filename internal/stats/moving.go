// Package stats provides windowed min/max/average accumulators used for
// interframe timing telemetry.
package stats

// Number is the set of sample types MovingMinMaxAvg accepts.
type Number interface {
	~int | ~int32 | ~int64 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

// minMaxAvg accumulates min, max and a running average.
type minMaxAvg[T Number] struct {
	min     T
	max     T
	average float64
	samples int
}

func (m *minMaxAvg[T]) add(v T) {
	if m.samples == 0 || v < m.min {
		m.min = v
	}
	if m.samples == 0 || v > m.max {
		m.max = v
	}
	m.samples++
	m.average += (float64(v) - m.average) / float64(m.samples)
}

func (m *minMaxAvg[T]) merge(o minMaxAvg[T]) {
	if o.samples == 0 {
		return
	}
	if m.samples == 0 || o.min < m.min {
		m.min = o.min
	}
	if m.samples == 0 || o.max > m.max {
		m.max = o.max
	}
	total := m.samples + o.samples
	m.average = m.average*float64(m.samples)/float64(total) + o.average*float64(o.samples)/float64(total)
	m.samples = total
}

// MovingMinMaxAvg tracks min/max/average over every sample ever added and
// over a trailing window made of the last windowIntervals complete intervals
// of intervalLength samples each. The window is recomputed whenever an
// interval completes.
type MovingMinMaxAvg[T Number] struct {
	intervalLength  int
	windowIntervals int

	overall   minMaxAvg[T]
	current   minMaxAvg[T]
	intervals []minMaxAvg[T]
	next      int
	filled    int
	window    minMaxAvg[T]
	newStats  bool
}

// NewMovingMinMaxAvg returns an accumulator whose window spans
// intervalLength*windowIntervals samples. Non-positive arguments are
// treated as 1.
func NewMovingMinMaxAvg[T Number](intervalLength, windowIntervals int) *MovingMinMaxAvg[T] {
	if intervalLength < 1 {
		intervalLength = 1
	}
	if windowIntervals < 1 {
		windowIntervals = 1
	}
	return &MovingMinMaxAvg[T]{
		intervalLength:  intervalLength,
		windowIntervals: windowIntervals,
		intervals:       make([]minMaxAvg[T], windowIntervals),
	}
}

// Update adds a sample.
func (m *MovingMinMaxAvg[T]) Update(v T) {
	m.overall.add(v)
	m.current.add(v)

	if m.current.samples < m.intervalLength {
		return
	}

	m.intervals[m.next] = m.current
	m.next = (m.next + 1) % m.windowIntervals
	if m.filled < m.windowIntervals {
		m.filled++
	}
	m.current = minMaxAvg[T]{}

	m.window = minMaxAvg[T]{}
	for i := 0; i < m.filled; i++ {
		m.window.merge(m.intervals[i])
	}
	m.newStats = true
}

// Reset discards every sample.
func (m *MovingMinMaxAvg[T]) Reset() {
	m.overall = minMaxAvg[T]{}
	m.current = minMaxAvg[T]{}
	clear(m.intervals)
	m.next = 0
	m.filled = 0
	m.window = minMaxAvg[T]{}
	m.newStats = false
}

// Min returns the smallest sample ever added.
func (m *MovingMinMaxAvg[T]) Min() T { return m.overall.min }

// Max returns the largest sample ever added.
func (m *MovingMinMaxAvg[T]) Max() T { return m.overall.max }

// Average returns the mean of every sample ever added.
func (m *MovingMinMaxAvg[T]) Average() float64 { return m.overall.average }

// Samples returns the number of samples ever added.
func (m *MovingMinMaxAvg[T]) Samples() int { return m.overall.samples }

// WindowMin returns the smallest sample in the completed-interval window.
func (m *MovingMinMaxAvg[T]) WindowMin() T { return m.window.min }

// WindowMax returns the largest sample in the completed-interval window.
func (m *MovingMinMaxAvg[T]) WindowMax() T { return m.window.max }

// WindowAverage returns the mean of the completed-interval window.
func (m *MovingMinMaxAvg[T]) WindowAverage() float64 { return m.window.average }

// WindowFilled reports whether windowIntervals intervals have completed.
func (m *MovingMinMaxAvg[T]) WindowFilled() bool { return m.filled == m.windowIntervals }

// NewStatsAvailable reports whether an interval completed since the last
// call to ClearNewStatsAvailable.
func (m *MovingMinMaxAvg[T]) NewStatsAvailable() bool { return m.newStats }

// ClearNewStatsAvailable acknowledges the latest window update.
func (m *MovingMinMaxAvg[T]) ClearNewStatsAvailable() { m.newStats = false }
