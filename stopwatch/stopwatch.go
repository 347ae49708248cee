// Package stopwatch provides a small monotonic stopwatch used for session
// activity and auto-disconnect timers.
package stopwatch

import "time"

// Stopwatch measures elapsed time between Start and Stop, and can also report
// the live time since Start while it is running. Readings use the monotonic
// clock carried by time.Now, so wall clock changes do not affect them.
//
// A Stopwatch is not safe for concurrent use; owners must serialize access.
// The zero value is a stopwatch that has not been started.
type Stopwatch struct {
	startTime time.Time
	endTime   time.Time
}

// New returns a Stopwatch that has not been started.
func New() *Stopwatch {
	return &Stopwatch{}
}

// Started returns a Stopwatch that is already running.
func Started() *Stopwatch {
	s := New()
	s.Start()
	return s
}

// Start begins a measurement. Calling Start again restarts it from now.
func (s *Stopwatch) Start() {
	s.startTime = time.Now()
}

// Stop records the end of the current measurement. It does nothing when the
// stopwatch was never started or has been reset.
func (s *Stopwatch) Stop() {
	if s.startTime.IsZero() {
		return
	}

	s.endTime = time.Now()
}

// Reset clears both the start and end of the measurement.
func (s *Stopwatch) Reset() {
	s.startTime = time.Time{}
	s.endTime = time.Time{}
}

// Restart resets the stopwatch and starts a new measurement.
func (s *Stopwatch) Restart() {
	s.Reset()
	s.Start()
}

// ElapsedMilliseconds returns the stopped interval between Start and Stop in
// milliseconds, or 0 if either has not happened.
func (s *Stopwatch) ElapsedMilliseconds() float64 {
	if s.startTime.IsZero() || s.endTime.IsZero() {
		return 0
	}

	return float64(s.endTime.Sub(s.startTime)) / float64(time.Millisecond)
}

// Elapsed returns the time since Start while running, or 0 if the stopwatch
// has not been started.
func (s *Stopwatch) Elapsed() time.Duration {
	if s.startTime.IsZero() {
		return 0
	}

	return time.Since(s.startTime)
}

// ElapsedSeconds returns Elapsed truncated to whole seconds.
func (s *Stopwatch) ElapsedSeconds() uint {
	return uint(s.Elapsed() / time.Second)
}
