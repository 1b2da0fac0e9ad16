// Package clock supplies the monotonic time source the capture pipeline
// timestamps frames with. Grab timestamps must come from a monotonic
// clock, never wall time, since wall time can jump backward under NTP
// adjustment and corrupt ordering decisions downstream.
package clock

// Seconds returns the current monotonic time in fractional seconds.
// It has no relation to wall-clock time and is only meaningful as a
// difference between two calls.
func Seconds() float64 {
	return monotonicSeconds()
}
