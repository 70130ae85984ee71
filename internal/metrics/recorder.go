// Package metrics records backend gateway call metrics.
package metrics

import "time"

// Recorder observes completed backend calls.
type Recorder interface {
	// ObserveRequest records one call to endpoint. status is the HTTP status
	// code, or 0 when the request never produced a response.
	ObserveRequest(endpoint string, status int, success bool, duration time.Duration)
}

// NoopRecorder discards all observations.
type NoopRecorder struct{}

// Nop returns a recorder that discards all metrics.
func Nop() Recorder {
	return NoopRecorder{}
}

// ObserveRequest does nothing.
func (NoopRecorder) ObserveRequest(string, int, bool, time.Duration) {}
