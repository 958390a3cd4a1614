// Package metrics defines the observability hooks for hub activity.
package metrics

import "time"

// Recorder defines observability hooks for routing, alerting and fetch
// activity. Implementations may forward to Prometheus, OpenTelemetry, etc.
// The NoopRecorder allows optional injection.
type Recorder interface {
	IncCommandDispatched(bot string)
	IncCommandUnknownSource()
	IncAlertSent(bot string)
	IncSendFailure(bot string)
	IncFetchFailure(bot string)
	ObserveFetchDuration(bot string, d time.Duration)
	SetActiveWatches(bot string, n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are
// not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncCommandDispatched(string)                {}
func (NoopRecorder) IncCommandUnknownSource()                   {}
func (NoopRecorder) IncAlertSent(string)                        {}
func (NoopRecorder) IncSendFailure(string)                      {}
func (NoopRecorder) IncFetchFailure(string)                     {}
func (NoopRecorder) ObserveFetchDuration(string, time.Duration) {}
func (NoopRecorder) SetActiveWatches(string, int)               {}
