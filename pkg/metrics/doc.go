/*
Package metrics defines and registers the engine's Prometheus series:
workflow lifecycle counts and durations, scheduler promotion latency,
worker claim/completion counts, and Submission API request metrics. All
metrics are registered at package init and exposed via Handler() for
scraping.

Timer is a small helper for recording a histogram observation from a
start time:

	timer := metrics.NewTimer()
	// ... do work ...
	timer.ObserveDuration(metrics.SchedulingLatency)
*/
package metrics
