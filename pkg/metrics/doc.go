/*
Package metrics exposes otter's Prometheus instrumentation: task state and
duration counters, coordinator tick timing, storage read/write latency and
conflict counts, and manifest save duration/retries. Every metric is
registered at package init and served via Handler, mounted by cmd/otter
alongside the health and readiness endpoints from this package.

Timer is a small helper for timing an operation and recording it to a
histogram or histogram vec:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.TasksRunDuration)

RegisterComponent/UpdateComponent feed the /health and /ready handlers,
tracking liveness of the coordinator, the manifest manager, and the
configured storage backend.
*/
package metrics
