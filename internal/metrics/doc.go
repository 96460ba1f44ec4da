// Package metrics provides the observability hooks of the build server and
// the generation engine.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics collection never needs nil checks:
//
//	recorder := metrics.NewPrometheusRecorder(registry)
//	eng := engine.New(provider, pool, engine.WithRecorder(recorder))
//
// The server exposes the registry over HTTP when server.metrics_addr is set.
package metrics
