// Package metrics records daemon activity. Components hold a Recorder and
// default to NoopRecorder; PrometheusRecorder is swapped in when
// metrics.socket is configured, and the exposition endpoint is served on a
// local Unix socket only.
package metrics
