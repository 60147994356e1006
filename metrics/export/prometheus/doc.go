// Package prometheus renders identitykit engine metrics in Prometheus text
// exposition format.
//
// [NewPrometheusExporter] wraps an [identitykit.Engine] and serves its
// counters (identitykit_*_total) and the sign-in latency histogram
// (identitykit_signin_latency_seconds) through an [http.Handler]. Nothing
// is registered globally; the caller decides where to mount the handler.
package prometheus
