// Package internaldefs holds the metric name table shared by every
// exporter backend.
//
// A counter or histogram appears on the Prometheus and OTel surfaces under
// the same name because both iterate the definitions here. A new engine
// metric is wired in this package once and picked up by all backends.
//
// The package imports only the root module and performs no I/O.
package internaldefs
