// Package metrics provides naming helpers and shared bucket definitions for
// the engine's OpenTelemetry instruments.
package metrics

import "strings"

const namespace = "pulstrate"

// MetricName prefixes name with the application namespace unless it already
// carries it.
func MetricName(name string) string {
	if strings.HasPrefix(name, namespace+"_") {
		return name
	}
	return namespace + "_" + name
}

// MetricNameWithSubsystem builds a fully qualified metric name of the form
// namespace_subsystem_name. Leading and trailing underscores on the subsystem
// are trimmed; empty parts are skipped.
func MetricNameWithSubsystem(subsystem, name string) string {
	subsystem = strings.Trim(subsystem, "_")
	switch {
	case subsystem == "":
		return MetricName(name)
	case name == "":
		return MetricName(subsystem)
	default:
		return MetricName(subsystem + "_" + name)
	}
}
