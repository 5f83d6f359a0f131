// Package telemetry records device activity.
//
// A Recorder is registered as a driver.Observer. Every read and write
// becomes a pcd_io point and every attach, resize and detach updates the
// device's capacity gauge in the configured MetricWriter (InfluxDB in the
// daemon). Running totals are kept in process for the API's /metrics view
// whether or not a writer is configured.
package telemetry
