// Package influxdb provides InfluxDB connectivity for device telemetry.
//
// It wraps the influxdb-client-go v2 library for connection management,
// batched point writes and health monitoring. The telemetry recorder feeds
// it one pcd_io point per read or write and a pcd_device point per resize.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteDeviceIO("pcdev-0", "write", 16, time.Now())
//
// Writes never block the caller. Batch failures are delivered to the
// callback set with SetOnError.
package influxdb
