package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementIO     = "pcd_io"
	measurementDevice = "pcd_device"
)

// WriteDeviceIO records one read or write against a device. The write is
// non-blocking; points are batched and sent asynchronously.
//
//	client.WriteDeviceIO("pcdev-0", "read", 64, time.Now())
func (c *Client) WriteDeviceIO(device, op string, bytes int, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(ioPoint(device, op, bytes, at))
}

// WriteDeviceMetric records a named gauge for a device, such as its
// capacity after a resize.
//
//	client.WriteDeviceMetric("pcdev-0", "capacity_bytes", 512, time.Now())
func (c *Client) WriteDeviceMetric(device, metric string, value float64, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(devicePoint(device, metric, value, at))
}

func ioPoint(device, op string, bytes int, at time.Time) *write.Point {
	return write.NewPoint(
		measurementIO,
		map[string]string{
			"device": device,
			"op":     op,
		},
		map[string]any{
			"bytes": int64(bytes),
		},
		at,
	)
}

func devicePoint(device, metric string, value float64, at time.Time) *write.Point {
	return write.NewPoint(
		measurementDevice,
		map[string]string{
			"device": device,
			"metric": metric,
		},
		map[string]any{
			"value": value,
		},
		at,
	)
}
