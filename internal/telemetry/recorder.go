package telemetry

import (
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/pcd-core/internal/driver"
)

// Metric names written for lifecycle events.
const (
	MetricCapacity       = "capacity_bytes"
	MetricAttachFailures = "attach_failures"
)

// I/O operation tags.
const (
	OpRead  = "read"
	OpWrite = "write"
)

// MetricWriter is the time-series sink. influxdb.Client implements it.
type MetricWriter interface {
	WriteDeviceIO(device, op string, bytes int, at time.Time)
	WriteDeviceMetric(device, metric string, value float64, at time.Time)
	// Flush blocks until buffered points are sent.
	Flush()
}

// DeviceCounters are running totals for one device name.
type DeviceCounters struct {
	Name         string    `json:"name"`
	Reads        uint64    `json:"reads"`
	Writes       uint64    `json:"writes"`
	BytesRead    uint64    `json:"bytes_read"`
	BytesWritten uint64    `json:"bytes_written"`
	Capacity     uint32    `json:"capacity"`
	LastActivity time.Time `json:"last_activity"`
}

// Snapshot is a copy of the recorder's counters.
type Snapshot struct {
	Devices        []DeviceCounters `json:"devices"`
	AttachFailures uint64           `json:"attach_failures"`
}

// Recorder turns driver events into metrics. It keeps in-process counters
// and, when a writer is set, forwards each event as a point.
//
// Counters survive detach so the totals of a device that went away are
// still reported; Reset clears them.
type Recorder struct {
	writer MetricWriter

	mu             sync.Mutex
	devices        map[string]*DeviceCounters
	attachFailures uint64
}

var _ driver.Observer = (*Recorder)(nil)

// NewRecorder creates a Recorder. w may be nil to keep counters only.
func NewRecorder(w MetricWriter) *Recorder {
	return &Recorder{
		writer:  w,
		devices: make(map[string]*DeviceCounters),
	}
}

// DeviceEvent implements driver.Observer.
func (r *Recorder) DeviceEvent(e driver.Event) {
	r.count(e)

	if r.writer == nil {
		return
	}
	switch e.Type {
	case driver.EventRead:
		r.writer.WriteDeviceIO(e.Name, OpRead, e.Bytes, e.At)
	case driver.EventWritten:
		r.writer.WriteDeviceIO(e.Name, OpWrite, e.Bytes, e.At)
	case driver.EventAttached, driver.EventResized:
		r.writer.WriteDeviceMetric(e.Name, MetricCapacity, float64(e.Capacity), e.At)
	case driver.EventDetached:
		r.writer.WriteDeviceMetric(e.Name, MetricCapacity, 0, e.At)
	case driver.EventAttachFailed:
		r.writer.WriteDeviceMetric(e.Name, MetricAttachFailures, 1, e.At)
	}
}

func (r *Recorder) count(e driver.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.Type == driver.EventAttachFailed {
		r.attachFailures++
		return
	}

	c, ok := r.devices[e.Name]
	if !ok {
		c = &DeviceCounters{Name: e.Name}
		r.devices[e.Name] = c
	}
	c.LastActivity = e.At

	switch e.Type {
	case driver.EventRead:
		c.Reads++
		c.BytesRead += uint64(e.Bytes) //nolint:gosec // byte counts are never negative
	case driver.EventWritten:
		c.Writes++
		c.BytesWritten += uint64(e.Bytes) //nolint:gosec // byte counts are never negative
	case driver.EventAttached, driver.EventResized:
		c.Capacity = e.Capacity
	case driver.EventDetached:
		c.Capacity = 0
	}
}

// Flush pushes buffered points to the writer. Call it after the registry
// has detached its devices so the final capacity gauges are not lost.
func (r *Recorder) Flush() {
	if r.writer != nil {
		r.writer.Flush()
	}
}

// Snapshot returns a copy of the counters sorted by device name.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := Snapshot{
		Devices:        make([]DeviceCounters, 0, len(r.devices)),
		AttachFailures: r.attachFailures,
	}
	for _, c := range r.devices {
		out.Devices = append(out.Devices, *c)
	}
	sort.Slice(out.Devices, func(i, j int) bool {
		return out.Devices[i].Name < out.Devices[j].Name
	})
	return out
}

// Reset clears all counters.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.devices = make(map[string]*DeviceCounters)
	r.attachFailures = 0
	r.mu.Unlock()
}
