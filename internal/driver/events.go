package driver

import (
	"context"
	"time"

	"github.com/nerrad567/pcd-core/internal/catalogue"
	"github.com/nerrad567/pcd-core/internal/pcd"
)

// EventType identifies a driver event.
type EventType string

// Event types.
const (
	EventAttached     EventType = "attached"
	EventDetached     EventType = "detached"
	EventAttachFailed EventType = "attach_failed"
	EventResized      EventType = "resized"
	EventRead         EventType = "read"
	EventWritten      EventType = "written"
)

// Lifecycle reports whether the event changes which devices are bound or how
// they are configured. Read and write events are not lifecycle events.
func (t EventType) Lifecycle() bool {
	return t != EventRead && t != EventWritten
}

// Event describes something that happened to a device.
type Event struct {
	Type         EventType `json:"type"`
	Number       int       `json:"number"`
	Name         string    `json:"name,omitempty"`
	TypeKey      string    `json:"type_key,omitempty"`
	Serial       string    `json:"serial,omitempty"`
	Capacity     uint32    `json:"capacity,omitempty"`
	PrevCapacity uint32    `json:"prev_capacity,omitempty"`
	Bytes        int       `json:"bytes,omitempty"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}

// Observer receives driver events. DeviceEvent is called synchronously after
// the registry and device locks are released, so it may call back into the
// registry. It should return quickly.
type Observer interface {
	DeviceEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// DeviceEvent implements Observer.
func (f ObserverFunc) DeviceEvent(e Event) { f(e) }

// Publisher exposes bound devices outside the process. Publish is the last
// step of attach: an error fails the attach and unwinds it. Unpublish errors
// during detach are logged and otherwise ignored. Neither is called with
// the registry lock held.
type Publisher interface {
	Publish(ctx context.Context, info DeviceInfo) error
	Unpublish(ctx context.Context, info DeviceInfo) error
}

// DeviceInfo is a point-in-time view of a bound device.
type DeviceInfo struct {
	Number     int              `json:"number"`
	Name       string           `json:"name"`
	TypeKey    string           `json:"type_key"`
	Source     catalogue.Source `json:"source"`
	Capacity   uint32           `json:"size"`
	Permission pcd.Permission   `json:"perm"`
	Serial     string           `json:"serial_number"`
	Tuning     catalogue.Tuning `json:"tuning"`
	AttachedAt time.Time        `json:"attached_at"`
}

// Stats holds registry counters.
type Stats struct {
	Bound      int  `json:"bound"`
	NumberBase int  `json:"number_base"`
	NextNumber int  `json:"next_number"`
	MaxDevices int  `json:"max_devices"`
	Closed     bool `json:"closed"`
}
