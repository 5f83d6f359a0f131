package announce

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/pcd-core/internal/driver"
	"github.com/nerrad567/pcd-core/internal/infrastructure/mqtt"
)

// Bus publishes raw payloads. mqtt.Client implements it.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	// PublishRetained publishes at the bus's own QoS; a nil payload clears
	// the retained message.
	PublishRetained(topic string, payload []byte) error
}

// Publisher mirrors bound devices onto the bus. As the registry's
// driver.Publisher it writes a retained attributes message on attach and
// clears it on detach; as a driver.Observer it republishes the attributes
// after a resize and forwards lifecycle events.
type Publisher struct {
	bus    Bus
	topics mqtt.Topics
	qos    byte
	format Format
	logger Logger

	mu      sync.Mutex
	devices map[string]driver.DeviceInfo
}

var (
	_ driver.Publisher = (*Publisher)(nil)
	_ driver.Observer  = (*Publisher)(nil)
)

// NewPublisher creates a Publisher. qos applies to device events;
// attributes are retained at the bus's configured QoS.
func NewPublisher(bus Bus, topics mqtt.Topics, qos byte, format Format) *Publisher {
	return &Publisher{
		bus:     bus,
		topics:  topics,
		qos:     qos,
		format:  format,
		logger:  noopLogger{},
		devices: make(map[string]driver.DeviceInfo),
	}
}

// SetLogger sets the logger.
func (p *Publisher) SetLogger(logger Logger) {
	p.logger = logger
}

// Publish implements driver.Publisher.
func (p *Publisher) Publish(ctx context.Context, info driver.DeviceInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.publishAttributes(info); err != nil {
		return err
	}

	p.mu.Lock()
	p.devices[info.Name] = info
	p.mu.Unlock()
	return nil
}

// Unpublish implements driver.Publisher. An empty retained payload removes
// the retained attributes from the broker.
func (p *Publisher) Unpublish(_ context.Context, info driver.DeviceInfo) error {
	p.mu.Lock()
	delete(p.devices, info.Name)
	p.mu.Unlock()

	if err := p.bus.PublishRetained(p.topics.DeviceAttributes(info.Name), nil); err != nil {
		return fmt.Errorf("clearing attributes of %s: %w", info.Name, err)
	}
	return nil
}

// DeviceEvent implements driver.Observer.
func (p *Publisher) DeviceEvent(e driver.Event) {
	if !e.Type.Lifecycle() || e.Type == driver.EventAttachFailed {
		return
	}

	if e.Type == driver.EventResized {
		p.mu.Lock()
		info, ok := p.devices[e.Name]
		if ok {
			info.Capacity = e.Capacity
			p.devices[e.Name] = info
		}
		p.mu.Unlock()

		if ok {
			if err := p.publishAttributes(info); err != nil {
				p.logger.Warn("republishing attributes failed", "device", e.Name, "error", err)
			}
		}
	}

	payload, err := Encode(p.format, e)
	if err != nil {
		p.logger.Error("encoding device event failed", "device", e.Name, "error", err)
		return
	}
	if err := p.bus.Publish(p.topics.DeviceEvent(e.Name), payload, p.qos, false); err != nil {
		p.logger.Warn("publishing device event failed", "device", e.Name, "type", e.Type, "error", err)
	}
}

// attributesMessage is the retained control-plane view of a device.
type attributesMessage struct {
	driver.DeviceInfo
	PublishedAt time.Time `json:"published_at"`
}

func (p *Publisher) publishAttributes(info driver.DeviceInfo) error {
	payload, err := Encode(p.format, attributesMessage{DeviceInfo: info, PublishedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encoding attributes of %s: %w", info.Name, err)
	}
	if err := p.bus.PublishRetained(p.topics.DeviceAttributes(info.Name), payload); err != nil {
		return fmt.Errorf("publishing attributes of %s: %w", info.Name, err)
	}
	return nil
}
