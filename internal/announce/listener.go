package announce

import (
	"context"
	"fmt"

	"github.com/nerrad567/pcd-core/internal/catalogue"
	"github.com/nerrad567/pcd-core/internal/driver"
	"github.com/nerrad567/pcd-core/internal/infrastructure/mqtt"
)

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the part of driver.Registry the listener drives.
type Registry interface {
	Attach(ctx context.Context, a catalogue.Announcement) (int, error)
	Detach(ctx context.Context, number int) error
	List() []driver.DeviceInfo
}

// Subscriber registers a handler for a topic pattern. mqtt.Client implements it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Listener turns announcement messages into attach and detach calls.
type Listener struct {
	reg    Registry
	topics mqtt.Topics
	logger Logger
}

// NewListener creates a Listener for the announcement topics under topics.
func NewListener(reg Registry, topics mqtt.Topics) *Listener {
	return &Listener{reg: reg, topics: topics, logger: noopLogger{}}
}

// SetLogger sets the logger.
func (l *Listener) SetLogger(logger Logger) {
	l.logger = logger
}

// Subscribe subscribes to both announcement topics. Messages are handled
// with ctx, so cancelling it makes later attaches fail fast.
func (l *Listener) Subscribe(ctx context.Context, sub Subscriber, qos byte) error {
	err := sub.Subscribe(l.topics.AllAnnouncements(), qos, func(topic string, payload []byte) error {
		return l.Handle(ctx, topic, payload)
	})
	if err != nil {
		return fmt.Errorf("subscribing to announcements: %w", err)
	}
	l.logger.Info("listening for announcements", "topic", l.topics.AllAnnouncements())
	return nil
}

// Unsubscribe stops listening for announcements. Call it on shutdown
// before closing the registry.
func (l *Listener) Unsubscribe(sub Subscriber) error {
	if err := sub.Unsubscribe(l.topics.AllAnnouncements()); err != nil {
		return fmt.Errorf("unsubscribing from announcements: %w", err)
	}
	l.logger.Info("stopped listening for announcements", "topic", l.topics.AllAnnouncements())
	return nil
}

// Handle processes one message from an announcement topic.
func (l *Listener) Handle(ctx context.Context, topic string, payload []byte) error {
	switch topic {
	case l.topics.AnnounceAttach():
		return l.handleAttach(ctx, payload)
	case l.topics.AnnounceDetach():
		return l.handleDetach(ctx, payload)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
}

func (l *Listener) handleAttach(ctx context.Context, payload []byte) error {
	a, err := DecodeAttach(payload)
	if err != nil {
		return err
	}
	number, err := l.reg.Attach(ctx, a)
	if err != nil {
		return fmt.Errorf("attaching %s: %w", a.Name, err)
	}
	l.logger.Debug("announced device attached", "name", a.Name, "number", number)
	return nil
}

func (l *Listener) handleDetach(ctx context.Context, payload []byte) error {
	m, err := DecodeDetach(payload)
	if err != nil {
		return err
	}

	number := -1
	if m.Number != nil {
		number = *m.Number
	} else {
		for _, info := range l.reg.List() {
			if info.Name == m.Name {
				number = info.Number
				break
			}
		}
		if number < 0 {
			return fmt.Errorf("%w: %s", ErrDeviceNotFound, m.Name)
		}
	}

	if err := l.reg.Detach(ctx, number); err != nil {
		return fmt.Errorf("detaching %d: %w", number, err)
	}
	l.logger.Debug("announced device detached", "number", number)
	return nil
}
