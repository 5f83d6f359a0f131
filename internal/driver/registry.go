package driver

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/pcd-core/internal/catalogue"
	"github.com/nerrad567/pcd-core/internal/pcd"
)

// Default registry limits.
const (
	DefaultMaxDevices  = 256
	DefaultMaxCapacity = 16 << 20
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds the registry limits.
type Config struct {
	// NumberBase is the first device number handed out.
	NumberBase int

	// MaxDevices bounds how many devices may be bound at once. Numbers
	// keep increasing across attach/detach cycles and are never reused.
	MaxDevices int

	// MaxCapacity bounds device capacity at attach and on resize.
	MaxCapacity uint32
}

func (c Config) withDefaults() Config {
	if c.MaxDevices <= 0 {
		c.MaxDevices = DefaultMaxDevices
	}
	if c.MaxCapacity == 0 {
		c.MaxCapacity = DefaultMaxCapacity
	}
	return c
}

// Registry owns every bound device. It resolves announcements through a
// catalogue, numbers and registers the resulting instances, and hands out
// sessions and control-plane access to them.
//
// All public methods are thread-safe. The registry lock is always taken
// before a device lock and never while one is held.
type Registry struct {
	cat *catalogue.Catalogue
	cfg Config

	mu         sync.RWMutex
	dispatch   map[int]*instance // I/O dispatch table
	pending    map[int]*instance // reserved, publish in progress
	published  map[int]*instance // control-plane table
	names      map[string]int    // published device names
	totalBound int
	nextNumber int
	closed     bool
	publisher  Publisher

	obsMu     sync.RWMutex
	observers []Observer

	logger Logger
	now    func() time.Time
}

// NewRegistry creates a registry resolving announcements through cat.
func NewRegistry(cat *catalogue.Catalogue, cfg Config) *Registry {
	return &Registry{
		cat:       cat,
		cfg:       cfg.withDefaults(),
		dispatch:  make(map[int]*instance),
		pending:   make(map[int]*instance),
		published: make(map[int]*instance),
		names:     make(map[string]int),
		logger:    noopLogger{},
		now:       time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetPublisher installs an external publisher used as the last attach step.
// Devices already bound are not published retroactively.
func (r *Registry) SetPublisher(p Publisher) {
	r.mu.Lock()
	r.publisher = p
	r.mu.Unlock()
}

// AddObserver registers an observer for driver events.
func (r *Registry) AddObserver(o Observer) {
	r.obsMu.Lock()
	r.observers = append(r.observers, o)
	r.obsMu.Unlock()
}

// Catalogue returns the catalogue the registry resolves against.
func (r *Registry) Catalogue() *catalogue.Catalogue {
	return r.cat
}

// Attach resolves an announcement, allocates and registers a device, and
// publishes it. It returns the device number. On failure every completed
// step is undone in reverse order and nothing is left bound.
func (r *Registry) Attach(ctx context.Context, a catalogue.Announcement) (int, error) {
	info, err := r.attach(ctx, a)
	if err != nil {
		label := announcementLabel(a)
		r.logger.Warn("device attach failed", "announcement", label, "error", err)
		r.notify(Event{Type: EventAttachFailed, Number: -1, Name: label, Error: err.Error(), At: r.now()})
		return -1, err
	}

	r.logger.Info("device attached",
		"number", info.Number,
		"name", info.Name,
		"type", info.TypeKey,
		"source", info.Source.String(),
		"size", info.Capacity,
		"perm", info.Permission.String(),
		"serial", info.Serial,
		"tuning_item1", info.Tuning.Item1,
		"tuning_item2", info.Tuning.Item2,
	)
	r.notify(Event{
		Type:     EventAttached,
		Number:   info.Number,
		Name:     info.Name,
		TypeKey:  info.TypeKey,
		Serial:   info.Serial,
		Capacity: info.Capacity,
		At:       info.AttachedAt,
	})
	return info.Number, nil
}

func (r *Registry) attach(ctx context.Context, a catalogue.Announcement) (DeviceInfo, error) {
	res, err := r.cat.Resolve(a)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("%w: %w", ErrResolutionFailed, err)
	}

	var undo unwind
	defer undo.run()

	r.mu.Lock()
	inst, err := r.reserve(res)
	pub := r.publisher
	r.mu.Unlock()
	if err != nil {
		return DeviceInfo{}, err
	}
	undo.push(func() {
		r.mu.Lock()
		r.unreserve(inst)
		r.mu.Unlock()
	})

	// inst is unreachable by sessions until commit.
	info := inst.infoLocked()

	// The publisher may block on the network, so r.mu is not held here.
	if pub != nil {
		if err := pub.Publish(ctx, info); err != nil {
			return DeviceInfo{}, fmt.Errorf("%w: %w", ErrPublishFailed, err)
		}
		undo.push(func() { r.unpublish(context.Background(), pub, info) })
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return DeviceInfo{}, ErrRegistryClosed
	}
	r.commit(inst)
	undo.commit()
	return info, nil
}

// reserve allocates an instance, assigns it the next number and claims its
// name. The instance stays pending, invisible to I/O and the control plane,
// until commit. r.mu must be held.
func (r *Registry) reserve(res catalogue.Resolution) (*instance, error) {
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if bound := r.totalBound + len(r.pending); bound >= r.cfg.MaxDevices {
		return nil, fmt.Errorf("%w: %d devices bound, limit %d", ErrRegistrationFailed, bound, r.cfg.MaxDevices)
	}
	if r.nextNumber > math.MaxInt-r.cfg.NumberBase {
		return nil, fmt.Errorf("%w: device numbers exhausted", ErrRegistrationFailed)
	}

	var undo unwind
	defer undo.run()

	inst, err := r.allocate(res)
	if err != nil {
		return nil, err
	}
	undo.push(inst.release)

	index := r.nextNumber
	inst.number = r.cfg.NumberBase + index
	if inst.name == "" {
		inst.name = fmt.Sprintf("pcdev-%d", index)
	}

	if err := r.register(inst); err != nil {
		return nil, err
	}
	undo.push(func() { delete(r.pending, inst.number) })

	if owner, taken := r.names[inst.name]; taken {
		return nil, fmt.Errorf("%w: name %q already published by device %d", ErrPublishFailed, inst.name, owner)
	}
	r.names[inst.name] = inst.number

	r.nextNumber++
	undo.commit()
	return inst, nil
}

// unreserve reverses reserve. The number is handed back only when no later
// number has been issued, so numbers stay unique. r.mu must be held.
func (r *Registry) unreserve(inst *instance) {
	delete(r.names, inst.name)
	delete(r.pending, inst.number)
	inst.release()
	if r.cfg.NumberBase+r.nextNumber == inst.number+1 {
		r.nextNumber--
	}
}

// commit makes a reserved instance reachable for I/O and the control plane.
// r.mu must be held.
func (r *Registry) commit(inst *instance) {
	delete(r.pending, inst.number)
	r.dispatch[inst.number] = inst
	r.published[inst.number] = inst
	r.totalBound++
}

// allocate creates the instance and its buffer.
func (r *Registry) allocate(res catalogue.Resolution) (*instance, error) {
	size := res.Descriptor.Capacity
	if size == 0 {
		return nil, fmt.Errorf("%w: zero capacity", ErrAllocationFailed)
	}
	if size > r.cfg.MaxCapacity {
		return nil, fmt.Errorf("%w: capacity %d exceeds maximum %d", ErrAllocationFailed, size, r.cfg.MaxCapacity)
	}
	return newInstance(res, r.now()), nil
}

// register claims the instance number. r.mu must be held.
func (r *Registry) register(inst *instance) error {
	if _, taken := r.dispatch[inst.number]; taken {
		return fmt.Errorf("%w: number %d already registered", ErrRegistrationFailed, inst.number)
	}
	if _, taken := r.pending[inst.number]; taken {
		return fmt.Errorf("%w: number %d already registered", ErrRegistrationFailed, inst.number)
	}
	r.pending[inst.number] = inst
	return nil
}

// unpublish withdraws a device from the external publisher. Failures are
// logged only. r.mu must not be held.
func (r *Registry) unpublish(ctx context.Context, pub Publisher, info DeviceInfo) {
	if pub == nil {
		return
	}
	if err := pub.Unpublish(ctx, info); err != nil {
		r.logger.Warn("device unpublish failed", "number", info.Number, "error", err)
	}
}

// Detach unpublishes, unregisters and releases a device. Sessions on it fail
// with ErrUnknownDevice from then on.
func (r *Registry) Detach(ctx context.Context, number int) error {
	r.mu.Lock()
	info, err := r.detachLocked(number)
	pub := r.publisher
	r.mu.Unlock()
	if err != nil {
		return err
	}

	r.unpublish(ctx, pub, info)
	r.logger.Info("device detached", "number", number, "name", info.Name)
	r.notify(detachedEvent(info, r.now()))
	return nil
}

// detachLocked removes a bound device from every table and releases it.
// The caller unpublishes it once r.mu is released. r.mu must be held.
func (r *Registry) detachLocked(number int) (DeviceInfo, error) {
	inst, ok := r.dispatch[number]
	if !ok {
		return DeviceInfo{}, fmt.Errorf("%w: %d", ErrUnknownDevice, number)
	}

	info, err := inst.info()
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("%w: %d", ErrUnknownDevice, number)
	}

	delete(r.published, number)
	delete(r.names, inst.name)
	delete(r.dispatch, number)
	inst.release()
	r.totalBound--

	return info, nil
}

// Close detaches every bound device in number order and refuses further
// attaches and opens.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true

	numbers := make([]int, 0, len(r.dispatch))
	for n := range r.dispatch {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	detached := make([]DeviceInfo, 0, len(numbers))
	for _, n := range numbers {
		info, err := r.detachLocked(n)
		if err != nil {
			continue
		}
		detached = append(detached, info)
	}
	pub := r.publisher
	r.mu.Unlock()

	now := r.now()
	for _, info := range detached {
		r.unpublish(ctx, pub, info)
		r.notify(detachedEvent(info, now))
	}
	r.logger.Info("driver registry closed", "detached", len(detached))
	return nil
}

// Open starts a session on a bound device. The requested mode must be
// allowed by the device permission.
func (r *Registry) Open(number int, mode pcd.AccessMode) (*Session, error) {
	r.mu.RLock()
	closed := r.closed
	inst, ok := r.dispatch[number]
	r.mu.RUnlock()

	if closed {
		return nil, ErrRegistryClosed
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDevice, number)
	}
	if !inst.perm.Allows(mode) {
		return nil, fmt.Errorf("%w: device %d is %s, requested %s", ErrPermissionDenied, number, inst.perm, mode)
	}

	return &Session{reg: r, inst: inst, mode: mode}, nil
}

// Stats returns the registry counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Stats{
		Bound:      r.totalBound,
		NumberBase: r.cfg.NumberBase,
		NextNumber: r.cfg.NumberBase + r.nextNumber,
		MaxDevices: r.cfg.MaxDevices,
		Closed:     r.closed,
	}
}

// TotalBound returns the number of bound devices.
func (r *Registry) TotalBound() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totalBound
}

// notify delivers an event to every observer. No lock may be held.
func (r *Registry) notify(e Event) {
	r.obsMu.RLock()
	observers := r.observers
	r.obsMu.RUnlock()

	for _, o := range observers {
		o.DeviceEvent(e)
	}
}

func detachedEvent(info DeviceInfo, at time.Time) Event {
	return Event{
		Type:     EventDetached,
		Number:   info.Number,
		Name:     info.Name,
		TypeKey:  info.TypeKey,
		Serial:   info.Serial,
		Capacity: info.Capacity,
		At:       at,
	}
}

func announcementLabel(a catalogue.Announcement) string {
	if a.Node != nil {
		return a.Node.Name()
	}
	return a.Name
}

// unwind collects release steps and runs them in reverse order unless the
// sequence is committed.
type unwind struct {
	steps     []func()
	committed bool
}

func (u *unwind) push(step func()) {
	u.steps = append(u.steps, step)
}

func (u *unwind) commit() {
	u.committed = true
}

func (u *unwind) run() {
	if u.committed {
		return
	}
	for i := len(u.steps) - 1; i >= 0; i-- {
		u.steps[i]()
	}
}
