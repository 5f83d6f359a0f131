package driver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/pcd-core/internal/catalogue"
	"github.com/nerrad567/pcd-core/internal/pcd"
)

// fakePublisher records publish calls and can be told to fail.
type fakePublisher struct {
	mu           sync.Mutex
	publishErr   error
	unpublishErr error
	published    []DeviceInfo
	unpublished  []DeviceInfo
}

func (f *fakePublisher) Publish(_ context.Context, info DeviceInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, info)
	return nil
}

func (f *fakePublisher) Unpublish(_ context.Context, info DeviceInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unpublished = append(f.unpublished, info)
	return f.unpublishErr
}

// eventRecorder collects events delivered to it.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) DeviceEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	return NewRegistry(catalogue.Default(), cfg)
}

func announce(size uint32, perm pcd.Permission, serial string) catalogue.Announcement {
	return catalogue.Announcement{
		Name:     catalogue.TypePCDevA1x,
		Platform: &pcd.Descriptor{Capacity: size, Permission: perm, SerialNumber: serial},
	}
}

func mustAttach(t *testing.T, r *Registry, size uint32, perm pcd.Permission) int {
	t.Helper()
	n, err := r.Attach(context.Background(), announce(size, perm, "PCDEVTEST"))
	if err != nil {
		t.Fatalf("Attach(%d, %v) error = %v", size, perm, err)
	}
	return n
}

func TestAttachDetachLeavesTotalUnchanged(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Config{})
	mustAttach(t, r, 64, pcd.PermReadWrite)

	for _, size := range []uint32{1, 3, 512, 1024, 4096} {
		for _, perm := range []pcd.Permission{pcd.PermReadOnly, pcd.PermWriteOnly, pcd.PermReadWrite} {
			before := r.TotalBound()
			n, err := r.Attach(ctx, announce(size, perm, "S"))
			if err != nil {
				t.Fatalf("Attach(%d, %v) error = %v", size, perm, err)
			}
			if got := r.TotalBound(); got != before+1 {
				t.Errorf("TotalBound after attach = %d, want %d", got, before+1)
			}
			if err := r.Detach(ctx, n); err != nil {
				t.Fatalf("Detach(%d) error = %v", n, err)
			}
			if got := r.TotalBound(); got != before {
				t.Errorf("TotalBound after detach = %d, want %d", got, before)
			}
		}
	}
}

func TestAttachNumbersAreSequentialAndNotReused(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Config{NumberBase: 10})

	var numbers []int
	for i := 0; i < 3; i++ {
		numbers = append(numbers, mustAttach(t, r, 8, pcd.PermReadWrite))
	}
	if numbers[0] != 10 || numbers[1] != 11 || numbers[2] != 12 {
		t.Fatalf("numbers = %v, want [10 11 12]", numbers)
	}

	if err := r.Detach(ctx, 11); err != nil {
		t.Fatalf("Detach(11) error = %v", err)
	}
	next := mustAttach(t, r, 8, pcd.PermReadWrite)
	if next != 13 {
		t.Errorf("number after detach = %d, want 13", next)
	}

	info, err := r.Info(next)
	if err != nil {
		t.Fatalf("Info(%d) error = %v", next, err)
	}
	if info.Name != "pcdev-3" {
		t.Errorf("Name = %q, want pcdev-3", info.Name)
	}
}

func TestAttachResolutionFailed(t *testing.T) {
	r := newTestRegistry(t, Config{})

	tests := []struct {
		name  string
		ann   catalogue.Announcement
		cause error
	}{
		{
			name:  "unknown type name",
			ann:   catalogue.Announcement{Name: "pcdev-Z9x"},
			cause: catalogue.ErrNoMatch,
		},
		{
			name: "node missing property",
			ann: catalogue.Announcement{Node: &catalogue.DescriptionNode{
				NodeName:   "pcdev-1",
				Compat:     []string{catalogue.TypePCDevA1x},
				Properties: map[string]any{catalogue.PropSize: 8, catalogue.PropPermission: 1},
			}},
			cause: catalogue.ErrMissingProperty,
		},
		{
			name:  "invalid permission",
			ann:   announce(8, pcd.Permission(0x02), "S"),
			cause: pcd.ErrInvalidPermission,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := r.Attach(context.Background(), tt.ann)
			if !errors.Is(err, ErrResolutionFailed) || !errors.Is(err, tt.cause) {
				t.Fatalf("Attach() error = %v, want ErrResolutionFailed wrapping %v", err, tt.cause)
			}
			if n != -1 {
				t.Errorf("Attach() number = %d, want -1", n)
			}
			if r.TotalBound() != 0 {
				t.Errorf("TotalBound = %d, want 0", r.TotalBound())
			}
		})
	}
}

func TestAttachAllocationFailed(t *testing.T) {
	r := newTestRegistry(t, Config{MaxCapacity: 1024})

	for _, size := range []uint32{0, 1025} {
		if _, err := r.Attach(context.Background(), announce(size, pcd.PermReadWrite, "S")); !errors.Is(err, ErrAllocationFailed) {
			t.Errorf("Attach(size=%d) error = %v, want ErrAllocationFailed", size, err)
		}
	}
	if len(r.dispatch) != 0 || len(r.published) != 0 {
		t.Errorf("tables not empty after failed attach: dispatch=%d published=%d", len(r.dispatch), len(r.published))
	}
}

func TestAttachDeviceLimit(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Config{NumberBase: 5, MaxDevices: 1})

	first := mustAttach(t, r, 8, pcd.PermReadWrite)
	if _, err := r.Attach(ctx, announce(8, pcd.PermReadWrite, "S")); !errors.Is(err, ErrRegistrationFailed) {
		t.Fatalf("Attach() over limit error = %v, want ErrRegistrationFailed", err)
	}
	if r.TotalBound() != 1 || len(r.dispatch) != 1 || len(r.pending) != 0 {
		t.Errorf("TotalBound = %d, dispatch = %d, pending = %d, want 1, 1, 0",
			r.TotalBound(), len(r.dispatch), len(r.pending))
	}

	// Detaching frees a slot; the next device gets a fresh number.
	if err := r.Detach(ctx, first); err != nil {
		t.Fatalf("Detach() error = %v", err)
	}
	n := mustAttach(t, r, 8, pcd.PermReadWrite)
	if n != first+1 {
		t.Errorf("number after detach = %d, want %d", n, first+1)
	}
}

func TestAttachDetachCyclesBeyondLimit(t *testing.T) {
	ctx := context.Background()
	const limit = 4
	r := newTestRegistry(t, Config{NumberBase: 100, MaxDevices: limit})

	for cycle := 0; cycle < 3*limit; cycle++ {
		n, err := r.Attach(ctx, announce(16, pcd.PermReadWrite, "S"))
		if err != nil {
			t.Fatalf("cycle %d: Attach() error = %v (TotalBound=%d)", cycle, err, r.TotalBound())
		}
		if want := 100 + cycle; n != want {
			t.Errorf("cycle %d: number = %d, want %d", cycle, n, want)
		}
		if err := r.Detach(ctx, n); err != nil {
			t.Fatalf("cycle %d: Detach() error = %v", cycle, err)
		}
	}

	stats := r.Stats()
	if stats.Bound != 0 || stats.NextNumber != 100+3*limit {
		t.Errorf("stats = %+v, want bound=0 next_number=%d", stats, 100+3*limit)
	}
}

// blockingPublisher holds every Publish call until release is closed.
type blockingPublisher struct {
	fakePublisher
	entered chan struct{}
	release chan struct{}
}

func (b *blockingPublisher) Publish(ctx context.Context, info DeviceInfo) error {
	b.entered <- struct{}{}
	<-b.release
	return b.fakePublisher.Publish(ctx, info)
}

func TestPublishRunsWithoutRegistryLock(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Config{NumberBase: 10})
	existing := mustAttach(t, r, 8, pcd.PermReadWrite)

	pub := &blockingPublisher{entered: make(chan struct{}, 1), release: make(chan struct{})}
	r.SetPublisher(pub)

	attached := make(chan error, 1)
	go func() {
		_, err := r.Attach(ctx, announce(8, pcd.PermReadOnly, "SLOW"))
		attached <- err
	}()
	<-pub.entered

	done := make(chan struct{})
	go func() {
		defer close(done)
		if s, err := r.Open(existing, pcd.AccessReadWrite); err != nil {
			t.Errorf("Open() during publish error = %v", err)
		} else {
			_ = s.Close()
		}
		if got := len(r.List()); got != 1 {
			t.Errorf("List() during publish = %d devices, want 1 (pending device hidden)", got)
		}
		if _, err := r.Open(11, pcd.AccessReadOnly); !errors.Is(err, ErrUnknownDevice) {
			t.Errorf("Open(pending) error = %v, want ErrUnknownDevice", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("registry blocked while a publish was in flight")
	}

	close(pub.release)
	if err := <-attached; err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if r.TotalBound() != 2 {
		t.Errorf("TotalBound = %d, want 2", r.TotalBound())
	}
}

func TestCloseDuringPublishUnwindsAttach(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Config{})
	pub := &blockingPublisher{entered: make(chan struct{}, 1), release: make(chan struct{})}
	r.SetPublisher(pub)

	attached := make(chan error, 1)
	go func() {
		_, err := r.Attach(ctx, announce(8, pcd.PermReadWrite, "S"))
		attached <- err
	}()
	<-pub.entered

	if err := r.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	close(pub.release)

	if err := <-attached; !errors.Is(err, ErrRegistryClosed) {
		t.Fatalf("Attach() error = %v, want ErrRegistryClosed", err)
	}
	if r.TotalBound() != 0 || len(r.pending) != 0 || len(r.names) != 0 {
		t.Errorf("state after unwound attach: bound=%d pending=%d names=%d",
			r.TotalBound(), len(r.pending), len(r.names))
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.published) != 1 || len(pub.unpublished) != 1 {
		t.Errorf("published=%d unpublished=%d, want 1 and 1", len(pub.published), len(pub.unpublished))
	}
}

func TestAttachPublishFailedUnwinds(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Config{NumberBase: 100})
	pub := &fakePublisher{publishErr: errors.New("broker down")}
	r.SetPublisher(pub)
	rec := &eventRecorder{}
	r.AddObserver(rec)

	_, err := r.Attach(ctx, announce(32, pcd.PermReadWrite, "S"))
	if !errors.Is(err, ErrPublishFailed) {
		t.Fatalf("Attach() error = %v, want ErrPublishFailed", err)
	}
	if len(r.dispatch) != 0 || len(r.published) != 0 || len(r.names) != 0 {
		t.Errorf("partial attach left state: dispatch=%d published=%d names=%d",
			len(r.dispatch), len(r.published), len(r.names))
	}
	if r.TotalBound() != 0 {
		t.Errorf("TotalBound = %d, want 0", r.TotalBound())
	}
	if _, err := r.Open(100, pcd.AccessReadWrite); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Open() after failed attach error = %v, want ErrUnknownDevice", err)
	}
	if got := rec.ofType(EventAttachFailed); len(got) != 1 || got[0].Number != -1 {
		t.Errorf("attach_failed events = %+v", got)
	}

	pub.mu.Lock()
	pub.publishErr = nil
	pub.mu.Unlock()
	n := mustAttach(t, r, 32, pcd.PermReadWrite)
	if n != 100 {
		t.Errorf("number after failed attach = %d, want 100", n)
	}
}

func TestAttachDuplicateNodeNameFailsPublish(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Config{})
	node := &catalogue.DescriptionNode{
		NodeName: "pcdev-1",
		Compat:   []string{catalogue.TypePCDevB1x},
		Properties: map[string]any{
			catalogue.PropSerialNumber: "PCDEV1ABC",
			catalogue.PropSize:         512,
			catalogue.PropPermission:   0x11,
		},
	}

	n, err := r.Attach(ctx, catalogue.Announcement{Node: node})
	if err != nil {
		t.Fatalf("first Attach() error = %v", err)
	}
	if _, err := r.Attach(ctx, catalogue.Announcement{Node: node}); !errors.Is(err, ErrPublishFailed) {
		t.Fatalf("second Attach() error = %v, want ErrPublishFailed", err)
	}
	if r.TotalBound() != 1 {
		t.Errorf("TotalBound = %d, want 1", r.TotalBound())
	}

	info, err := r.Info(n)
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if info.Source != catalogue.SourceDescription || info.Tuning != (catalogue.Tuning{Item1: 50, Item2: 13}) {
		t.Errorf("Info() = %+v", info)
	}

	// The name is free again once the first device is gone.
	if err := r.Detach(ctx, n); err != nil {
		t.Fatalf("Detach() error = %v", err)
	}
	if _, err := r.Attach(ctx, catalogue.Announcement{Node: node}); err != nil {
		t.Errorf("Attach() after detach error = %v", err)
	}
}

func TestDetachUnknownDevice(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Config{})
	n := mustAttach(t, r, 8, pcd.PermReadWrite)

	if err := r.Detach(ctx, n); err != nil {
		t.Fatalf("first Detach() error = %v", err)
	}
	if err := r.Detach(ctx, n); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("second Detach() error = %v, want ErrUnknownDevice", err)
	}
	if err := r.Detach(ctx, 999); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Detach(999) error = %v, want ErrUnknownDevice", err)
	}
	if r.TotalBound() != 0 {
		t.Errorf("TotalBound = %d, want 0", r.TotalBound())
	}
}

func TestDetachInvalidatesSessions(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Config{})
	n := mustAttach(t, r, 8, pcd.PermReadWrite)

	s, err := r.Open(n, pcd.AccessReadWrite)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := r.Detach(ctx, n); err != nil {
		t.Fatalf("Detach() error = %v", err)
	}

	if _, err := s.Read(make([]byte, 4)); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Read() after detach error = %v, want ErrUnknownDevice", err)
	}
	if _, err := s.Write([]byte("x")); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Write() after detach error = %v, want ErrUnknownDevice", err)
	}
	if _, err := s.Seek(0, 0); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Seek() after detach error = %v, want ErrUnknownDevice", err)
	}
	if _, err := r.Capacity(n); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Capacity() after detach error = %v, want ErrUnknownDevice", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() after detach error = %v", err)
	}
}

func TestPublisherLifecycle(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Config{})
	pub := &fakePublisher{unpublishErr: errors.New("ignored")}
	r.SetPublisher(pub)

	n, err := r.Attach(ctx, announce(512, pcd.PermReadWrite, "PCDEVABC1111"))
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if err := r.Detach(ctx, n); err != nil {
		t.Fatalf("Detach() with failing unpublish error = %v", err)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.published) != 1 || pub.published[0].Serial != "PCDEVABC1111" || pub.published[0].Capacity != 512 {
		t.Errorf("published = %+v", pub.published)
	}
	if len(pub.unpublished) != 1 || pub.unpublished[0].Number != n {
		t.Errorf("unpublished = %+v", pub.unpublished)
	}
}

func TestCloseDetachesInNumberOrder(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Config{NumberBase: 1})
	rec := &eventRecorder{}
	r.AddObserver(rec)

	for i := 0; i < 4; i++ {
		mustAttach(t, r, 16, pcd.PermReadWrite)
	}
	s, err := r.Open(2, pcd.AccessReadOnly)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := r.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := r.Close(ctx); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	detached := rec.ofType(EventDetached)
	if len(detached) != 4 {
		t.Fatalf("detached events = %d, want 4", len(detached))
	}
	for i, e := range detached {
		if e.Number != i+1 {
			t.Errorf("detached[%d].Number = %d, want %d", i, e.Number, i+1)
		}
	}

	if r.TotalBound() != 0 || !r.Stats().Closed {
		t.Errorf("Stats() = %+v", r.Stats())
	}
	if _, err := r.Attach(ctx, announce(8, pcd.PermReadWrite, "S")); !errors.Is(err, ErrRegistryClosed) {
		t.Errorf("Attach() after Close error = %v, want ErrRegistryClosed", err)
	}
	if _, err := r.Open(1, pcd.AccessReadOnly); !errors.Is(err, ErrRegistryClosed) {
		t.Errorf("Open() after Close error = %v, want ErrRegistryClosed", err)
	}
	if _, err := s.Read(make([]byte, 1)); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Read() on live session after Close error = %v, want ErrUnknownDevice", err)
	}
}

func TestObserverSeesLifecycle(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Config{})
	rec := &eventRecorder{}
	r.AddObserver(rec)

	n := mustAttach(t, r, 8, pcd.PermReadWrite)
	if err := r.SetCapacity(n, 4); err != nil {
		t.Fatalf("SetCapacity() error = %v", err)
	}
	if err := r.Detach(ctx, n); err != nil {
		t.Fatalf("Detach() error = %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := []EventType{EventAttached, EventResized, EventDetached}
	if len(rec.events) != len(want) {
		t.Fatalf("events = %+v, want types %v", rec.events, want)
	}
	for i, typ := range want {
		if rec.events[i].Type != typ {
			t.Errorf("events[%d].Type = %s, want %s", i, rec.events[i].Type, typ)
		}
	}
	if rec.events[1].PrevCapacity != 8 || rec.events[1].Capacity != 4 {
		t.Errorf("resized event = %+v", rec.events[1])
	}
}

func TestObserverMayCallRegistry(t *testing.T) {
	r := newTestRegistry(t, Config{})
	var seen []DeviceInfo
	r.AddObserver(ObserverFunc(func(e Event) {
		if e.Type == EventAttached {
			seen = r.List()
		}
	}))

	mustAttach(t, r, 8, pcd.PermReadOnly)
	if len(seen) != 1 {
		t.Errorf("List() from observer = %+v, want one device", seen)
	}
}

func TestConcurrentAttachDetach(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Config{MaxDevices: 1000})

	const workers = 8
	const perWorker = 25

	var mu sync.Mutex
	seen := make(map[int]bool)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				n, err := r.Attach(ctx, announce(64, pcd.PermReadWrite, "S"))
				if err != nil {
					t.Errorf("Attach() error = %v", err)
					return
				}
				mu.Lock()
				if seen[n] {
					t.Errorf("number %d handed out twice", n)
				}
				seen[n] = true
				mu.Unlock()

				if s, err := r.Open(n, pcd.AccessReadWrite); err == nil {
					_, _ = s.Write([]byte("abc"))
					_ = s.Close()
				}
				if err := r.Detach(ctx, n); err != nil {
					t.Errorf("Detach(%d) error = %v", n, err)
				}
			}
		}()
	}
	wg.Wait()

	if r.TotalBound() != 0 {
		t.Errorf("TotalBound = %d, want 0", r.TotalBound())
	}
	if len(seen) != workers*perWorker {
		t.Errorf("distinct numbers = %d, want %d", len(seen), workers*perWorker)
	}
}

func TestUnwindRunsInReverse(t *testing.T) {
	var order []int
	func() {
		var u unwind
		defer u.run()
		u.push(func() { order = append(order, 1) })
		u.push(func() { order = append(order, 2) })
		u.push(func() { order = append(order, 3) })
	}()
	if len(order) != 3 || order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Errorf("unwind order = %v, want [3 2 1]", order)
	}

	order = nil
	func() {
		var u unwind
		defer u.run()
		u.push(func() { order = append(order, 1) })
		u.commit()
	}()
	if len(order) != 0 {
		t.Errorf("committed unwind ran steps: %v", order)
	}
}
