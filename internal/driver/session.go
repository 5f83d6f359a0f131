package driver

import (
	"errors"
	"fmt"
	"io"

	"github.com/nerrad567/pcd-core/internal/pcd"
)

// Session is an open handle on a bound device with its own cursor. It
// implements io.ReadWriteSeeker and io.Closer.
//
// Every call takes the device lock and clamps against the capacity current
// at that moment, so a session whose cursor lies beyond a shrunk device
// reads io.EOF and fails writes with ErrNoSpace.
//
// A Session may be shared between goroutines; calls are serialised with all
// other I/O on the same device.
type Session struct {
	reg  *Registry
	inst *instance
	mode pcd.AccessMode

	// guarded by inst.mu
	pos    int64
	closed bool
}

var _ io.ReadWriteSeeker = (*Session)(nil)

// Number returns the device number the session was opened on.
func (s *Session) Number() int {
	return s.inst.number
}

// Mode returns the access mode the session was opened with.
func (s *Session) Mode() pcd.AccessMode {
	return s.mode
}

// Position returns the session cursor.
func (s *Session) Position() int64 {
	s.inst.mu.Lock()
	defer s.inst.mu.Unlock()
	return s.pos
}

// checkLocked validates the session state. inst.mu must be held.
func (s *Session) checkLocked() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.inst.detached {
		return fmt.Errorf("%w: %d", ErrUnknownDevice, s.inst.number)
	}
	return nil
}

// Read copies up to len(p) bytes from the cursor and advances it. At or past
// the end of the device it returns 0, io.EOF.
func (s *Session) Read(p []byte) (int, error) {
	s.inst.mu.Lock()
	if err := s.checkLocked(); err != nil {
		s.inst.mu.Unlock()
		return 0, err
	}
	if !s.mode.CanRead() {
		s.inst.mu.Unlock()
		return 0, fmt.Errorf("%w: session opened %s", ErrPermissionDenied, s.mode)
	}

	capacity := int64(s.inst.capacityLocked())
	if s.pos >= capacity {
		s.inst.mu.Unlock()
		return 0, io.EOF
	}
	n := copy(p, s.inst.buf[s.pos:])
	s.pos += int64(n)
	s.inst.mu.Unlock()

	if n > 0 {
		s.reg.notify(Event{Type: EventRead, Number: s.inst.number, Name: s.inst.name, Bytes: n, At: s.reg.now()})
	}
	return n, nil
}

// Write copies p at the cursor and advances it. Writes are clamped to the
// end of the device: a short write reports the clamped count together with
// ErrNoSpace, as io.Writer requires. A write whose clamped length is zero
// fails with ErrNoSpace and copies nothing.
func (s *Session) Write(p []byte) (int, error) {
	s.inst.mu.Lock()
	if err := s.checkLocked(); err != nil {
		s.inst.mu.Unlock()
		return 0, err
	}
	if !s.mode.CanWrite() {
		s.inst.mu.Unlock()
		return 0, fmt.Errorf("%w: session opened %s", ErrPermissionDenied, s.mode)
	}

	capacity := int64(s.inst.capacityLocked())
	if s.pos >= capacity || len(p) == 0 {
		pos := s.pos
		s.inst.mu.Unlock()
		return 0, fmt.Errorf("%w: position %d, capacity %d", ErrNoSpace, pos, capacity)
	}
	n := copy(s.inst.buf[s.pos:], p)
	s.pos += int64(n)
	s.inst.mu.Unlock()

	s.reg.notify(Event{Type: EventWritten, Number: s.inst.number, Name: s.inst.name, Bytes: n, At: s.reg.now()})
	if n < len(p) {
		return n, fmt.Errorf("%w: wrote %d of %d bytes, capacity %d", ErrNoSpace, n, len(p), capacity)
	}
	return n, nil
}

// ShortWrite reports whether a Write result is a clamped write that stored
// some bytes before reaching the end of the device.
func ShortWrite(n int, err error) bool {
	return n > 0 && errors.Is(err, ErrNoSpace)
}

// Seek moves the cursor. The result must lie in [0, capacity]; otherwise
// ErrOutOfRange is returned and the cursor is unchanged.
func (s *Session) Seek(offset int64, whence int) (int64, error) {
	s.inst.mu.Lock()
	defer s.inst.mu.Unlock()

	if err := s.checkLocked(); err != nil {
		return 0, err
	}

	capacity := int64(s.inst.capacityLocked())
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.pos + offset
	case io.SeekEnd:
		target = capacity + offset
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidWhence, whence)
	}

	if target < 0 || target > capacity {
		return 0, fmt.Errorf("%w: %d not in [0, %d]", ErrOutOfRange, target, capacity)
	}
	s.pos = target
	return target, nil
}

// Close ends the session. The device stays bound.
func (s *Session) Close() error {
	s.inst.mu.Lock()
	defer s.inst.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	s.closed = true
	return nil
}
