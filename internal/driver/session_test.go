package driver

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/nerrad567/pcd-core/internal/pcd"
)

func mustOpen(t *testing.T, r *Registry, number int, mode pcd.AccessMode) *Session {
	t.Helper()
	s, err := r.Open(number, mode)
	if err != nil {
		t.Fatalf("Open(%d, %v) error = %v", number, mode, err)
	}
	return s
}

func TestOpenPermissionTable(t *testing.T) {
	r := newTestRegistry(t, Config{})

	perms := []pcd.Permission{pcd.PermReadOnly, pcd.PermWriteOnly, pcd.PermReadWrite}
	modes := []pcd.AccessMode{pcd.AccessReadOnly, pcd.AccessWriteOnly, pcd.AccessReadWrite}
	allowed := map[pcd.Permission][3]bool{
		pcd.PermReadOnly:  {true, false, false},
		pcd.PermWriteOnly: {false, true, false},
		pcd.PermReadWrite: {true, true, true},
	}

	for _, perm := range perms {
		n := mustAttach(t, r, 10, perm)
		for i, mode := range modes {
			t.Run(perm.String()+"/"+mode.String(), func(t *testing.T) {
				s, err := r.Open(n, mode)
				if allowed[perm][i] {
					if err != nil {
						t.Fatalf("Open() error = %v, want success", err)
					}
					_ = s.Close()
					return
				}
				if !errors.Is(err, ErrPermissionDenied) {
					t.Errorf("Open() error = %v, want ErrPermissionDenied", err)
				}
			})
		}
	}
}

func TestOpenUnknownDevice(t *testing.T) {
	r := newTestRegistry(t, Config{})
	if _, err := r.Open(42, pcd.AccessReadOnly); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Open() error = %v, want ErrUnknownDevice", err)
	}
}

func TestReadOnlyDeviceRejectsWriteOnlyOpen(t *testing.T) {
	r := newTestRegistry(t, Config{})
	n := mustAttach(t, r, 10, pcd.PermReadOnly)

	if _, err := r.Open(n, pcd.AccessWriteOnly); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("Open(WriteOnly) error = %v, want ErrPermissionDenied", err)
	}
}

func TestWriteSeekReadRoundTrip(t *testing.T) {
	const capacity = 64
	r := newTestRegistry(t, Config{})
	n := mustAttach(t, r, capacity, pcd.PermReadWrite)

	for _, size := range []int{1, 5, 33, capacity} {
		data := bytes.Repeat([]byte{byte(size)}, size)
		s := mustOpen(t, r, n, pcd.AccessReadWrite)

		written, err := s.Write(data)
		if err != nil || written != size {
			t.Fatalf("Write(%d bytes) = %d, %v", size, written, err)
		}
		if pos, err := s.Seek(0, io.SeekStart); err != nil || pos != 0 {
			t.Fatalf("Seek(0, start) = %d, %v", pos, err)
		}
		got := make([]byte, size)
		if _, err := io.ReadFull(s, got); err != nil {
			t.Fatalf("ReadFull() error = %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("round trip of %d bytes returned %v", size, got)
		}
		_ = s.Close()
	}
}

func TestWriteClampsToCapacity(t *testing.T) {
	const capacity = 16
	r := newTestRegistry(t, Config{})
	n := mustAttach(t, r, capacity, pcd.PermReadWrite)
	s := mustOpen(t, r, n, pcd.AccessReadWrite)

	input := []byte("0123456789abcdefOVERFLOW")
	written, err := s.Write(input)
	if written != capacity {
		t.Fatalf("Write() = %d, want %d", written, capacity)
	}
	// A short write must carry an error to satisfy io.Writer.
	if !errors.Is(err, ErrNoSpace) || !ShortWrite(written, err) {
		t.Fatalf("Write() error = %v, want short write with ErrNoSpace", err)
	}

	if _, err := s.Write([]byte("x")); !errors.Is(err, ErrNoSpace) {
		t.Errorf("Write() at end error = %v, want ErrNoSpace", err)
	}

	if _, err := s.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	got, err := io.ReadAll(s)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(got, input[:capacity]) {
		t.Errorf("ReadAll() = %q, want %q", got, input[:capacity])
	}
}

func TestEmptyWriteIsNoSpace(t *testing.T) {
	r := newTestRegistry(t, Config{})
	n := mustAttach(t, r, 8, pcd.PermReadWrite)
	s := mustOpen(t, r, n, pcd.AccessWriteOnly)

	written, err := s.Write(nil)
	if !errors.Is(err, ErrNoSpace) {
		t.Errorf("Write(nil) error = %v, want ErrNoSpace", err)
	}
	if ShortWrite(written, err) {
		t.Error("ShortWrite() = true for a write that stored nothing")
	}
}

func TestSessionSatisfiesWriterContract(t *testing.T) {
	r := newTestRegistry(t, Config{})
	n := mustAttach(t, r, 4, pcd.PermReadWrite)
	s := mustOpen(t, r, n, pcd.AccessWriteOnly)

	// io.Copy treats n < len(p) with a nil error as io.ErrShortWrite;
	// the device reports why the write stopped instead.
	copied, err := io.Copy(s, bytes.NewReader([]byte("12345678")))
	if copied != 4 {
		t.Errorf("io.Copy() = %d bytes, want 4", copied)
	}
	if !errors.Is(err, ErrNoSpace) {
		t.Errorf("io.Copy() error = %v, want ErrNoSpace", err)
	}
}

func TestReadAtEndOfDevice(t *testing.T) {
	r := newTestRegistry(t, Config{})
	n := mustAttach(t, r, 4, pcd.PermReadOnly)
	s := mustOpen(t, r, n, pcd.AccessReadOnly)

	buf := make([]byte, 10)
	got, err := s.Read(buf)
	if err != nil || got != 4 {
		t.Fatalf("Read() = %d, %v, want 4, nil", got, err)
	}
	got, err = s.Read(buf)
	if got != 0 || !errors.Is(err, io.EOF) {
		t.Errorf("Read() at end = %d, %v, want 0, io.EOF", got, err)
	}
}

func TestSeekBounds(t *testing.T) {
	const capacity = 100
	r := newTestRegistry(t, Config{})
	n := mustAttach(t, r, capacity, pcd.PermReadWrite)

	tests := []struct {
		name    string
		start   int64
		offset  int64
		whence  int
		want    int64
		wantErr error
	}{
		{"start to capacity", 0, capacity, io.SeekStart, capacity, nil},
		{"start past capacity", 0, capacity + 1, io.SeekStart, 0, ErrOutOfRange},
		{"start negative", 0, -1, io.SeekStart, 0, ErrOutOfRange},
		{"start zero", 50, 0, io.SeekStart, 0, nil},
		{"current forward", 10, 5, io.SeekCurrent, 15, nil},
		{"current backward", 10, -10, io.SeekCurrent, 0, nil},
		{"current before start", 10, -11, io.SeekCurrent, 0, ErrOutOfRange},
		{"current past end", 90, 11, io.SeekCurrent, 0, ErrOutOfRange},
		{"end", 0, 0, io.SeekEnd, capacity, nil},
		{"end backward", 0, -40, io.SeekEnd, 60, nil},
		{"end forward", 0, 1, io.SeekEnd, 0, ErrOutOfRange},
		{"end before start", 0, -capacity - 1, io.SeekEnd, 0, ErrOutOfRange},
		{"bad whence", 20, 0, 7, 0, ErrInvalidWhence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustOpen(t, r, n, pcd.AccessReadWrite)
			defer s.Close()
			if _, err := s.Seek(tt.start, io.SeekStart); err != nil {
				t.Fatalf("Seek(start) setup error = %v", err)
			}

			got, err := s.Seek(tt.offset, tt.whence)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Seek() error = %v, want %v", err, tt.wantErr)
				}
				if s.Position() != tt.start {
					t.Errorf("cursor moved to %d on failed seek, want %d", s.Position(), tt.start)
				}
				return
			}
			if err != nil {
				t.Fatalf("Seek() error = %v", err)
			}
			if got != tt.want || s.Position() != tt.want {
				t.Errorf("Seek() = %d (position %d), want %d", got, s.Position(), tt.want)
			}
		})
	}
}

func TestResizeScenario(t *testing.T) {
	r := newTestRegistry(t, Config{})
	n := mustAttach(t, r, 512, pcd.PermReadWrite)
	s := mustOpen(t, r, n, pcd.AccessReadWrite)

	written, err := s.Write([]byte("hello"))
	if err != nil || written != 5 {
		t.Fatalf("Write(hello) = %d, %v", written, err)
	}
	if s.Position() != 5 {
		t.Fatalf("Position() = %d, want 5", s.Position())
	}
	if pos, err := s.Seek(0, io.SeekStart); err != nil || pos != 0 {
		t.Fatalf("Seek(0) = %d, %v", pos, err)
	}
	buf := make([]byte, 5)
	if got, err := s.Read(buf); err != nil || got != 5 || string(buf) != "hello" {
		t.Fatalf("Read(5) = %d %q, %v", got, buf, err)
	}

	if err := r.SetCapacity(n, 3); err != nil {
		t.Fatalf("SetCapacity(3) error = %v", err)
	}

	if _, err := s.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek(0) after resize error = %v", err)
	}
	buf = make([]byte, 10)
	got, err := s.Read(buf)
	if err != nil {
		t.Fatalf("Read(10) after resize error = %v", err)
	}
	if got != 3 || string(buf[:got]) != "hel" {
		t.Errorf("Read(10) after resize = %d %q, want 3 \"hel\"", got, buf[:got])
	}
}

func TestStaleCursorAfterShrink(t *testing.T) {
	r := newTestRegistry(t, Config{})
	n := mustAttach(t, r, 32, pcd.PermReadWrite)
	s := mustOpen(t, r, n, pcd.AccessReadWrite)

	if _, err := s.Seek(20, io.SeekStart); err != nil {
		t.Fatalf("Seek(20) error = %v", err)
	}
	if err := r.SetCapacity(n, 8); err != nil {
		t.Fatalf("SetCapacity(8) error = %v", err)
	}

	if _, err := s.Read(make([]byte, 4)); !errors.Is(err, io.EOF) {
		t.Errorf("Read() beyond new capacity error = %v, want io.EOF", err)
	}
	if _, err := s.Write([]byte("x")); !errors.Is(err, ErrNoSpace) {
		t.Errorf("Write() beyond new capacity error = %v, want ErrNoSpace", err)
	}
	if _, err := s.Seek(0, io.SeekCurrent); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Seek(0, current) beyond new capacity error = %v, want ErrOutOfRange", err)
	}
	if pos, err := s.Seek(0, io.SeekEnd); err != nil || pos != 8 {
		t.Errorf("Seek(0, end) = %d, %v, want 8", pos, err)
	}
}

func TestSessionDirection(t *testing.T) {
	r := newTestRegistry(t, Config{})
	n := mustAttach(t, r, 8, pcd.PermReadWrite)

	ro := mustOpen(t, r, n, pcd.AccessReadOnly)
	if _, err := ro.Write([]byte("x")); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("read-only session Write() error = %v, want ErrPermissionDenied", err)
	}

	wo := mustOpen(t, r, n, pcd.AccessWriteOnly)
	if _, err := wo.Read(make([]byte, 1)); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("write-only session Read() error = %v, want ErrPermissionDenied", err)
	}
	if _, err := wo.Seek(4, io.SeekStart); err != nil {
		t.Errorf("write-only session Seek() error = %v", err)
	}
}

func TestSessionClose(t *testing.T) {
	r := newTestRegistry(t, Config{})
	n := mustAttach(t, r, 8, pcd.PermReadWrite)
	s := mustOpen(t, r, n, pcd.AccessReadWrite)

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("second Close() error = %v, want ErrSessionClosed", err)
	}
	if _, err := s.Read(make([]byte, 1)); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Read() after Close error = %v, want ErrSessionClosed", err)
	}
	if _, err := s.Write([]byte("x")); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Write() after Close error = %v, want ErrSessionClosed", err)
	}
	if r.TotalBound() != 1 {
		t.Errorf("TotalBound = %d, closing a session must not detach", r.TotalBound())
	}
}

func TestSessionsHaveIndependentCursors(t *testing.T) {
	r := newTestRegistry(t, Config{})
	n := mustAttach(t, r, 16, pcd.PermReadWrite)
	a := mustOpen(t, r, n, pcd.AccessReadWrite)
	b := mustOpen(t, r, n, pcd.AccessReadOnly)

	if _, err := a.Write([]byte("abcdef")); err != nil {
		t.Fatalf("a.Write() error = %v", err)
	}
	buf := make([]byte, 6)
	if _, err := io.ReadFull(b, buf); err != nil {
		t.Fatalf("b.ReadFull() error = %v", err)
	}
	if string(buf) != "abcdef" {
		t.Errorf("b read %q, want abcdef", buf)
	}
	if a.Position() != 6 || b.Position() != 6 {
		t.Errorf("positions = %d, %d", a.Position(), b.Position())
	}
}

func TestConcurrentWritesAreNotInterleaved(t *testing.T) {
	const capacity = 256
	r := newTestRegistry(t, Config{})
	n := mustAttach(t, r, capacity, pcd.PermReadWrite)

	writer := mustOpen(t, r, n, pcd.AccessWriteOnly)
	reader := mustOpen(t, r, n, pcd.AccessReadOnly)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			block := bytes.Repeat([]byte{byte(i)}, capacity)
			if _, err := writer.Seek(0, io.SeekStart); err != nil {
				t.Errorf("writer Seek() error = %v", err)
				return
			}
			if _, err := writer.Write(block); err != nil {
				t.Errorf("writer Write() error = %v", err)
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		buf := make([]byte, capacity)
		for i := 0; i < 200; i++ {
			if _, err := reader.Seek(0, io.SeekStart); err != nil {
				t.Errorf("reader Seek() error = %v", err)
				return
			}
			got, err := reader.Read(buf)
			if err != nil || got != capacity {
				t.Errorf("reader Read() = %d, %v", got, err)
				return
			}
			for j := 1; j < capacity; j++ {
				if buf[j] != buf[0] {
					t.Errorf("read observed a partial write: byte %d = %d, byte 0 = %d", j, buf[j], buf[0])
					return
				}
			}
		}
	}()

	wg.Wait()
}

func TestConcurrentIOAndResize(t *testing.T) {
	r := newTestRegistry(t, Config{})
	n := mustAttach(t, r, 128, pcd.PermReadWrite)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := r.Open(n, pcd.AccessReadWrite)
			if err != nil {
				t.Errorf("Open() error = %v", err)
				return
			}
			defer s.Close()
			buf := make([]byte, 64)
			for i := 0; i < 100; i++ {
				_, _ = s.Seek(0, io.SeekStart)
				_, _ = s.Write(buf)
				_, _ = s.Seek(0, io.SeekStart)
				_, _ = s.Read(buf)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			size := uint32(1 + i%200)
			if err := r.SetCapacity(n, size); err != nil {
				t.Errorf("SetCapacity(%d) error = %v", size, err)
				return
			}
		}
	}()
	wg.Wait()

	capacity, err := r.Capacity(n)
	if err != nil {
		t.Fatalf("Capacity() error = %v", err)
	}
	if capacity != 100 {
		t.Errorf("Capacity() = %d, want 100", capacity)
	}
}
