package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/pcd-core/internal/driver"
	"github.com/nerrad567/pcd-core/internal/pcd"
)

// Read request bounds.
const (
	defaultReadCount = 4096
	maxReadCount     = 64 * 1024
)

var errSessionNotFound = errors.New("api: session not found")

// SessionInfo describes an open session.
type SessionInfo struct {
	Handle   string    `json:"handle"`
	Number   int       `json:"number"`
	Mode     string    `json:"mode"`
	Position int64     `json:"position"`
	OpenedAt time.Time `json:"opened_at"`
}

// OpenRequest is the body of POST /devices/{number}/sessions.
type OpenRequest struct {
	Mode string `json:"mode"`
}

// ReadRequest is the body of POST /sessions/{handle}/read.
type ReadRequest struct {
	Count int `json:"count"`
}

// ReadResponse carries the bytes read. Data is base64 in JSON.
type ReadResponse struct {
	Data     []byte `json:"data"`
	Bytes    int    `json:"bytes"`
	EOF      bool   `json:"eof"`
	Position int64  `json:"position"`
}

// WriteRequest is the body of POST /sessions/{handle}/write. Data is base64;
// Text is used when Data is empty.
type WriteRequest struct {
	Data []byte `json:"data,omitempty"`
	Text string `json:"text,omitempty"`
}

// WriteResponse reports how many bytes were stored. Bytes may be less than
// requested when the write reached the end of the device.
type WriteResponse struct {
	Bytes    int   `json:"bytes"`
	Position int64 `json:"position"`

	// Short is set when the write was clamped at the end of the device.
	Short bool `json:"short,omitempty"`
}

// SeekRequest is the body of POST /sessions/{handle}/seek. Whence is
// "set", "cur" or "end"; empty means "set".
type SeekRequest struct {
	Offset int64  `json:"offset"`
	Whence string `json:"whence"`
}

type openSession struct {
	handle   string
	session  *driver.Session
	openedAt time.Time
}

func (o *openSession) info() SessionInfo {
	return SessionInfo{
		Handle:   o.handle,
		Number:   o.session.Number(),
		Mode:     o.session.Mode().String(),
		Position: o.session.Position(),
		OpenedAt: o.openedAt,
	}
}

// sessionStore holds the sessions opened through the API, keyed by handle.
type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*openSession
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*openSession)}
}

func (st *sessionStore) add(s *driver.Session) *openSession {
	o := &openSession{
		handle:   uuid.NewString(),
		session:  s,
		openedAt: time.Now().UTC(),
	}
	st.mu.Lock()
	st.sessions[o.handle] = o
	st.mu.Unlock()
	return o
}

func (st *sessionStore) get(handle string) (*openSession, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	o, ok := st.sessions[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errSessionNotFound, handle)
	}
	return o, nil
}

func (st *sessionStore) remove(handle string) (*openSession, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	o, ok := st.sessions[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errSessionNotFound, handle)
	}
	delete(st.sessions, handle)
	return o, nil
}

func (st *sessionStore) list() []SessionInfo {
	st.mu.RLock()
	open := make([]*openSession, 0, len(st.sessions))
	for _, o := range st.sessions {
		open = append(open, o)
	}
	st.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(open))
	for _, o := range open {
		infos = append(infos, o.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].OpenedAt.Equal(infos[j].OpenedAt) {
			return infos[i].Handle < infos[j].Handle
		}
		return infos[i].OpenedAt.Before(infos[j].OpenedAt)
	})
	return infos
}

// closeDevice closes and drops every session on a device.
func (st *sessionStore) closeDevice(number int) int {
	return st.closeWhere(func(o *openSession) bool { return o.session.Number() == number })
}

// closeAll closes and drops every session.
func (st *sessionStore) closeAll() int {
	return st.closeWhere(func(*openSession) bool { return true })
}

func (st *sessionStore) closeWhere(match func(*openSession) bool) int {
	st.mu.Lock()
	var victims []*openSession
	for handle, o := range st.sessions {
		if match(o) {
			victims = append(victims, o)
			delete(st.sessions, handle)
		}
	}
	st.mu.Unlock()

	for _, o := range victims {
		o.session.Close() //nolint:errcheck // Already-closed sessions are dropped too
	}
	return len(victims)
}

// parseWhence maps a whence name to an io.Seek constant.
func parseWhence(s string) (int, error) {
	switch strings.ToLower(s) {
	case "", "set", "start", "0":
		return io.SeekStart, nil
	case "cur", "curr", "current", "1":
		return io.SeekCurrent, nil
	case "end", "2":
		return io.SeekEnd, nil
	default:
		return 0, fmt.Errorf("%w: %q", driver.ErrInvalidWhence, s)
	}
}

// handleOpenSession opens a session on a device. The body is {"mode": "rw"};
// an empty body opens read-only.
func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	number, err := deviceNumber(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	req := OpenRequest{Mode: "r"}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	mode, err := pcd.ParseAccessMode(req.Mode)
	if err != nil {
		writeDriverError(w, err)
		return
	}

	session, err := s.registry.Open(number, mode)
	if err != nil {
		writeDriverError(w, err)
		return
	}

	o := s.sessions.add(session)
	s.logger.Debug("session opened", "handle", o.handle, "number", number, "mode", mode.String())
	w.Header().Set("Location", "/api/v1/sessions/"+o.handle)
	writeJSON(w, http.StatusCreated, o.info())
}

// handleListSessions returns every open session, oldest first.
func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.sessions.list()
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "count": len(sessions)})
}

// handleGetSession returns one session.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	o, err := s.sessions.get(chi.URLParam(r, "handle"))
	if err != nil {
		writeDriverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o.info())
}

// handleCloseSession closes a session.
func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	o, err := s.sessions.remove(chi.URLParam(r, "handle"))
	if err != nil {
		writeDriverError(w, err)
		return
	}
	if err := o.session.Close(); err != nil {
		writeDriverError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRead reads up to count bytes from the session cursor.
func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	o, err := s.sessions.get(chi.URLParam(r, "handle"))
	if err != nil {
		writeDriverError(w, err)
		return
	}

	req := ReadRequest{Count: defaultReadCount}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Count <= 0 || req.Count > maxReadCount {
		writeBadRequest(w, fmt.Sprintf("count must be between 1 and %d", maxReadCount))
		return
	}

	buf := make([]byte, req.Count)
	n, err := o.session.Read(buf)
	eof := errors.Is(err, io.EOF)
	if err != nil && !eof {
		writeDriverError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ReadResponse{
		Data:     buf[:n],
		Bytes:    n,
		EOF:      eof,
		Position: o.session.Position(),
	})
}

// handleWrite writes the request data at the session cursor.
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	o, err := s.sessions.get(chi.URLParam(r, "handle"))
	if err != nil {
		writeDriverError(w, err)
		return
	}

	var req WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	data := req.Data
	if len(data) == 0 {
		data = []byte(req.Text)
	}

	n, err := o.session.Write(data)
	if err != nil && !driver.ShortWrite(n, err) {
		writeDriverError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, WriteResponse{Bytes: n, Position: o.session.Position(), Short: err != nil})
}

// handleSeek moves the session cursor.
func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	o, err := s.sessions.get(chi.URLParam(r, "handle"))
	if err != nil {
		writeDriverError(w, err)
		return
	}

	var req SeekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	whence, err := parseWhence(req.Whence)
	if err != nil {
		writeDriverError(w, err)
		return
	}

	pos, err := o.session.Seek(req.Offset, whence)
	if err != nil {
		writeDriverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"position": pos})
}
