package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/pcd-core/internal/announce"
	"github.com/nerrad567/pcd-core/internal/driver"
)

// AttributeValue is the body of attribute show and store.
type AttributeValue struct {
	Attribute string `json:"attribute,omitempty"`
	Value     string `json:"value"`
}

// deviceNumber parses the {number} URL parameter.
func deviceNumber(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "number")
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid device number %q", raw)
	}
	return n, nil
}

// handleListDevices returns every bound device in number order.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.registry.List()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns one device by number.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	number, err := deviceNumber(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	info, err := s.registry.Info(number)
	if err != nil {
		writeDriverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleAttachDevice attaches a device from an announcement body.
//
// The body uses the same wire form as MQTT announcements, in JSON or CBOR:
//
//	{"name": "pcdev-B1x", "size": 1024, "perm": "RDWR", "serial_number": "PCDEVXYZ2222"}
//	{"node": {"name": "pcdev-1", "compatible": ["pcdev-A1x"], "properties": {...}}}
func (s *Server) handleAttachDevice(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}

	a, err := announce.DecodeAttach(body)
	if err != nil {
		if errors.Is(err, announce.ErrDecode) {
			writeBadRequest(w, err.Error())
			return
		}
		writeDriverError(w, err)
		return
	}

	number, err := s.registry.Attach(r.Context(), a)
	if err != nil {
		writeDriverError(w, err)
		return
	}

	info, err := s.registry.Info(number)
	if err != nil {
		writeDriverError(w, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/devices/%d", number))
	writeJSON(w, http.StatusCreated, info)
}

// handleDetachDevice detaches a device by number.
func (s *Server) handleDetachDevice(w http.ResponseWriter, r *http.Request) {
	number, err := deviceNumber(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.registry.Detach(r.Context(), number); err != nil {
		writeDriverError(w, err)
		return
	}
	closed := s.sessions.closeDevice(number)
	if closed > 0 {
		s.logger.Debug("closed sessions of detached device", "number", number, "sessions", closed)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeviceStats returns the registry counters.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Stats())
}

// handleListAttributes returns every attribute of a device.
func (s *Server) handleListAttributes(w http.ResponseWriter, r *http.Request) {
	number, err := deviceNumber(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	attrs := make(map[string]string, len(driver.Attributes()))
	for _, name := range driver.Attributes() {
		value, err := s.registry.Show(number, name)
		if err != nil {
			writeDriverError(w, err)
			return
		}
		attrs[name] = value
	}
	writeJSON(w, http.StatusOK, map[string]any{"number": number, "attributes": attrs})
}

// handleShowAttribute returns the text value of one attribute.
func (s *Server) handleShowAttribute(w http.ResponseWriter, r *http.Request) {
	number, err := deviceNumber(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	attr := chi.URLParam(r, "attr")

	value, err := s.registry.Show(number, attr)
	if err != nil {
		writeDriverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AttributeValue{Attribute: attr, Value: value})
}

// handleStoreAttribute sets one attribute from {"value": "..."}.
func (s *Server) handleStoreAttribute(w http.ResponseWriter, r *http.Request) {
	number, err := deviceNumber(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	attr := chi.URLParam(r, "attr")

	var req AttributeValue
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.registry.Store(number, attr, req.Value); err != nil {
		writeDriverError(w, err)
		return
	}

	value, err := s.registry.Show(number, attr)
	if err != nil {
		writeDriverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AttributeValue{Attribute: attr, Value: value})
}
