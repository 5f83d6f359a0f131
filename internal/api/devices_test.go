package api

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/nerrad567/pcd-core/internal/catalogue"
	"github.com/nerrad567/pcd-core/internal/driver"
	"github.com/nerrad567/pcd-core/internal/pcd"
)

// attachTestDevice binds a pcdev-B1x device directly through the registry.
func attachTestDevice(t *testing.T, reg *driver.Registry, size uint32, perm string) int {
	t.Helper()

	p, err := pcd.ParsePermission(perm)
	if err != nil {
		t.Fatalf("ParsePermission(%q): %v", perm, err)
	}
	n, err := reg.Attach(context.Background(), catalogue.Announcement{
		Name: catalogue.TypePCDevB1x,
		Platform: &pcd.Descriptor{
			Capacity:     size,
			Permission:   p,
			SerialNumber: fmt.Sprintf("SN-%s-%d", perm, size),
		},
	})
	if err != nil {
		t.Fatalf("Attach() error: %v", err)
	}
	return n
}

func TestListDevices_Empty(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/devices", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decode[struct {
		Devices []map[string]any `json:"devices"`
		Count   int              `json:"count"`
	}](t, w)
	if resp.Count != 0 || len(resp.Devices) != 0 {
		t.Errorf("count = %d, devices = %d, want 0", resp.Count, len(resp.Devices))
	}
}

func TestAttachDevice(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantName   string
		wantSize   float64
		wantPerm   string
	}{
		{
			name:       "catalogue name with descriptor",
			body:       `{"name":"pcdev-B1x","size":64,"perm":"RDWR","serial_number":"PCDEVXYZ2222"}`,
			wantStatus: http.StatusCreated,
			wantName:   "pcdev-0",
			wantSize:   64,
			wantPerm:   "RDWR",
		},
		{
			name:       "numeric permission",
			body:       `{"name":"pcdev-A1x","size":32,"perm":1,"serial_number":"RO1"}`,
			wantStatus: http.StatusCreated,
			wantName:   "pcdev-0",
			wantSize:   32,
			wantPerm:   "RDONLY",
		},
		{
			name:       "description node",
			body:       `{"node":{"name":"lab","compatible":["pcdev-C1x"],"properties":{"org,device-serial-num":"L1","org,size":16,"org,perm":17}}}`,
			wantStatus: http.StatusCreated,
			wantName:   "lab",
			wantSize:   16,
			wantPerm:   "RDWR",
		},
		{
			name:       "malformed json",
			body:       `{"name":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "neither name nor node",
			body:       `{"size":16}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "unknown type",
			body:       `{"name":"pcdev-Z9x","size":16,"perm":"RDWR","serial_number":"Z"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "catalogue name without descriptor",
			body:       `{"name":"pcdev-A1x"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "bad permission",
			body:       `{"name":"pcdev-A1x","size":16,"perm":2,"serial_number":"X"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "node missing property",
			body:       `{"node":{"name":"lab","compatible":["pcdev-C1x"],"properties":{"org,size":16}}}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, reg := testServer(t)

			w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/devices", []byte(tt.body))
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus != http.StatusCreated {
				if reg.TotalBound() != 0 {
					t.Errorf("TotalBound() = %d after failed attach, want 0", reg.TotalBound())
				}
				return
			}

			info := decode[map[string]any](t, w)
			if info["name"] != tt.wantName {
				t.Errorf("name = %v, want %q", info["name"], tt.wantName)
			}
			if info["size"] != tt.wantSize {
				t.Errorf("size = %v, want %v", info["size"], tt.wantSize)
			}
			if info["perm"] != tt.wantPerm {
				t.Errorf("perm = %v, want %q", info["perm"], tt.wantPerm)
			}
			if loc := w.Header().Get("Location"); loc != "/api/v1/devices/0" {
				t.Errorf("Location = %q, want /api/v1/devices/0", loc)
			}
		})
	}
}

func TestGetAndDetachDevice(t *testing.T) {
	srv, reg := testServer(t)
	router := srv.buildRouter()
	n := attachTestDevice(t, reg, 128, "RDWR")
	path := fmt.Sprintf("/api/v1/devices/%d", n)

	w := do(t, router, http.MethodGet, path, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, want %d", w.Code, http.StatusOK)
	}
	info := decode[map[string]any](t, w)
	if info["serial_number"] != "SN-RDWR-128" {
		t.Errorf("serial_number = %v, want SN-RDWR-128", info["serial_number"])
	}
	tuning, _ := info["tuning"].(map[string]any)
	if tuning["item1"] != float64(50) || tuning["item2"] != float64(13) {
		t.Errorf("tuning = %v, want item1=50 item2=13", info["tuning"])
	}

	w = do(t, router, http.MethodGet, "/api/v1/devices", nil)
	if got := decode[map[string]any](t, w)["count"]; got != float64(1) {
		t.Errorf("list count = %v, want 1", got)
	}

	w = do(t, router, http.MethodDelete, path, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("detach status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if reg.TotalBound() != 0 {
		t.Errorf("TotalBound() = %d after detach, want 0", reg.TotalBound())
	}

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		w = do(t, router, method, path, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s after detach status = %d, want %d", method, w.Code, http.StatusNotFound)
		}
	}
}

func TestDeviceNumberValidation(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	for _, path := range []string{
		"/api/v1/devices/abc",
		"/api/v1/devices/abc/attributes",
		"/api/v1/devices/abc/attributes/size",
	} {
		w := do(t, router, http.MethodGet, path, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want %d", path, w.Code, http.StatusBadRequest)
		}
	}
}

func TestDeviceStats(t *testing.T) {
	srv, reg := testServer(t)
	attachTestDevice(t, reg, 16, "RDWR")
	attachTestDevice(t, reg, 16, "RDONLY")

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/devices/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	stats := decode[driver.Stats](t, w)
	if stats.Bound != 2 || stats.NextNumber != 2 {
		t.Errorf("stats = %+v, want bound=2 next_number=2", stats)
	}
}

func TestAttributes(t *testing.T) {
	srv, reg := testServer(t)
	router := srv.buildRouter()
	n := attachTestDevice(t, reg, 512, "RDWR")
	base := fmt.Sprintf("/api/v1/devices/%d/attributes", n)

	w := do(t, router, http.MethodGet, base, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d, want %d", w.Code, http.StatusOK)
	}
	all := decode[struct {
		Attributes map[string]string `json:"attributes"`
	}](t, w)
	if all.Attributes["size"] != "512" || all.Attributes["serial"] != "SN-RDWR-512" {
		t.Errorf("attributes = %v", all.Attributes)
	}

	tests := []struct {
		name       string
		method     string
		attr       string
		body       any
		wantStatus int
		wantValue  string
	}{
		{"show size", http.MethodGet, "size", nil, http.StatusOK, "512"},
		{"show alias", http.MethodGet, "max_size", nil, http.StatusOK, "512"},
		{"show serial", http.MethodGet, "serial_num", nil, http.StatusOK, "SN-RDWR-512"},
		{"show unknown", http.MethodGet, "colour", nil, http.StatusNotFound, ""},
		{"store size", http.MethodPut, "size", AttributeValue{Value: "3"}, http.StatusOK, "3"},
		{"store hex size", http.MethodPut, "max_size", AttributeValue{Value: "0x20"}, http.StatusOK, "32"},
		{"store zero size", http.MethodPut, "size", AttributeValue{Value: "0"}, http.StatusUnprocessableEntity, ""},
		{"store serial", http.MethodPut, "serial", AttributeValue{Value: "X"}, http.StatusForbidden, ""},
		{"store unknown", http.MethodPut, "colour", AttributeValue{Value: "red"}, http.StatusNotFound, ""},
		{"store bad json", http.MethodPut, "size", []byte("{"), http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, tt.method, base+"/"+tt.attr, tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantValue == "" {
				return
			}
			if got := decode[AttributeValue](t, w); got.Value != tt.wantValue {
				t.Errorf("value = %q, want %q", got.Value, tt.wantValue)
			}
		})
	}

	w = do(t, router, http.MethodGet, "/api/v1/devices/99/attributes/size", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
