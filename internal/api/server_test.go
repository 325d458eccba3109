package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/datastore"
	"github.com/tphakala/audiopolicy/internal/hal/simhal"
	"github.com/tphakala/audiopolicy/internal/observability"
	"github.com/tphakala/audiopolicy/internal/policy"
)

func newTestManager(t *testing.T) *policy.Manager {
	t.Helper()
	cfg := simhal.DefaultPlatform()
	m := policy.New(cfg, simhal.New(simhal.ModuleNames(cfg)...))
	require.NoError(t, m.Initialize())
	return m
}

func newTestServer(t *testing.T, opts ...ServerOption) (*Server, *policy.Manager) {
	t.Helper()
	m := newTestManager(t)
	return New(m, opts...), m
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "normal", body["phone_state"])
}

func TestSnapshotEndpoint(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/v1/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[policy.Snapshot](t, rec)
	assert.Equal(t, "normal", snap.PhoneState)
	assert.NotEmpty(t, snap.Outputs)
	assert.Equal(t, "speaker", snap.StrategyDevices["media"])
}

func TestListPorts(t *testing.T) {
	t.Parallel()
	s, m := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/v1/ports?role=sink&type=device", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[PortList](t, rec)
	assert.Equal(t, m.PortGeneration(), list.Generation)
	require.NotEmpty(t, list.Ports)
	for _, p := range list.Ports {
		assert.Equal(t, audio.PortTypeDevice, p.Type)
		assert.Equal(t, audio.PortRoleSink, p.Role)
	}

	rec = do(t, s, http.MethodGet, "/api/v1/ports?role=sideways", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errResp := decode[ErrorResponse](t, rec)
	assert.Len(t, errResp.CorrelationID, 8)
}

func TestGetPort(t *testing.T) {
	t.Parallel()
	s, m := newTestServer(t)
	ports, _ := m.ListAudioPorts(audio.PortRoleSink, audio.PortTypeDevice)
	require.NotEmpty(t, ports)

	rec := do(t, s, http.MethodGet, "/api/v1/ports/"+itoa(ports[0].ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ports[0].ID, decode[audio.Port](t, rec).ID)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/v1/ports/99999", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/v1/ports/0", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/v1/ports/abc", "").Code)
}

func itoa(id audio.PortHandle) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestConnectDevice(t *testing.T) {
	t.Parallel()
	s, m := newTestServer(t)
	gen := m.PortGeneration()

	body := `{"device":"wired_headset","state":"available","name":"Headset"}`
	rec := do(t, s, http.MethodPost, "/api/v1/devices", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, audio.DeviceStateAvailable, m.GetDeviceConnectionState(audio.DeviceOutWiredHeadset, ""))
	assert.Greater(t, m.PortGeneration(), gen)

	devices := decode[DeviceList](t, do(t, s, http.MethodGet, "/api/v1/devices", ""))
	var found bool
	for _, d := range devices.Outputs {
		found = found || d.Type == "wired_headset"
	}
	assert.True(t, found, "headset listed after connect")

	// Media follows the headset.
	routes := decode[[]RoutingEntry](t, do(t, s, http.MethodGet, "/api/v1/routing", ""))
	for _, r := range routes {
		if r.Stream == "music" {
			assert.Equal(t, "wired_headset", r.Devices)
		}
	}

	rec = do(t, s, http.MethodPost, "/api/v1/devices", body)
	assert.Equal(t, http.StatusConflict, rec.Code, "already connected")
}

func TestConnectDeviceValidation(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"unknown device", `{"device":"toaster","state":"available"}`, http.StatusBadRequest},
		{"unknown state", `{"device":"wired_headset","state":"half"}`, http.StatusBadRequest},
		{"malformed body", `{"device":`, http.StatusBadRequest},
		{"no module declares it", `{"device":"hdmi_arc","state":"available"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/v1/devices", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestPhoneStateAndForceUse(t *testing.T) {
	t.Parallel()
	s, m := newTestServer(t)

	rec := do(t, s, http.MethodPut, "/api/v1/phone-state", `{"mode":"in_call"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, audio.ModeInCall, m.PhoneState())
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPut, "/api/v1/phone-state", `{"mode":"on_hold"}`).Code)

	rec = do(t, s, http.MethodPut, "/api/v1/force-use", `{"usage":"communication","config":"speaker"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "speaker", decode[map[string]string](t, rec)["config"])
	assert.Equal(t, audio.DeviceOutSpeaker, m.DeviceForStrategy(audio.StrategyPhone, false))

	rec = do(t, s, http.MethodPut, "/api/v1/force-use", `{"usage":"communication","config":"headphones"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "rejected by the engine")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	metrics, err := observability.NewMetrics()
	require.NoError(t, err)
	cfg := simhal.DefaultPlatform()
	m := policy.New(cfg, simhal.New(simhal.ModuleNames(cfg)...), policy.WithRecorder(metrics.Policy))
	require.NoError(t, m.Initialize())
	s := New(m, WithMetrics(metrics))

	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "audiopolicy_outputs_open 2")

	_, noMetrics := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, do(t, New(noMetrics), http.MethodGet, "/metrics", "").Code)
}

func TestHistoryEndpoint(t *testing.T) {
	t.Parallel()
	store := &datastore.SQLiteStore{Path: filepath.Join(t.TempDir(), "history.db")}
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	now := time.Now().UTC()
	require.NoError(t, store.Save(&datastore.RoutingEvent{EventID: "a", Kind: "port_list", Timestamp: now, Generation: 4}))
	require.NoError(t, store.Save(&datastore.RoutingEvent{EventID: "b", Kind: "device_state", Timestamp: now.Add(time.Second), Device: "hdmi"}))

	s, _ := newTestServer(t, WithDataStore(store))

	all := decode[[]datastore.RoutingEvent](t, do(t, s, http.MethodGet, "/api/v1/history", ""))
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].EventID)

	ports := decode[[]datastore.RoutingEvent](t, do(t, s, http.MethodGet, "/api/v1/history?kind=port_list&limit=5", ""))
	require.Len(t, ports, 1)
	assert.Equal(t, uint32(4), ports[0].Generation)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/v1/history?limit=-1", "").Code)

	plain, _ := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, do(t, plain, http.MethodGet, "/api/v1/history", "").Code)
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, WithShutdownTimeout(time.Second))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
