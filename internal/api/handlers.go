package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/policy"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// PortList is the body of GET /ports.
type PortList struct {
	Generation uint32       `json:"generation"`
	Ports      []audio.Port `json:"ports"`
}

// PatchList is the body of GET /patches.
type PatchList struct {
	Generation uint32        `json:"generation"`
	Patches    []audio.Patch `json:"patches"`
}

// DeviceList is the body of GET /devices.
type DeviceList struct {
	Outputs []policy.DeviceState `json:"outputs"`
	Inputs  []policy.DeviceState `json:"inputs"`
}

// DeviceRequest connects or disconnects a device.
type DeviceRequest struct {
	Device  string `json:"device"`
	State   string `json:"state"`
	Address string `json:"address"`
	Name    string `json:"name"`
}

// PhoneStateRequest changes the telephony mode.
type PhoneStateRequest struct {
	Mode string `json:"mode"`
}

// ForceUseRequest overrides routing for one category.
type ForceUseRequest struct {
	Usage  string `json:"usage"`
	Config string `json:"config"`
}

// RoutingEntry is one stream and where it currently plays.
type RoutingEntry struct {
	Stream   string `json:"stream"`
	Strategy string `json:"strategy"`
	Devices  string `json:"devices"`
}

func (s *Server) getSnapshot(c echo.Context) error {
	return c.JSON(http.StatusOK, s.manager.Snapshot())
}

func parsePortRole(v string) (audio.PortRole, bool) {
	switch v {
	case "", "all":
		return audio.PortRoleNone, true
	case "source":
		return audio.PortRoleSource, true
	case "sink":
		return audio.PortRoleSink, true
	}
	return audio.PortRoleNone, false
}

func parsePortType(v string) (audio.PortType, bool) {
	switch v {
	case "", "all":
		return audio.PortTypeNone, true
	case "device":
		return audio.PortTypeDevice, true
	case "mix":
		return audio.PortTypeMix, true
	}
	return audio.PortTypeNone, false
}

func (s *Server) listPorts(c echo.Context) error {
	role, ok := parsePortRole(c.QueryParam("role"))
	if !ok {
		return s.handleError(c, nil, "role must be source, sink or all", http.StatusBadRequest)
	}
	typ, ok := parsePortType(c.QueryParam("type"))
	if !ok {
		return s.handleError(c, nil, "type must be device, mix or all", http.StatusBadRequest)
	}
	ports, gen := s.manager.ListAudioPorts(role, typ)
	if ports == nil {
		ports = []audio.Port{}
	}
	return c.JSON(http.StatusOK, PortList{Generation: gen, Ports: ports})
}

func (s *Server) getPort(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil {
		return s.handleError(c, err, "invalid port id", http.StatusBadRequest)
	}
	port, err := s.manager.GetAudioPort(audio.PortHandle(id))
	if err != nil {
		return s.handleError(c, err, "port lookup failed", 0)
	}
	return c.JSON(http.StatusOK, port)
}

func (s *Server) listPatches(c echo.Context) error {
	patches, gen := s.manager.ListAudioPatches()
	if patches == nil {
		patches = []audio.Patch{}
	}
	return c.JSON(http.StatusOK, PatchList{Generation: gen, Patches: patches})
}

func (s *Server) listDevices(c echo.Context) error {
	snap := s.manager.Snapshot()
	return c.JSON(http.StatusOK, DeviceList{Outputs: snap.OutputDevices, Inputs: snap.InputDevices})
}

func (s *Server) setDeviceState(c echo.Context) error {
	var req DeviceRequest
	if err := c.Bind(&req); err != nil {
		return s.handleError(c, err, "invalid request body", http.StatusBadRequest)
	}
	device, ok := audio.ParseDeviceType(req.Device)
	if !ok {
		return s.handleError(c, nil, "unknown device type "+req.Device, http.StatusBadRequest)
	}
	state, ok := audio.ParseDeviceState(req.State)
	if !ok {
		return s.handleError(c, nil, "unknown device state "+req.State, http.StatusBadRequest)
	}
	if err := s.manager.SetDeviceConnectionState(device, state, req.Address, req.Name); err != nil {
		return s.handleError(c, err, "device connection change failed", 0)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"device":          device.String(),
		"state":           s.manager.GetDeviceConnectionState(device, req.Address).String(),
		"port_generation": s.manager.PortGeneration(),
	})
}

func (s *Server) getRouting(c echo.Context) error {
	entries := make([]RoutingEntry, 0, audio.StreamPublicCount)
	for stream := audio.StreamVoiceCall; stream < audio.StreamPublicCount; stream++ {
		entries = append(entries, RoutingEntry{
			Stream:   stream.String(),
			Strategy: s.manager.StrategyForStream(stream).String(),
			Devices:  s.manager.DevicesForStream(stream).String(),
		})
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) setPhoneState(c echo.Context) error {
	var req PhoneStateRequest
	if err := c.Bind(&req); err != nil {
		return s.handleError(c, err, "invalid request body", http.StatusBadRequest)
	}
	mode, ok := audio.ParseMode(req.Mode)
	if !ok {
		return s.handleError(c, nil, "unknown phone state "+req.Mode, http.StatusBadRequest)
	}
	if err := s.manager.SetPhoneState(mode); err != nil {
		return s.handleError(c, err, "phone state change failed", 0)
	}
	return c.JSON(http.StatusOK, map[string]string{"mode": s.manager.PhoneState().String()})
}

func (s *Server) setForceUse(c echo.Context) error {
	var req ForceUseRequest
	if err := c.Bind(&req); err != nil {
		return s.handleError(c, err, "invalid request body", http.StatusBadRequest)
	}
	usage, ok := audio.ParseForceUse(req.Usage)
	if !ok {
		return s.handleError(c, nil, "unknown force use "+req.Usage, http.StatusBadRequest)
	}
	config, ok := audio.ParseForcedConfig(req.Config)
	if !ok {
		return s.handleError(c, nil, "unknown forced config "+req.Config, http.StatusBadRequest)
	}
	if err := s.manager.SetForceUse(usage, config); err != nil {
		return s.handleError(c, err, "force use change failed", 0)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"usage":  usage.String(),
		"config": s.manager.GetForceUse(usage).String(),
	})
}

func (s *Server) listHistory(c echo.Context) error {
	limit := defaultHistoryLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return s.handleError(c, err, "limit must be a positive integer", http.StatusBadRequest)
		}
		limit = min(n, maxHistoryLimit)
	}

	var (
		events any
		err    error
	)
	if kind := c.QueryParam("kind"); kind != "" {
		events, err = s.store.ByKind(kind, limit)
	} else {
		events, err = s.store.Recent(limit)
	}
	if err != nil {
		return s.handleError(c, err, "history query failed", http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, events)
}
