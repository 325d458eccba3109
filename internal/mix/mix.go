// Package mix implements dynamic policy mixes: client registered rules that
// capture (loop back) or re-render playback and capture matching a set of
// criteria.
package mix

import (
	"strings"

	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/errors"
	"github.com/tphakala/audiopolicy/internal/registry"
)

// Type tells which side of the audio path a mix selects.
type Type int

const (
	TypePlayers Type = iota
	TypeRecorders
)

func (t Type) String() string {
	if t == TypeRecorders {
		return "recorders"
	}
	return "players"
}

// RouteFlags tells where matched audio goes.
type RouteFlags uint32

const (
	RouteRender   RouteFlags = 0x1
	RouteLoopBack RouteFlags = 0x2
)

// Rule is the kind of one mix criterion.
type Rule int

const (
	RuleMatchUsage Rule = iota + 1
	RuleMatchSource
	RuleMatchUID
	RuleExcludeUsage
	RuleExcludeSource
	RuleExcludeUID
)

// Criterion is one matching rule of a mix.
type Criterion struct {
	Rule   Rule         `yaml:"rule" json:"rule"`
	Usage  audio.Usage  `yaml:"usage" json:"usage"`
	Source audio.Source `yaml:"source" json:"source"`
	UID    audio.UID    `yaml:"uid" json:"uid"`
}

// State is reported to observers when a mix starts or stops carrying audio.
type State int

const (
	StateDisabled State = -1
	StateIdle     State = 0
	StateMixing   State = 1
)

// Mix is one registered policy mix. Output is set while an output endpoint
// serves the mix.
type Mix struct {
	Type          Type             `yaml:"type" json:"type"`
	RouteFlags    RouteFlags       `yaml:"route_flags" json:"route_flags"`
	Criteria      []Criterion      `yaml:"criteria" json:"criteria"`
	Format        audio.Config     `yaml:"format" json:"format"`
	DeviceType    audio.DeviceType `yaml:"device_type" json:"device_type"`
	DeviceAddress string           `yaml:"device_address" json:"device_address"`

	Output audio.IOHandle `yaml:"-" json:"-"`
}

// IsLoopBack reports whether matched audio is made available for capture.
func (m *Mix) IsLoopBack() bool {
	return m.RouteFlags&RouteLoopBack == RouteLoopBack
}

// IsRender reports whether matched audio is rendered to a specific device.
func (m *Mix) IsRender() bool {
	return m.RouteFlags&RouteRender == RouteRender
}

// AddressFromTags extracts the "addr=" tag used to target a mix directly.
func AddressFromTags(tags string) (string, bool) {
	const prefix = "addr="
	if !strings.HasPrefix(tags, prefix) {
		return "", false
	}
	addr := tags[len(prefix):]
	if i := strings.IndexByte(addr, ';'); i >= 0 {
		addr = addr[:i]
	}
	return addr, addr != ""
}

// matchesPlayer evaluates usage and uid rules. Within one dimension a mix may
// only use match rules or exclude rules, never both.
func (m *Mix) matchesPlayer(attr audio.Attributes, uid audio.UID) (bool, error) {
	if addr, ok := AddressFromTags(attr.Tags); ok && addr == m.DeviceAddress {
		return true, nil
	}

	var (
		hasUsageMatch, hasUsageExclude, usageMatched, usageExcluded bool
		hasUIDMatch, hasUIDExclude, uidMatched, uidExcluded         bool
	)
	for _, c := range m.Criteria {
		switch c.Rule {
		case RuleMatchUsage:
			hasUsageMatch = true
			usageMatched = usageMatched || c.Usage == attr.Usage
		case RuleExcludeUsage:
			hasUsageExclude = true
			usageExcluded = usageExcluded || c.Usage == attr.Usage
		case RuleMatchUID:
			hasUIDMatch = true
			uidMatched = uidMatched || c.UID == uid
		case RuleExcludeUID:
			hasUIDExclude = true
			uidExcluded = uidExcluded || c.UID == uid
		}
		if (hasUsageMatch && hasUsageExclude) || (hasUIDMatch && hasUIDExclude) {
			return false, errors.New(ErrInvalidCriteria).
				Component(ComponentMix).
				Context("address", m.DeviceAddress).
				Build()
		}
	}

	rejected := (hasUsageExclude && usageExcluded) ||
		(hasUsageMatch && !usageMatched) ||
		(hasUIDExclude && uidExcluded) ||
		(hasUIDMatch && !uidMatched)
	return !rejected, nil
}

// matchesSource reports whether a recorder mix captures source.
func (m *Mix) matchesSource(source audio.Source) bool {
	for _, c := range m.Criteria {
		switch c.Rule {
		case RuleMatchSource:
			if c.Source == source {
				return true
			}
		case RuleExcludeSource:
			if c.Source != source {
				return true
			}
		}
	}
	return false
}

// Collection holds the registered mixes keyed by device address.
type Collection struct {
	mixes *registry.Registry[string, *Mix]
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{mixes: registry.New[string, *Mix]()}
}

// Register adds a mix. An address may only be registered once.
func (c *Collection) Register(m *Mix, output audio.IOHandle) error {
	if c.mixes.Has(m.DeviceAddress) {
		return errors.New(ErrMixAlreadyRegistered).
			Component(ComponentMix).
			Context("address", m.DeviceAddress).
			Build()
	}
	m.Output = output
	c.mixes.Add(m.DeviceAddress, m)
	return nil
}

// Unregister removes the mix registered at address.
func (c *Collection) Unregister(address string) error {
	if !c.mixes.Remove(address) {
		return errors.New(ErrMixNotFound).
			Component(ComponentMix).
			Context("address", address).
			Build()
	}
	return nil
}

// Get returns the mix registered at address.
func (c *Collection) Get(address string) (*Mix, bool) {
	return c.mixes.Get(address)
}

// All returns the mixes in address order.
func (c *Collection) All() []*Mix {
	return c.mixes.Values()
}

// Len returns the number of registered mixes.
func (c *Collection) Len() int {
	return c.mixes.Len()
}

// SetOutput binds the mix at address to an output.
func (c *Collection) SetOutput(address string, output audio.IOHandle) {
	if m, ok := c.mixes.Get(address); ok {
		m.Output = output
	}
}

// CloseOutput unbinds every mix served by output.
func (c *Collection) CloseOutput(output audio.IOHandle) {
	for _, m := range c.mixes.Values() {
		if m.Output == output {
			m.Output = audio.IOHandleNone
		}
	}
}

// GetOutputForAttr returns the first mix with an output that claims a
// playback request.
func (c *Collection) GetOutputForAttr(attr audio.Attributes, uid audio.UID) (*Mix, error) {
	for _, m := range c.mixes.Values() {
		if m.Output == audio.IOHandleNone {
			continue
		}
		switch m.Type {
		case TypePlayers:
			ok, err := m.matchesPlayer(attr, uid)
			if err != nil {
				return nil, err
			}
			if ok {
				return m, nil
			}
		case TypeRecorders:
			addr, ok := AddressFromTags(attr.Tags)
			if attr.Usage == audio.UsageVirtualSource && ok && addr == m.DeviceAddress {
				return m, nil
			}
		}
	}
	return nil, nil
}

// GetDeviceAndMixForInputSource returns the remote submix capture device and
// the recorder mix that claims source, if the remote submix is available.
func (c *Collection) GetDeviceAndMixForInputSource(source audio.Source, available audio.DeviceType) (audio.DeviceType, *Mix) {
	for _, m := range c.mixes.Values() {
		if m.Type != TypeRecorders || !m.matchesSource(source) {
			continue
		}
		if available&audio.DeviceInRemoteSubmix == audio.DeviceInRemoteSubmix {
			return audio.DeviceInRemoteSubmix, m
		}
	}
	return audio.DeviceNone, nil
}

// GetInputMixForAttr returns the player mix a capture request targets
// through its "addr=" tag.
func (c *Collection) GetInputMixForAttr(attr audio.Attributes) (*Mix, error) {
	addr, ok := AddressFromTags(attr.Tags)
	if !ok {
		return nil, errors.New(ErrMixNotFound).
			Component(ComponentMix).
			Context("tags", attr.Tags).
			Build()
	}
	m, found := c.mixes.Get(addr)
	if !found {
		return nil, errors.New(ErrMixNotFound).
			Component(ComponentMix).
			Context("address", addr).
			Build()
	}
	if m.Type != TypePlayers {
		return nil, errors.New(ErrInvalidCriteria).
			Component(ComponentMix).
			Context("address", addr).
			Context("reason", "capture of a recorder mix").
			Build()
	}
	return m, nil
}
