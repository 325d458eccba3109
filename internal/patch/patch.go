// Package patch keeps the connections (patches) the policy installed through
// the hardware client. A patch joins one source, or two for a software
// bridge, to up to audio.PatchPortsMax sinks.
package patch

import (
	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/errors"
	"github.com/tphakala/audiopolicy/internal/registry"
)

// MaxSources bounds the sources of one patch: a device and, for software
// bridges, the output carrying it.
const MaxSources = 2

// Descriptor is one installed patch.
type Descriptor struct {
	// Handle is allocated by the policy and handed to clients.
	Handle audio.PatchHandle
	// HALHandle is the handle returned by the hardware client.
	HALHandle audio.PatchHandle
	// UID owns the patch. The policy's own patches use its cached uid.
	UID   audio.UID
	Patch audio.Patch
}

// SinkDevice returns the first sink when it is a device port.
func (d *Descriptor) SinkDevice() (audio.DeviceExt, bool) {
	if len(d.Patch.Sinks) == 0 || !d.Patch.Sinks[0].IsDevice() {
		return audio.DeviceExt{}, false
	}
	return d.Patch.Sinks[0].Device, true
}

// SourceDevice returns the first source when it is a device port.
func (d *Descriptor) SourceDevice() (audio.DeviceExt, bool) {
	if len(d.Patch.Sources) == 0 || !d.Patch.Sources[0].IsDevice() {
		return audio.DeviceExt{}, false
	}
	return d.Patch.Sources[0].Device, true
}

// Validate checks the port counts of a patch.
func Validate(p audio.Patch) error {
	if len(p.Sources) == 0 || len(p.Sources) > MaxSources ||
		len(p.Sinks) == 0 || len(p.Sinks) > audio.PatchPortsMax {
		return errors.New(ErrInvalidPatch).
			Component(ComponentPatch).
			Context("sources", len(p.Sources)).
			Context("sinks", len(p.Sinks)).
			Build()
	}
	return nil
}

// Builder assembles a patch port by port.
type Builder struct {
	patch audio.Patch
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddSource appends a source port.
func (b *Builder) AddSource(pc audio.PortConfig) *Builder {
	pc.Role = audio.PortRoleSource
	b.patch.Sources = append(b.patch.Sources, pc)
	return b
}

// AddSink appends a sink port.
func (b *Builder) AddSink(pc audio.PortConfig) *Builder {
	pc.Role = audio.PortRoleSink
	b.patch.Sinks = append(b.patch.Sinks, pc)
	return b
}

// Patch returns the assembled patch.
func (b *Builder) Patch() audio.Patch {
	return b.patch.Clone()
}

// Collection is the arena of installed patches keyed by policy handle.
// Generation changes on every mutation of the list.
type Collection struct {
	patches    *registry.Registry[audio.PatchHandle, *Descriptor]
	generation uint32
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{patches: registry.New[audio.PatchHandle, *Descriptor]()}
}

// Generation returns the current list generation.
func (c *Collection) Generation() uint32 {
	return c.generation
}

// Add stores or replaces a descriptor.
func (c *Collection) Add(d *Descriptor) {
	c.patches.Add(d.Handle, d)
	c.generation++
}

// Remove drops the patch with handle h.
func (c *Collection) Remove(h audio.PatchHandle) error {
	if !c.patches.Remove(h) {
		return errors.New(ErrPatchNotFound).
			Component(ComponentPatch).
			Context("patch", h).
			Build()
	}
	c.generation++
	return nil
}

// Get returns the patch with handle h.
func (c *Collection) Get(h audio.PatchHandle) (*Descriptor, bool) {
	if h == audio.PatchHandleNone {
		return nil, false
	}
	return c.patches.Get(h)
}

// Len returns the number of installed patches.
func (c *Collection) Len() int {
	return c.patches.Len()
}

// All returns the descriptors in handle order.
func (c *Collection) All() []*Descriptor {
	return c.patches.Values()
}

// OwnedBy returns the patches owned by uid.
func (c *Collection) OwnedBy(uid audio.UID) []*Descriptor {
	var out []*Descriptor
	for _, d := range c.patches.Values() {
		if d.UID == uid {
			out = append(out, d)
		}
	}
	return out
}

// WithSinkDevice returns the patches whose first sink is a device of one of
// the types in mask.
func (c *Collection) WithSinkDevice(mask audio.DeviceType) []*Descriptor {
	var out []*Descriptor
	for _, d := range c.patches.Values() {
		if dev, ok := d.SinkDevice(); ok && dev.Type.Intersects(mask) {
			out = append(out, d)
		}
	}
	return out
}

// WithSourceDevice returns the patches whose first source is a device of one
// of the types in mask.
func (c *Collection) WithSourceDevice(mask audio.DeviceType) []*Descriptor {
	var out []*Descriptor
	for _, d := range c.patches.Values() {
		if dev, ok := d.SourceDevice(); ok && dev.Type.Intersects(mask) {
			out = append(out, d)
		}
	}
	return out
}

// Patches returns a copy of every installed patch for listing.
func (c *Collection) Patches() []audio.Patch {
	out := make([]audio.Patch, 0, c.patches.Len())
	for _, d := range c.patches.Values() {
		out = append(out, d.Patch.Clone())
	}
	return out
}
