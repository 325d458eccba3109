// Package endpoint holds the software endpoints the policy opens on the
// hardware modules: playback outputs (mixed, direct, mmap and duplicating)
// and capture inputs, together with the clients attached to them.
//
// Descriptors are plain state. Every hardware call is made by the policy
// manager, which also serializes access.
package endpoint

import (
	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/inventory"
)

// Kind tells the variant of an endpoint.
type Kind int

const (
	KindMixed Kind = iota
	KindDirect
	KindMmap
	KindDuplicated
	KindInput
)

func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindMmap:
		return "mmap"
	case KindDuplicated:
		return "duplicated"
	case KindInput:
		return "input"
	}
	return "mixed"
}

// Endpoint is implemented by *Output and *Input only.
type Endpoint interface {
	Handle() audio.IOHandle
	Kind() Kind
	IsDuplicated() bool
	IsDirect() bool
	IsMmap() bool
	Profile() *inventory.IOProfile
	ModuleHandle() audio.ModuleHandle
	PatchHandle() audio.PatchHandle
	SetPatchHandle(h audio.PatchHandle)

	sealed()
}

var (
	_ Endpoint = (*Output)(nil)
	_ Endpoint = (*Input)(nil)
)
