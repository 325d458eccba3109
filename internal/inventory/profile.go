package inventory

import (
	"slices"
	"strconv"
	"strings"

	"github.com/tphakala/audiopolicy/internal/audio"
)

// Resampler limits used when matching a requested rate against a profile.
const (
	resamplerDownRatioMax = 2
	resamplerUpRatioMax   = 8
)

// Profile is one supported format with its sample rates and channel masks.
// A dynamic profile has its lists filled in from the hardware when a device
// connects and cleared again when it disconnects.
type Profile struct {
	Name            string
	Format          audio.Format
	SampleRates     []uint32
	ChannelMasks    []audio.ChannelMask
	DynamicFormat   bool
	DynamicRates    bool
	DynamicChannels bool
}

// NewProfile returns a fixed profile. Rates are kept sorted ascending.
func NewProfile(format audio.Format, rates []uint32, masks []audio.ChannelMask) *Profile {
	p := &Profile{
		Format:       format,
		SampleRates:  slices.Clone(rates),
		ChannelMasks: slices.Clone(masks),
	}
	slices.Sort(p.SampleRates)
	return p
}

// NewDynamicProfile returns a profile whose content is discovered at connect time.
func NewDynamicProfile() *Profile {
	return &Profile{
		Name:            "dynamic",
		Format:          audio.FormatDefault,
		DynamicFormat:   true,
		DynamicRates:    true,
		DynamicChannels: true,
	}
}

// IsValid reports whether the profile can be used for matching.
func (p *Profile) IsValid() bool {
	return p.Format.IsValid() && len(p.SampleRates) > 0 && len(p.ChannelMasks) > 0
}

// IsDynamic reports whether any part of the profile comes from the hardware.
func (p *Profile) IsDynamic() bool {
	return p.DynamicFormat || p.DynamicRates || p.DynamicChannels
}

func (p *Profile) supportsRate(rate uint32) bool {
	return slices.Contains(p.SampleRates, rate)
}

func (p *Profile) supportsChannels(mask audio.ChannelMask) bool {
	return slices.Contains(p.ChannelMasks, mask)
}

// CheckExact reports whether the profile supports exactly this configuration.
func (p *Profile) CheckExact(rate uint32, mask audio.ChannelMask, format audio.Format) bool {
	if !p.IsValid() || p.Format != format {
		return false
	}
	if rate != 0 && !p.supportsRate(rate) {
		return false
	}
	if mask != audio.ChannelNone && !p.supportsChannels(mask) {
		return false
	}
	return true
}

// compatibleRate finds the closest supported rate, preferring to down-sample
// from a higher rate.
func (p *Profile) compatibleRate(rate uint32) (uint32, bool) {
	if len(p.SampleRates) == 0 {
		return rate, true
	}
	order, _ := slices.BinarySearch(p.SampleRates, rate)
	if order < len(p.SampleRates) {
		candidate := p.SampleRates[order]
		if candidate/resamplerDownRatioMax <= rate {
			return candidate, true
		}
	}
	if order != 0 {
		candidate := p.SampleRates[order-1]
		if candidate*resamplerUpRatioMax >= rate {
			return candidate, true
		}
	}
	return 0, false
}

// compatibleChannels returns the mask to use for mask. Capture threads may
// convert between mono and stereo, playback must match exactly.
func (p *Profile) compatibleChannels(mask audio.ChannelMask, record bool) (audio.ChannelMask, bool) {
	if len(p.ChannelMasks) == 0 {
		return mask, true
	}
	if p.supportsChannels(mask) {
		return mask, true
	}
	if !record {
		return audio.ChannelNone, false
	}
	for _, supported := range p.ChannelMasks {
		if supported.Count() <= 2 && mask.Count() <= 2 {
			return supported, true
		}
	}
	return audio.ChannelNone, false
}

// Profiles is an ordered list of profiles of a port.
type Profiles []*Profile

// CheckExact reports whether any profile supports exactly the configuration.
func (ps Profiles) CheckExact(rate uint32, mask audio.ChannelMask, format audio.Format) bool {
	for _, p := range ps {
		if p.CheckExact(rate, mask, format) {
			return true
		}
	}
	return false
}

// CheckCompatible returns the closest configuration the profiles can serve.
// Profiles with the exact requested format win over PCM conversions.
func (ps Profiles) CheckCompatible(cfg audio.Config, record bool) (audio.Config, bool) {
	var fallback *audio.Config
	for _, p := range ps {
		if !p.IsValid() {
			continue
		}
		sameFormat := p.Format == cfg.Format
		pcmConvertible := record && p.Format.IsLinearPCM() && cfg.Format.IsLinearPCM()
		if !sameFormat && !pcmConvertible {
			continue
		}
		mask, ok := p.compatibleChannels(cfg.ChannelMask, record)
		if !ok {
			continue
		}
		rate, ok := p.compatibleRate(cfg.SampleRate)
		if !ok {
			continue
		}
		updated := audio.Config{SampleRate: rate, ChannelMask: mask, Format: p.Format}
		if sameFormat {
			return updated, true
		}
		if fallback == nil {
			fallback = &updated
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return audio.Config{}, false
}

// Formats returns the distinct valid formats of the list.
func (ps Profiles) Formats() []audio.Format {
	var out []audio.Format
	for _, p := range ps {
		if p.Format.IsValid() && !slices.Contains(out, p.Format) {
			out = append(out, p.Format)
		}
	}
	return out
}

// HasFormat reports whether a valid profile carries format.
func (ps Profiles) HasFormat(format audio.Format) bool {
	return slices.Contains(ps.Formats(), format)
}

// HasDynamic reports whether at least one profile is discovered at runtime.
func (ps Profiles) HasDynamic() bool {
	return slices.ContainsFunc(ps, (*Profile).IsDynamic)
}

// HasDynamicFormat reports whether the format list itself is discovered.
func (ps Profiles) HasDynamicFormat() bool {
	return slices.ContainsFunc(ps, func(p *Profile) bool { return p.DynamicFormat })
}

// HasValid reports whether any profile can be used for matching.
func (ps Profiles) HasValid() bool {
	return slices.ContainsFunc(ps, (*Profile).IsValid)
}

// ClearDynamic forgets everything learned from the hardware. Profiles created
// from a dynamic format are removed, dynamic lists are emptied.
func (ps Profiles) ClearDynamic() Profiles {
	out := ps[:0]
	for _, p := range ps {
		if p.DynamicFormat && p.Format.IsValid() {
			continue
		}
		if p.DynamicRates {
			p.SampleRates = nil
		}
		if p.DynamicChannels {
			p.ChannelMasks = nil
		}
		out = append(out, p)
	}
	return out
}

// Fill applies hardware reported capabilities to the dynamic profiles. A
// dynamic format profile spawns one profile per reported format.
func (ps Profiles) Fill(formats []audio.Format, rates []uint32, masks []audio.ChannelMask) Profiles {
	out := ps
	for _, p := range ps {
		if !p.IsDynamic() {
			continue
		}
		if p.DynamicFormat && !p.Format.IsValid() {
			for _, f := range formats {
				if out.HasFormat(f) {
					continue
				}
				np := NewProfile(f, rates, masks)
				np.Name = p.Name
				np.DynamicFormat = true
				np.DynamicRates = true
				np.DynamicChannels = true
				out = append(out, np)
			}
			continue
		}
		if p.DynamicRates {
			p.SampleRates = slices.Clone(rates)
			slices.Sort(p.SampleRates)
		}
		if p.DynamicChannels {
			p.ChannelMasks = slices.Clone(masks)
		}
	}
	return out
}

// FillFormat applies the rates and channel masks the hardware reported for
// one format. Profiles of that format with dynamic lists take them over, a
// dynamic format profile spawns a profile for format if none exists yet.
func (ps Profiles) FillFormat(format audio.Format, rates []uint32, masks []audio.ChannelMask) Profiles {
	out := ps
	spawn := false
	for _, p := range ps {
		switch {
		case p.DynamicFormat && !p.Format.IsValid():
			spawn = true
		case p.Format == format:
			if p.DynamicRates && len(rates) > 0 {
				p.SampleRates = slices.Clone(rates)
				slices.Sort(p.SampleRates)
			}
			if p.DynamicChannels && len(masks) > 0 {
				p.ChannelMasks = slices.Clone(masks)
			}
		}
	}
	if spawn && !out.HasFormat(format) {
		np := NewProfile(format, rates, masks)
		np.Name = "dynamic"
		np.DynamicFormat = true
		np.DynamicRates = true
		np.DynamicChannels = true
		out = append(out, np)
	}
	return out
}

// Import adds copies of the valid profiles of other whose format is not
// present yet.
func (ps Profiles) Import(other Profiles) Profiles {
	out := ps
	for _, p := range other {
		if !p.IsValid() || out.HasFormat(p.Format) {
			continue
		}
		cp := *p
		cp.SampleRates = slices.Clone(p.SampleRates)
		cp.ChannelMasks = slices.Clone(p.ChannelMasks)
		out = append(out, &cp)
	}
	return out
}

// ParseFormats parses a '|' separated capability string such as "pcm_16|ac3".
// Unknown names are skipped.
func ParseFormats(s string) []audio.Format {
	var out []audio.Format
	for _, name := range splitCapabilities(s) {
		if f, ok := audio.ParseFormat(name); ok {
			out = append(out, f)
		}
	}
	return out
}

// ParseSampleRates parses a '|' separated list of rates.
func ParseSampleRates(s string) []uint32 {
	var out []uint32
	for _, field := range splitCapabilities(s) {
		if v, err := strconv.ParseUint(field, 10, 32); err == nil && v > 0 {
			out = append(out, uint32(v))
		}
	}
	return out
}

// ParseChannelMasks parses a '|' separated list of numeric channel masks.
func ParseChannelMasks(s string) []audio.ChannelMask {
	var out []audio.ChannelMask
	for _, field := range splitCapabilities(s) {
		if v, err := strconv.ParseUint(field, 0, 32); err == nil && v > 0 {
			out = append(out, audio.ChannelMask(v))
		}
	}
	return out
}

func splitCapabilities(s string) []string {
	if i := strings.IndexByte(s, '='); i >= 0 {
		s = s[i+1:]
	}
	var out []string
	for field := range strings.SplitSeq(s, "|") {
		if field = strings.TrimSpace(field); field != "" {
			out = append(out, field)
		}
	}
	return out
}
