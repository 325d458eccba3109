package hal

import (
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/tphakala/audiopolicy/internal/audio"
)

// Params is a set of key=value pairs exchanged through SetParameters and
// GetParameters, serialized as "k1=v1;k2=v2".
type Params map[string]string

// ParseParams parses a serialized parameter string. Keys without a value map
// to the empty string.
func ParseParams(s string) Params {
	p := Params{}
	for field := range strings.SplitSeq(s, ";") {
		if field = strings.TrimSpace(field); field == "" {
			continue
		}
		k, v, _ := strings.Cut(field, "=")
		p[k] = v
	}
	return p
}

// Set adds a pair and returns p for chaining.
func (p Params) Set(key, value string) Params {
	p[key] = value
	return p
}

// String serializes the pairs in key order.
func (p Params) String() string {
	keys := slices.Sorted(maps.Keys(p))
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p[k])
	}
	return b.String()
}

// AddressParams returns the parameter telling a stream which instance of
// device it serves.
func AddressParams(device audio.DeviceType, address string) string {
	key := KeyAddress
	switch {
	case device.IsA2DP():
		key = KeyA2DPSinkAddress
	case device.DistinguishesOnAddress() && device&audio.DeviceBitIn == 0:
		key = KeyMixAddress
	}
	return Params{}.Set(key, address).String()
}

// FormatQuery returns the key list asking for a capability of one format.
func FormatQuery(format audio.Format, key string) string {
	return Params{}.Set(KeyFormat, strconv.FormatUint(uint64(format), 10)).String() + ";" + key
}
