// Package volume converts stream volume indexes to attenuation. Each stream
// carries an index range, a current index per device and one curve per
// device category.
package volume

import (
	"math"
	"sort"
)

// MinDb is the attenuation treated as silence.
const MinDb = -758.0

// Point is one step of a curve: an index on a 0..100 scale and its
// attenuation in dB.
type Point struct {
	Index int
	Db    float64
}

// Curve is an ordered list of points, interpolated linearly.
type Curve []Point

// Standard curves shipped with the default table.
var (
	MediaCurve         = Curve{{1, -58.0}, {20, -40.0}, {60, -17.0}, {100, 0.0}}
	HeadsetCurve       = Curve{{1, -49.5}, {33, -33.5}, {66, -17.0}, {100, 0.0}}
	SpeakerCurve       = Curve{{1, -56.0}, {20, -34.0}, {60, -11.0}, {100, 0.0}}
	SpeakerSystemCurve = Curve{{1, -55.0}, {20, -43.0}, {86, -12.0}, {100, 0.0}}
	SystemCurve        = Curve{{1, -24.0}, {33, -18.0}, {66, -12.0}, {100, -6.0}}
	ExtMediaCurve      = Curve{{1, -58.0}, {20, -40.0}, {60, -21.0}, {100, -10.0}}
	HearingAidCurve    = Curve{{1, -128.0}, {20, -80.0}, {60, -40.0}, {100, 0.0}}
	NonMutableCurve    = Curve{{0, -58.0}, {20, -40.0}, {60, -17.0}, {100, 0.0}}
	SilentCurve        = Curve{{0, -96.0}, {1, -96.0}, {2, -96.0}, {100, -96.0}}
	FullScaleCurve     = Curve{{0, 0.0}, {1, 0.0}, {2, 0.0}, {100, 0.0}}
)

// IndexToDb maps index, relative to the stream range [indexMin, indexMax],
// onto the curve. Indexes below the first point are silent.
func (c Curve) IndexToDb(index, indexMin, indexMax int) float64 {
	if len(c) == 0 {
		return MinDb
	}
	index = min(max(index, indexMin), indexMax)
	if indexMax <= indexMin {
		return c[len(c)-1].Db
	}
	steps := 1 + c[len(c)-1].Index - c[0].Index
	scaled := (steps * (index - indexMin)) / (indexMax - indexMin)

	pos := sort.Search(len(c), func(i int) bool { return c[i].Index >= scaled })
	switch {
	case pos >= len(c):
		return c[len(c)-1].Db
	case c[pos].Index == scaled:
		return c[pos].Db
	case pos == 0:
		return MinDb
	}
	prev, next := c[pos-1], c[pos]
	return prev.Db + float64(scaled-prev.Index)*(next.Db-prev.Db)/float64(next.Index-prev.Index)
}

// DbToAmpl converts attenuation to a linear gain.
func DbToAmpl(db float64) float64 {
	if db <= MinDb {
		return 0
	}
	return math.Exp(db * math.Ln10 / 20)
}
