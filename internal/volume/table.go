package volume

import (
	"github.com/tphakala/audiopolicy/internal/audio"
	"github.com/tphakala/audiopolicy/internal/errors"
)

// DefaultForVolume keys the index used when a device has no index of its own.
const DefaultForVolume = audio.DeviceOutDefault

// Curves stores the index ranges, current indexes and curves of every stream.
type Curves interface {
	InitStream(stream audio.Stream, indexMin, indexMax int) error
	IndexMin(stream audio.Stream) int
	IndexMax(stream audio.Stream) int
	SetIndex(stream audio.Stream, device audio.DeviceType, index int)
	Index(stream audio.Stream, device audio.DeviceType) int
	HasIndexForDevice(stream audio.Stream, device audio.DeviceType) bool
	IndexToDb(stream audio.Stream, category DeviceCategory, index int) float64
	CanBeMuted(stream audio.Stream) bool
	SwitchCurve(from, to audio.Stream)
	RestoreCurve(stream audio.Stream)
}

type streamCurves struct {
	indexMin   int
	indexMax   int
	indexes    map[audio.DeviceType]int
	curves     [categoryCount]Curve
	original   [categoryCount]Curve
	canBeMuted bool
}

// Table is the default in-memory Curves store.
type Table struct {
	streams [audio.StreamCount]*streamCurves
}

var _ Curves = (*Table)(nil)

type indexRange struct {
	min, max, def int
}

var defaultRanges = [audio.StreamCount]indexRange{
	audio.StreamVoiceCall:       {1, 5, 4},
	audio.StreamSystem:          {0, 7, 5},
	audio.StreamRing:            {0, 7, 5},
	audio.StreamMusic:           {0, 15, 11},
	audio.StreamAlarm:           {1, 7, 6},
	audio.StreamNotification:    {0, 7, 5},
	audio.StreamBluetoothSCO:    {0, 15, 7},
	audio.StreamEnforcedAudible: {0, 7, 5},
	audio.StreamDTMF:            {0, 15, 11},
	audio.StreamTTS:             {0, 15, 11},
	audio.StreamAccessibility:   {1, 15, 11},
	audio.StreamRerouting:       {0, 1, 1},
	audio.StreamPatch:           {0, 1, 1},
}

func categoryCurves(headset, speaker, earpiece, extMedia, hearingAid Curve) [categoryCount]Curve {
	var c [categoryCount]Curve
	c[CategoryHeadset] = headset
	c[CategorySpeaker] = speaker
	c[CategoryEarpiece] = earpiece
	c[CategoryExtMedia] = extMedia
	c[CategoryHearingAid] = hearingAid
	return c
}

func defaultCurves(stream audio.Stream) [categoryCount]Curve {
	switch stream {
	case audio.StreamVoiceCall:
		return categoryCurves(HeadsetCurve, SpeakerCurve, HeadsetCurve, ExtMediaCurve, HearingAidCurve)
	case audio.StreamRing, audio.StreamAlarm, audio.StreamNotification:
		return categoryCurves(HeadsetCurve, SpeakerSystemCurve, HeadsetCurve, ExtMediaCurve, HearingAidCurve)
	case audio.StreamSystem, audio.StreamEnforcedAudible, audio.StreamDTMF:
		return categoryCurves(SystemCurve, SpeakerSystemCurve, SystemCurve, ExtMediaCurve, HearingAidCurve)
	case audio.StreamTTS:
		return categoryCurves(SilentCurve, FullScaleCurve, SilentCurve, SilentCurve, SilentCurve)
	case audio.StreamAccessibility:
		return categoryCurves(NonMutableCurve, NonMutableCurve, NonMutableCurve, NonMutableCurve, NonMutableCurve)
	case audio.StreamRerouting, audio.StreamPatch:
		return categoryCurves(FullScaleCurve, FullScaleCurve, FullScaleCurve, FullScaleCurve, FullScaleCurve)
	}
	return categoryCurves(MediaCurve, SpeakerCurve, MediaCurve, ExtMediaCurve, HearingAidCurve)
}

// NewTable returns a table with the stock ranges and curves.
func NewTable() *Table {
	t := &Table{}
	for s := audio.Stream(0); s < audio.StreamCount; s++ {
		r := defaultRanges[s]
		curves := defaultCurves(s)
		t.streams[s] = &streamCurves{
			indexMin:   r.min,
			indexMax:   r.max,
			indexes:    map[audio.DeviceType]int{DefaultForVolume: r.def},
			curves:     curves,
			original:   curves,
			canBeMuted: s != audio.StreamRerouting && s != audio.StreamPatch,
		}
	}
	return t
}

func (t *Table) stream(s audio.Stream) *streamCurves {
	if !s.IsValid() {
		return nil
	}
	return t.streams[s]
}

// InitStream sets the index range of stream.
func (t *Table) InitStream(stream audio.Stream, indexMin, indexMax int) error {
	sc := t.stream(stream)
	if sc == nil || indexMin < 0 || indexMax <= indexMin {
		return errors.New(ErrInvalidRange).
			Component(ComponentVolume).
			Context("stream", stream.String()).
			Context("index_min", indexMin).
			Context("index_max", indexMax).
			Build()
	}
	sc.indexMin = indexMin
	sc.indexMax = indexMax
	return nil
}

// IndexMin returns the lowest index of stream.
func (t *Table) IndexMin(stream audio.Stream) int {
	if sc := t.stream(stream); sc != nil {
		return sc.indexMin
	}
	return 0
}

// IndexMax returns the highest index of stream.
func (t *Table) IndexMax(stream audio.Stream) int {
	if sc := t.stream(stream); sc != nil {
		return sc.indexMax
	}
	return 0
}

// SetIndex records the index of stream on device.
func (t *Table) SetIndex(stream audio.Stream, device audio.DeviceType, index int) {
	if sc := t.stream(stream); sc != nil {
		if device != DefaultForVolume {
			device = DeviceForVolume(device)
		}
		sc.indexes[device] = index
	}
}

// Index returns the index of stream on device, or the default index.
func (t *Table) Index(stream audio.Stream, device audio.DeviceType) int {
	sc := t.stream(stream)
	if sc == nil {
		return 0
	}
	if device != DefaultForVolume {
		if idx, ok := sc.indexes[DeviceForVolume(device)]; ok {
			return idx
		}
	}
	return sc.indexes[DefaultForVolume]
}

// HasIndexForDevice reports whether device has an index of its own.
func (t *Table) HasIndexForDevice(stream audio.Stream, device audio.DeviceType) bool {
	sc := t.stream(stream)
	if sc == nil {
		return false
	}
	if device != DefaultForVolume {
		device = DeviceForVolume(device)
	}
	_, ok := sc.indexes[device]
	return ok
}

// IndexToDb converts index to attenuation with the stream's curve for category.
func (t *Table) IndexToDb(stream audio.Stream, category DeviceCategory, index int) float64 {
	sc := t.stream(stream)
	if sc == nil || category < 0 || category >= categoryCount {
		return MinDb
	}
	return sc.curves[category].IndexToDb(index, sc.indexMin, sc.indexMax)
}

// CanBeMuted reports whether index 0 may silence stream.
func (t *Table) CanBeMuted(stream audio.Stream) bool {
	if sc := t.stream(stream); sc != nil {
		return sc.canBeMuted
	}
	return false
}

// SwitchCurve makes to use the curves of from.
func (t *Table) SwitchCurve(from, to audio.Stream) {
	src, dst := t.stream(from), t.stream(to)
	if src == nil || dst == nil {
		return
	}
	dst.curves = src.curves
}

// RestoreCurve reverts SwitchCurve on stream.
func (t *Table) RestoreCurve(stream audio.Stream) {
	if sc := t.stream(stream); sc != nil {
		sc.curves = sc.original
	}
}
