package audio

import (
	"errors"
	"math"
	"sync/atomic"
)

var ErrVolumeRange = errors.New("volume out of range [0,1]")

// GainNode scales a signal. The value is written from the control side and
// read by the renderer, hence the atomic.
type GainNode struct {
	bits atomic.Uint32
}

func newGain(v float32) *GainNode {
	g := &GainNode{}
	g.set(v)
	return g
}

func (g *GainNode) Value() float32 {
	return math.Float32frombits(g.bits.Load())
}

func (g *GainNode) set(v float32) {
	g.bits.Store(math.Float32bits(v))
}

func checkVolume(v float32) error {
	if math.IsNaN(float64(v)) || v < 0 || v > 1 {
		return ErrVolumeRange
	}
	return nil
}

func scale(buf []float32, gain float32) {
	if gain == 1 {
		return
	}
	for i := range buf {
		buf[i] *= gain
	}
}

func clip(buf []float32) {
	for i, s := range buf {
		if s > 1 {
			buf[i] = 1
		} else if s < -1 {
			buf[i] = -1
		}
	}
}
