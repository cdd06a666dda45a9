package audio

import (
	"sync"
	"sync/atomic"
)

// StereoLabel marks the room music track; it gets its own volume.
const StereoLabel = "stereo_audio"

type TrackKind int

const (
	TrackMono TrackKind = iota
	TrackStereo
)

func (k TrackKind) String() string {
	if k == TrackStereo {
		return "stereo"
	}
	return "mono"
}

// KindOf classifies a remote track by its label or stream id.
func KindOf(label, streamID string) TrackKind {
	if label == StereoLabel || streamID == StereoLabel {
		return TrackStereo
	}
	return TrackMono
}

type playbackState int32

const (
	playbackOk playbackState = iota
	playbackEnded
)

// maxBufferedFrames bounds the per-track jitter buffer.
const maxBufferedFrames = 10

// Playback is one remote track's path into the output mix:
// source -> own gain -> output gain.
type Playback struct {
	id    string
	label string
	kind  TrackKind
	gain  *GainNode
	state atomic.Int32

	mu      sync.Mutex
	samples []float32
	limit   int
}

func newPlayback(id, label string, kind TrackKind, volume float32, frameSize int) *Playback {
	return &Playback{
		id:    id,
		label: label,
		kind:  kind,
		gain:  newGain(volume),
		limit: frameSize * maxBufferedFrames,
	}
}

func (p *Playback) ID() string      { return p.id }
func (p *Playback) Kind() TrackKind { return p.kind }
func (p *Playback) Volume() float32 { return p.gain.Value() }
func (p *Playback) Ended() bool     { return playbackState(p.state.Load()) == playbackEnded }

// Write queues decoded samples; the oldest are dropped past the limit.
func (p *Playback) Write(samples []float32) {
	if p.Ended() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples = append(p.samples, samples...)
	if over := len(p.samples) - p.limit; over > 0 {
		p.samples = append(p.samples[:0], p.samples[over:]...)
	}
}

// mixInto adds one quantum of this track, scaled by its gain, into dst.
// An underrun contributes silence for the missing part.
func (p *Playback) mixInto(dst []float32) {
	p.mu.Lock()
	n := len(dst)
	if n > len(p.samples) {
		n = len(p.samples)
	}
	gain := p.gain.Value()
	for i := 0; i < n; i++ {
		dst[i] += p.samples[i] * gain
	}
	p.samples = append(p.samples[:0], p.samples[n:]...)
	p.mu.Unlock()
}

func (p *Playback) end() {
	p.state.Store(int32(playbackEnded))
	p.mu.Lock()
	p.samples = nil
	p.mu.Unlock()
}

// PlaybackInfo is a read-only view of a playback path.
type PlaybackInfo struct {
	ID     string  `json:"id"`
	Label  string  `json:"label"`
	Kind   string  `json:"kind"`
	Volume float32 `json:"volume"`
}
