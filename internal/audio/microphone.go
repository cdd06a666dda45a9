package audio

import (
	"context"
	"errors"
	"math"
	"sync"
)

var (
	ErrMicrophoneDenied       = errors.New("microphone access denied")
	ErrMicrophoneNotConnected = errors.New("microphone is not connected")
	ErrMicrophoneClosed       = errors.New("microphone closed")
)

// Microphone is an opened capture device. Read must not block: a device
// with nothing buffered returns fewer samples and the rest is silence.
type Microphone interface {
	Read(buf []float32) (int, error)
	Close() error
}

// MicrophoneProvider grants access to a capture device.
type MicrophoneProvider interface {
	Open(ctx context.Context, sampleRate int) (Microphone, error)
}

// DeniedProvider refuses every request, as a host without a microphone
// (or a user who said no) would.
type DeniedProvider struct{}

func (DeniedProvider) Open(context.Context, int) (Microphone, error) {
	return nil, ErrMicrophoneDenied
}

// OscillatorProvider opens sine-tone microphones for headless runs.
type OscillatorProvider struct {
	Frequency float64
	Amplitude float64
}

func (p OscillatorProvider) Open(ctx context.Context, sampleRate int) (Microphone, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	freq := p.Frequency
	if freq <= 0 {
		freq = 440
	}
	amp := p.Amplitude
	if amp <= 0 || amp > 1 {
		amp = 0.25
	}
	return &Oscillator{step: 2 * math.Pi * freq / float64(sampleRate), amp: amp}, nil
}

type Oscillator struct {
	mu     sync.Mutex
	phase  float64
	step   float64
	amp    float64
	closed bool
}

func (o *Oscillator) Read(buf []float32) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return 0, ErrMicrophoneClosed
	}
	for i := range buf {
		buf[i] = float32(o.amp * math.Sin(o.phase))
		o.phase += o.step
		if o.phase > 2*math.Pi {
			o.phase -= 2 * math.Pi
		}
	}
	return len(buf), nil
}

func (o *Oscillator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

func (o *Oscillator) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
