package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/dkeye/voiceroom/internal/core"
	"github.com/rs/zerolog/log"
)

var (
	ErrGraphClosed     = errors.New("audio graph closed")
	ErrUnknownPlayback = errors.New("unknown playback track")
	ErrDuplicateTrack  = errors.New("track already attached")
	ErrMicrophoneBusy  = errors.New("microphone request in flight")
)

type Options struct {
	// DefaultVolume applies to mono remote tracks.
	DefaultVolume float32
	// StereoVolume applies to tracks labeled StereoLabel.
	StereoVolume float32
}

func DefaultOptions() Options {
	return Options{DefaultVolume: 0.5, StereoVolume: 0.5}
}

// Graph is the audio session graph of one room membership.
//
//	microphone -> micGain -> inputGain -> input stream
//	remote_i   -> gain_i  -> outputGain -> output stream
//
// inputGain and outputGain always exist; the microphone pair exists only
// once access was granted.
type Graph struct {
	actx     *Context
	provider MicrophoneProvider

	inputGain  *GainNode
	outputGain *GainNode
	input      *Stream
	output     *Stream

	pumpCtx    context.Context
	pumpCancel context.CancelFunc

	mu            sync.Mutex
	mic           Microphone
	micGain       *GainNode
	micRequesting bool
	defaultVolume float32
	stereoVolume  float32
	playbacks     map[string]*Playback
	micBuf        []float32
	closed        bool
	onCount       func(int)
}

// NewGraph builds the graph on actx and takes ownership of it: closing
// the graph closes the context.
func NewGraph(actx *Context, provider MicrophoneProvider, opts Options) (*Graph, error) {
	if actx.State() == StateClosed {
		return nil, ErrContextClosed
	}
	if err := checkVolume(opts.DefaultVolume); err != nil {
		return nil, fmt.Errorf("default volume: %w", err)
	}
	if err := checkVolume(opts.StereoVolume); err != nil {
		return nil, fmt.Errorf("stereo volume: %w", err)
	}
	if provider == nil {
		provider = DeniedProvider{}
	}
	pumpCtx, cancel := context.WithCancel(context.Background())
	g := &Graph{
		actx:          actx,
		provider:      provider,
		inputGain:     newGain(1),
		outputGain:    newGain(1),
		input:         newStream("input"),
		output:        newStream("output"),
		pumpCtx:       pumpCtx,
		pumpCancel:    cancel,
		defaultVolume: opts.DefaultVolume,
		stereoVolume:  opts.StereoVolume,
		playbacks:     make(map[string]*Playback),
		micBuf:        make([]float32, actx.FrameSize()),
	}
	actx.setRenderer(g.Process)
	return g, nil
}

func (g *Graph) Context() *Context { return g.actx }

// InputStream carries silence until a microphone is attached.
func (g *Graph) InputStream() *Stream { return g.input }

// OutputStream is what the local monitor plays.
func (g *Graph) OutputStream() *Stream { return g.output }

func (g *Graph) InputTracks() []core.LocalTrack {
	tracks := g.input.AudioTracks()
	out := make([]core.LocalTrack, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, t)
	}
	return out
}

// RequestMicrophone asks the provider for a device and wires it through a
// gain node that starts muted. A failure leaves the graph without a
// microphone and is returned, never panicked.
func (g *Graph) RequestMicrophone(ctx context.Context) error {
	g.mu.Lock()
	switch {
	case g.closed:
		g.mu.Unlock()
		return ErrGraphClosed
	case g.mic != nil:
		g.mu.Unlock()
		return nil
	case g.micRequesting:
		g.mu.Unlock()
		return ErrMicrophoneBusy
	}
	g.micRequesting = true
	g.mu.Unlock()

	mic, err := g.provider.Open(ctx, g.actx.SampleRate())

	g.mu.Lock()
	defer g.mu.Unlock()
	g.micRequesting = false
	if err != nil {
		log.Warn().Err(err).Str("module", "audio").Msg("microphone request failed")
		return fmt.Errorf("request microphone: %w", err)
	}
	if g.closed {
		_ = mic.Close()
		return ErrGraphClosed
	}
	g.mic = mic
	g.micGain = newGain(0)
	log.Info().Str("module", "audio").Msg("microphone connected (muted)")
	return nil
}

func (g *Graph) IsMicrophoneRequested() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mic != nil
}

func (g *Graph) MicrophoneMute() error   { return g.setMicGain(0) }
func (g *Graph) MicrophoneUnmute() error { return g.setMicGain(1) }

func (g *Graph) setMicGain(v float32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.micGain == nil {
		return ErrMicrophoneNotConnected
	}
	g.micGain.set(v)
	return nil
}

func (g *Graph) IsMicrophoneMuted() (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.micGain == nil {
		return false, ErrMicrophoneNotConnected
	}
	return g.micGain.Value() == 0, nil
}

// MicrophoneGain exposes the raw gain for inspection.
func (g *Graph) MicrophoneGain() (float32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.micGain == nil {
		return 0, ErrMicrophoneNotConnected
	}
	return g.micGain.Value(), nil
}

func (g *Graph) SpeakerMute()         { g.outputGain.set(0) }
func (g *Graph) SpeakerUnmute()       { g.outputGain.set(1) }
func (g *Graph) IsSpeakerMuted() bool { return g.outputGain.Value() == 0 }

// AttachRemote creates the playback path for a remote track. Its volume
// starts at the stereo or default volume depending on its kind.
func (g *Graph) AttachRemote(id, label, streamID string) (*Playback, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrGraphClosed
	}
	if _, ok := g.playbacks[id]; ok {
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTrack, id)
	}
	kind := KindOf(label, streamID)
	vol := g.defaultVolume
	if kind == TrackStereo {
		vol = g.stereoVolume
	}
	p := newPlayback(id, label, kind, vol, g.actx.FrameSize())
	g.playbacks[id] = p
	n, fn := len(g.playbacks), g.onCount
	g.mu.Unlock()

	log.Info().Str("module", "audio").Str("track_id", id).Str("kind", kind.String()).Float32("volume", vol).Msg("remote track attached")
	if fn != nil {
		fn(n)
	}
	return p, nil
}

// OnPlaybacksChanged registers fn to receive the number of playback paths
// after every attach and detach.
func (g *Graph) OnPlaybacksChanged(fn func(n int)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onCount = fn
}

// DetachRemote removes a playback path. Unknown ids are a no-op.
func (g *Graph) DetachRemote(id string) {
	g.mu.Lock()
	p := g.playbacks[id]
	g.mu.Unlock()
	if p != nil {
		g.detach(p)
	}
}

// detach removes p only if it is still the path registered under its id.
func (g *Graph) detach(p *Playback) {
	g.mu.Lock()
	cur, ok := g.playbacks[p.id]
	removed := ok && cur == p
	if removed {
		delete(g.playbacks, p.id)
	}
	n, fn := len(g.playbacks), g.onCount
	g.mu.Unlock()
	p.end()
	if removed {
		log.Info().Str("module", "audio").Str("track_id", p.id).Msg("remote track detached")
		if fn != nil {
			fn(n)
		}
	}
}

// RouteRemote attaches track and pumps its frames until the source ends,
// then detaches it.
func (g *Graph) RouteRemote(track core.RemoteTrack) error {
	p, err := g.AttachRemote(track.ID(), track.Label(), track.StreamID())
	if err != nil {
		return err
	}
	go g.pump(track, p)
	return nil
}

func (g *Graph) pump(track core.RemoteTrack, p *Playback) {
	logger := log.With().Str("module", "audio").Str("track_id", track.ID()).Logger()
	defer g.detach(p)
	for {
		frame, err := track.ReadFrame(g.pumpCtx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				logger.Info().Msg("remote track ended")
			} else {
				logger.Error().Err(err).Msg("remote track read error, stopping")
			}
			return
		}
		if p.Ended() {
			return
		}
		p.Write(frame)
	}
}

func (g *Graph) SetTrackVolume(id string, v float32) error {
	if err := checkVolume(v); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.playbacks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlayback, id)
	}
	p.gain.set(v)
	return nil
}

// SetStereoVolume updates every stereo path and the volume future stereo
// tracks start with. Mono paths are untouched.
func (g *Graph) SetStereoVolume(v float32) error {
	if err := checkVolume(v); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stereoVolume = v
	for _, p := range g.playbacks {
		if p.kind == TrackStereo {
			p.gain.set(v)
		}
	}
	return nil
}

func (g *Graph) StereoVolume() float32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stereoVolume
}

func (g *Graph) Playbacks() []PlaybackInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]PlaybackInfo, 0, len(g.playbacks))
	for _, p := range g.playbacks {
		out = append(out, PlaybackInfo{ID: p.id, Label: p.label, Kind: p.kind.String(), Volume: p.gain.Value()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Process renders one quantum into both virtual streams. The context clock
// calls it; tests may call it directly on a suspended context.
func (g *Graph) Process() {
	n := g.actx.FrameSize()
	in := make([]float32, n)
	out := make([]float32, n)

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	if g.mic != nil {
		buf := g.micBuf[:n]
		for i := range buf {
			buf[i] = 0
		}
		if _, err := g.mic.Read(buf); err != nil {
			log.Debug().Err(err).Str("module", "audio").Msg("microphone read")
		}
		gain := g.micGain.Value()
		for i, s := range buf {
			in[i] = s * gain
		}
	}
	for _, p := range g.playbacks {
		p.mixInto(out)
	}
	g.mu.Unlock()

	scale(in, g.inputGain.Value())
	scale(out, g.outputGain.Value())
	clip(out)

	g.input.track.push(in)
	g.output.track.push(out)
}

// Close stops the clock, releases the microphone, ends every playback
// path and closes both streams. It is safe to call twice.
func (g *Graph) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()

	g.actx.Close()
	g.pumpCancel()

	g.mu.Lock()
	mic := g.mic
	g.mic = nil
	g.micGain = nil
	playbacks := g.playbacks
	g.playbacks = make(map[string]*Playback)
	g.mu.Unlock()

	var err error
	if mic != nil {
		err = mic.Close()
	}
	for _, p := range playbacks {
		p.end()
	}
	g.input.close()
	g.output.close()
	log.Info().Str("module", "audio").Int("playbacks", len(playbacks)).Msg("graph closed")
	return err
}
