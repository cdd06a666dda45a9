package rtc

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/zaf/g711"
)

// SampleRate is the PCMU clock rate. The audio graph must run at it.
const SampleRate = 8000

var ErrUnsupportedCodec = errors.New("unsupported codec")

func pcmuCapability() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: SampleRate, Channels: 1}
}

// encodeULaw converts float PCM in [-1,1] to one mu-law byte per sample.
func encodeULaw(frame []float32) []byte {
	out := make([]byte, len(frame))
	for i, s := range frame {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = g711.EncodeUlawFrame(int16(s * 32767))
	}
	return out
}

func decodeULaw(payload []byte) []float32 {
	out := make([]float32, len(payload))
	for i, b := range payload {
		out[i] = float32(g711.DecodeUlawFrame(b)) / 32768
	}
	return out
}

// frameDuration is the playout duration of n samples at SampleRate.
func frameDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}

// frameFromPacket decodes one RTP packet of a track negotiated with mime.
func frameFromPacket(mime string, pkt *rtp.Packet) ([]float32, error) {
	if !strings.EqualFold(mime, webrtc.MimeTypePCMU) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, mime)
	}
	return decodeULaw(pkt.Payload), nil
}
