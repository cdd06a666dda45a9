package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

type wireUser struct {
	ID    domain.UserID `json:"id"`
	Emoji *string       `json:"emoji,omitempty"`
	Muted *bool         `json:"muted,omitempty"`
	// Older relays spell the flag "mute".
	LegacyMute *bool `json:"mute,omitempty"`
}

type wireRoom struct {
	Name    string       `json:"name,omitempty"`
	Online  int          `json:"online,omitempty"`
	Users   []wireUser   `json:"users"`
	Playing *domain.Song `json:"playing,omitempty"`
}

type wireEnvelope struct {
	Type      string                     `json:"type"`
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	User      *wireUser                  `json:"user,omitempty"`
	Room      *wireRoom                  `json:"room,omitempty"`
	Song      *domain.Song               `json:"song,omitempty"`
	Desc      string                     `json:"desc,omitempty"`
}

func toWireUser(p domain.UserPatch) *wireUser {
	return &wireUser{ID: p.ID, Emoji: p.Emoji, Muted: p.Muted}
}

func (w *wireUser) patch() domain.UserPatch {
	p := domain.UserPatch{ID: w.ID, Emoji: w.Emoji, Muted: w.Muted}
	if p.Muted == nil {
		p.Muted = w.LegacyMute
	}
	return p
}

// Encode serializes m into its wire form.
func Encode(m Message) ([]byte, error) {
	env := wireEnvelope{Type: string(m.Kind())}
	switch v := m.(type) {
	case Offer:
		d := v.Description
		env.Offer = &d
	case Answer:
		d := v.Description
		env.Answer = &d
	case Candidate:
		c := v.Candidate
		env.Candidate = &c
	case Failure:
		env.Desc = v.Desc
	case UserEvent:
		if !v.Type.isUserKind() {
			return nil, newError(string(v.Type), fmt.Errorf("%w: not a user event", ErrMalformedPayload))
		}
		env.User = toWireUser(v.User)
	case RoomSnapshot:
		r := &wireRoom{
			Name:    v.Room.Name,
			Online:  v.Room.Online,
			Users:   make([]wireUser, 0, len(v.Room.Users)),
			Playing: v.Room.Playing,
		}
		for _, u := range v.Room.Users {
			r.Users = append(r.Users, *toWireUser(domain.PatchOf(u)))
		}
		env.Room = r
	case SongEvent:
		if !v.Type.isSongKind() {
			return nil, newError(string(v.Type), fmt.Errorf("%w: not a song event", ErrMalformedPayload))
		}
		s := v.Song
		env.Song = &s
	case Unknown:
		if len(v.Raw) > 0 {
			return v.Raw, nil
		}
	default:
		return nil, newError(string(m.Kind()), fmt.Errorf("%w: unsupported message %T", ErrMalformedPayload, m))
	}
	return json.Marshal(env)
}

// Decode parses one wire envelope. Every returned error is a *Error.
// Unknown type tags decode into Unknown rather than failing.
func Decode(data []byte) (Message, error) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, newError("", fmt.Errorf("%w: %v", ErrBadJSON, err))
	}
	if env.Type == "" {
		return nil, newError("", ErrMissingType)
	}

	k := Kind(env.Type)
	switch {
	case k == KindOffer || k == KindOfferStereo:
		d, err := description(env.Offer, webrtc.SDPTypeOffer)
		if err != nil {
			return nil, newError(env.Type, err)
		}
		return Offer{Stereo: k == KindOfferStereo, Description: d}, nil
	case k == KindAnswer:
		d, err := description(env.Answer, webrtc.SDPTypeAnswer)
		if err != nil {
			return nil, newError(env.Type, err)
		}
		return Answer{Description: d}, nil
	case k == KindCandidate:
		if env.Candidate == nil {
			return nil, newError(env.Type, ErrMissingPayload)
		}
		return Candidate{Candidate: *env.Candidate}, nil
	case k == KindError:
		return Failure{Desc: env.Desc}, nil
	case k.isUserKind():
		if env.User == nil {
			return nil, newError(env.Type, ErrMissingPayload)
		}
		if err := env.User.ID.Validate(); err != nil {
			return nil, newError(env.Type, fmt.Errorf("%w: %v", ErrMalformedPayload, err))
		}
		return UserEvent{Type: k, User: env.User.patch()}, nil
	case k == KindRoom:
		if env.Room == nil {
			return nil, newError(env.Type, ErrMissingPayload)
		}
		room := domain.RoomState{
			Name:    env.Room.Name,
			Online:  env.Room.Online,
			Users:   make([]domain.User, 0, len(env.Room.Users)),
			Playing: env.Room.Playing,
		}
		for i := range env.Room.Users {
			u := &env.Room.Users[i]
			if err := u.ID.Validate(); err != nil {
				return nil, newError(env.Type, fmt.Errorf("%w: user %d: %v", ErrMalformedPayload, i, err))
			}
			room.Users = append(room.Users, u.patch().User())
		}
		return RoomSnapshot{Room: room}, nil
	case k.isSongKind():
		if env.Song == nil {
			return nil, newError(env.Type, ErrMissingPayload)
		}
		return SongEvent{Type: k, Song: *env.Song}, nil
	}

	raw := make([]byte, len(data))
	copy(raw, data)
	return Unknown{Type: env.Type, Raw: raw}, nil
}

// description checks presence, type and SDP syntax of an offer/answer payload.
func description(d *webrtc.SessionDescription, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	if d == nil {
		return webrtc.SessionDescription{}, ErrMissingPayload
	}
	out := webrtc.SessionDescription{Type: d.Type, SDP: d.SDP}
	if out.Type == webrtc.SDPTypeUnknown {
		out.Type = want
	}
	if out.Type != want {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: sdp type %s, want %s", ErrMalformedPayload, out.Type, want)
	}
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(out.SDP)); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return out, nil
}
