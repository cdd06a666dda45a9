package signal

import (
	"github.com/dkeye/voiceroom/internal/core"
	"github.com/dkeye/voiceroom/internal/protocol"
)

var _ core.NegotiationSignals = (*Channel)(nil)

// OnOffer handles plain offers. Stereo offers are not negotiation input
// for a client and reach OnEvent instead.
func (c *Channel) OnOffer(fn func(protocol.Offer)) core.Subscription {
	return c.onOffer.set(fn)
}

func (c *Channel) OnAnswer(fn func(protocol.Answer)) core.Subscription {
	return c.onAnswer.set(fn)
}

func (c *Channel) OnCandidate(fn func(protocol.Candidate)) core.Subscription {
	return c.onCandidate.set(fn)
}
