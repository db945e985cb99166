package maker

import (
	"github.com/optionsfi/rfq-router/pkg/model"
)

// Message types exchanged on the maker socket.
const (
	MsgRFQ      = "rfq"
	MsgQuote    = "quote"
	MsgQuoteAck = "quote_ack"
	MsgFill     = "fill"
	MsgPing     = "ping"
	MsgPong     = "pong"
)

type header struct {
	Type string `json:"type"`
}

// RFQMessage announces a new auction to every connected maker.
type RFQMessage struct {
	Type         string           `json:"type"`
	RfqID        string           `json:"rfqId"`
	Underlying   string           `json:"underlying"`
	OptionType   model.OptionType `json:"optionType"`
	Strike       float64          `json:"strike"`
	Size         float64          `json:"size"`
	Expiry       int64            `json:"expiry"`
	ValidUntil   int64            `json:"validUntil"`
	PremiumFloor float64          `json:"premiumFloor"`
}

// QuoteMessage is a maker's bid. Premium is in base units of the settlement
// asset; a fractional value fails decoding and a missing or null premium is
// rejected, both as malformed.
type QuoteMessage struct {
	Type             string `json:"type"`
	RfqID            string `json:"rfqId"`
	Premium          *int64 `json:"premium"`
	MakerWallet      string `json:"makerWallet,omitempty"`
	UsdcTokenAccount string `json:"usdcTokenAccount,omitempty"`
}

// QuoteAckMessage tells the maker whether its quote was counted.
type QuoteAckMessage struct {
	Type     string `json:"type"`
	RfqID    string `json:"rfqId"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// FillMessage is sent to the winning maker only.
type FillMessage struct {
	Type    string `json:"type"`
	RfqID   string `json:"rfqId"`
	Premium uint64 `json:"premium"`
}

// PingMessage is an application-level keepalive; the router answers with pong.
type PingMessage struct {
	Type string `json:"type"`
	Ts   int64  `json:"ts,omitempty"`
}

func newRFQMessage(r *model.Rfq) RFQMessage {
	return RFQMessage{
		Type:         MsgRFQ,
		RfqID:        r.ID,
		Underlying:   r.Underlying,
		OptionType:   r.OptionType,
		Strike:       r.Strike,
		Size:         r.Size,
		Expiry:       r.ExpiryTs,
		ValidUntil:   r.ValidUntilTs,
		PremiumFloor: r.PremiumFloor,
	}
}
