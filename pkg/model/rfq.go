package model

import (
	"time"
)

// OptionType is the option right being written against the vault.
type OptionType string

const (
	OptionCall OptionType = "CALL"
	OptionPut  OptionType = "PUT"
)

// Settlement describes how an exercised option settles.
type Settlement string

const (
	SettlementCash     Settlement = "CASH"
	SettlementPhysical Settlement = "PHYSICAL"
)

// Status is the lifecycle state of an RFQ.
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusFilled    Status = "FILLED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	return s == StatusFilled || s == StatusExpired || s == StatusCancelled
}

// MaxSize is the largest notional accepted on a single RFQ.
const MaxSize = 1_000_000

// RfqRequest is the taker-supplied auction description. It is immutable once accepted.
type RfqRequest struct {
	Underlying   string     `json:"underlying"`
	OptionType   OptionType `json:"optionType"`
	ExpiryTs     int64      `json:"expiryTs"`
	Strike       float64    `json:"strike"`
	Size         float64    `json:"size"`
	PremiumFloor float64    `json:"premiumFloor"`
	ValidUntilTs int64      `json:"validUntilTs"`
	Settlement   Settlement `json:"settlement"`
	OraclePrice  float64    `json:"oraclePrice"`
	OracleTs     int64      `json:"oracleTs"`

	// Optional fields carried by SDK-originated requests.
	Side         string `json:"side,omitempty"`
	VaultAddress string `json:"vaultAddress,omitempty"`
}

// Quote is a maker's premium bid against one RFQ.
type Quote struct {
	Maker            string    `json:"maker"`
	Premium          uint64    `json:"premium"`
	MakerWallet      string    `json:"makerWallet,omitempty"`
	UsdcTokenAccount string    `json:"usdcTokenAccount,omitempty"`
	ReceivedAt       time.Time `json:"receivedAt"`

	// Seq is the insertion index within the owning RFQ; it breaks ties
	// between quotes whose ReceivedAt collide at clock resolution.
	Seq int `json:"-"`
}

// Beats reports whether q outranks other: higher premium wins, then the
// earlier arrival.
func (q Quote) Beats(other Quote) bool {
	if q.Premium != other.Premium {
		return q.Premium > other.Premium
	}
	if !q.ReceivedAt.Equal(other.ReceivedAt) {
		return q.ReceivedAt.Before(other.ReceivedAt)
	}
	return q.Seq < other.Seq
}

// Rfq is the server-owned auction entity.
type Rfq struct {
	ID string `json:"id"`
	RfqRequest
	Status    Status    `json:"status"`
	Quotes    []Quote   `json:"quotes"`
	BestQuote *Quote    `json:"bestQuote"`
	CreatedAt time.Time `json:"createdAt"`

	// Audit fields, written once at the terminal transition.
	Winner      *Quote     `json:"winner,omitempty"`
	ClosedAt    *time.Time `json:"closedAt,omitempty"`
	CloseReason string     `json:"closeReason,omitempty"`
}

// QuoteCount returns the number of accepted quotes.
func (r *Rfq) QuoteCount() int {
	return len(r.Quotes)
}

// ValidUntil returns the quote-collection deadline.
func (r *Rfq) ValidUntil() time.Time {
	return time.Unix(r.ValidUntilTs, 0)
}

// Clone returns a deep copy safe to hand out of the registry.
func (r *Rfq) Clone() *Rfq {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Quotes = append([]Quote(nil), r.Quotes...)
	if r.BestQuote != nil {
		bq := *r.BestQuote
		cp.BestQuote = &bq
	}
	if r.Winner != nil {
		w := *r.Winner
		cp.Winner = &w
	}
	if r.ClosedAt != nil {
		t := *r.ClosedAt
		cp.ClosedAt = &t
	}
	return &cp
}

// Summary projects the public listing view.
func (r *Rfq) Summary() RfqSummary {
	return RfqSummary{
		ID:         r.ID,
		Underlying: r.Underlying,
		Strike:     r.Strike,
		Size:       r.Size,
		QuoteCount: r.QuoteCount(),
	}
}

// StatusView projects the polling view. Callers must build it from a single
// snapshot so QuoteCount and BestQuote agree.
func (r *Rfq) StatusView() RfqStatusView {
	v := RfqStatusView{
		ID:         r.ID,
		Underlying: r.Underlying,
		OptionType: r.OptionType,
		Strike:     r.Strike,
		Size:       r.Size,
		Status:     r.Status,
		QuoteCount: r.QuoteCount(),
	}
	if r.BestQuote != nil {
		bq := *r.BestQuote
		v.BestQuote = &bq
	}
	return v
}

// RfqSummary is the discovery view; it never exposes quote details.
type RfqSummary struct {
	ID         string  `json:"id"`
	Underlying string  `json:"underlying"`
	Strike     float64 `json:"strike"`
	Size       float64 `json:"size"`
	QuoteCount int     `json:"quoteCount"`
}

// RfqStatusView is returned to a polling taker.
type RfqStatusView struct {
	ID         string     `json:"id"`
	Underlying string     `json:"underlying"`
	OptionType OptionType `json:"optionType"`
	Strike     float64    `json:"strike"`
	Size       float64    `json:"size"`
	Status     Status     `json:"status"`
	QuoteCount int        `json:"quoteCount"`
	BestQuote  *Quote     `json:"bestQuote"`
}

// Fill identifies the winning quote of a filled RFQ.
type Fill struct {
	RfqID   string `json:"rfqId"`
	Maker   string `json:"maker"`
	Premium uint64 `json:"premium"`
}

// FillResult is the outcome of a fill attempt. A lost race, an empty book
// and an already-closed RFQ all look the same to the caller.
type FillResult struct {
	Success bool  `json:"success"`
	Filled  *Fill `json:"filled,omitempty"`
}

// QuoteAck is the outcome of a quote submission.
type QuoteAck struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}
