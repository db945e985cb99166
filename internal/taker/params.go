package taker

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/optionsfi/rfq-router/pkg/model"
)

// DefaultEpochHours is one weekly vault epoch.
const DefaultEpochHours = 168

var (
	hundred     = decimal.NewFromInt(100)
	bpsDivisor  = decimal.NewFromInt(10_000)
	floorRate   = decimal.RequireFromString("0.003")
	oracleScale = decimal.NewFromInt(1_000_000)
	quoteWindow = time.Hour
)

// CoveredCallParams derives an RFQ for writing calls against vault
// collateral: the strike sits strikeOffsetPct above spot, the floor is
// 0.3% of notional and the quote window is one hour.
func CoveredCallParams(spot, strikeOffsetPct, notional float64, epochHours int, now time.Time) model.RfqRequest {
	if epochHours <= 0 {
		epochHours = DefaultEpochHours
	}
	strike := decimal.NewFromFloat(spot).
		Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(strikeOffsetPct))).
		Round(2)
	floor := decimal.NewFromFloat(notional).Mul(floorRate).Round(0)

	return model.RfqRequest{
		OptionType:   model.OptionCall,
		ExpiryTs:     now.Add(time.Duration(epochHours) * time.Hour).Unix(),
		Strike:       strike.InexactFloat64(),
		Size:         notional,
		PremiumFloor: floor.InexactFloat64(),
		ValidUntilTs: now.Add(quoteWindow).Unix(),
		Settlement:   model.SettlementCash,
	}
}

// CoveredCall describes one epoch's roll for a vault.
type CoveredCall struct {
	Underlying      string
	Spot            float64
	StrikeOffsetPct float64
	Notional        float64
	EpochHours      int
	VaultAddress    string
}

// Request builds the RFQ, stamping the oracle price in micro-units.
func (c CoveredCall) Request(now time.Time) model.RfqRequest {
	req := CoveredCallParams(c.Spot, c.StrikeOffsetPct, c.Notional, c.EpochHours, now)
	req.Underlying = c.Underlying
	req.OraclePrice = decimal.NewFromFloat(c.Spot).Mul(oracleScale).Round(0).InexactFloat64()
	req.OracleTs = now.Unix()
	req.VaultAddress = c.VaultAddress
	return req
}

// FormatPremiumPct renders premium as a percentage of notional.
func FormatPremiumPct(premium, notional float64) string {
	if notional == 0 {
		return "0.00%"
	}
	pct := decimal.NewFromFloat(premium).Div(decimal.NewFromFloat(notional)).Mul(hundred)
	return pct.StringFixed(2) + "%"
}

// FormatPremiumUSD renders a premium quoted in basis points of notional as dollars.
func FormatPremiumUSD(bps, notional float64) string {
	usd := decimal.NewFromFloat(bps).Div(bpsDivisor).Mul(decimal.NewFromFloat(notional))
	return "$" + usd.StringFixed(2)
}
