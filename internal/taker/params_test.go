package taker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/optionsfi/rfq-router/pkg/model"
)

func TestCoveredCallParams(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	req := CoveredCallParams(150, 0.10, 1000, 0, now)

	assert.Equal(t, model.OptionCall, req.OptionType)
	assert.Equal(t, model.SettlementCash, req.Settlement)
	assert.Equal(t, 165.0, req.Strike)
	assert.Equal(t, 1000.0, req.Size)
	assert.Equal(t, 3.0, req.PremiumFloor)
	assert.Equal(t, now.Add(time.Hour).Unix(), req.ValidUntilTs)
	assert.Equal(t, now.Add(168*time.Hour).Unix(), req.ExpiryTs)
}

func TestCoveredCallParams_RoundsStrike(t *testing.T) {
	req := CoveredCallParams(123.456, 0.05, 250, 24, time.Unix(0, 0))
	assert.Equal(t, 129.63, req.Strike)
	assert.Equal(t, 1.0, req.PremiumFloor)
	assert.Equal(t, int64(24*3600), req.ExpiryTs)
}

func TestCoveredCallRequest_Oracle(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	req := CoveredCall{Underlying: "NVDAx", Spot: 142.5, StrikeOffsetPct: 0.1, Notional: 500}.Request(now)

	assert.Equal(t, "NVDAx", req.Underlying)
	assert.Equal(t, 142_500_000.0, req.OraclePrice)
	assert.Equal(t, now.Unix(), req.OracleTs)
	assert.Equal(t, 156.75, req.Strike)
}

func TestFormatPremium(t *testing.T) {
	assert.Equal(t, "0.00%", FormatPremiumPct(5, 0))
	assert.Equal(t, "0.25%", FormatPremiumPct(2.5, 1000))
	assert.Equal(t, "$2.50", FormatPremiumUSD(25, 1000))
	assert.Equal(t, "$0.00", FormatPremiumUSD(0, 1000))
}
