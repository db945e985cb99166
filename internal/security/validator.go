package security

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/optionsfi/rfq-router/pkg/model"
)

// base58 alphabet without 0, O, I, l; Solana public keys encode to 32–44 chars.
var base58Address = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// ValidationError lists every constraint a request violated.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, "; ")
}

// ValidateRfqRequest performs structural checks on a taker request and
// returns every violation found. An empty result means the request is valid.
func ValidateRfqRequest(req model.RfqRequest, now time.Time) []string {
	var errs []string

	if strings.TrimSpace(req.Underlying) == "" {
		errs = append(errs, "underlying is required")
	}

	switch model.OptionType(strings.ToUpper(strings.TrimSpace(string(req.OptionType)))) {
	case model.OptionCall, model.OptionPut:
	default:
		errs = append(errs, "optionType must be 'call' or 'put'")
	}

	if req.Side != "" {
		side := strings.ToLower(strings.TrimSpace(req.Side))
		if side != "buy" && side != "sell" {
			errs = append(errs, "side must be 'buy' or 'sell'")
		}
	}

	if req.Settlement != "" {
		switch model.Settlement(strings.ToUpper(strings.TrimSpace(string(req.Settlement)))) {
		case model.SettlementCash, model.SettlementPhysical:
		default:
			errs = append(errs, "settlement must be 'cash' or 'physical'")
		}
	}

	if !(req.Strike > 0) || math.IsInf(req.Strike, 0) {
		errs = append(errs, "strike must be greater than 0")
	}

	if !(req.Size > 0) || req.Size > model.MaxSize {
		errs = append(errs, fmt.Sprintf("size must be greater than 0 and at most %d", model.MaxSize))
	}

	if req.PremiumFloor < 0 || math.IsNaN(req.PremiumFloor) {
		errs = append(errs, "premiumFloor cannot be negative")
	}

	nowTs := now.Unix()
	if req.ExpiryTs <= nowTs {
		errs = append(errs, "expiryTs must be in the future")
	}

	if req.ValidUntilTs != 0 {
		if req.ValidUntilTs <= nowTs {
			errs = append(errs, "validUntilTs must be in the future")
		} else if req.ExpiryTs > nowTs && req.ValidUntilTs > req.ExpiryTs {
			errs = append(errs, "validUntilTs must not be after expiryTs")
		}
	}

	if req.VaultAddress != "" && !base58Address.MatchString(req.VaultAddress) {
		errs = append(errs, "vaultAddress must be a base58 address of 32-44 characters")
	}

	return errs
}

// ValidateQuote checks a maker quote before it reaches the collector.
func ValidateQuote(rfqID string, premium int64) []string {
	var errs []string
	if strings.TrimSpace(rfqID) == "" {
		errs = append(errs, "rfqId is required")
	}
	if premium < 0 {
		errs = append(errs, "premium cannot be negative")
	}
	return errs
}

// SanitizeRequest normalizes enum casing and strips unsafe characters from
// the free-text fields. The sanitized form is validated again before storage.
func SanitizeRequest(req model.RfqRequest) model.RfqRequest {
	req.Underlying = Sanitize(req.Underlying)
	req.OptionType = model.OptionType(strings.ToUpper(Sanitize(string(req.OptionType))))
	req.Settlement = model.Settlement(strings.ToUpper(Sanitize(string(req.Settlement))))
	if req.Settlement == "" {
		req.Settlement = model.SettlementCash
	}
	req.Side = strings.ToLower(Sanitize(req.Side))
	req.VaultAddress = Sanitize(req.VaultAddress)
	return req
}
