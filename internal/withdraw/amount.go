package withdraw

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"QuantaCasino/internal/ledger"
)

// ErrBadAmount rejects amount strings that do not parse or carry more
// precision than one mQC.
var ErrBadAmount = errors.New("withdraw: bad amount")

var (
	mqcPerQC  = decimal.NewFromInt(ledger.MQCPerQC)
	mqcPerSOL = decimal.NewFromInt(ledger.MQCPerSOL)
)

// ParseAmount converts a user-facing amount string to mQC. Accepted
// forms: "500qc", "0.5sol", "250000mqc", or a bare number read as QC.
// Decimal math is exact; anything finer than one mQC is rejected rather
// than rounded.
func ParseAmount(raw string) (int64, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, ErrBadAmount
	}

	unit := mqcPerQC
	switch {
	case strings.HasSuffix(s, "mqc"):
		unit = decimal.NewFromInt(1)
		s = strings.TrimSuffix(s, "mqc")
	case strings.HasSuffix(s, "qc"):
		s = strings.TrimSuffix(s, "qc")
	case strings.HasSuffix(s, "sol"):
		unit = mqcPerSOL
		s = strings.TrimSuffix(s, "sol")
	}

	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, ErrBadAmount
	}
	mqc := d.Mul(unit)
	if !mqc.IsInteger() || mqc.Sign() <= 0 {
		return 0, ErrBadAmount
	}
	if !mqc.BigInt().IsInt64() {
		return 0, ErrBadAmount
	}
	return mqc.BigInt().Int64(), nil
}
