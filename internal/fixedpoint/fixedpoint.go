// Package fixedpoint converts ledger fixed-point encodings into decimals.
package fixedpoint

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// PricePrecision is the number of fractional digits kept for derived prices.
const PricePrecision = 18

// q192 = 2^192, the denominator of a squared X96 value.
var q192 = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 192), 0)

var million = decimal.New(1, 6)

// SqrtPriceX96ToPrice returns (sqrtPriceX96 / 2^96)^2 rounded to
// PricePrecision digits. The raw value is squared as an integer first so no
// precision is lost before the single division.
func SqrtPriceX96ToPrice(sqrtPriceX96 *big.Int) decimal.Decimal {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return decimal.Zero
	}
	sq := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)
	return decimal.NewFromBigInt(sq, 0).DivRound(q192, PricePrecision)
}

// ParseSqrtPrice parses the base-10 string form stored in the mirror.
func ParseSqrtPrice(s string) (*big.Int, bool) {
	if s == "" {
		return new(big.Int), true
	}
	return new(big.Int).SetString(s, 10)
}

// FromMillionths decodes a score or factor scaled by 1e6.
func FromMillionths(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, 0).Div(million)
}
