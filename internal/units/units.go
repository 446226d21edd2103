// Package units holds the two amount representations used by the indexer
// and the only conversion between them.
//
// AtomicAmount is the ledger-native integer (lamport-style smallest unit).
// DisplayAmount is the human-facing decimal stored in aggregate columns.
// Nothing outside this package multiplies or divides by the token scale.
package units

import (
	"database/sql/driver"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimals is the scale of USDC and of the pool side tokens.
const Decimals = 6

// AtomicAmount is an arbitrary-precision ledger integer.
// The zero value is 0.
type AtomicAmount struct {
	v *big.Int
}

// NewAtomic wraps a copy of v. A nil v yields zero.
func NewAtomic(v *big.Int) AtomicAmount {
	if v == nil {
		return AtomicAmount{}
	}
	return AtomicAmount{v: new(big.Int).Set(v)}
}

// AtomicFromInt64 is a convenience constructor for literals and tests.
func AtomicFromInt64(v int64) AtomicAmount {
	return AtomicAmount{v: big.NewInt(v)}
}

// AtomicFromUint64 wraps a u64 ledger field.
func AtomicFromUint64(v uint64) AtomicAmount {
	return AtomicAmount{v: new(big.Int).SetUint64(v)}
}

// ParseAtomic parses a base-10 integer string.
func ParseAtomic(s string) (AtomicAmount, error) {
	if s == "" {
		return AtomicAmount{}, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return AtomicAmount{}, fmt.Errorf("parse atomic amount %q", s)
	}
	return AtomicAmount{v: v}, nil
}

// Big returns a copy of the underlying integer.
func (a AtomicAmount) Big() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.v)
}

func (a AtomicAmount) int() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

func (a AtomicAmount) String() string { return a.int().String() }

func (a AtomicAmount) Sign() int { return a.int().Sign() }

func (a AtomicAmount) IsZero() bool { return a.Sign() == 0 }

func (a AtomicAmount) Cmp(b AtomicAmount) int { return a.int().Cmp(b.int()) }

func (a AtomicAmount) Equal(b AtomicAmount) bool { return a.Cmp(b) == 0 }

func (a AtomicAmount) Add(b AtomicAmount) AtomicAmount {
	return AtomicAmount{v: new(big.Int).Add(a.int(), b.int())}
}

func (a AtomicAmount) Sub(b AtomicAmount) AtomicAmount {
	return AtomicAmount{v: new(big.Int).Sub(a.int(), b.int())}
}

func (a AtomicAmount) Neg() AtomicAmount {
	return AtomicAmount{v: new(big.Int).Neg(a.int())}
}

// MulDiv returns floor(a * num / den). den must be positive.
func (a AtomicAmount) MulDiv(num, den AtomicAmount) AtomicAmount {
	if den.Sign() <= 0 {
		return AtomicAmount{}
	}
	p := new(big.Int).Mul(a.int(), num.int())
	// Quo truncates toward zero; amounts here are non-negative so this is floor.
	return AtomicAmount{v: p.Quo(p, den.int())}
}

// Abs returns |a|.
func (a AtomicAmount) Abs() AtomicAmount {
	return AtomicAmount{v: new(big.Int).Abs(a.int())}
}

// WithinEpsilon reports whether |a-b| <= eps.
func (a AtomicAmount) WithinEpsilon(b, eps AtomicAmount) bool {
	return a.Sub(b).Abs().Cmp(eps) <= 0
}

// Scan implements sql.Scanner for NUMERIC columns.
func (a *AtomicAmount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = AtomicAmount{}
		return nil
	case string:
		p, err := ParseAtomic(v)
		if err != nil {
			return err
		}
		*a = p
		return nil
	case []byte:
		p, err := ParseAtomic(string(v))
		if err != nil {
			return err
		}
		*a = p
		return nil
	case int64:
		*a = AtomicFromInt64(v)
		return nil
	default:
		return fmt.Errorf("scan atomic amount: unsupported type %T", src)
	}
}

// Value implements driver.Valuer; NUMERIC accepts the decimal string.
func (a AtomicAmount) Value() (driver.Value, error) {
	return a.String(), nil
}

// DisplayAmount is a decimal in token units (atomic / 10^Decimals).
type DisplayAmount struct {
	d decimal.Decimal
}

// NewDisplay wraps an existing decimal.
func NewDisplay(d decimal.Decimal) DisplayAmount { return DisplayAmount{d: d} }

// ParseDisplay parses a decimal string such as "50.000000".
func ParseDisplay(s string) (DisplayAmount, error) {
	if s == "" {
		return DisplayAmount{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return DisplayAmount{}, fmt.Errorf("parse display amount %q: %w", s, err)
	}
	return DisplayAmount{d: d}, nil
}

func (d DisplayAmount) Decimal() decimal.Decimal { return d.d }

func (d DisplayAmount) String() string { return d.d.String() }

func (d DisplayAmount) IsZero() bool { return d.d.IsZero() }

func (d DisplayAmount) Equal(o DisplayAmount) bool { return d.d.Equal(o.d) }

func (d DisplayAmount) Add(o DisplayAmount) DisplayAmount { return DisplayAmount{d: d.d.Add(o.d)} }

// Scan implements sql.Scanner.
func (d *DisplayAmount) Scan(src any) error {
	if src == nil {
		*d = DisplayAmount{}
		return nil
	}
	var dec decimal.Decimal
	if err := dec.Scan(src); err != nil {
		return fmt.Errorf("scan display amount: %w", err)
	}
	*d = DisplayAmount{d: dec}
	return nil
}

// Value implements driver.Valuer.
func (d DisplayAmount) Value() (driver.Value, error) {
	return d.d.String(), nil
}

var scale = decimal.New(1, Decimals)

// ToDisplay converts an atomic amount into display units.
func ToDisplay(a AtomicAmount) DisplayAmount {
	return DisplayAmount{d: decimal.NewFromBigInt(a.int(), -Decimals)}
}

// ToAtomic converts a display amount back into atomic units.
// Digits below the atomic scale are truncated.
func ToAtomic(d DisplayAmount) AtomicAmount {
	return AtomicAmount{v: d.d.Mul(scale).Truncate(0).BigInt()}
}
