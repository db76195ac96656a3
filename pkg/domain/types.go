// Package domain holds the value types and error taxonomy shared by every
// GEvidence engine: principals, content hashes, and wei/token amounts.
//
// Amounts use math/big integers in base units (18 decimals), matching the
// on-chain accounting the engines replicate. int64 cannot represent a
// 1200-token reward (1.2e21 base units), so amounts are *big.Int throughout
// and negative values are rejected at every entry point.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// Principal identifies an actor: a user account, the treasury, or one of the
// engine system principals. Opaque address-like string; engines never parse it.
type Principal string

// Zero reports whether the principal is unset.
func (p Principal) Zero() bool { return p == "" }

// Hash is a content hash in "sha256:<hex>" form.
type Hash string

// HashText computes the Hash of a UTF-8 string.
func HashText(s string) Hash {
	sum := sha256.Sum256([]byte(s))
	return Hash("sha256:" + hex.EncodeToString(sum[:]))
}

// HashBytes computes the Hash of raw bytes.
func HashBytes(b []byte) Hash {
	sum := sha256.Sum256(b)
	return Hash("sha256:" + hex.EncodeToString(sum[:]))
}

// WeiPerEther is the fixed-point scale for value amounts and reward rates.
var WeiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ParseUnits parses a decimal string into base units with the given number
// of decimals, e.g. ParseUnits("1.2", 18) == 1.2e18.
func ParseUnits(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("parse units: empty amount")
	}
	neg := strings.HasPrefix(s, "-")
	if neg {
		return nil, fmt.Errorf("parse units: negative amount %q", s)
	}
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > decimals {
		return nil, fmt.Errorf("parse units: %q has more than %d decimals", s, decimals)
	}
	frac += strings.Repeat("0", decimals-len(frac))
	v, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("parse units: invalid amount %q", s)
	}
	return v, nil
}

// MustParseUnits is ParseUnits for static literals; panics on error.
func MustParseUnits(s string, decimals int) *big.Int {
	v, err := ParseUnits(s, decimals)
	if err != nil {
		panic(err)
	}
	return v
}

// FormatUnits renders base units as a decimal string, trimming trailing zeros.
func FormatUnits(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(v, scale, new(big.Int))
	if frac.Sign() == 0 {
		return whole.String()
	}
	fs := strings.TrimRight(fmt.Sprintf("%0*s", decimals, frac.String()), "0")
	return whole.String() + "." + fs
}

// CheckAmount validates that an amount is present and non-negative.
func CheckAmount(v *big.Int) error {
	if v == nil {
		return fmt.Errorf("amount is nil")
	}
	if v.Sign() < 0 {
		return fmt.Errorf("amount %s is negative", v)
	}
	return nil
}
