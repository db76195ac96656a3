//go:build property
// +build property

// Property-based tests for ledger conservation invariants.
package reward

import (
	"math/big"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/gevidence-labs/gevidence/core/pkg/domain"
)

var holders = []domain.Principal{"0xa", "0xb", "0xc", "0xd"}

func supplyMatchesBalances(l *Ledger) bool {
	sum := new(big.Int)
	for _, h := range holders {
		sum.Add(sum, l.BalanceOf(h))
	}
	return sum.Cmp(l.TotalSupply()) == 0
}

// TestSupplyConservationProperty verifies totalSupply == sum(balances) after
// any interleaving of mints and transfers.
func TestSupplyConservationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("supply equals sum of balances", prop.ForAll(
		func(ops []uint8, amounts []int64) bool {
			l := NewLedger("GEvidence Reward", "GEVR", minter, nil)
			for i := 0; i < len(ops) && i < len(amounts); i++ {
				amt := big.NewInt(amounts[i] % 1_000_000)
				if amt.Sign() < 0 {
					amt.Neg(amt)
				}
				from := holders[int(ops[i])%len(holders)]
				to := holders[int(ops[i]/4)%len(holders)]
				switch ops[i] % 3 {
				case 0:
					_ = l.Mint(minter, to, amt)
				case 1:
					_ = l.Transfer(from, to, amt)
				case 2:
					_ = l.Approve(from, to, amt)
					_ = l.TransferFrom(to, from, to, amt)
				}
				if !supplyMatchesBalances(l) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt8()),
		gen.SliceOf(gen.Int64()),
	))

	// Transfers never change the supply; only mint grows it.
	properties.Property("transfer conserves supply", prop.ForAll(
		func(mintAmt, moveAmt int64) bool {
			if mintAmt < 0 {
				mintAmt = -mintAmt
			}
			if moveAmt < 0 {
				moveAmt = -moveAmt
			}
			l := NewLedger("GEvidence Reward", "GEVR", minter, nil)
			_ = l.Mint(minter, alice, big.NewInt(mintAmt))
			before := l.TotalSupply()
			_ = l.Transfer(alice, bob, big.NewInt(moveAmt))
			return l.TotalSupply().Cmp(before) == 0
		},
		gen.Int64(),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
