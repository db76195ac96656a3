// Package reward implements the GEVR reward-token ledger: a fungible
// balance ledger with mint, transfer and allowance semantics. Tokens are
// minted by the campaign engine in proportion to contributions and are
// never burned; slashing moves them to the treasury, it does not destroy
// them, so sum(balances) == totalSupply at every observable point.
package reward

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/gevidence-labs/gevidence/core/pkg/domain"
	"github.com/gevidence-labs/gevidence/core/pkg/eventlog"
)

// Scope is the event-log scope for token movements.
const Scope = "reward"

// Ledger tracks balances and allowances in token base units (18 decimals).
type Ledger struct {
	mu          sync.RWMutex
	name        string
	symbol      string
	balances    map[domain.Principal]*big.Int
	allowances  map[domain.Principal]map[domain.Principal]*big.Int
	totalSupply *big.Int
	minter      domain.Principal
	log         *eventlog.Log
}

// NewLedger creates an empty ledger. The minter is the single system
// principal allowed to call Mint; everything else moves existing tokens.
func NewLedger(name, symbol string, minter domain.Principal, log *eventlog.Log) *Ledger {
	return &Ledger{
		name:        name,
		symbol:      symbol,
		balances:    make(map[domain.Principal]*big.Int),
		allowances:  make(map[domain.Principal]map[domain.Principal]*big.Int),
		totalSupply: new(big.Int),
		minter:      minter,
		log:         log,
	}
}

// Name returns the token name, e.g. "GEvidence Reward".
func (l *Ledger) Name() string { return l.name }

// Symbol returns the token symbol, e.g. "GEVR".
func (l *Ledger) Symbol() string { return l.symbol }

// BalanceOf returns a copy of the principal's balance.
func (l *Ledger) BalanceOf(p domain.Principal) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[p]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// TotalSupply returns a copy of the total minted supply.
func (l *Ledger) TotalSupply() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.totalSupply)
}

// Allowance returns how much spender may transfer out of owner's balance.
func (l *Ledger) Allowance(owner, spender domain.Principal) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if a, ok := l.allowances[owner][spender]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// Mint credits amount to `to` and grows totalSupply. Caller must be the
// bound minter.
func (l *Ledger) Mint(caller, to domain.Principal, amount *big.Int) error {
	if err := domain.CheckAmount(amount); err != nil {
		return fmt.Errorf("mint: %w: %v", domain.ErrInvalidArgument, err)
	}
	if to.Zero() {
		return fmt.Errorf("mint to empty principal: %w", domain.ErrInvalidArgument)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.minter.Zero() || caller != l.minter {
		return fmt.Errorf("mint: caller %s is not the minter: %w", caller, domain.ErrUnauthorized)
	}
	l.credit(to, amount)
	l.totalSupply.Add(l.totalSupply, amount)

	l.emit("RewardMinted", caller, map[string]any{
		"to":     string(to),
		"amount": amount.String(),
	})
	return nil
}

// Transfer moves amount from the caller's balance to `to`.
func (l *Ledger) Transfer(caller, to domain.Principal, amount *big.Int) error {
	if err := domain.CheckAmount(amount); err != nil {
		return fmt.Errorf("transfer: %w: %v", domain.ErrInvalidArgument, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.debit(caller, amount); err != nil {
		return err
	}
	l.credit(to, amount)

	l.emit("Transfer", caller, map[string]any{
		"from":   string(caller),
		"to":     string(to),
		"amount": amount.String(),
	})
	return nil
}

// Approve sets spender's allowance over the caller's balance.
func (l *Ledger) Approve(caller, spender domain.Principal, amount *big.Int) error {
	if err := domain.CheckAmount(amount); err != nil {
		return fmt.Errorf("approve: %w: %v", domain.ErrInvalidArgument, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.allowances[caller] == nil {
		l.allowances[caller] = make(map[domain.Principal]*big.Int)
	}
	l.allowances[caller][spender] = new(big.Int).Set(amount)

	l.emit("Approval", caller, map[string]any{
		"owner":   string(caller),
		"spender": string(spender),
		"amount":  amount.String(),
	})
	return nil
}

// TransferFrom moves amount from `from` to `to`, consuming the caller's
// allowance. Fails with InsufficientFunds when either the allowance or the
// balance falls short; on failure nothing moves.
func (l *Ledger) TransferFrom(caller, from, to domain.Principal, amount *big.Int) error {
	if err := domain.CheckAmount(amount); err != nil {
		return fmt.Errorf("transferFrom: %w: %v", domain.ErrInvalidArgument, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	allowance, ok := l.allowances[from][caller]
	if !ok || allowance.Cmp(amount) < 0 {
		return fmt.Errorf("transferFrom: allowance of %s for %s is short: %w", from, caller, domain.ErrInsufficientFunds)
	}
	if err := l.debit(from, amount); err != nil {
		return err
	}
	allowance.Sub(allowance, amount)
	l.credit(to, amount)

	l.emit("Transfer", caller, map[string]any{
		"from":   string(from),
		"to":     string(to),
		"amount": amount.String(),
	})
	return nil
}

// debit requires l.mu held.
func (l *Ledger) debit(p domain.Principal, amount *big.Int) error {
	b, ok := l.balances[p]
	if !ok || b.Cmp(amount) < 0 {
		return fmt.Errorf("balance of %s is short of %s: %w", p, amount, domain.ErrInsufficientFunds)
	}
	b.Sub(b, amount)
	return nil
}

// credit requires l.mu held.
func (l *Ledger) credit(p domain.Principal, amount *big.Int) {
	if b, ok := l.balances[p]; ok {
		b.Add(b, amount)
		return
	}
	l.balances[p] = new(big.Int).Set(amount)
}

func (l *Ledger) emit(kind string, actor domain.Principal, fields map[string]any) {
	if l.log == nil {
		return
	}
	_, _ = l.log.Append(Scope, kind, string(actor), fields)
}
