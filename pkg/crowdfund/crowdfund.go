// Package crowdfund implements the verification crowdfunding engine:
// permissionless campaigns tied to an evidence item, escrowed wei
// contributions, proportional GEVR reward minting, and the finalize /
// withdraw / refund settlement paths.
//
// Value ordering follows checks-effects-interactions: every internal
// balance is updated before the corresponding payout event is emitted, so a
// reentrant second call always observes post-effect state.
package crowdfund

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/gevidence-labs/gevidence/core/pkg/domain"
	"github.com/gevidence-labs/gevidence/core/pkg/eventlog"
	"github.com/gevidence-labs/gevidence/core/pkg/registry"
	"github.com/gevidence-labs/gevidence/core/pkg/reward"
	"github.com/gevidence-labs/gevidence/core/pkg/roles"
)

// Campaign is one funding drive. Immutable after creation except
// RaisedWei, Finalized, Successful and Withdrawn.
type Campaign struct {
	ID         uint64           `json:"id"`
	EvidenceID uint64           `json:"evidence_id"`
	Creator    domain.Principal `json:"creator"`
	Title      string           `json:"title"`
	GoalWei    *big.Int         `json:"goal_wei"`
	RaisedWei  *big.Int         `json:"raised_wei"`
	Deadline   time.Time        `json:"deadline"`
	Finalized  bool             `json:"finalized"`
	Successful bool             `json:"successful"`
	Withdrawn  bool             `json:"withdrawn"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Config wires the engine to its collaborators and floors.
type Config struct {
	Roles    *roles.Manager
	Registry *registry.Registry
	Reward   *reward.Ledger
	Log      *eventlog.Log

	// Engine is the system principal this engine acts under; it must be
	// bound as the campaign engine in the registry and as the reward minter.
	Engine   domain.Principal
	Treasury domain.Principal

	// RewardRate is tokens minted per 1 ETH contributed, in 18-decimals
	// fixed point: minted = valueWei * RewardRate / 1e18.
	RewardRate *big.Int

	MinGoalWei         *big.Int
	MinDurationSeconds int64
}

// Engine owns Campaign and Contribution records.
type Engine struct {
	mu            sync.RWMutex
	cfg           Config
	campaigns     map[uint64]*Campaign
	contributions map[uint64]map[domain.Principal]*big.Int
	contributors  map[uint64][]domain.Principal
	escrowWei     *big.Int
	nextID        uint64
	clock         func() time.Time
}

// New creates the engine. Floors default to zero when unset.
func New(cfg Config) *Engine {
	if cfg.MinGoalWei == nil {
		cfg.MinGoalWei = new(big.Int)
	}
	if cfg.RewardRate == nil {
		cfg.RewardRate = new(big.Int)
	}
	return &Engine{
		cfg:           cfg,
		campaigns:     make(map[uint64]*Campaign),
		contributions: make(map[uint64]map[domain.Principal]*big.Int),
		contributors:  make(map[uint64][]domain.Principal),
		escrowWei:     new(big.Int),
		nextID:        1,
		clock:         time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Principal returns the system principal the engine acts under.
func (e *Engine) Principal() domain.Principal { return e.cfg.Engine }

func scope(id uint64) string { return fmt.Sprintf("campaign/%d", id) }

// CreateCampaign registers a campaign for an existing evidence item.
// Permissionless: any principal may create a community campaign. The
// registry link is overwritten so the newest campaign is authoritative.
func (e *Engine) CreateCampaign(caller domain.Principal, evidenceID uint64, title string, goalWei *big.Int, deadline time.Time) (uint64, error) {
	if err := domain.CheckAmount(goalWei); err != nil {
		return 0, fmt.Errorf("create campaign: %w: %v", domain.ErrInvalidArgument, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	if goalWei.Sign() == 0 || goalWei.Cmp(e.cfg.MinGoalWei) < 0 {
		return 0, fmt.Errorf("create campaign: goal %s under floor %s: %w", goalWei, e.cfg.MinGoalWei, domain.ErrBelowMinimum)
	}
	minDeadline := now.Add(time.Duration(e.cfg.MinDurationSeconds) * time.Second)
	if deadline.Before(minDeadline) {
		return 0, fmt.Errorf("create campaign: deadline %s under minimum duration: %w", deadline.UTC().Format(time.RFC3339), domain.ErrBelowMinimum)
	}
	if !e.cfg.Registry.Exists(evidenceID) {
		return 0, fmt.Errorf("create campaign: evidence %d: %w", evidenceID, domain.ErrNotFound)
	}

	id := e.nextID
	e.nextID++
	c := &Campaign{
		ID:         id,
		EvidenceID: evidenceID,
		Creator:    caller,
		Title:      norm.NFC.String(title),
		GoalWei:    new(big.Int).Set(goalWei),
		RaisedWei:  new(big.Int),
		Deadline:   deadline,
		CreatedAt:  now,
	}
	e.campaigns[id] = c
	e.contributions[id] = make(map[domain.Principal]*big.Int)

	if err := e.cfg.Registry.LinkCampaign(e.cfg.Engine, evidenceID, id); err != nil {
		// Wiring error; roll the registration back, nothing observable leaks.
		delete(e.campaigns, id)
		delete(e.contributions, id)
		e.nextID--
		return 0, fmt.Errorf("create campaign: %w", err)
	}

	e.emit(id, "CampaignCreated", caller, map[string]any{
		"campaignId": id,
		"evidenceId": evidenceID,
		"title":      c.Title,
		"goalWei":    c.GoalWei.String(),
		"deadline":   deadline.Unix(),
	})
	return id, nil
}

// Contribute escrows valueWei into the campaign and mints the proportional
// reward to the caller. Atomic: raisedWei, the contribution record, the
// escrow and the reward mint all commit together or not at all.
func (e *Engine) Contribute(caller domain.Principal, id uint64, valueWei *big.Int) error {
	if err := domain.CheckAmount(valueWei); err != nil {
		return fmt.Errorf("contribute: %w: %v", domain.ErrInvalidArgument, err)
	}
	if valueWei.Sign() == 0 {
		return fmt.Errorf("contribute: zero value: %w", domain.ErrInvalidArgument)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.campaigns[id]
	if !ok {
		return fmt.Errorf("contribute to campaign %d: %w", id, domain.ErrNotFound)
	}
	if c.Finalized {
		return fmt.Errorf("contribute to finalized campaign %d: %w", id, domain.ErrInvalidState)
	}
	if !e.clock().Before(c.Deadline) {
		return fmt.Errorf("contribute to campaign %d: %w", id, domain.ErrDeadlinePassed)
	}

	minted := new(big.Int).Mul(valueWei, e.cfg.RewardRate)
	minted.Div(minted, domain.WeiPerEther)
	if err := e.cfg.Reward.Mint(e.cfg.Engine, caller, minted); err != nil {
		return fmt.Errorf("contribute to campaign %d: reward mint: %w", id, err)
	}

	c.RaisedWei.Add(c.RaisedWei, valueWei)
	e.escrowWei.Add(e.escrowWei, valueWei)
	if prev, ok := e.contributions[id][caller]; ok {
		prev.Add(prev, valueWei)
	} else {
		e.contributions[id][caller] = new(big.Int).Set(valueWei)
		e.contributors[id] = append(e.contributors[id], caller)
	}

	e.emit(id, "Contributed", caller, map[string]any{
		"campaignId":   id,
		"contributor":  string(caller),
		"valueWei":     valueWei.String(),
		"rewardMinted": minted.String(),
	})
	return nil
}

// Finalize fixes the campaign outcome once the deadline has passed.
// Callable by anyone; a second call fails with AlreadyFinalized and
// Successful never changes afterwards.
func (e *Engine) Finalize(caller domain.Principal, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.campaigns[id]
	if !ok {
		return fmt.Errorf("finalize campaign %d: %w", id, domain.ErrNotFound)
	}
	if c.Finalized {
		return fmt.Errorf("finalize campaign %d: %w", id, domain.ErrAlreadyFinalized)
	}
	if e.clock().Before(c.Deadline) {
		return fmt.Errorf("finalize campaign %d: %w", id, domain.ErrDeadlineNotReached)
	}
	c.Finalized = true
	c.Successful = c.RaisedWei.Cmp(c.GoalWei) >= 0

	e.emit(id, "CampaignFinalized", caller, map[string]any{
		"campaignId": id,
		"raisedWei":  c.RaisedWei.String(),
		"successful": c.Successful,
	})
	return nil
}

// Withdraw moves the full raised value of a successful campaign out of
// escrow to the treasury. Any principal may trigger it; the destination is
// always the configured treasury. Exactly once per campaign.
func (e *Engine) Withdraw(caller domain.Principal, id uint64) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("withdraw campaign %d: %w", id, domain.ErrNotFound)
	}
	if !c.Finalized {
		return nil, fmt.Errorf("withdraw campaign %d before finalize: %w", id, domain.ErrInvalidState)
	}
	if !c.Successful {
		return nil, fmt.Errorf("withdraw campaign %d: %w", id, domain.ErrCampaignNotSuccessful)
	}
	if c.Withdrawn {
		return nil, fmt.Errorf("withdraw campaign %d twice: %w", id, domain.ErrInvalidState)
	}

	amount := new(big.Int).Set(c.RaisedWei)
	// Effects before the payout event: a reentrant second call sees
	// Withdrawn already set.
	c.Withdrawn = true
	e.escrowWei.Sub(e.escrowWei, amount)

	e.emit(id, "Withdrawn", caller, map[string]any{
		"campaignId": id,
		"to":         string(e.cfg.Treasury),
		"amountWei":  amount.String(),
	})
	return amount, nil
}

// Refund returns the caller's full contribution to a failed campaign and
// zeroes the record; a second call fails with ZeroContribution. Minted
// rewards are never clawed back.
func (e *Engine) Refund(caller domain.Principal, id uint64) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("refund campaign %d: %w", id, domain.ErrNotFound)
	}
	if !c.Finalized {
		return nil, fmt.Errorf("refund campaign %d before finalize: %w", id, domain.ErrInvalidState)
	}
	if c.Successful {
		return nil, fmt.Errorf("refund successful campaign %d: %w", id, domain.ErrInvalidState)
	}
	contrib, ok := e.contributions[id][caller]
	if !ok || contrib.Sign() == 0 {
		return nil, fmt.Errorf("refund campaign %d for %s: %w", id, caller, domain.ErrZeroContribution)
	}

	amount := new(big.Int).Set(contrib)
	contrib.SetInt64(0)
	e.escrowWei.Sub(e.escrowWei, amount)

	e.emit(id, "Refunded", caller, map[string]any{
		"campaignId":  id,
		"contributor": string(caller),
		"amountWei":   amount.String(),
	})
	return amount, nil
}

// SetTreasury updates the payout destination. ADMIN only.
func (e *Engine) SetTreasury(caller, treasury domain.Principal) error {
	if !e.cfg.Roles.HasRole(roles.RoleAdmin, caller) {
		return fmt.Errorf("set treasury: caller %s lacks ADMIN: %w", caller, domain.ErrUnauthorized)
	}
	if treasury.Zero() {
		return fmt.Errorf("set treasury: empty principal: %w", domain.ErrInvalidArgument)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Treasury = treasury
	return nil
}

// SetMinGoalWei updates the anti-spam goal floor. ADMIN only.
func (e *Engine) SetMinGoalWei(caller domain.Principal, min *big.Int) error {
	if !e.cfg.Roles.HasRole(roles.RoleAdmin, caller) {
		return fmt.Errorf("set min goal: caller %s lacks ADMIN: %w", caller, domain.ErrUnauthorized)
	}
	if err := domain.CheckAmount(min); err != nil {
		return fmt.Errorf("set min goal: %w: %v", domain.ErrInvalidArgument, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.MinGoalWei = new(big.Int).Set(min)
	return nil
}

// SetMinDurationSeconds updates the minimum campaign duration. ADMIN only.
func (e *Engine) SetMinDurationSeconds(caller domain.Principal, secs int64) error {
	if !e.cfg.Roles.HasRole(roles.RoleAdmin, caller) {
		return fmt.Errorf("set min duration: caller %s lacks ADMIN: %w", caller, domain.ErrUnauthorized)
	}
	if secs < 0 {
		return fmt.Errorf("set min duration: negative: %w", domain.ErrInvalidArgument)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.MinDurationSeconds = secs
	return nil
}

// GetCampaign returns a copy of the campaign.
func (e *Engine) GetCampaign(id uint64) (Campaign, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.campaigns[id]
	if !ok {
		return Campaign{}, fmt.Errorf("campaign %d: %w", id, domain.ErrNotFound)
	}
	return copyCampaign(c), nil
}

// CampaignCount returns how many campaigns have been created.
func (e *Engine) CampaignCount() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.nextID - 1
}

// GetAllCampaigns returns every campaign, ascending by id.
func (e *Engine) GetAllCampaigns() []Campaign {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Campaign, 0, len(e.campaigns))
	for id := uint64(1); id < e.nextID; id++ {
		if c, ok := e.campaigns[id]; ok {
			out = append(out, copyCampaign(c))
		}
	}
	return out
}

// ContributionOf returns the recorded contribution, zero after refund.
func (e *Engine) ContributionOf(id uint64, p domain.Principal) *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if c, ok := e.contributions[id][p]; ok {
		return new(big.Int).Set(c)
	}
	return new(big.Int)
}

// CampaignContributors returns contributors with their recorded amounts,
// in first-contribution order.
func (e *Engine) CampaignContributors(id uint64) ([]domain.Principal, []*big.Int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	who := e.contributors[id]
	ps := make([]domain.Principal, len(who))
	amounts := make([]*big.Int, len(who))
	for i, p := range who {
		ps[i] = p
		amounts[i] = new(big.Int).Set(e.contributions[id][p])
	}
	return ps, amounts
}

// EscrowWei returns the total wei the engine currently holds in escrow.
func (e *Engine) EscrowWei() *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return new(big.Int).Set(e.escrowWei)
}

// Treasury returns the current payout destination.
func (e *Engine) Treasury() domain.Principal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.Treasury
}

func copyCampaign(c *Campaign) Campaign {
	out := *c
	out.GoalWei = new(big.Int).Set(c.GoalWei)
	out.RaisedWei = new(big.Int).Set(c.RaisedWei)
	return out
}

func (e *Engine) emit(id uint64, kind string, actor domain.Principal, fields map[string]any) {
	if e.cfg.Log == nil {
		return
	}
	_, _ = e.cfg.Log.Append(scope(id), kind, string(actor), fields)
}
