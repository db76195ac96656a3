// Package offcycle implements stake-gated re-verification. Any principal
// holding GEVR can stake tokens against a verified evidence item to request
// an extra check outside the normal review cycle; a verifier resolves the
// request, returning the stake on approval and slashing it to the treasury
// on rejection.
package offcycle

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/gevidence-labs/gevidence/core/pkg/domain"
	"github.com/gevidence-labs/gevidence/core/pkg/eventlog"
	"github.com/gevidence-labs/gevidence/core/pkg/registry"
	"github.com/gevidence-labs/gevidence/core/pkg/reward"
	"github.com/gevidence-labs/gevidence/core/pkg/roles"
)

// Request is one off-cycle check. Stake is held by the engine until the
// request resolves; ResultHash and ReportURI are recorded at resolution.
type Request struct {
	ID          uint64           `json:"id"`
	EvidenceID  uint64           `json:"evidence_id"`
	Requester   domain.Principal `json:"requester"`
	ReasonHash  domain.Hash      `json:"reason_hash"`
	MetricsHash domain.Hash      `json:"metrics_hash"`
	Stake       *big.Int         `json:"stake"`
	Resolved    bool             `json:"resolved"`
	Approved    bool             `json:"approved"`
	Resolver    domain.Principal `json:"resolver,omitempty"`
	ResultHash  domain.Hash      `json:"result_hash,omitempty"`
	ReportURI   string           `json:"report_uri,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	ResolvedAt  time.Time        `json:"resolved_at,omitempty"`
}

// Config wires the engine to its collaborators.
type Config struct {
	Roles    *roles.Manager
	Registry *registry.Registry
	Reward   *reward.Ledger
	Log      *eventlog.Log

	// Engine is the system principal the stake is parked under; it must be
	// bound as the off-cycle engine in the registry.
	Engine   domain.Principal
	Treasury domain.Principal

	// MinStake is the floor on the GEVR stake a requester must offer.
	MinStake *big.Int
}

// Engine owns off-cycle Request records.
type Engine struct {
	mu       sync.RWMutex
	cfg      Config
	requests map[uint64]*Request
	nextID   uint64
	clock    func() time.Time
}

// New creates the engine. MinStake defaults to zero when unset.
func New(cfg Config) *Engine {
	if cfg.MinStake == nil {
		cfg.MinStake = new(big.Int)
	}
	return &Engine{
		cfg:      cfg,
		requests: make(map[uint64]*Request),
		nextID:   1,
		clock:    time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Principal returns the system principal the engine acts under.
func (e *Engine) Principal() domain.Principal { return e.cfg.Engine }

func scope(id uint64) string { return fmt.Sprintf("request/%d", id) }

// RequestCheck opens an off-cycle check against a verified evidence item.
// Any principal may request; the caller chooses the stake, which must meet
// MinStake and is pulled via the caller's ledger allowance before the
// request exists, so a failed stake pull leaves no record behind.
func (e *Engine) RequestCheck(caller domain.Principal, evidenceID uint64, stakeWei *big.Int, reasonHash, metricsHash domain.Hash) (uint64, error) {
	if err := domain.CheckAmount(stakeWei); err != nil {
		return 0, fmt.Errorf("request check: %w: %v", domain.ErrInvalidArgument, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	status, err := e.cfg.Registry.StatusOf(evidenceID)
	if err != nil {
		return 0, fmt.Errorf("request check: %w", err)
	}
	if status != registry.StatusVerified {
		return 0, fmt.Errorf("request check: evidence %d is %s: %w", evidenceID, status, domain.ErrNotVerified)
	}
	if stakeWei.Cmp(e.cfg.MinStake) < 0 {
		return 0, fmt.Errorf("request check: stake %s under minimum %s: %w", stakeWei, e.cfg.MinStake, domain.ErrBelowMinimum)
	}

	stake := new(big.Int).Set(stakeWei)
	if stake.Sign() > 0 {
		if err := e.cfg.Reward.TransferFrom(e.cfg.Engine, caller, e.cfg.Engine, stake); err != nil {
			return 0, fmt.Errorf("request check: stake pull: %w", err)
		}
	}

	id := e.nextID
	e.nextID++
	r := &Request{
		ID:          id,
		EvidenceID:  evidenceID,
		Requester:   caller,
		ReasonHash:  reasonHash,
		MetricsHash: metricsHash,
		Stake:       stake,
		CreatedAt:   e.clock(),
	}
	e.requests[id] = r

	if err := e.cfg.Registry.RecordOffCycleRequest(e.cfg.Engine, evidenceID, id); err != nil {
		// Stake already moved; unwind it and the record.
		_ = e.cfg.Reward.Transfer(e.cfg.Engine, caller, stake)
		delete(e.requests, id)
		e.nextID--
		return 0, fmt.Errorf("request check: %w", err)
	}

	e.emit(id, "OffCycleRequested", caller, map[string]any{
		"requestId":   id,
		"evidenceId":  evidenceID,
		"reasonHash":  string(reasonHash),
		"metricsHash": string(metricsHash),
		"stake":       stake.String(),
	})
	return id, nil
}

// Resolve settles a pending request. VERIFIER only; exactly once. The
// result hash and report URI are recorded on the request. On approval the
// stake returns to the requester, on rejection it is slashed to the
// treasury. The request record is updated before the stake moves.
func (e *Engine) Resolve(caller domain.Principal, id uint64, approved bool, resultHash domain.Hash, reportURI string) error {
	if !e.cfg.Roles.HasRole(roles.RoleVerifier, caller) {
		return fmt.Errorf("resolve request %d: caller %s lacks VERIFIER: %w", id, caller, domain.ErrUnauthorized)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.requests[id]
	if !ok {
		return fmt.Errorf("resolve request %d: %w", id, domain.ErrNotFound)
	}
	if r.Resolved {
		return fmt.Errorf("resolve request %d twice: %w", id, domain.ErrAlreadyResolved)
	}

	r.Resolved = true
	r.Approved = approved
	r.Resolver = caller
	r.ResultHash = resultHash
	r.ReportURI = reportURI
	r.ResolvedAt = e.clock()

	if r.Stake.Sign() > 0 {
		to := e.cfg.Treasury
		if approved {
			to = r.Requester
		}
		if err := e.cfg.Reward.Transfer(e.cfg.Engine, to, r.Stake); err != nil {
			return fmt.Errorf("resolve request %d: stake payout: %w", id, err)
		}
	}

	kind := "OffCycleRejected"
	if approved {
		kind = "OffCycleApproved"
	}
	e.emit(id, kind, caller, map[string]any{
		"requestId":  id,
		"evidenceId": r.EvidenceID,
		"approved":   approved,
		"resultHash": string(resultHash),
		"reportUri":  reportURI,
		"stake":      r.Stake.String(),
	})
	return nil
}

// SetTreasury updates the slash destination. ADMIN only.
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

// SetMinStake updates the stake requirement for future requests; pending
// requests keep the stake they were opened with. ADMIN only.
func (e *Engine) SetMinStake(caller domain.Principal, min *big.Int) error {
	if !e.cfg.Roles.HasRole(roles.RoleAdmin, caller) {
		return fmt.Errorf("set min stake: caller %s lacks ADMIN: %w", caller, domain.ErrUnauthorized)
	}
	if err := domain.CheckAmount(min); err != nil {
		return fmt.Errorf("set min stake: %w: %v", domain.ErrInvalidArgument, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.MinStake = new(big.Int).Set(min)
	return nil
}

// MinStake returns the stake required for a new request.
func (e *Engine) MinStake() *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return new(big.Int).Set(e.cfg.MinStake)
}

// GetRequest returns a copy of the request.
func (e *Engine) GetRequest(id uint64) (Request, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.requests[id]
	if !ok {
		return Request{}, fmt.Errorf("request %d: %w", id, domain.ErrNotFound)
	}
	out := *r
	out.Stake = new(big.Int).Set(r.Stake)
	return out, nil
}

// RequestCount returns how many requests have been opened.
func (e *Engine) RequestCount() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.nextID - 1
}

// ListRequests returns every request, ascending by id.
func (e *Engine) ListRequests() []Request {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Request, 0, len(e.requests))
	for id := uint64(1); id < e.nextID; id++ {
		if r, ok := e.requests[id]; ok {
			cp := *r
			cp.Stake = new(big.Int).Set(r.Stake)
			out = append(out, cp)
		}
	}
	return out
}

func (e *Engine) emit(id uint64, kind string, actor domain.Principal, fields map[string]any) {
	if e.cfg.Log == nil {
		return
	}
	_, _ = e.cfg.Log.Append(scope(id), kind, string(actor), fields)
}
