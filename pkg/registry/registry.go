// Package registry implements the GEvidence registry, the authoritative
// record of evidence items and their verification lifecycle.
//
// State machine: Draft → Submitted → UnderReview → {Verified | Rejected}.
// No transition skips a step; none is reversible. Rejected is terminal;
// Verified items still accept off-cycle request records.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/gevidence-labs/gevidence/core/pkg/domain"
	"github.com/gevidence-labs/gevidence/core/pkg/eventlog"
	"github.com/gevidence-labs/gevidence/core/pkg/roles"
)

// Status is the verification state of an evidence item.
type Status string

const (
	StatusDraft       Status = "DRAFT"
	StatusSubmitted   Status = "SUBMITTED"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusVerified    Status = "VERIFIED"
	StatusRejected    Status = "REJECTED"
)

// Evidence is one company-submitted record. Owner is immutable after
// creation; CampaignID may be re-linked over the item's life, only the
// latest link is authoritative.
type Evidence struct {
	ID                 uint64           `json:"id"`
	Owner              domain.Principal `json:"owner"`
	Title              string           `json:"title"`
	MetadataHash       domain.Hash      `json:"metadata_hash"`
	Status             Status           `json:"status"`
	CampaignID         uint64           `json:"campaign_id,omitempty"`
	CertificateTokenID uint64           `json:"certificate_token_id,omitempty"`
	OffCycleRequestIDs []uint64         `json:"off_cycle_request_ids,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
}

// Registry owns all Evidence records. Cross-engine writes (link/record) are
// restricted to the system principals bound at wiring time.
type Registry struct {
	mu      sync.RWMutex
	items   map[uint64]*Evidence
	nextID  uint64
	roles   *roles.Manager
	log     *eventlog.Log
	clock   func() time.Time
	engines struct {
		campaign    domain.Principal
		offCycle    domain.Principal
		certificate domain.Principal
	}
}

// New creates an empty registry.
func New(rm *roles.Manager, log *eventlog.Log) *Registry {
	return &Registry{
		items:  make(map[uint64]*Evidence),
		nextID: 1,
		roles:  rm,
		log:    log,
		clock:  time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// BindEngines registers the system principals allowed to write
// cross-references. Called once at wiring time.
func (r *Registry) BindEngines(campaign, offCycle, certificate domain.Principal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines.campaign = campaign
	r.engines.offCycle = offCycle
	r.engines.certificate = certificate
}

func scope(id uint64) string { return fmt.Sprintf("evidence/%d", id) }

// CreateEvidence registers a new evidence item owned by the caller.
// Caller must hold COMPANY. Status starts at Draft.
func (r *Registry) CreateEvidence(caller domain.Principal, title string, metadataHash domain.Hash) (uint64, error) {
	if !r.roles.HasRole(roles.RoleCompany, caller) {
		return 0, fmt.Errorf("create evidence: caller %s lacks COMPANY: %w", caller, domain.ErrUnauthorized)
	}
	if metadataHash == "" {
		return 0, fmt.Errorf("create evidence: empty metadata hash: %w", domain.ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.items[id] = &Evidence{
		ID:           id,
		Owner:        caller,
		Title:        title,
		MetadataHash: metadataHash,
		Status:       StatusDraft,
		CreatedAt:    r.clock(),
	}

	r.emit(id, "EvidenceCreated", caller, map[string]any{
		"evidenceId":   id,
		"title":        title,
		"metadataHash": string(metadataHash),
	})
	return id, nil
}

// SubmitEvidence moves Draft → Submitted. Caller must be the owner.
func (r *Registry) SubmitEvidence(caller domain.Principal, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev, ok := r.items[id]
	if !ok {
		return fmt.Errorf("submit evidence %d: %w", id, domain.ErrNotFound)
	}
	if ev.Owner != caller {
		return fmt.Errorf("submit evidence %d: caller %s is not the owner: %w", id, caller, domain.ErrUnauthorized)
	}
	if ev.Status != StatusDraft {
		return fmt.Errorf("submit evidence %d in status %s: %w", id, ev.Status, domain.ErrInvalidState)
	}
	ev.Status = StatusSubmitted

	r.emitStatus(ev, caller, "")
	return nil
}

// MoveToUnderReview moves Submitted → UnderReview. Caller must hold VERIFIER.
func (r *Registry) MoveToUnderReview(caller domain.Principal, id uint64, note string) error {
	if !r.roles.HasRole(roles.RoleVerifier, caller) {
		return fmt.Errorf("review evidence %d: caller %s lacks VERIFIER: %w", id, caller, domain.ErrUnauthorized)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ev, ok := r.items[id]
	if !ok {
		return fmt.Errorf("review evidence %d: %w", id, domain.ErrNotFound)
	}
	if ev.Status != StatusSubmitted {
		return fmt.Errorf("review evidence %d in status %s: %w", id, ev.Status, domain.ErrInvalidState)
	}
	ev.Status = StatusUnderReview

	r.emitStatus(ev, caller, note)
	return nil
}

// VerifyEvidence moves UnderReview → Verified (approved) or Rejected.
// Caller must hold VERIFIER. Rejected is terminal.
func (r *Registry) VerifyEvidence(caller domain.Principal, id uint64, approved bool, note string) error {
	if !r.roles.HasRole(roles.RoleVerifier, caller) {
		return fmt.Errorf("verify evidence %d: caller %s lacks VERIFIER: %w", id, caller, domain.ErrUnauthorized)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ev, ok := r.items[id]
	if !ok {
		return fmt.Errorf("verify evidence %d: %w", id, domain.ErrNotFound)
	}
	if ev.Status != StatusUnderReview {
		return fmt.Errorf("verify evidence %d in status %s: %w", id, ev.Status, domain.ErrInvalidState)
	}
	if approved {
		ev.Status = StatusVerified
	} else {
		ev.Status = StatusRejected
	}

	r.emitStatus(ev, caller, note)
	return nil
}

// LinkCampaign points the evidence at a campaign. Caller must be the bound
// campaign engine. Always overwrites: community re-funding may attach a
// newer campaign to the same evidence; prior campaigns persist untouched.
func (r *Registry) LinkCampaign(caller domain.Principal, id, campaignID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.engines.campaign.Zero() || caller != r.engines.campaign {
		return fmt.Errorf("link campaign on evidence %d: caller %s is not the campaign engine: %w", id, caller, domain.ErrUnauthorized)
	}
	ev, ok := r.items[id]
	if !ok {
		return fmt.Errorf("link campaign on evidence %d: %w", id, domain.ErrNotFound)
	}
	ev.CampaignID = campaignID

	r.emit(id, "CampaignLinked", caller, map[string]any{
		"evidenceId": id,
		"campaignId": campaignID,
	})
	return nil
}

// LinkCertificate records the certificate token minted for the evidence.
// Caller must be the bound certificate issuer. A second link fails with
// AlreadyCertified; the link never changes afterwards.
func (r *Registry) LinkCertificate(caller domain.Principal, id, tokenID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.engines.certificate.Zero() || caller != r.engines.certificate {
		return fmt.Errorf("link certificate on evidence %d: caller %s is not the certificate issuer: %w", id, caller, domain.ErrUnauthorized)
	}
	ev, ok := r.items[id]
	if !ok {
		return fmt.Errorf("link certificate on evidence %d: %w", id, domain.ErrNotFound)
	}
	if ev.CertificateTokenID != 0 {
		return fmt.Errorf("link certificate on evidence %d: %w", id, domain.ErrAlreadyCertified)
	}
	ev.CertificateTokenID = tokenID

	r.emit(id, "CertificateLinked", caller, map[string]any{
		"evidenceId": id,
		"tokenId":    tokenID,
	})
	return nil
}

// RecordOffCycleRequest appends a request id to the evidence's ordered list.
// Caller must be the bound off-cycle engine.
func (r *Registry) RecordOffCycleRequest(caller domain.Principal, id, requestID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.engines.offCycle.Zero() || caller != r.engines.offCycle {
		return fmt.Errorf("record off-cycle request on evidence %d: caller %s is not the off-cycle engine: %w", id, caller, domain.ErrUnauthorized)
	}
	ev, ok := r.items[id]
	if !ok {
		return fmt.Errorf("record off-cycle request on evidence %d: %w", id, domain.ErrNotFound)
	}
	ev.OffCycleRequestIDs = append(ev.OffCycleRequestIDs, requestID)

	r.emit(id, "OffCycleRecorded", caller, map[string]any{
		"evidenceId": id,
		"requestId":  requestID,
	})
	return nil
}

// Get returns a copy of the evidence record.
func (r *Registry) Get(id uint64) (Evidence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ev, ok := r.items[id]
	if !ok {
		return Evidence{}, fmt.Errorf("evidence %d: %w", id, domain.ErrNotFound)
	}
	out := *ev
	out.OffCycleRequestIDs = append([]uint64(nil), ev.OffCycleRequestIDs...)
	return out, nil
}

// Exists reports whether the evidence id is registered.
func (r *Registry) Exists(id uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[id]
	return ok
}

// CompanyOf returns the immutable owner of the evidence.
func (r *Registry) CompanyOf(id uint64) (domain.Principal, error) {
	ev, err := r.Get(id)
	if err != nil {
		return "", err
	}
	return ev.Owner, nil
}

// StatusOf returns the evidence's current lifecycle status.
func (r *Registry) StatusOf(id uint64) (Status, error) {
	ev, err := r.Get(id)
	if err != nil {
		return "", err
	}
	return ev.Status, nil
}

// CampaignOf returns the latest linked campaign id, 0 if none.
func (r *Registry) CampaignOf(id uint64) (uint64, error) {
	ev, err := r.Get(id)
	if err != nil {
		return 0, err
	}
	return ev.CampaignID, nil
}

// CertificateTokenOf returns the linked certificate token id, 0 if none.
func (r *Registry) CertificateTokenOf(id uint64) (uint64, error) {
	ev, err := r.Get(id)
	if err != nil {
		return 0, err
	}
	return ev.CertificateTokenID, nil
}

// ListOffCycleRequests returns the ordered request ids recorded for the
// evidence.
func (r *Registry) ListOffCycleRequests(id uint64) ([]uint64, error) {
	ev, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return ev.OffCycleRequestIDs, nil
}

// List returns every evidence record, ascending by id.
func (r *Registry) List() []Evidence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Evidence, 0, len(r.items))
	for id := uint64(1); id < r.nextID; id++ {
		if ev, ok := r.items[id]; ok {
			cp := *ev
			cp.OffCycleRequestIDs = append([]uint64(nil), ev.OffCycleRequestIDs...)
			out = append(out, cp)
		}
	}
	return out
}

func (r *Registry) emit(id uint64, kind string, actor domain.Principal, fields map[string]any) {
	if r.log == nil {
		return
	}
	_, _ = r.log.Append(scope(id), kind, string(actor), fields)
}

func (r *Registry) emitStatus(ev *Evidence, actor domain.Principal, note string) {
	fields := map[string]any{
		"evidenceId": ev.ID,
		"status":     string(ev.Status),
	}
	if note != "" {
		fields["note"] = note
	}
	r.emit(ev.ID, "EvidenceStatusChanged", actor, fields)
}
