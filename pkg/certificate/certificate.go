// Package certificate issues the non-fungible company certificate minted
// once per evidence item after its funding campaign succeeds. Tokens are
// non-transferable records of a completed verify-and-fund cycle.
package certificate

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/gevidence-labs/gevidence/core/pkg/crowdfund"
	"github.com/gevidence-labs/gevidence/core/pkg/domain"
	"github.com/gevidence-labs/gevidence/core/pkg/eventlog"
	"github.com/gevidence-labs/gevidence/core/pkg/registry"
	"github.com/gevidence-labs/gevidence/core/pkg/roles"
)

// Certificate is one issued token.
type Certificate struct {
	TokenID    uint64           `json:"token_id"`
	EvidenceID uint64           `json:"evidence_id"`
	CampaignID uint64           `json:"campaign_id"`
	Owner      domain.Principal `json:"owner"`
	TokenURI   string           `json:"token_uri"`
	Issuer     domain.Principal `json:"issuer"`
	IssuedAt   time.Time        `json:"issued_at"`
}

// CampaignSource is the slice of the campaign engine the issuer needs.
type CampaignSource interface {
	GetCampaign(id uint64) (crowdfund.Campaign, error)
}

// Config wires the issuer to its collaborators.
type Config struct {
	Roles     *roles.Manager
	Registry  *registry.Registry
	Campaigns CampaignSource
	Log       *eventlog.Log

	// Engine is the system principal bound as the certificate issuer in
	// the registry.
	Engine domain.Principal
}

// Issuer owns Certificate records.
type Issuer struct {
	mu     sync.RWMutex
	cfg    Config
	name   string
	symbol string
	tokens map[uint64]*Certificate
	nextID uint64
	clock  func() time.Time
}

// NewIssuer creates the issuer with the standard collection identity.
func NewIssuer(cfg Config) *Issuer {
	return &Issuer{
		cfg:    cfg,
		name:   "GEvidence Company Certificate",
		symbol: "GEVCERT",
		tokens: make(map[uint64]*Certificate),
		nextID: 1,
		clock:  time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (i *Issuer) WithClock(clock func() time.Time) *Issuer {
	i.clock = clock
	return i
}

// Name returns the collection name.
func (i *Issuer) Name() string { return i.name }

// Symbol returns the collection symbol.
func (i *Issuer) Symbol() string { return i.symbol }

// Principal returns the system principal the issuer acts under.
func (i *Issuer) Principal() domain.Principal { return i.cfg.Engine }

func scope(tokenID uint64) string { return fmt.Sprintf("certificate/%d", tokenID) }

// Mint issues the certificate for an evidence item to its owning company.
// VERIFIER only. The caller names the campaign that earned the certificate;
// it must fund the given evidence and have finalized successfully, the
// evidence must be verified, and no certificate may exist for it yet. An
// evidence item re-linked to a newer campaign can still be certified
// against an earlier successful one.
func (i *Issuer) Mint(caller domain.Principal, evidenceID, campaignID uint64, tokenURI string) (uint64, error) {
	if !i.cfg.Roles.HasRole(roles.RoleVerifier, caller) {
		return 0, fmt.Errorf("mint certificate: caller %s lacks VERIFIER: %w", caller, domain.ErrUnauthorized)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	ev, err := i.cfg.Registry.Get(evidenceID)
	if err != nil {
		return 0, fmt.Errorf("mint certificate: %w", err)
	}
	if ev.Status != registry.StatusVerified {
		return 0, fmt.Errorf("mint certificate: evidence %d is %s: %w", evidenceID, ev.Status, domain.ErrNotVerified)
	}
	if ev.CertificateTokenID != 0 {
		return 0, fmt.Errorf("mint certificate: evidence %d already holds token %d: %w", evidenceID, ev.CertificateTokenID, domain.ErrAlreadyCertified)
	}
	c, err := i.cfg.Campaigns.GetCampaign(campaignID)
	if err != nil {
		return 0, fmt.Errorf("mint certificate: campaign %d: %w", campaignID, err)
	}
	if c.EvidenceID != evidenceID {
		return 0, fmt.Errorf("mint certificate: campaign %d funds evidence %d, not %d: %w", c.ID, c.EvidenceID, evidenceID, domain.ErrInvalidState)
	}
	if !c.Finalized || !c.Successful {
		return 0, fmt.Errorf("mint certificate: campaign %d not successfully finalized: %w", c.ID, domain.ErrCampaignNotSuccessful)
	}

	tokenID := i.nextID
	i.nextID++
	cert := &Certificate{
		TokenID:    tokenID,
		EvidenceID: evidenceID,
		CampaignID: c.ID,
		Owner:      ev.Owner,
		TokenURI:   norm.NFC.String(tokenURI),
		Issuer:     caller,
		IssuedAt:   i.clock(),
	}
	i.tokens[tokenID] = cert

	if err := i.cfg.Registry.LinkCertificate(i.cfg.Engine, evidenceID, tokenID); err != nil {
		delete(i.tokens, tokenID)
		i.nextID--
		return 0, fmt.Errorf("mint certificate: %w", err)
	}

	i.emit(tokenID, "CertificateMinted", caller, map[string]any{
		"tokenId":    tokenID,
		"evidenceId": evidenceID,
		"campaignId": c.ID,
		"owner":      string(cert.Owner),
		"tokenUri":   cert.TokenURI,
	})
	return tokenID, nil
}

// OwnerOf returns the company holding the token.
func (i *Issuer) OwnerOf(tokenID uint64) (domain.Principal, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	c, ok := i.tokens[tokenID]
	if !ok {
		return "", fmt.Errorf("token %d: %w", tokenID, domain.ErrNotFound)
	}
	return c.Owner, nil
}

// TokenURI returns the metadata URI recorded at mint time.
func (i *Issuer) TokenURI(tokenID uint64) (string, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	c, ok := i.tokens[tokenID]
	if !ok {
		return "", fmt.Errorf("token %d: %w", tokenID, domain.ErrNotFound)
	}
	return c.TokenURI, nil
}

// Get returns a copy of the certificate record.
func (i *Issuer) Get(tokenID uint64) (Certificate, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	c, ok := i.tokens[tokenID]
	if !ok {
		return Certificate{}, fmt.Errorf("token %d: %w", tokenID, domain.ErrNotFound)
	}
	return *c, nil
}

// TotalMinted returns how many certificates have been issued.
func (i *Issuer) TotalMinted() uint64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.nextID - 1
}

// List returns every certificate, ascending by token id.
func (i *Issuer) List() []Certificate {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]Certificate, 0, len(i.tokens))
	for id := uint64(1); id < i.nextID; id++ {
		if c, ok := i.tokens[id]; ok {
			out = append(out, *c)
		}
	}
	return out
}

func (i *Issuer) emit(tokenID uint64, kind string, actor domain.Principal, fields map[string]any) {
	if i.cfg.Log == nil {
		return
	}
	_, _ = i.cfg.Log.Append(scope(tokenID), kind, string(actor), fields)
}
