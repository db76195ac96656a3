package certificate

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gevidence-labs/gevidence/core/pkg/crowdfund"
	"github.com/gevidence-labs/gevidence/core/pkg/domain"
	"github.com/gevidence-labs/gevidence/core/pkg/eventlog"
	"github.com/gevidence-labs/gevidence/core/pkg/registry"
	"github.com/gevidence-labs/gevidence/core/pkg/reward"
	"github.com/gevidence-labs/gevidence/core/pkg/roles"
)

const (
	admin    = domain.Principal("admin:root")
	company  = domain.Principal("acct:acme")
	verifier = domain.Principal("acct:vera")
	backer   = domain.Principal("acct:bob")
	treasury = domain.Principal("acct:treasury")
	issuerID = domain.Principal("system:certificate")
	fundID   = domain.Principal("system:crowdfund")
)

type fixture struct {
	issuer    *Issuer
	campaigns *crowdfund.Engine
	registry  *registry.Registry
	log       *eventlog.Log
	now       *time.Time
	evidence  uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := &start
	clock := func() time.Time { return *now }

	log := eventlog.New().WithClock(clock)
	rm := roles.NewManager(admin, log)
	require.NoError(t, rm.GrantRole(admin, roles.RoleCompany, company))
	require.NoError(t, rm.GrantRole(admin, roles.RoleVerifier, verifier))

	reg := registry.New(rm, log).WithClock(clock)
	reg.BindEngines(fundID, "system:offcycle", issuerID)

	ledger := reward.NewLedger("GEvidence Reward", "GEVR", fundID, log)
	campaigns := crowdfund.New(crowdfund.Config{
		Roles:      rm,
		Registry:   reg,
		Reward:     ledger,
		Log:        log,
		Engine:     fundID,
		Treasury:   treasury,
		RewardRate: domain.MustParseUnits("1000", 18),
	}).WithClock(clock)

	issuer := NewIssuer(Config{
		Roles:     rm,
		Registry:  reg,
		Campaigns: campaigns,
		Log:       log,
		Engine:    issuerID,
	}).WithClock(clock)

	id, err := reg.CreateEvidence(company, "Emissions audit Q1", domain.HashText("audit-q1"))
	require.NoError(t, err)
	require.NoError(t, reg.SubmitEvidence(company, id))
	require.NoError(t, reg.MoveToUnderReview(verifier, id, ""))
	require.NoError(t, reg.VerifyEvidence(verifier, id, true, "ok"))

	return &fixture{issuer: issuer, campaigns: campaigns, registry: reg, log: log, now: now, evidence: id}
}

// fund runs a campaign for the fixture evidence through to a successful
// finalize and returns its id.
func (f *fixture) fund(t *testing.T) uint64 {
	t.Helper()
	deadline := f.now.Add(2 * time.Hour)
	id, err := f.campaigns.CreateCampaign(backer, f.evidence, "Fund the audit", domain.MustParseUnits("1", 18), deadline)
	require.NoError(t, err)
	require.NoError(t, f.campaigns.Contribute(backer, id, domain.MustParseUnits("1.2", 18)))
	*f.now = f.now.Add(3 * time.Hour)
	require.NoError(t, f.campaigns.Finalize(backer, id))
	return id
}

func TestMintAfterSuccessfulCampaign(t *testing.T) {
	f := newFixture(t)
	campaignID := f.fund(t)

	tokenID, err := f.issuer.Mint(verifier, f.evidence, campaignID, "ipfs://cert/audit-q1")
	require.NoError(t, err)
	require.Equal(t, uint64(1), tokenID)

	owner, err := f.issuer.OwnerOf(tokenID)
	require.NoError(t, err)
	require.Equal(t, company, owner)

	uri, err := f.issuer.TokenURI(tokenID)
	require.NoError(t, err)
	require.Equal(t, "ipfs://cert/audit-q1", uri)

	linked, err := f.registry.CertificateTokenOf(f.evidence)
	require.NoError(t, err)
	require.Equal(t, tokenID, linked)

	cert, err := f.issuer.Get(tokenID)
	require.NoError(t, err)
	require.Equal(t, campaignID, cert.CampaignID)
	require.Equal(t, verifier, cert.Issuer)
}

func TestMintRequiresVerifier(t *testing.T) {
	f := newFixture(t)
	campaignID := f.fund(t)

	_, err := f.issuer.Mint(company, f.evidence, campaignID, "ipfs://cert")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestMintOncePerEvidence(t *testing.T) {
	f := newFixture(t)
	campaignID := f.fund(t)

	_, err := f.issuer.Mint(verifier, f.evidence, campaignID, "ipfs://cert")
	require.NoError(t, err)

	_, err = f.issuer.Mint(verifier, f.evidence, campaignID, "ipfs://cert-again")
	require.ErrorIs(t, err, domain.ErrAlreadyCertified)
	require.Equal(t, uint64(1), f.issuer.TotalMinted())
}

func TestMintRequiresSuccessfulCampaign(t *testing.T) {
	f := newFixture(t)

	// Unknown campaign.
	_, err := f.issuer.Mint(verifier, f.evidence, 99, "ipfs://cert")
	require.ErrorIs(t, err, domain.ErrNotFound)

	// Campaign open, not finalized.
	deadline := f.now.Add(2 * time.Hour)
	id, err := f.campaigns.CreateCampaign(backer, f.evidence, "Fund", domain.MustParseUnits("10", 18), deadline)
	require.NoError(t, err)
	_, err = f.issuer.Mint(verifier, f.evidence, id, "ipfs://cert")
	require.ErrorIs(t, err, domain.ErrCampaignNotSuccessful)

	// Finalized but under goal.
	require.NoError(t, f.campaigns.Contribute(backer, id, domain.MustParseUnits("0.5", 18)))
	*f.now = f.now.Add(3 * time.Hour)
	require.NoError(t, f.campaigns.Finalize(backer, id))
	_, err = f.issuer.Mint(verifier, f.evidence, id, "ipfs://cert")
	require.ErrorIs(t, err, domain.ErrCampaignNotSuccessful)
}

func TestMintAgainstEarlierCampaignAfterRelink(t *testing.T) {
	f := newFixture(t)
	successful := f.fund(t)

	// A newer community campaign takes over the registry link.
	deadline := f.now.Add(2 * time.Hour)
	relinked, err := f.campaigns.CreateCampaign(backer, f.evidence, "Round two", domain.MustParseUnits("5", 18), deadline)
	require.NoError(t, err)

	linked, err := f.registry.CampaignOf(f.evidence)
	require.NoError(t, err)
	require.Equal(t, relinked, linked)

	// The certificate still mints against the earlier successful campaign.
	tokenID, err := f.issuer.Mint(verifier, f.evidence, successful, "ipfs://cert/audit-q1")
	require.NoError(t, err)

	cert, err := f.issuer.Get(tokenID)
	require.NoError(t, err)
	require.Equal(t, successful, cert.CampaignID)
}

func TestMintCampaignMustFundEvidence(t *testing.T) {
	f := newFixture(t)
	f.fund(t)

	// A successful campaign for a different evidence item cannot certify
	// this one.
	other, err := f.registry.CreateEvidence(company, "Emissions audit Q2", domain.HashText("audit-q2"))
	require.NoError(t, err)
	require.NoError(t, f.registry.SubmitEvidence(company, other))
	require.NoError(t, f.registry.MoveToUnderReview(verifier, other, ""))
	require.NoError(t, f.registry.VerifyEvidence(verifier, other, true, "ok"))

	deadline := f.now.Add(2 * time.Hour)
	otherCampaign, err := f.campaigns.CreateCampaign(backer, other, "Fund Q2", domain.MustParseUnits("1", 18), deadline)
	require.NoError(t, err)
	require.NoError(t, f.campaigns.Contribute(backer, otherCampaign, domain.MustParseUnits("1.2", 18)))
	*f.now = f.now.Add(3 * time.Hour)
	require.NoError(t, f.campaigns.Finalize(backer, otherCampaign))

	_, err = f.issuer.Mint(verifier, f.evidence, otherCampaign, "ipfs://cert")
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestMintRequiresVerifiedEvidence(t *testing.T) {
	f := newFixture(t)
	campaignID := f.fund(t)

	draft, err := f.registry.CreateEvidence(company, "unfiled", domain.HashText("x"))
	require.NoError(t, err)

	_, err = f.issuer.Mint(verifier, draft, campaignID, "ipfs://cert")
	require.ErrorIs(t, err, domain.ErrNotVerified)

	_, err = f.issuer.Mint(verifier, 99, campaignID, "ipfs://cert")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUnknownTokenLookups(t *testing.T) {
	f := newFixture(t)

	_, err := f.issuer.OwnerOf(7)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.issuer.TokenURI(7)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Zero(t, f.issuer.TotalMinted())
}

func TestCertificateEventRecorded(t *testing.T) {
	f := newFixture(t)
	campaignID := f.fund(t)
	tokenID, err := f.issuer.Mint(verifier, f.evidence, campaignID, "ipfs://cert")
	require.NoError(t, err)

	entries := f.log.Entries(fmt.Sprintf("certificate/%d", tokenID), 0)
	require.Len(t, entries, 1)
	require.Equal(t, "CertificateMinted", entries[0].Kind)
	require.Equal(t, string(verifier), entries[0].Actor)

	// The registry side of the link is also on the evidence trail.
	evEntries := f.log.Entries("evidence/1", 0)
	var linkedKinds []string
	for _, e := range evEntries {
		linkedKinds = append(linkedKinds, e.Kind)
	}
	require.Contains(t, linkedKinds, "CertificateLinked")
}

func TestCollectionIdentity(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, "GEvidence Company Certificate", f.issuer.Name())
	require.Equal(t, "GEVCERT", f.issuer.Symbol())
}
