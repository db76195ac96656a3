package crowdfund

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

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
	alice    = domain.Principal("acct:alice")
	bob      = domain.Principal("acct:bob")
	treasury = domain.Principal("acct:treasury")
	engineID = domain.Principal("system:crowdfund")
)

type fixture struct {
	engine   *Engine
	registry *registry.Registry
	ledger   *reward.Ledger
	log      *eventlog.Log
	now      *time.Time
	evidence uint64
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
	reg.BindEngines(engineID, "system:offcycle", "system:certificate")

	ledger := reward.NewLedger("GEvidence Reward", "GEVR", engineID, log)

	eng := New(Config{
		Roles:              rm,
		Registry:           reg,
		Reward:             ledger,
		Log:                log,
		Engine:             engineID,
		Treasury:           treasury,
		RewardRate:         domain.MustParseUnits("1000", 18),
		MinGoalWei:         domain.MustParseUnits("0.01", 18),
		MinDurationSeconds: 3600,
	}).WithClock(clock)

	id, err := reg.CreateEvidence(company, "Emissions audit Q1", domain.HashText("audit-q1"))
	require.NoError(t, err)
	require.NoError(t, reg.SubmitEvidence(company, id))
	require.NoError(t, reg.MoveToUnderReview(verifier, id, "picked up"))
	require.NoError(t, reg.VerifyEvidence(verifier, id, true, "checks out"))

	return &fixture{engine: eng, registry: reg, ledger: ledger, log: log, now: now, evidence: id}
}

func (f *fixture) advance(d time.Duration) { *f.now = f.now.Add(d) }

func wei(s string) *big.Int { return domain.MustParseUnits(s, 18) }

func TestCreateCampaignLinksEvidence(t *testing.T) {
	f := newFixture(t)
	deadline := f.now.Add(24 * time.Hour)

	id, err := f.engine.CreateCampaign(alice, f.evidence, "Fund the audit", wei("1"), deadline)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)

	linked, err := f.registry.CampaignOf(f.evidence)
	require.NoError(t, err)
	require.Equal(t, id, linked)

	c, err := f.engine.GetCampaign(id)
	require.NoError(t, err)
	require.Equal(t, alice, c.Creator)
	require.Zero(t, c.RaisedWei.Sign())
	require.False(t, c.Finalized)
}

func TestCreateCampaignFloors(t *testing.T) {
	f := newFixture(t)
	deadline := f.now.Add(24 * time.Hour)

	_, err := f.engine.CreateCampaign(alice, f.evidence, "tiny", wei("0.001"), deadline)
	require.ErrorIs(t, err, domain.ErrBelowMinimum)

	_, err = f.engine.CreateCampaign(alice, f.evidence, "rush", wei("1"), f.now.Add(time.Minute))
	require.ErrorIs(t, err, domain.ErrBelowMinimum)

	_, err = f.engine.CreateCampaign(alice, 999, "ghost", wei("1"), deadline)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestContributeMintsProportionalReward(t *testing.T) {
	f := newFixture(t)
	id, err := f.engine.CreateCampaign(alice, f.evidence, "Fund the audit", wei("1"), f.now.Add(24*time.Hour))
	require.NoError(t, err)

	require.NoError(t, f.engine.Contribute(bob, id, wei("1.2")))

	// 1.2 ETH at 1000 tokens per ETH mints 1200 GEVR.
	require.Equal(t, wei("1200"), f.ledger.BalanceOf(bob))
	require.Equal(t, wei("1.2"), f.engine.ContributionOf(id, bob))
	require.Equal(t, wei("1.2"), f.engine.EscrowWei())

	c, err := f.engine.GetCampaign(id)
	require.NoError(t, err)
	require.Equal(t, wei("1.2"), c.RaisedWei)
}

func TestContributeAccumulates(t *testing.T) {
	f := newFixture(t)
	id, _ := f.engine.CreateCampaign(alice, f.evidence, "Fund", wei("1"), f.now.Add(24*time.Hour))

	require.NoError(t, f.engine.Contribute(bob, id, wei("0.3")))
	require.NoError(t, f.engine.Contribute(bob, id, wei("0.2")))
	require.NoError(t, f.engine.Contribute(alice, id, wei("0.1")))

	require.Equal(t, wei("0.5"), f.engine.ContributionOf(id, bob))
	who, amounts := f.engine.CampaignContributors(id)
	require.Equal(t, []domain.Principal{bob, alice}, who)
	require.Equal(t, wei("0.5"), amounts[0])
	require.Equal(t, wei("0.1"), amounts[1])
}

func TestContributeGuards(t *testing.T) {
	f := newFixture(t)
	id, _ := f.engine.CreateCampaign(alice, f.evidence, "Fund", wei("1"), f.now.Add(2*time.Hour))

	require.ErrorIs(t, f.engine.Contribute(bob, id, new(big.Int)), domain.ErrInvalidArgument)
	require.ErrorIs(t, f.engine.Contribute(bob, 99, wei("1")), domain.ErrNotFound)

	f.advance(3 * time.Hour)
	require.ErrorIs(t, f.engine.Contribute(bob, id, wei("1")), domain.ErrDeadlinePassed)

	require.NoError(t, f.engine.Finalize(bob, id))
	require.ErrorIs(t, f.engine.Contribute(bob, id, wei("1")), domain.ErrInvalidState)
}

func TestFinalizeOutcome(t *testing.T) {
	f := newFixture(t)
	id, _ := f.engine.CreateCampaign(alice, f.evidence, "Fund", wei("1"), f.now.Add(2*time.Hour))
	require.NoError(t, f.engine.Contribute(bob, id, wei("1.2")))

	require.ErrorIs(t, f.engine.Finalize(bob, id), domain.ErrDeadlineNotReached)

	f.advance(2 * time.Hour)
	require.NoError(t, f.engine.Finalize(bob, id))
	require.ErrorIs(t, f.engine.Finalize(bob, id), domain.ErrAlreadyFinalized)

	c, _ := f.engine.GetCampaign(id)
	require.True(t, c.Finalized)
	require.True(t, c.Successful)
}

func TestWithdrawSuccessfulCampaign(t *testing.T) {
	f := newFixture(t)
	id, _ := f.engine.CreateCampaign(alice, f.evidence, "Fund", wei("1"), f.now.Add(2*time.Hour))
	require.NoError(t, f.engine.Contribute(bob, id, wei("1.2")))

	_, err := f.engine.Withdraw(bob, id)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	f.advance(2 * time.Hour)
	require.NoError(t, f.engine.Finalize(bob, id))

	amount, err := f.engine.Withdraw(bob, id)
	require.NoError(t, err)
	require.Equal(t, wei("1.2"), amount)
	require.Zero(t, f.engine.EscrowWei().Sign())

	_, err = f.engine.Withdraw(bob, id)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestRefundFailedCampaign(t *testing.T) {
	f := newFixture(t)
	id, _ := f.engine.CreateCampaign(alice, f.evidence, "Moonshot", wei("10"), f.now.Add(2*time.Hour))
	require.NoError(t, f.engine.Contribute(bob, id, wei("0.5")))
	require.Equal(t, wei("500"), f.ledger.BalanceOf(bob))

	f.advance(2 * time.Hour)
	require.NoError(t, f.engine.Finalize(bob, id))

	c, _ := f.engine.GetCampaign(id)
	require.False(t, c.Successful)

	_, err := f.engine.Withdraw(alice, id)
	require.ErrorIs(t, err, domain.ErrCampaignNotSuccessful)

	amount, err := f.engine.Refund(bob, id)
	require.NoError(t, err)
	require.Equal(t, wei("0.5"), amount)
	require.Zero(t, f.engine.ContributionOf(id, bob).Sign())
	require.Zero(t, f.engine.EscrowWei().Sign())

	// Rewards stay with the backer after a refund.
	require.Equal(t, wei("500"), f.ledger.BalanceOf(bob))

	_, err = f.engine.Refund(bob, id)
	require.ErrorIs(t, err, domain.ErrZeroContribution)

	_, err = f.engine.Refund(alice, id)
	require.ErrorIs(t, err, domain.ErrZeroContribution)
}

func TestRefundBeforeFinalizeRejected(t *testing.T) {
	f := newFixture(t)
	id, _ := f.engine.CreateCampaign(alice, f.evidence, "Fund", wei("10"), f.now.Add(2*time.Hour))
	require.NoError(t, f.engine.Contribute(bob, id, wei("0.5")))

	_, err := f.engine.Refund(bob, id)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestNewCampaignOverwritesRegistryLink(t *testing.T) {
	f := newFixture(t)
	first, err := f.engine.CreateCampaign(alice, f.evidence, "First", wei("1"), f.now.Add(24*time.Hour))
	require.NoError(t, err)
	second, err := f.engine.CreateCampaign(bob, f.evidence, "Second", wei("2"), f.now.Add(24*time.Hour))
	require.NoError(t, err)

	linked, err := f.registry.CampaignOf(f.evidence)
	require.NoError(t, err)
	require.Equal(t, second, linked)

	// The first campaign is detached from the registry but still operable.
	require.NoError(t, f.engine.Contribute(bob, first, wei("0.1")))
}

func TestAdminSetters(t *testing.T) {
	f := newFixture(t)

	require.ErrorIs(t, f.engine.SetTreasury(bob, bob), domain.ErrUnauthorized)
	require.ErrorIs(t, f.engine.SetMinGoalWei(bob, wei("1")), domain.ErrUnauthorized)
	require.ErrorIs(t, f.engine.SetMinDurationSeconds(bob, 10), domain.ErrUnauthorized)

	require.NoError(t, f.engine.SetTreasury(admin, "acct:vault"))
	require.Equal(t, domain.Principal("acct:vault"), f.engine.Treasury())

	require.NoError(t, f.engine.SetMinGoalWei(admin, wei("5")))
	_, err := f.engine.CreateCampaign(alice, f.evidence, "small", wei("1"), f.now.Add(24*time.Hour))
	require.ErrorIs(t, err, domain.ErrBelowMinimum)

	require.NoError(t, f.engine.SetMinDurationSeconds(admin, 7*24*3600))
	_, err = f.engine.CreateCampaign(alice, f.evidence, "short", wei("5"), f.now.Add(24*time.Hour))
	require.ErrorIs(t, err, domain.ErrBelowMinimum)
}

func TestCampaignViews(t *testing.T) {
	f := newFixture(t)
	require.Zero(t, f.engine.CampaignCount())

	a, _ := f.engine.CreateCampaign(alice, f.evidence, "A", wei("1"), f.now.Add(24*time.Hour))
	b, _ := f.engine.CreateCampaign(bob, f.evidence, "B", wei("2"), f.now.Add(24*time.Hour))

	require.Equal(t, uint64(2), f.engine.CampaignCount())
	all := f.engine.GetAllCampaigns()
	require.Len(t, all, 2)
	require.Equal(t, a, all[0].ID)
	require.Equal(t, b, all[1].ID)

	_, err := f.engine.GetCampaign(42)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCampaignEventsRecorded(t *testing.T) {
	f := newFixture(t)
	id, _ := f.engine.CreateCampaign(alice, f.evidence, "Fund", wei("1"), f.now.Add(2*time.Hour))
	require.NoError(t, f.engine.Contribute(bob, id, wei("1.2")))
	f.advance(2 * time.Hour)
	require.NoError(t, f.engine.Finalize(bob, id))
	_, err := f.engine.Withdraw(bob, id)
	require.NoError(t, err)

	entries := f.log.Entries("campaign/1", 0)
	kinds := make([]string, len(entries))
	for i, e := range entries {
		kinds[i] = e.Kind
	}
	require.Equal(t, []string{"CampaignCreated", "Contributed", "CampaignFinalized", "Withdrawn"}, kinds)
	ok, _ := f.log.Verify("campaign/1")
	require.True(t, ok)
}
