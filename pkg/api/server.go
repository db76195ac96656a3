package api

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/gevidence-labs/gevidence/core/pkg/certificate"
	"github.com/gevidence-labs/gevidence/core/pkg/crowdfund"
	"github.com/gevidence-labs/gevidence/core/pkg/domain"
	"github.com/gevidence-labs/gevidence/core/pkg/eventlog"
	"github.com/gevidence-labs/gevidence/core/pkg/offcycle"
	"github.com/gevidence-labs/gevidence/core/pkg/registry"
	"github.com/gevidence-labs/gevidence/core/pkg/reward"
	"github.com/gevidence-labs/gevidence/core/pkg/roles"
)

// Server exposes the GEvidence engines over HTTP.
type Server struct {
	Roles        *roles.Manager
	Registry     *registry.Registry
	Reward       *reward.Ledger
	Campaigns    *crowdfund.Engine
	OffCycle     *offcycle.Engine
	Certificates *certificate.Issuer
	Events       *eventlog.Log
	Logger       *slog.Logger

	// CallerFrom extracts the authenticated principal from the request
	// context. Injected by the auth layer at wiring time so this package
	// stays independent of token handling.
	CallerFrom func(ctx context.Context) domain.Principal

	// AuditPack builds a signed evidence pack for a log scope. Injected at
	// wiring time because the audit exporter sits above this package. Returns
	// the zip archive and its sha256 checksum.
	AuditPack func(ctx context.Context, scope string, after uint64) ([]byte, string, error)
}

func (s *Server) caller(r *http.Request) domain.Principal {
	if s.CallerFrom == nil {
		return ""
	}
	return s.CallerFrom(r.Context())
}

// Routes returns the full route table.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /readiness", s.handleHealth)

	mux.HandleFunc("POST /v1/roles/grant", s.handleGrantRole)
	mux.HandleFunc("POST /v1/roles/revoke", s.handleRevokeRole)
	mux.HandleFunc("GET /v1/roles/{principal}", s.handleRolesOf)

	mux.HandleFunc("POST /v1/evidence", s.handleCreateEvidence)
	mux.HandleFunc("GET /v1/evidence", s.handleListEvidence)
	mux.HandleFunc("GET /v1/evidence/{id}", s.handleGetEvidence)
	mux.HandleFunc("POST /v1/evidence/{id}/submit", s.handleSubmitEvidence)
	mux.HandleFunc("POST /v1/evidence/{id}/review", s.handleReviewEvidence)
	mux.HandleFunc("POST /v1/evidence/{id}/verify", s.handleVerifyEvidence)

	mux.HandleFunc("GET /v1/reward/balance/{principal}", s.handleBalance)
	mux.HandleFunc("GET /v1/reward/supply", s.handleSupply)
	mux.HandleFunc("POST /v1/reward/transfer", s.handleTransfer)
	mux.HandleFunc("POST /v1/reward/transfer-from", s.handleTransferFrom)
	mux.HandleFunc("POST /v1/reward/approve", s.handleApprove)

	mux.HandleFunc("POST /v1/campaigns", s.handleCreateCampaign)
	mux.HandleFunc("GET /v1/campaigns", s.handleListCampaigns)
	mux.HandleFunc("GET /v1/campaigns/{id}", s.handleGetCampaign)
	mux.HandleFunc("GET /v1/campaigns/{id}/contributors", s.handleContributors)
	mux.HandleFunc("POST /v1/campaigns/{id}/contribute", s.handleContribute)
	mux.HandleFunc("POST /v1/campaigns/{id}/finalize", s.handleFinalize)
	mux.HandleFunc("POST /v1/campaigns/{id}/withdraw", s.handleWithdraw)
	mux.HandleFunc("POST /v1/campaigns/{id}/refund", s.handleRefund)

	mux.HandleFunc("POST /v1/offcycle", s.handleRequestCheck)
	mux.HandleFunc("GET /v1/offcycle/{id}", s.handleGetRequest)
	mux.HandleFunc("POST /v1/offcycle/{id}/resolve", s.handleResolveCheck)

	mux.HandleFunc("POST /v1/certificates", s.handleMintCertificate)
	mux.HandleFunc("GET /v1/certificates/{id}", s.handleGetCertificate)

	mux.HandleFunc("POST /v1/admin/treasury", s.handleSetTreasury)
	mux.HandleFunc("POST /v1/admin/min-goal", s.handleSetMinGoal)
	mux.HandleFunc("POST /v1/admin/min-duration", s.handleSetMinDuration)
	mux.HandleFunc("POST /v1/admin/min-stake", s.handleSetMinStake)
	mux.HandleFunc("GET /v1/admin/audit-pack", s.handleAuditPack)

	mux.HandleFunc("GET /v1/events/{scope...}", s.handleEvents)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// pathID parses the {id} path segment.
func pathID(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

// parseWei parses a base-10 wei amount from its string form.
func parseWei(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, domain.ErrInvalidArgument
	}
	return v, nil
}
