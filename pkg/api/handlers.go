package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gevidence-labs/gevidence/core/pkg/domain"
	"github.com/gevidence-labs/gevidence/core/pkg/observability"
	"github.com/gevidence-labs/gevidence/core/pkg/roles"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody decodes a JSON request body with a 1MB cap.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return false
	}
	return true
}

// --- roles ---

type roleRequest struct {
	Role      string `json:"role"`
	Principal string `json:"principal"`
}

func (s *Server) handleGrantRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.Roles.GrantRole(s.caller(r), roles.Role(req.Role), domain.Principal(req.Principal)); err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"role": req.Role, "principal": req.Principal})
}

func (s *Server) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.Roles.RevokeRole(s.caller(r), roles.Role(req.Role), domain.Principal(req.Principal)); err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"role": req.Role, "principal": req.Principal})
}

func (s *Server) handleRolesOf(w http.ResponseWriter, r *http.Request) {
	p := domain.Principal(r.PathValue("principal"))
	writeJSON(w, http.StatusOK, map[string]any{
		"principal": p,
		"roles":     s.Roles.RolesOf(p),
	})
}

// --- evidence ---

type createEvidenceRequest struct {
	Title        string `json:"title"`
	MetadataHash string `json:"metadata_hash"`
}

func (s *Server) handleCreateEvidence(w http.ResponseWriter, r *http.Request) {
	var req createEvidenceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Title == "" || req.MetadataHash == "" {
		WriteBadRequest(w, "Missing required fields: title, metadata_hash")
		return
	}
	id, err := s.Registry.CreateEvidence(s.caller(r), req.Title, domain.Hash(req.MetadataHash))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

func (s *Server) handleListEvidence(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Registry.List())
}

func (s *Server) handleGetEvidence(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		WriteBadRequest(w, "Invalid evidence id")
		return
	}
	ev, err := s.Registry.Get(id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleSubmitEvidence(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		WriteBadRequest(w, "Invalid evidence id")
		return
	}
	if err := s.Registry.SubmitEvidence(s.caller(r), id); err != nil {
		WriteDomainError(w, err)
		return
	}
	if status, err := s.Registry.StatusOf(id); err == nil {
		observability.WithEvidence(r.Context(), id, string(status))
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"id": id})
}

type reviewRequest struct {
	Note string `json:"note"`
}

func (s *Server) handleReviewEvidence(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		WriteBadRequest(w, "Invalid evidence id")
		return
	}
	var req reviewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.Registry.MoveToUnderReview(s.caller(r), id, req.Note); err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"id": id})
}

type verifyRequest struct {
	Approved bool   `json:"approved"`
	Note     string `json:"note"`
}

func (s *Server) handleVerifyEvidence(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		WriteBadRequest(w, "Invalid evidence id")
		return
	}
	var req verifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.Registry.VerifyEvidence(s.caller(r), id, req.Approved, req.Note); err != nil {
		WriteDomainError(w, err)
		return
	}
	status, _ := s.Registry.StatusOf(id)
	observability.SpanFromContext(r.Context()).SetAttributes(
		observability.VerificationOperation(id, string(s.caller(r)), string(status))...)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": status})
}

// --- reward ---

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	p := domain.Principal(r.PathValue("principal"))
	writeJSON(w, http.StatusOK, map[string]string{
		"principal": string(p),
		"balance":   s.Reward.BalanceOf(p).String(),
	})
}

func (s *Server) handleSupply(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":         s.Reward.Name(),
		"symbol":       s.Reward.Symbol(),
		"total_supply": s.Reward.TotalSupply().String(),
	})
}

type transferRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := parseWei(req.Amount)
	if err != nil {
		WriteBadRequest(w, "Invalid amount")
		return
	}
	if err := s.Reward.Transfer(s.caller(r), domain.Principal(req.To), amount); err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"to": req.To, "amount": amount.String()})
}

type approveRequest struct {
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := parseWei(req.Amount)
	if err != nil {
		WriteBadRequest(w, "Invalid amount")
		return
	}
	if err := s.Reward.Approve(s.caller(r), domain.Principal(req.Spender), amount); err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"spender": req.Spender, "amount": amount.String()})
}

type transferFromRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (s *Server) handleTransferFrom(w http.ResponseWriter, r *http.Request) {
	var req transferFromRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := parseWei(req.Amount)
	if err != nil {
		WriteBadRequest(w, "Invalid amount")
		return
	}
	if err := s.Reward.TransferFrom(s.caller(r), domain.Principal(req.From), domain.Principal(req.To), amount); err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"from": req.From, "to": req.To, "amount": amount.String()})
}

// --- campaigns ---

type createCampaignRequest struct {
	EvidenceID uint64 `json:"evidence_id"`
	Title      string `json:"title"`
	GoalWei    string `json:"goal_wei"`
	Deadline   int64  `json:"deadline"` // unix seconds
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if !decodeBody(w, r, &req) {
		return
	}
	goal, err := parseWei(req.GoalWei)
	if err != nil {
		WriteBadRequest(w, "Invalid goal_wei")
		return
	}
	id, err := s.Campaigns.CreateCampaign(s.caller(r), req.EvidenceID, req.Title, goal, time.Unix(req.Deadline, 0).UTC())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	observability.WithCampaign(r.Context(), id, goal.String())
	writeJSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

func (s *Server) handleListCampaigns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Campaigns.GetAllCampaigns())
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		WriteBadRequest(w, "Invalid campaign id")
		return
	}
	c, err := s.Campaigns.GetCampaign(id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleContributors(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		WriteBadRequest(w, "Invalid campaign id")
		return
	}
	if _, err := s.Campaigns.GetCampaign(id); err != nil {
		WriteDomainError(w, err)
		return
	}
	who, amounts := s.Campaigns.CampaignContributors(id)
	out := make([]map[string]string, len(who))
	for i := range who {
		out[i] = map[string]string{
			"contributor": string(who[i]),
			"amount_wei":  amounts[i].String(),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type contributeRequest struct {
	ValueWei string `json:"value_wei"`
}

func (s *Server) handleContribute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		WriteBadRequest(w, "Invalid campaign id")
		return
	}
	var req contributeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	value, err := parseWei(req.ValueWei)
	if err != nil {
		WriteBadRequest(w, "Invalid value_wei")
		return
	}
	if err := s.Campaigns.Contribute(s.caller(r), id, value); err != nil {
		WriteDomainError(w, err)
		return
	}
	observability.SpanFromContext(r.Context()).SetAttributes(
		observability.FundingOperation(id, string(s.caller(r)), value.String())...)
	writeJSON(w, http.StatusOK, map[string]string{
		"campaign": strconv.FormatUint(id, 10),
		"value":    value.String(),
		"balance":  s.Reward.BalanceOf(s.caller(r)).String(),
	})
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		WriteBadRequest(w, "Invalid campaign id")
		return
	}
	if err := s.Campaigns.Finalize(s.caller(r), id); err != nil {
		WriteDomainError(w, err)
		return
	}
	c, _ := s.Campaigns.GetCampaign(id)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "successful": c.Successful})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		WriteBadRequest(w, "Invalid campaign id")
		return
	}
	amount, err := s.Campaigns.Withdraw(s.caller(r), id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"amount_wei": amount.String(),
		"to":         string(s.Campaigns.Treasury()),
	})
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		WriteBadRequest(w, "Invalid campaign id")
		return
	}
	amount, err := s.Campaigns.Refund(s.caller(r), id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount_wei": amount.String()})
}

// --- off-cycle ---

type requestCheckRequest struct {
	EvidenceID  uint64 `json:"evidence_id"`
	StakeWei    string `json:"stake_wei"`
	ReasonHash  string `json:"reason_hash"`
	MetricsHash string `json:"metrics_hash"`
}

func (s *Server) handleRequestCheck(w http.ResponseWriter, r *http.Request) {
	var req requestCheckRequest
	if !decodeBody(w, r, &req) {
		return
	}
	stake, err := parseWei(req.StakeWei)
	if err != nil {
		WriteBadRequest(w, "Invalid stake_wei")
		return
	}
	id, err := s.OffCycle.RequestCheck(s.caller(r), req.EvidenceID, stake, domain.Hash(req.ReasonHash), domain.Hash(req.MetricsHash))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	observability.SpanFromContext(r.Context()).SetAttributes(
		observability.AttrRequestID.Int64(int64(id)),
		observability.AttrAmount.String(stake.String()))
	writeJSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		WriteBadRequest(w, "Invalid request id")
		return
	}
	req, err := s.OffCycle.GetRequest(id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type resolveRequest struct {
	Approved   bool   `json:"approved"`
	ResultHash string `json:"result_hash"`
	ReportURI  string `json:"report_uri"`
}

func (s *Server) handleResolveCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		WriteBadRequest(w, "Invalid request id")
		return
	}
	var req resolveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.OffCycle.Resolve(s.caller(r), id, req.Approved, domain.Hash(req.ResultHash), req.ReportURI); err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "approved": req.Approved})
}

// --- certificates ---

type mintCertificateRequest struct {
	EvidenceID uint64 `json:"evidence_id"`
	CampaignID uint64 `json:"campaign_id"`
	TokenURI   string `json:"token_uri"`
}

func (s *Server) handleMintCertificate(w http.ResponseWriter, r *http.Request) {
	var req mintCertificateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tokenID, err := s.Certificates.Mint(s.caller(r), req.EvidenceID, req.CampaignID, req.TokenURI)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	observability.SpanFromContext(r.Context()).SetAttributes(
		observability.AttrTokenID.Int64(int64(tokenID)),
		observability.AttrCampaignID.Int64(int64(req.CampaignID)))
	writeJSON(w, http.StatusCreated, map[string]uint64{"token_id": tokenID})
}

func (s *Server) handleGetCertificate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		WriteBadRequest(w, "Invalid token id")
		return
	}
	cert, err := s.Certificates.Get(id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

// --- admin parameters ---

type treasuryRequest struct {
	Treasury string `json:"treasury"`
}

func (s *Server) handleSetTreasury(w http.ResponseWriter, r *http.Request) {
	var req treasuryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	t := domain.Principal(req.Treasury)
	if err := s.Campaigns.SetTreasury(s.caller(r), t); err != nil {
		WriteDomainError(w, err)
		return
	}
	if err := s.OffCycle.SetTreasury(s.caller(r), t); err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"treasury": req.Treasury})
}

type minGoalRequest struct {
	MinGoalWei string `json:"min_goal_wei"`
}

func (s *Server) handleSetMinGoal(w http.ResponseWriter, r *http.Request) {
	var req minGoalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	min, err := parseWei(req.MinGoalWei)
	if err != nil {
		WriteBadRequest(w, "Invalid min_goal_wei")
		return
	}
	if err := s.Campaigns.SetMinGoalWei(s.caller(r), min); err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"min_goal_wei": min.String()})
}

type minDurationRequest struct {
	Seconds int64 `json:"seconds"`
}

func (s *Server) handleSetMinDuration(w http.ResponseWriter, r *http.Request) {
	var req minDurationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.Campaigns.SetMinDurationSeconds(s.caller(r), req.Seconds); err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"seconds": req.Seconds})
}

type minStakeRequest struct {
	MinStake string `json:"min_stake"`
}

func (s *Server) handleSetMinStake(w http.ResponseWriter, r *http.Request) {
	var req minStakeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	min, err := parseWei(req.MinStake)
	if err != nil {
		WriteBadRequest(w, "Invalid min_stake")
		return
	}
	if err := s.OffCycle.SetMinStake(s.caller(r), min); err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"min_stake": min.String()})
}

// --- audit ---

// handleAuditPack streams a portable evidence pack for an event scope:
// GET /v1/admin/audit-pack?scope=audit&after=N. ADMIN only.
func (s *Server) handleAuditPack(w http.ResponseWriter, r *http.Request) {
	if !s.Roles.HasRole(roles.RoleAdmin, s.caller(r)) {
		WriteForbidden(w, "ADMIN role required")
		return
	}
	if s.AuditPack == nil {
		WriteError(w, http.StatusNotImplemented, "Not Implemented", "Audit export is not configured")
		return
	}
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		WriteBadRequest(w, "Missing scope parameter")
		return
	}
	var after uint64
	if q := r.URL.Query().Get("after"); q != "" {
		v, err := strconv.ParseUint(q, 10, 64)
		if err != nil {
			WriteBadRequest(w, "Invalid after cursor")
			return
		}
		after = v
	}
	pack, checksum, err := s.AuditPack(r.Context(), scope, after)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-pack-`+scope+`.zip"`)
	w.Header().Set("X-Pack-Checksum", checksum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pack)
}

// --- events ---

// handleEvents serves the per-scope event trail with cursor pagination:
// GET /v1/events/{scope}?after=N returns entries with sequence > N.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	scope := r.PathValue("scope")
	if scope == "" {
		WriteBadRequest(w, "Missing event scope")
		return
	}
	var after uint64
	if q := r.URL.Query().Get("after"); q != "" {
		v, err := strconv.ParseUint(q, 10, 64)
		if err != nil {
			WriteBadRequest(w, "Invalid after cursor")
			return
		}
		after = v
	}
	entries := s.Events.Entries(scope, after)
	writeJSON(w, http.StatusOK, map[string]any{
		"scope":   scope,
		"entries": entries,
		"head":    s.Events.Head(scope),
	})
}
