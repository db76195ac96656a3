// GEvidence-specific instrumentation helpers.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Semantic convention attributes for GEvidence spans.
var (
	AttrEvidenceID     = attribute.Key("gev.evidence.id")
	AttrEvidenceStatus = attribute.Key("gev.evidence.status")

	AttrCampaignID   = attribute.Key("gev.campaign.id")
	AttrCampaignGoal = attribute.Key("gev.campaign.goal_wei")

	AttrRequestID = attribute.Key("gev.offcycle.request_id")
	AttrTokenID   = attribute.Key("gev.certificate.token_id")

	AttrActor  = attribute.Key("gev.actor")
	AttrRole   = attribute.Key("gev.role")
	AttrAmount = attribute.Key("gev.amount_wei")
)

// WithEvidence annotates the current span with evidence identity.
func WithEvidence(ctx context.Context, id uint64, status string) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		AttrEvidenceID.Int64(int64(id)),
		AttrEvidenceStatus.String(status),
	)
}

// WithCampaign annotates the current span with campaign identity.
func WithCampaign(ctx context.Context, id uint64, goalWei string) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		AttrCampaignID.Int64(int64(id)),
		AttrCampaignGoal.String(goalWei),
	)
}

// WithActor annotates the current span with the acting principal.
func WithActor(ctx context.Context, principal string) {
	trace.SpanFromContext(ctx).SetAttributes(AttrActor.String(principal))
}

// FundingOperation builds the attribute set for a campaign money movement.
func FundingOperation(campaignID uint64, actor, amountWei string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCampaignID.Int64(int64(campaignID)),
		AttrActor.String(actor),
		AttrAmount.String(amountWei),
	}
}

// VerificationOperation builds the attribute set for a review transition.
func VerificationOperation(evidenceID uint64, actor, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEvidenceID.Int64(int64(evidenceID)),
		AttrActor.String(actor),
		AttrEvidenceStatus.String(status),
	}
}

// SpanFromContext returns the current span (no-op span if none).
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus marks the current span failed when err is non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
