package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/gevidence-labs/gevidence/core/pkg/auth"
	"github.com/gevidence-labs/gevidence/core/pkg/eventlog"
)

// AuditScope is the event log scope all chain-backed audit records land in.
const AuditScope = "audit"

// ChainLogger records audit events into the tamper-evident event log so
// the audit trail inherits the same hash-chain guarantees as the domain
// scopes.
type ChainLogger struct {
	log *eventlog.Log
}

func NewChainLogger(log *eventlog.Log) *ChainLogger {
	return &ChainLogger{log: log}
}

func (l *ChainLogger) Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]interface{}) error {
	if l.log == nil {
		return fmt.Errorf("fail-closed: audit log not configured")
	}

	actorID := "system"
	if p := auth.PrincipalFrom(ctx); p != "" {
		actorID = string(p)
	}

	fields := map[string]any{
		"event_id": uuid.New().String(),
		"type":     string(eventType),
		"action":   action,
		"resource": resource,
	}
	for k, v := range metadata {
		fields["meta."+k] = v
	}

	_, err := l.log.Append(AuditScope, action, actorID, fields)
	return err
}
