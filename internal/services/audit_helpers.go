package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/lifelink/lifelink/internal/auditctx"
	"github.com/lifelink/lifelink/pkg/logger"
)

// recordAudit logs the supplied entry while tolerating audit failures. Request metadata stored
// by the HTTP layer fills in whatever the caller left empty.
func recordAudit(audit AuditSink, ctx context.Context, entry AuditEntry) {
	if audit == nil {
		return
	}
	if actor, ok := auditctx.FromContext(ctx); ok {
		if entry.ActorID == nil && actor.UserID != "" {
			id := actor.UserID
			entry.ActorID = &id
		}
		if entry.IPAddress == "" {
			entry.IPAddress = actor.IPAddress
		}
		if entry.UserAgent == "" {
			entry.UserAgent = actor.UserAgent
		}
		if actor.RequestID != "" || actor.IsJob() {
			meta := make(map[string]any, len(entry.Metadata)+1)
			for k, v := range entry.Metadata {
				meta[k] = v
			}
			if actor.RequestID != "" {
				meta["request_id"] = actor.RequestID
			}
			if actor.IsJob() {
				meta["job"] = actor.Job
			}
			entry.Metadata = meta
		}
	}
	if entry.Result == "" {
		entry.Result = AuditResultSuccess
	}
	if err := audit.Log(ctx, entry); err != nil {
		logger.Enrich(ctx, logger.WithModule("audit")).Warn("audit record dropped",
			zap.String("action", entry.Action),
			zap.String("resource_id", entry.ResourceID),
			zap.Error(err),
		)
	}
}

func actorRef(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
