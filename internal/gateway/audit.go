package gateway

import "github.com/relaymux/relaymux/internal/security"

// emitAuditEvent logs a non-auth audit event (config reload, OAuth
// lifecycle) if an audit logger is configured.
func (g *Gateway) emitAuditEvent(eventType security.EventType, detail string) {
	if g.auditLogger == nil {
		return
	}
	g.auditLogger.Log(security.AuditEvent{Type: eventType, Detail: detail})
}
