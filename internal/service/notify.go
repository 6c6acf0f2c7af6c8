package service

import "context"

// MultiNotifier fans one broadcast out to several sinks, e.g. the WebSocket
// hub plus a chat webhook. Sinks are best-effort; each absorbs its own
// failures.
type MultiNotifier []Notifier

// BroadcastEvent forwards the event to every sink in order.
func (m MultiNotifier) BroadcastEvent(ctx context.Context, tenantID, eventType string, payload any) {
	for _, n := range m {
		if n != nil {
			n.BroadcastEvent(ctx, tenantID, eventType, payload)
		}
	}
}
