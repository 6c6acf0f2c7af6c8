package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/greenlight-hq/greenlight/internal/middleware"
)

// dialHub starts an httptest server around HandleWS (behind the tenant
// middleware, as in production) and connects a client for the given tenant.
func dialHub(t *testing.T, hub *Hub, tenantID string) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(middleware.TenantID(http.HandlerFunc(hub.HandleWS)))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), &websocket.DialOptions{
		HTTPHeader: http.Header{"X-Tenant-ID": []string{tenantID}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func waitForConnections(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ConnectionCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("ConnectionCount=%d, want %d", hub.ConnectionCount(), want)
}

func TestHandleWSConnectionOutlivesHandshake(t *testing.T) {
	hub := NewHub(nil)
	c := dialHub(t, hub, "tenant-1")

	// The connection must stay registered after the handshake, not be reaped
	// by the request lifecycle.
	waitForConnections(t, hub, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// A broadcast for another tenant must not reach this client; the next
	// read must yield this tenant's event.
	hub.BroadcastEvent(ctx, "tenant-2", EventApprovalCreated, ApprovalCreatedEvent{ApprovalID: "other"})
	hub.BroadcastEvent(ctx, "tenant-1", EventApprovalCreated, ApprovalCreatedEvent{
		ApprovalID: "a1",
		Tier:       "QUICK",
	})

	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != EventApprovalCreated {
		t.Fatalf("expected %s, got %s", EventApprovalCreated, msg.Type)
	}
	var ev ApprovalCreatedEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if ev.ApprovalID != "a1" {
		t.Fatalf("expected tenant-1's own event, got %+v", ev)
	}
}

func TestHandleWSUnregistersOnClientClose(t *testing.T) {
	hub := NewHub(nil)
	c := dialHub(t, hub, "tenant-1")
	waitForConnections(t, hub, 1)

	if err := c.Close(websocket.StatusNormalClosure, "done"); err != nil {
		t.Fatalf("close: %v", err)
	}
	waitForConnections(t, hub, 0)
}

func TestNewHub(t *testing.T) {
	hub := NewHub(nil)
	if hub == nil {
		t.Fatal("expected non-nil hub")
	}
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
}

func TestHubBroadcastNoConnections(t *testing.T) {
	hub := NewHub(nil)

	// Broadcast with no connections should not panic.
	hub.Broadcast(context.Background(), Message{
		Type:    "test",
		Payload: []byte(`{"key":"value"}`),
	})
}

func TestHubBroadcastEventNoConnections(t *testing.T) {
	hub := NewHub(nil)

	// BroadcastEvent with no connections should not panic.
	hub.BroadcastEvent(context.Background(), "tenant-1", EventApprovalDecided, ApprovalDecidedEvent{
		ApprovalID: "a1",
		State:      "APPROVED",
		DecidedBy:  "reviewer-1",
	})
}

func TestHubBroadcastEventMarshalError(t *testing.T) {
	hub := NewHub(nil)

	// A channel cannot be marshaled to JSON — should log error, not panic.
	hub.BroadcastEvent(context.Background(), "tenant-1", "bad", make(chan int))
}

func TestHubRemoveNonexistent(t *testing.T) {
	hub := NewHub(nil)

	// Removing a connection that was never added should not panic.
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &conn{ws: nil, cancel: cancel, tenantID: "tenant-1"}
	hub.remove(c)
}

func TestHubBroadcastToTenantNoConnections(t *testing.T) {
	hub := NewHub(nil)

	// BroadcastToTenant with no connections should not panic.
	hub.BroadcastToTenant(context.Background(), "tenant-1", Message{
		Type:    "test",
		Payload: []byte(`{"key":"value"}`),
	})
}
