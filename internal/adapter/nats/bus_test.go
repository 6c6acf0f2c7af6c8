package nats

import (
	"encoding/json"
	"testing"

	"github.com/greenlight-hq/greenlight/internal/domain/event"
)

func TestLiveSubjectPartitionsByTenant(t *testing.T) {
	got := liveSubject(event.TypeActionProposed, "t1")
	want := "gl.evt.action.proposed.t1"
	if got != want {
		t.Fatalf("liveSubject = %q, want %q", got, want)
	}

	other := liveSubject(event.TypeActionProposed, "t2")
	if other == got {
		t.Fatal("different tenants must map to different subjects")
	}
}

func TestDeadSubjectIsSeparateNamespace(t *testing.T) {
	live := liveSubject(event.TypeApprovalRequested, "t1")
	dead := deadSubject(event.TypeApprovalRequested, "t1")
	if live == dead {
		t.Fatal("dead-letter subject must not collide with the live subject")
	}
	if dead != "gl.dlq.approval.requested.t1" {
		t.Fatalf("deadSubject = %q", dead)
	}
}

func TestFilterSubjectMatchesAllTenants(t *testing.T) {
	got := filterSubject(event.TypeApprovalGranted)
	if got != "gl.evt.approval.granted.>" {
		t.Fatalf("filterSubject = %q", got)
	}
}

func TestRawPayloadAlwaysYieldsValidJSON(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"valid object passes through", []byte(`{"a":1}`)},
		{"non-JSON bytes are wrapped", []byte("not json at all {{{")},
		{"empty message", nil},
		{"truncated JSON", []byte(`{"a":`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rawPayload(tt.in)
			if !json.Valid(got) {
				t.Fatalf("rawPayload(%q) = %q is not valid JSON", tt.in, got)
			}
		})
	}

	if got := rawPayload([]byte(`{"a":1}`)); string(got) != `{"a":1}` {
		t.Fatalf("valid JSON must pass through unchanged, got %q", got)
	}
	var s string
	if err := json.Unmarshal(rawPayload([]byte("garbage")), &s); err != nil || s != "garbage" {
		t.Fatalf("non-JSON bytes must round-trip as a JSON string, got %q err %v", s, err)
	}
}
