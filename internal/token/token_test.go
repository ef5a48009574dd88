package token

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/wosherco/socketless/internal/webhook"
)

func TestIssueAndVerify(t *testing.T) {
	codec := NewCodec("test-secret", time.Hour)

	wh := &webhook.SimpleWebhook{
		URL:    "https://example.com/hook",
		Secret: "hook-secret",
		Options: &webhook.Options{
			SendOnConnect: true,
			SendOnMessage: true,
		},
	}

	signed, err := codec.Issue(42, "alice", "client-1", []string{"room1", "room2"}, wh)
	if err != nil {
		t.Fatalf("Issue() failed: %v", err)
	}

	claims, err := codec.Verify(signed)
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}

	if claims.ProjectID != 42 {
		t.Errorf("ProjectID = %d, want 42", claims.ProjectID)
	}
	if claims.Identifier != "alice" {
		t.Errorf("Identifier = %q, want alice", claims.Identifier)
	}
	if claims.ClientID != "client-1" {
		t.Errorf("ClientID = %q, want client-1", claims.ClientID)
	}
	if !reflect.DeepEqual(claims.Feeds, []string{"room1", "room2"}) {
		t.Errorf("Feeds = %v", claims.Feeds)
	}
	if !reflect.DeepEqual(claims.Webhook, wh) {
		t.Errorf("Webhook = %+v, want %+v", claims.Webhook, wh)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	codec := NewCodec("test-secret", -time.Minute)

	signed, err := codec.Issue(1, "alice", "", nil, nil)
	if err != nil {
		t.Fatalf("Issue() failed: %v", err)
	}

	if _, err := codec.Verify(signed); err == nil {
		t.Error("Verify() accepted an expired token")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewCodec("secret-a", time.Hour)
	verifier := NewCodec("secret-b", time.Hour)

	signed, err := issuer.Issue(1, "alice", "", nil, nil)
	if err != nil {
		t.Fatalf("Issue() failed: %v", err)
	}

	if _, err := verifier.Verify(signed); err == nil {
		t.Error("Verify() accepted a token signed with a different secret")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	codec := NewCodec("test-secret", time.Hour)

	for _, raw := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := codec.Verify(raw); err == nil {
			t.Errorf("Verify(%q) succeeded, want error", raw)
		}
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	codec := NewCodec("test-secret", time.Hour)

	signed, err := codec.Issue(1, "alice", "", nil, nil)
	if err != nil {
		t.Fatalf("Issue() failed: %v", err)
	}

	parts := strings.Split(signed, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %q", signed)
	}
	tampered := parts[0] + "." + parts[1] + "." + parts[2][1:] + "x"

	if _, err := codec.Verify(tampered); err == nil {
		t.Error("Verify() accepted a tampered token")
	}
}

func TestVerifyRejectsMissingIdentity(t *testing.T) {
	codec := NewCodec("test-secret", time.Hour)

	signed, err := codec.Issue(0, "", "", nil, nil)
	if err != nil {
		t.Fatalf("Issue() failed: %v", err)
	}

	if _, err := codec.Verify(signed); err == nil {
		t.Error("Verify() accepted a token without identifier and project")
	}
}
