package webhook

import (
	"reflect"
	"testing"
)

func TestParseResponseArrays(t *testing.T) {
	body := `{
		"messages": [
			{"message": "hi", "feeds": ["room1"]},
			{"message": "yo", "clients": ["alice", "bob"]}
		],
		"feeds": [
			{"feeds": ["room2"], "action": "join", "clients": ["alice"]}
		]
	}`

	resp, err := ParseResponse([]byte(body))
	if err != nil {
		t.Fatalf("ParseResponse() failed: %v", err)
	}

	if len(resp.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(resp.Messages))
	}
	if resp.Messages[0].Message != "hi" || !reflect.DeepEqual([]string(resp.Messages[0].Feeds), []string{"room1"}) {
		t.Errorf("message 0 = %+v", resp.Messages[0])
	}
	if !reflect.DeepEqual([]string(resp.Messages[1].Clients), []string{"alice", "bob"}) {
		t.Errorf("message 1 clients = %v", resp.Messages[1].Clients)
	}

	if len(resp.FeedActions) != 1 {
		t.Fatalf("got %d feed actions, want 1", len(resp.FeedActions))
	}
	fa := resp.FeedActions[0]
	if fa.Action != FeedActionJoin || !reflect.DeepEqual([]string(fa.Feeds), []string{"room2"}) {
		t.Errorf("feed action = %+v", fa)
	}
}

func TestParseResponseSingularForms(t *testing.T) {
	// Backends may answer with single objects and scalar strings instead of
	// arrays; both shapes are accepted.
	body := `{
		"messages": {"message": "hi", "feeds": "room1"},
		"feeds": {"feeds": "room2", "action": "set", "clients": "alice"}
	}`

	resp, err := ParseResponse([]byte(body))
	if err != nil {
		t.Fatalf("ParseResponse() failed: %v", err)
	}

	if len(resp.Messages) != 1 || resp.Messages[0].Message != "hi" {
		t.Errorf("messages = %+v", resp.Messages)
	}
	if !reflect.DeepEqual([]string(resp.Messages[0].Feeds), []string{"room1"}) {
		t.Errorf("feeds = %v", resp.Messages[0].Feeds)
	}
	if len(resp.FeedActions) != 1 || resp.FeedActions[0].Action != FeedActionSet {
		t.Errorf("feed actions = %+v", resp.FeedActions)
	}
	if !reflect.DeepEqual([]string(resp.FeedActions[0].Clients), []string{"alice"}) {
		t.Errorf("clients = %v", resp.FeedActions[0].Clients)
	}
}

func TestParseResponseEmptyObject(t *testing.T) {
	resp, err := ParseResponse([]byte(`{}`))
	if err != nil {
		t.Fatalf("ParseResponse() failed: %v", err)
	}
	if len(resp.Messages) != 0 || len(resp.FeedActions) != 0 {
		t.Errorf("empty object produced %+v", resp)
	}
}

func TestParseResponseRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "nope"},
		{"unknown feed action", `{"feeds": [{"feeds": ["x"], "action": "mutate", "clients": ["a"]}]}`},
		{"messages wrong type", `{"messages": 5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseResponse([]byte(tt.body)); err == nil {
				t.Errorf("ParseResponse(%q) succeeded, want error", tt.body)
			}
		})
	}
}

func TestOptionsDefaultToAllEvents(t *testing.T) {
	wh := SimpleWebhook{URL: "https://example.com", Secret: "s"}
	if !wh.WantsConnect() || !wh.WantsMessage() || !wh.WantsDisconnect() {
		t.Error("nil options should enable every event")
	}

	wh.Options = &Options{SendOnMessage: true}
	if wh.WantsConnect() || !wh.WantsMessage() || wh.WantsDisconnect() {
		t.Errorf("options not honored: %+v", wh.Options)
	}
}
