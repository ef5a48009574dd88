package channel

import (
	"reflect"
	"sort"
	"testing"
)

func TestChannelNames(t *testing.T) {
	if got := Connection(42, "alice"); got != "connection:42:alice" {
		t.Errorf("Connection() = %q", got)
	}
	if got := Feed(42, "room1"); got != "feed:42:room1" {
		t.Errorf("Feed() = %q", got)
	}
	if got := NodeHeartbeat("node-a"); got != "nodes:heartbeat:node-a" {
		t.Errorf("NodeHeartbeat() = %q", got)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
	}{
		{"join", JoinFeed("room1")},
		{"leave", LeaveFeed("room1")},
		{"set", SetFeeds([]string{"a", "b"})},
		{"set empty", SetFeeds(nil)},
		{"message", SendMessage("hello")},
		{"message excluding", SendMessageExcluding("hello", "client-1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.env)
			if err != nil {
				t.Fatalf("Encode() failed: %v", err)
			}
			got, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode() failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.env) {
				t.Errorf("round trip: got %+v, want %+v", got, tt.env)
			}
		})
	}
}

func TestDecodeRejectsBadEnvelopes(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "{"},
		{"unknown type", `{"type":"explode","data":{}}`},
		{"join without feed", `{"type":"join-feed","data":{}}`},
		{"leave without feed", `{"type":"leave-feed","data":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.data)); err == nil {
				t.Errorf("Decode(%q) succeeded, want error", tt.data)
			}
		})
	}
}

func TestDiff(t *testing.T) {
	current := map[string]struct{}{"a": {}, "b": {}, "c": {}}

	add, remove := Diff(current, []string{"b", "c", "d"})
	sort.Strings(add)
	sort.Strings(remove)

	if !reflect.DeepEqual(add, []string{"d"}) {
		t.Errorf("add = %v, want [d]", add)
	}
	if !reflect.DeepEqual(remove, []string{"a"}) {
		t.Errorf("remove = %v, want [a]", remove)
	}
}

func TestDiffNoChange(t *testing.T) {
	current := map[string]struct{}{"a": {}, "b": {}}

	add, remove := Diff(current, []string{"a", "b"})
	if len(add) != 0 || len(remove) != 0 {
		t.Errorf("Diff with identical sets: add=%v remove=%v, want empty", add, remove)
	}
}

func TestDiffEmptyReplacement(t *testing.T) {
	current := map[string]struct{}{"a": {}}

	add, remove := Diff(current, nil)
	if len(add) != 0 {
		t.Errorf("add = %v, want empty", add)
	}
	if !reflect.DeepEqual(remove, []string{"a"}) {
		t.Errorf("remove = %v, want [a]", remove)
	}
}
