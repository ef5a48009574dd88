// Package channel defines the logical pub/sub channel names shared by every
// gateway node, and the control envelope exchanged over them. All names are
// scoped by project id so tenants can never observe each other's traffic.
package channel

import (
	"encoding/json"
	"fmt"
)

// Connection returns the channel addressing one specific client, wherever it
// is connected.
func Connection(projectID int64, identifier string) string {
	return fmt.Sprintf("connection:%d:%s", projectID, identifier)
}

// Feed returns the broadcast channel for a named feed.
func Feed(projectID int64, feed string) string {
	return fmt.Sprintf("feed:%d:%s", projectID, feed)
}

// NodeHeartbeat returns the liveness channel for a gateway process. Only the
// reaper and the node itself use it.
func NodeHeartbeat(node string) string {
	return fmt.Sprintf("nodes:heartbeat:%s", node)
}

// Heartbeat payloads exchanged on a node's heartbeat channel.
const (
	HeartbeatPing = "ping"
	HeartbeatPong = "pong"
)

// Envelope types understood by every node.
const (
	TypeJoinFeed    = "join-feed"
	TypeLeaveFeed   = "leave-feed"
	TypeSetFeeds    = "set-feeds"
	TypeSendMessage = "send-message"
)

// Envelope is the tagged union published between nodes. Exactly one shape of
// Data is meaningful per Type.
type Envelope struct {
	Type string       `json:"type"`
	Data EnvelopeData `json:"data"`
}

// EnvelopeData carries the payload of an Envelope. Exclude names a client
// that must not receive a send-message delivery: a feed broadcast requested
// by a connection's own webhook response skips that connection unless it was
// targeted explicitly.
type EnvelopeData struct {
	Feed    string   `json:"feed,omitempty"`
	Feeds   []string `json:"feeds,omitempty"`
	Message string   `json:"message,omitempty"`
	Exclude string   `json:"exclude,omitempty"`
}

// JoinFeed builds an envelope asking the receiving connection to subscribe
// to one more feed.
func JoinFeed(feed string) Envelope {
	return Envelope{Type: TypeJoinFeed, Data: EnvelopeData{Feed: feed}}
}

// LeaveFeed builds an envelope asking the receiving connection to drop a
// feed.
func LeaveFeed(feed string) Envelope {
	return Envelope{Type: TypeLeaveFeed, Data: EnvelopeData{Feed: feed}}
}

// SetFeeds builds an envelope replacing the receiving connection's full feed
// membership.
func SetFeeds(feeds []string) Envelope {
	return Envelope{Type: TypeSetFeeds, Data: EnvelopeData{Feeds: feeds}}
}

// SendMessage builds an envelope carrying an application payload to write to
// the receiving socket.
func SendMessage(message string) Envelope {
	return Envelope{Type: TypeSendMessage, Data: EnvelopeData{Message: message}}
}

// SendMessageExcluding is SendMessage with one client skipped on delivery.
func SendMessageExcluding(message, exclude string) Envelope {
	return Envelope{Type: TypeSendMessage, Data: EnvelopeData{Message: message, Exclude: exclude}}
}

// Encode serializes an envelope for publishing.
func Encode(e Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses and validates an envelope received from the broker.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}

	switch e.Type {
	case TypeJoinFeed, TypeLeaveFeed:
		if e.Data.Feed == "" {
			return Envelope{}, fmt.Errorf("envelope %q missing feed", e.Type)
		}
	case TypeSetFeeds, TypeSendMessage:
		// set-feeds with an empty list clears membership; send-message with
		// an empty payload is legal but pointless.
	default:
		return Envelope{}, fmt.Errorf("unknown envelope type %q", e.Type)
	}

	return e, nil
}

// Diff computes the subscription delta for a set-feeds replacement: feeds to
// add are those in next but not current, feeds to remove those in current
// but not next. Applying only the delta avoids the message-loss window a
// blanket unsubscribe-then-resubscribe would open.
func Diff(current map[string]struct{}, next []string) (add, remove []string) {
	nextSet := make(map[string]struct{}, len(next))
	for _, f := range next {
		nextSet[f] = struct{}{}
		if _, ok := current[f]; !ok {
			add = append(add, f)
		}
	}
	for f := range current {
		if _, ok := nextSet[f]; !ok {
			remove = append(remove, f)
		}
	}
	return add, remove
}
