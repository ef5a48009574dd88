package webhook

import (
	"encoding/json"
	"fmt"
)

// Event actions sent to webhooks.
const (
	ActionConnectionOpen  = "CONNECTION_OPEN"
	ActionMessage         = "MESSAGE"
	ActionConnectionClose = "CONNECTION_CLOSE"
)

// Feed actions a webhook response may request.
const (
	FeedActionJoin  = "join"
	FeedActionLeave = "leave"
	FeedActionSet   = "set"
)

// ConnectionInfo identifies the client a webhook event is about.
type ConnectionInfo struct {
	ClientID   string `json:"clientId"`
	Identifier string `json:"identifier"`
}

// EventData is the payload of a webhook event.
type EventData struct {
	Connection ConnectionInfo `json:"connection"`
	Message    string         `json:"message,omitempty"`
}

// Event is the JSON body POSTed to a webhook.
type Event struct {
	Action string    `json:"action"`
	Data   EventData `json:"data"`
}

// StringList unmarshals from either a single JSON string or an array of
// strings. Webhook backends routinely send the scalar form.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*l = StringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected string or string array: %w", err)
	}
	*l = StringList(many)
	return nil
}

// OutboundMessage is one message a webhook response asks the gateway to
// deliver. Clients are identifiers, feeds are feed names; either may be
// empty.
type OutboundMessage struct {
	Message string     `json:"message"`
	Clients StringList `json:"clients,omitempty"`
	Feeds   StringList `json:"feeds,omitempty"`
}

// FeedAction is one feed-membership change a webhook response requests,
// possibly for clients other than the one the event was about.
type FeedAction struct {
	Feeds   StringList `json:"feeds"`
	Action  string     `json:"action"`
	Clients StringList `json:"clients"`
}

// messageList and feedActionList accept either a single object or an array.

type messageList []OutboundMessage

func (l *messageList) UnmarshalJSON(data []byte) error {
	var one OutboundMessage
	if err := json.Unmarshal(data, &one); err == nil && one.Message != "" {
		*l = messageList{one}
		return nil
	}
	var many []OutboundMessage
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected message or message array: %w", err)
	}
	*l = messageList(many)
	return nil
}

type feedActionList []FeedAction

func (l *feedActionList) UnmarshalJSON(data []byte) error {
	var one FeedAction
	if err := json.Unmarshal(data, &one); err == nil && one.Action != "" {
		*l = feedActionList{one}
		return nil
	}
	var many []FeedAction
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected feed action or feed action array: %w", err)
	}
	*l = feedActionList(many)
	return nil
}

// Response is the parsed JSON answer from a webhook. Both fields are
// optional; an empty body is a valid response requesting nothing.
type Response struct {
	Messages    []OutboundMessage
	FeedActions []FeedAction
}

type rawResponse struct {
	Messages messageList    `json:"messages,omitempty"`
	Feeds    feedActionList `json:"feeds,omitempty"`
}

// ParseResponse validates a webhook response body at the boundary so
// loosely-typed payloads never reach the relay logic.
func ParseResponse(body []byte) (*Response, error) {
	var raw rawResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse webhook response: %w", err)
	}

	for i, fa := range raw.Feeds {
		switch fa.Action {
		case FeedActionJoin, FeedActionLeave, FeedActionSet:
		default:
			return nil, fmt.Errorf("feed action %d: unknown action %q", i, fa.Action)
		}
	}

	return &Response{
		Messages:    []OutboundMessage(raw.Messages),
		FeedActions: []FeedAction(raw.Feeds),
	}, nil
}
