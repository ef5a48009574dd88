// Package webhook signs, delivers, and parses responses from project
// webhooks, and caches per-project webhook configuration.
package webhook

import (
	"context"
)

// Options control which lifecycle events a webhook receives. A nil Options
// means every event.
type Options struct {
	SendOnConnect    bool `json:"sendOnConnect"`
	SendOnMessage    bool `json:"sendOnMessage"`
	SendOnDisconnect bool `json:"sendOnDisconnect"`
}

// SimpleWebhook is a single webhook target. It either comes from the
// project's registered webhook list or is embedded directly in a connection
// token ("internal" webhook, point to point).
type SimpleWebhook struct {
	URL     string   `json:"url"`
	Secret  string   `json:"secret"`
	Options *Options `json:"options,omitempty"`
}

// WantsConnect reports whether CONNECTION_OPEN events should be delivered.
func (w SimpleWebhook) WantsConnect() bool {
	return w.Options == nil || w.Options.SendOnConnect
}

// WantsMessage reports whether MESSAGE events should be delivered.
func (w SimpleWebhook) WantsMessage() bool {
	return w.Options == nil || w.Options.SendOnMessage
}

// WantsDisconnect reports whether CONNECTION_CLOSE events should be
// delivered.
func (w SimpleWebhook) WantsDisconnect() bool {
	return w.Options == nil || w.Options.SendOnDisconnect
}

// ProjectConfig is the slice of project state the gateway needs per event:
// plan limits for the usage gate and the registered webhook list.
type ProjectConfig struct {
	ProjectID           int64
	MaxConnections      int64
	MaxIncomingMessages int64
	MaxOutgoingMessages int64
	Webhooks            []SimpleWebhook
}

// ConfigSource resolves project configuration from the authoritative store.
type ConfigSource interface {
	ProjectConfig(ctx context.Context, projectID int64) (*ProjectConfig, error)
}
