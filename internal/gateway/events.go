package gateway

import (
	"context"

	"github.com/wosherco/socketless/internal/channel"
	"github.com/wosherco/socketless/internal/webhook"
)

// dispatchEvent fires one lifecycle event at every applicable webhook: the
// project's registered list (cached) plus the connection's token-embedded
// internal webhook, if any. Deliveries run in parallel as background tasks
// with bounded concurrency; one webhook's failure never blocks another's,
// and nothing here ever propagates to the socket.
func (s *Server) dispatchEvent(c *Conn, action, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WebhookTimeout)

	cfg, err := s.projects.ProjectConfig(ctx, c.projectID)
	if err != nil {
		cancel()
		c.log.Error().Err(err).Str("action", action).Msg("webhook list lookup failed")
		return
	}
	cancel()

	targets := make([]webhook.SimpleWebhook, 0, len(cfg.Webhooks)+1)
	targets = append(targets, cfg.Webhooks...)
	if c.internalWebhook != nil {
		targets = append(targets, *c.internalWebhook)
	}

	event := webhook.Event{
		Action: action,
		Data: webhook.EventData{
			Connection: webhook.ConnectionInfo{
				ClientID:   c.clientID,
				Identifier: c.identifier,
			},
			Message: message,
		},
	}

	for _, wh := range targets {
		if !wants(wh, action) {
			continue
		}

		wh := wh
		s.dispatchSem <- struct{}{}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.dispatchSem }()

			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WebhookTimeout)
			defer cancel()

			s.metrics.WebhooksDispatched.WithLabelValues(action).Inc()
			resp, err := s.dispatcher.Dispatch(ctx, wh, event)
			if err != nil {
				s.metrics.WebhooksFailed.WithLabelValues(action).Inc()
				c.log.Warn().Err(err).Str("action", action).Msg("webhook delivery failed")
				return
			}
			if resp != nil {
				s.processResponse(ctx, c, resp)
			}
		}()
	}
}

func wants(wh webhook.SimpleWebhook, action string) bool {
	switch action {
	case webhook.ActionConnectionOpen:
		return wh.WantsConnect()
	case webhook.ActionMessage:
		return wh.WantsMessage()
	case webhook.ActionConnectionClose:
		return wh.WantsDisconnect()
	}
	return false
}

// processResponse applies what a webhook asked for: outbound messages and
// feed-membership changes, both resolved onto broker channels so the target
// clients may live on any node.
func (s *Server) processResponse(ctx context.Context, c *Conn, resp *webhook.Response) {
	cfg, err := s.projects.ProjectConfig(ctx, c.projectID)
	if err != nil {
		c.log.Error().Err(err).Msg("project config lookup failed, response discarded")
		return
	}

	for i, m := range resp.Messages {
		allowed, err := s.gate.CheckOutgoing(ctx, c.projectID, cfg.MaxOutgoingMessages)
		if err != nil {
			c.log.Error().Err(err).Msg("outgoing usage check failed, response cut off")
			return
		}
		if !allowed {
			// Hard backpressure cutoff: the rest of this response's
			// messages are dropped, not just this one.
			s.metrics.MessagesDropped.Inc()
			c.log.Info().
				Int("remaining", len(resp.Messages)-i).
				Msg("outgoing messages over plan limit, response cut off")
			return
		}
		if err := s.gate.OutgoingAccepted(ctx, c.projectID); err != nil {
			c.log.Error().Err(err).Msg("incrementing outgoing counter failed")
		}

		direct, err := channel.Encode(channel.SendMessage(m.Message))
		if err != nil {
			c.log.Error().Err(err).Msg("encoding outbound message failed")
			continue
		}
		// Feed broadcasts requested by this connection's own event skip the
		// connection itself; explicit client targeting never does.
		broadcast, err := channel.Encode(channel.SendMessageExcluding(m.Message, c.clientID))
		if err != nil {
			c.log.Error().Err(err).Msg("encoding outbound message failed")
			continue
		}

		for _, identifier := range m.Clients {
			s.publish(ctx, c, channel.Connection(c.projectID, identifier), direct)
		}
		for _, feed := range m.Feeds {
			s.publish(ctx, c, channel.Feed(c.projectID, feed), broadcast)
		}
		s.metrics.MessagesOutgoing.Inc()
	}

	for _, fa := range resp.FeedActions {
		s.applyFeedAction(ctx, c, fa)
	}
}

// applyFeedAction publishes the matching control envelopes to every target
// client's connection channel. Targets may be clients other than the one the
// webhook event was about.
func (s *Server) applyFeedAction(ctx context.Context, c *Conn, fa webhook.FeedAction) {
	var envelopes []channel.Envelope
	switch fa.Action {
	case webhook.FeedActionJoin:
		for _, feed := range fa.Feeds {
			envelopes = append(envelopes, channel.JoinFeed(feed))
		}
	case webhook.FeedActionLeave:
		for _, feed := range fa.Feeds {
			envelopes = append(envelopes, channel.LeaveFeed(feed))
		}
	case webhook.FeedActionSet:
		envelopes = append(envelopes, channel.SetFeeds(fa.Feeds))
	}

	for _, env := range envelopes {
		payload, err := channel.Encode(env)
		if err != nil {
			c.log.Error().Err(err).Str("type", env.Type).Msg("encoding feed action failed")
			continue
		}
		for _, identifier := range fa.Clients {
			s.publish(ctx, c, channel.Connection(c.projectID, identifier), payload)
		}
	}
}

func (s *Server) publish(ctx context.Context, c *Conn, ch string, payload []byte) {
	if err := s.broker.Publish(ctx, ch, payload); err != nil {
		c.log.Error().Err(err).Str("channel", ch).Msg("broker publish failed")
	}
}
