package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/wosherco/socketless/internal/channel"
	"github.com/wosherco/socketless/internal/pubsub"
	"github.com/wosherco/socketless/internal/webhook"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// How many missed heartbeat intervals before a connection is declared
	// dead.
	missedHeartbeats = 3
)

// Conn owns one client's socket lifecycle: heartbeat, feed membership,
// webhook events, and cleanup. Nothing outside the actor touches its state;
// other nodes reach it only through its connection channel.
type Conn struct {
	server *Server
	ws     *websocket.Conn
	log    zerolog.Logger

	projectID       int64
	identifier      string
	clientID        string
	internalWebhook *webhook.SimpleWebhook

	recordID int64
	sub      pubsub.Subscription

	// feeds is the source of truth for which channels this socket listens
	// to. Only the broker pump mutates it after startup.
	feeds map[string]struct{}

	send chan []byte
	done chan struct{}

	lastPong  atomic.Int64 // unix nano of the last client pong
	closing   atomic.Bool
	closeOnce sync.Once
}

func newConn(s *Server, ws *websocket.Conn, projectID int64, identifier, clientID string, feeds []string, internalWebhook *webhook.SimpleWebhook) *Conn {
	c := &Conn{
		server:          s,
		ws:              ws,
		projectID:       projectID,
		identifier:      identifier,
		clientID:        clientID,
		internalWebhook: internalWebhook,
		feeds:           make(map[string]struct{}, len(feeds)),
		send:            make(chan []byte, 256),
		done:            make(chan struct{}),
		log: s.log.With().
			Int64("project_id", projectID).
			Str("identifier", identifier).
			Str("client_id", clientID).
			Logger(),
	}
	for _, f := range feeds {
		c.feeds[f] = struct{}{}
	}
	c.lastPong.Store(time.Now().UnixNano())
	return c
}

// start runs the open side effects and the three pumps. Individual side
// effect failures are logged, never surfaced to the client.
func (c *Conn) start(ctx context.Context) {
	recordID, err := c.server.store.CreateConnection(ctx, c.projectID, c.identifier, c.server.cfg.NodeName)
	if err != nil {
		c.log.Error().Err(err).Msg("registering connection record failed")
	} else {
		c.recordID = recordID
	}

	if err := c.server.gate.ConnectionOpened(ctx, c.projectID); err != nil {
		c.log.Error().Err(err).Msg("incrementing connection counter failed")
	}

	channels := make([]string, 0, len(c.feeds)+1)
	channels = append(channels, channel.Connection(c.projectID, c.identifier))
	for f := range c.feeds {
		channels = append(channels, channel.Feed(c.projectID, f))
	}
	sub, err := c.server.broker.Subscribe(ctx, channels...)
	if err != nil {
		c.log.Error().Err(err).Msg("broker subscribe failed, connection will not receive relayed messages")
	} else {
		c.sub = sub
	}

	c.server.conns.Store(c.clientID, c)
	c.server.metrics.ConnectionsActive.Inc()
	c.server.metrics.ConnectionsTotal.Inc()
	c.log.Info().Strs("feeds", feedNames(c.feeds)).Msg("connection open")

	c.server.dispatchEvent(c, webhook.ActionConnectionOpen, "")

	go c.writePump()
	go c.readPump()
	if c.sub != nil {
		go c.brokerPump()
	}
}

// readPump consumes client frames until the socket dies. An empty frame is
// the client's heartbeat pong; anything else goes through the usage gate and
// on to the MESSAGE webhooks.
func (c *Conn) readPump() {
	defer c.close(websocket.CloseNormalClosure, "client disconnect")

	c.ws.SetReadLimit(maxMessageSize)

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug().Err(err).Msg("socket read error")
			}
			return
		}

		if len(payload) == 0 {
			c.lastPong.Store(time.Now().UnixNano())
			continue
		}

		c.handleClientMessage(string(payload))
	}
}

func (c *Conn) handleClientMessage(message string) {
	ctx, cancel := context.WithTimeout(c.server.baseCtx, c.server.cfg.WebhookTimeout)
	defer cancel()

	cfg, err := c.server.projects.ProjectConfig(ctx, c.projectID)
	if err != nil {
		c.log.Error().Err(err).Msg("project config lookup failed, dropping message")
		return
	}

	allowed, err := c.server.gate.CheckIncoming(ctx, c.projectID, cfg.MaxIncomingMessages)
	if err != nil {
		c.log.Error().Err(err).Msg("incoming usage check failed, dropping message")
		return
	}
	if !allowed {
		// Soft rejection: the client never learns the frame was dropped.
		c.server.metrics.MessagesDropped.Inc()
		c.log.Debug().Msg("incoming message over plan limit, dropped")
		return
	}

	if err := c.server.gate.IncomingAccepted(ctx, c.projectID); err != nil {
		c.log.Error().Err(err).Msg("incrementing incoming counter failed")
	}
	c.server.metrics.MessagesIncoming.Inc()
	c.log.Debug().Int("bytes", len(message)).Msg("client message accepted")

	c.server.dispatchEvent(c, webhook.ActionMessage, message)
}

// writePump owns all socket writes: relayed messages and the heartbeat. Once
// the client misses enough heartbeats the connection is force-closed.
func (c *Conn) writePump() {
	interval := c.server.cfg.HeartbeatInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case msg, ok := <-c.send:
			if !ok {
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Msg("socket write error")
				c.close(websocket.CloseAbnormalClosure, "write error")
				return
			}

		case <-ticker.C:
			last := time.Unix(0, c.lastPong.Load())
			if time.Since(last) > missedHeartbeats*interval {
				c.close(websocket.ClosePolicyViolation, "ping timeout")
				return
			}
			// An empty frame is the ping; the client answers with an empty
			// frame of its own.
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, nil); err != nil {
				c.close(websocket.CloseAbnormalClosure, "ping write error")
				return
			}
		}
	}
}

// brokerPump applies control envelopes and relays published messages until
// the subscription closes.
func (c *Conn) brokerPump() {
	for msg := range c.sub.Messages() {
		env, err := channel.Decode(msg.Payload)
		if err != nil {
			c.log.Warn().Err(err).Str("channel", msg.Channel).Msg("discarding malformed envelope")
			continue
		}

		switch env.Type {
		case channel.TypeSendMessage:
			if env.Data.Exclude == c.clientID {
				continue
			}
			c.deliver([]byte(env.Data.Message))

		case channel.TypeJoinFeed:
			c.joinFeeds([]string{env.Data.Feed})

		case channel.TypeLeaveFeed:
			c.leaveFeeds([]string{env.Data.Feed})

		case channel.TypeSetFeeds:
			add, remove := channel.Diff(c.feeds, env.Data.Feeds)
			c.joinFeeds(add)
			c.leaveFeeds(remove)
		}
	}
}

// deliver hands a payload to the write pump unless the connection is already
// closing. Dropping beats writing to a dead socket.
func (c *Conn) deliver(payload []byte) {
	if c.closing.Load() {
		return
	}
	select {
	case c.send <- payload:
	default:
		c.server.metrics.MessagesDropped.Inc()
		c.log.Warn().Msg("send buffer full, dropping relayed message")
	}
}

func (c *Conn) joinFeeds(feeds []string) {
	if len(feeds) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(c.server.baseCtx, writeWait)
	defer cancel()

	var channels []string
	for _, f := range feeds {
		if _, ok := c.feeds[f]; ok {
			continue
		}
		c.feeds[f] = struct{}{}
		channels = append(channels, channel.Feed(c.projectID, f))
	}
	if len(channels) == 0 {
		return
	}
	if err := c.sub.Add(ctx, channels...); err != nil {
		c.log.Error().Err(err).Strs("channels", channels).Msg("feed subscribe failed")
	}
}

func (c *Conn) leaveFeeds(feeds []string) {
	if len(feeds) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(c.server.baseCtx, writeWait)
	defer cancel()

	var channels []string
	for _, f := range feeds {
		if _, ok := c.feeds[f]; !ok {
			continue
		}
		delete(c.feeds, f)
		channels = append(channels, channel.Feed(c.projectID, f))
	}
	if len(channels) == 0 {
		return
	}
	if err := c.sub.Remove(ctx, channels...); err != nil {
		c.log.Error().Err(err).Strs("channels", channels).Msg("feed unsubscribe failed")
	}
}

// close tears the connection down: it is idempotent, runs every step even if
// earlier ones fail, and decrements the connection counter exactly once no
// matter how many paths race into it.
func (c *Conn) close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closing.Store(true)

		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()

		// WriteControl is safe to call concurrently with the write pump.
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
		_ = c.ws.Close()

		if c.sub != nil {
			if err := c.sub.Close(); err != nil {
				c.log.Error().Err(err).Msg("closing broker subscription failed")
			}
		}

		if err := c.server.gate.ConnectionClosed(ctx, c.projectID); err != nil {
			c.log.Error().Err(err).Msg("decrementing connection counter failed")
		}

		if c.recordID != 0 {
			if err := c.server.store.DeleteConnection(ctx, c.recordID); err != nil {
				c.log.Error().Err(err).Msg("deleting connection record failed")
			}
		}

		c.server.conns.Delete(c.clientID)
		c.server.metrics.ConnectionsActive.Dec()
		c.log.Info().Str("reason", reason).Msg("connection closed")

		c.server.dispatchEvent(c, webhook.ActionConnectionClose, "")

		close(c.done)
	})
}

func feedNames(feeds map[string]struct{}) []string {
	names := make([]string, 0, len(feeds))
	for f := range feeds {
		names = append(names, f)
	}
	return names
}
