package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/composable-labs/pablox/pkg/redis"
	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// maxReplay caps the verdicts replayed to a new subscriber.
	maxReplay = 100
	// replayScan is how many stream entries are scanned to find them.
	replayScan = 1000
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ClientMessage represents messages sent by WebSocket clients.
type ClientMessage struct {
	Action string `json:"action"` // "subscribe" or "unsubscribe"
	PoolID string `json:"poolId"` // Pool ID to subscribe to, or "*" for all pools
	// Replay asks for up to this many past verdicts on subscribe.
	Replay int `json:"replay,omitempty"`
}

// ServerMessage represents messages sent to WebSocket clients.
type ServerMessage struct {
	Type    string      `json:"type"`    // "verdict", "subscribed", "unsubscribed", "info", "error"
	Payload interface{} `json:"payload"` // Event-specific data
}

// clientSubscriptions tracks what pools a client is subscribed to.
type clientSubscriptions struct {
	mu    sync.RWMutex
	pools map[string]bool
}

func newClientSubscriptions() *clientSubscriptions {
	return &clientSubscriptions{
		pools: make(map[string]bool),
	}
}

func (cs *clientSubscriptions) subscribe(poolID string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.pools[poolID] = true
}

func (cs *clientSubscriptions) unsubscribe(poolID string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.pools, poolID)
}

// isSubscribed checks if a pool is subscribed. Wildcard (*) matches all pools.
func (cs *clientSubscriptions) isSubscribed(poolID string) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.pools["*"] || cs.pools[poolID]
}

// validPoolID accepts "*" and decimal pool IDs.
func validPoolID(poolID string) bool {
	if poolID == "*" {
		return true
	}
	_, err := strconv.ParseUint(poolID, 10, 64)
	return err == nil
}

// HandleWebSocket upgrades HTTP connection to WebSocket and streams verdicts.
//
// Protocol:
// Client sends: {"action": "subscribe", "poolId": "1"}               // Subscribe to one pool
// Client sends: {"action": "subscribe", "poolId": "*", "replay": 20} // All pools, replaying the last 20 verdicts
// Client sends: {"action": "unsubscribe", "poolId": "1"}
//
// Server sends:
// - {"type": "verdict", "payload": {...}}
// - {"type": "subscribed", "payload": {"poolId": "1"}}
// - {"type": "unsubscribed", "payload": {"poolId": "1"}}
// - {"type": "error", "payload": {"message": "..."}}
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if c.App.RedisClient == nil {
		http.Error(w, "Real-time verdicts not available (Redis disabled)", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func(conn *websocket.Conn) {
		err := conn.Close()
		if err != nil {
			c.App.Logger.Error("Failed to close WebSocket connection", zap.Error(err))
		}
	}(conn)

	c.App.Logger.Info("WebSocket client connected", zap.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	subs := newClientSubscriptions()
	send := make(chan ServerMessage, 256)

	var wg sync.WaitGroup
	run := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					c.App.Logger.Error("Panic in websocket goroutine",
						zap.String("goroutine", name),
						zap.Any("panic", rec),
						zap.String("stack", string(debug.Stack())),
						zap.String("remote_addr", r.RemoteAddr))
					cancel()
				}
			}()
			fn()
		}()
	}

	run("redis subscriber", func() { c.subscribeToRedis(ctx, send, subs) })
	run("ping ticker", func() { c.sendPings(ctx, conn) })
	run("message writer", func() { c.writeMessages(ctx, conn, send) })

	// Blocks until the connection closes
	c.readClientMessages(ctx, conn, cancel, subs, send)

	cancel()
	wg.Wait()

	c.App.Logger.Info("WebSocket client disconnected", zap.String("remote_addr", r.RemoteAddr))
}

// push queues msg unless ctx is done first.
func push(ctx context.Context, send chan<- ServerMessage, msg ServerMessage) bool {
	select {
	case send <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// subscribeToRedis subscribes to the verdict pattern and forwards matching verdicts to send.
// A lost subscription is retried with exponential backoff until ctx is done, and the client is
// told about it.
func (c *Controller) subscribeToRedis(ctx context.Context, send chan<- ServerMessage, subs *clientSubscriptions) {
	const (
		initialBackoff = 1 * time.Second
		maxBackoff     = 30 * time.Second
		backoffFactor  = 2.0
		jitterFactor   = 0.1
	)

	backoff := initialBackoff
	attemptNum := 0

	for ctx.Err() == nil {
		attemptNum++
		subscriptionErr := c.attemptRedisSubscription(ctx, redis.VerdictPattern, send, subs, attemptNum)
		if ctx.Err() != nil {
			return
		}

		if subscriptionErr != nil {
			c.App.Logger.Warn("Redis subscription failed, will retry",
				zap.Error(subscriptionErr),
				zap.Int("attempt", attemptNum),
				zap.Duration("backoff", backoff))
		} else {
			c.App.Logger.Warn("Redis subscription channel closed, will retry",
				zap.Int("attempt", attemptNum),
				zap.Duration("backoff", backoff))
		}

		ok := push(ctx, send, ServerMessage{
			Type: "error",
			Payload: map[string]interface{}{
				"message":     "Redis connection lost, attempting to reconnect...",
				"retryIn":     backoff.Seconds(),
				"attempt":     attemptNum,
				"recoverable": true,
			},
		})
		if !ok {
			return
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = calculateNextBackoff(backoff, maxBackoff, backoffFactor, jitterFactor)
	}
}

// attemptRedisSubscription runs one subscription until it fails or ctx is done. It returns an
// error when the subscription could not be set up and nil when its channel closed.
func (c *Controller) attemptRedisSubscription(
	ctx context.Context,
	pattern string,
	send chan<- ServerMessage,
	subs *clientSubscriptions,
	attemptNum int,
) error {
	pubsub := c.App.RedisClient.PSubscribe(ctx, pattern)
	defer func() {
		if err := pubsub.Close(); err != nil {
			c.App.Logger.Error("Error closing Redis subscription", zap.Error(err))
		}
	}()

	receiveCtx, receiveCancel := context.WithTimeout(ctx, 5*time.Second)
	defer receiveCancel()
	if _, err := pubsub.Receive(receiveCtx); err != nil {
		return fmt.Errorf("failed to confirm Redis subscription: %w", err)
	}

	c.App.Logger.Debug("Subscribed to Redis pattern",
		zap.String("pattern", pattern),
		zap.Int("attempt", attemptNum))
	if attemptNum > 1 {
		ok := push(ctx, send, ServerMessage{
			Type:    "info",
			Payload: map[string]interface{}{"message": "Redis connection established", "attempt": attemptNum},
		})
		if !ok {
			return ctx.Err()
		}
	}

	return c.processRedisMessages(ctx, pubsub.Channel(), send, subs)
}

// processRedisMessages forwards the verdicts of subscribed pools until ch closes or ctx is done.
func (c *Controller) processRedisMessages(
	ctx context.Context,
	ch <-chan *goredis.Message,
	send chan<- ServerMessage,
	subs *clientSubscriptions,
) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			poolID, ok := redis.PoolIDFromChannel(msg.Channel)
			if !ok {
				c.App.Logger.Warn("Failed to extract pool ID from channel", zap.String("channel", msg.Channel))
				continue
			}
			if !subs.isSubscribed(strconv.FormatUint(poolID, 10)) {
				continue
			}

			verdict, err := verdictPayload(msg.Payload)
			if err != nil {
				c.App.Logger.Error("Failed to parse Redis message", zap.Error(err), zap.String("channel", msg.Channel))
				continue
			}
			if !push(ctx, send, ServerMessage{Type: "verdict", Payload: verdict}) {
				return ctx.Err()
			}
		}
	}
}

// verdictPayload unwraps the verdict of a published verdict message.
func verdictPayload(raw string) (json.RawMessage, error) {
	var msg struct {
		Type    string          `json:"type"`
		Verdict json.RawMessage `json:"verdict"`
	}
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, err
	}
	if len(msg.Verdict) == 0 {
		return nil, fmt.Errorf("message of type %q carries no verdict", msg.Type)
	}
	return msg.Verdict, nil
}

// replayMessages picks the newest limit verdicts of poolID (or of every pool for "*") from
// entries, which come newest first, and returns them oldest first.
func replayMessages(entries []goredis.XMessage, poolID string, limit int) []ServerMessage {
	var picked []ServerMessage
	for _, e := range entries {
		if len(picked) >= limit {
			break
		}
		if poolID != "*" && fmt.Sprint(e.Values["poolId"]) != poolID {
			continue
		}
		data, ok := e.Values["data"].(string)
		if !ok {
			continue
		}
		verdict, err := verdictPayload(data)
		if err != nil {
			continue
		}
		picked = append(picked, ServerMessage{Type: "verdict", Payload: verdict})
	}
	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked
}

// replay sends the latest verdicts of poolID from the verdict stream.
func (c *Controller) replay(ctx context.Context, send chan<- ServerMessage, poolID string, limit int) {
	entries, err := c.App.RedisClient.XRevRange(ctx, redis.VerdictStream, replayScan)
	if err != nil {
		c.App.Logger.Warn("Failed to read verdict stream", zap.Error(err))
		push(ctx, send, ServerMessage{Type: "error", Payload: map[string]string{"message": "replay unavailable"}})
		return
	}
	for _, msg := range replayMessages(entries, poolID, min(limit, maxReplay)) {
		if !push(ctx, send, msg) {
			return
		}
	}
}

// calculateNextBackoff grows current by factor up to max and adds +/- jitterFactor of jitter.
func calculateNextBackoff(current, max time.Duration, factor, jitterFactor float64) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > max {
		next = max
	}

	jitter := float64(next) * jitterFactor * (2*rand.Float64() - 1)
	nextWithJitter := time.Duration(float64(next) + jitter)

	if nextWithJitter < current {
		nextWithJitter = current
	}
	if nextWithJitter > max {
		nextWithJitter = max
	}
	return nextWithJitter
}

// sendPings sends periodic WebSocket ping frames to keep the connection alive.
func (c *Controller) sendPings(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				c.App.Logger.Error("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

// writeMessages writes queued messages to the connection until ctx is done.
func (c *Controller) writeMessages(ctx context.Context, conn *websocket.Conn, send <-chan ServerMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-send:
			if err := conn.WriteJSON(msg); err != nil {
				c.App.Logger.Error("Failed to write WebSocket message", zap.Error(err))
				return
			}
		}
	}
}

// readClientMessages handles subscription requests until the connection closes.
func (c *Controller) readClientMessages(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc, subs *clientSubscriptions, send chan<- ServerMessage) {
	if err := conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		c.App.Logger.Error("Failed to set read deadline", zap.Error(err))
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for ctx.Err() == nil {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.App.Logger.Error("WebSocket read error", zap.Error(err))
			}
			cancel()
			return
		}
		if err := conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			c.App.Logger.Error("Failed to reset read deadline", zap.Error(err))
			return
		}

		reply := c.handleClientMessage(msg, subs)
		if !push(ctx, send, reply) {
			return
		}
		if reply.Type == "subscribed" && msg.Replay > 0 {
			c.replay(ctx, send, msg.PoolID, msg.Replay)
		}
	}
}

// handleClientMessage applies msg to subs and returns the reply to send.
func (c *Controller) handleClientMessage(msg ClientMessage, subs *clientSubscriptions) ServerMessage {
	switch msg.Action {
	case "subscribe", "unsubscribe":
		if msg.PoolID == "" {
			return ServerMessage{Type: "error", Payload: map[string]string{"message": "poolId is required"}}
		}
		if !validPoolID(msg.PoolID) {
			return ServerMessage{Type: "error", Payload: map[string]string{"message": "invalid poolId: " + msg.PoolID}}
		}
		if msg.Action == "subscribe" {
			subs.subscribe(msg.PoolID)
			c.App.Logger.Debug("Client subscribed", zap.String("poolId", msg.PoolID))
			return ServerMessage{Type: "subscribed", Payload: map[string]string{"poolId": msg.PoolID}}
		}
		subs.unsubscribe(msg.PoolID)
		c.App.Logger.Debug("Client unsubscribed", zap.String("poolId", msg.PoolID))
		return ServerMessage{Type: "unsubscribed", Payload: map[string]string{"poolId": msg.PoolID}}
	}
	return ServerMessage{Type: "error", Payload: map[string]string{"message": "unknown action: " + msg.Action}}
}
