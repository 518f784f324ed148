// StreamWarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 StreamWarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

package notifications

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/streamwarden/streamwarden/internal/logging"
)

// TopicNotifications is the bus topic notifications travel on.
const TopicNotifications = "notifications"

// WatermillQueue publishes notifications onto the event bus for the
// dispatcher to pick up. Delivery is at-least-once; agents must tolerate
// a duplicate after an ill-timed crash.
type WatermillQueue struct {
	pub message.Publisher
}

// NewWatermillQueue wraps a Watermill publisher as a notification queue.
func NewWatermillQueue(pub message.Publisher) *WatermillQueue {
	return &WatermillQueue{pub: pub}
}

// Enqueue publishes the notification. The message UUID is the
// notification ID so transport-level deduplication can key on it.
func (q *WatermillQueue) Enqueue(_ context.Context, n *Notification) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	msg := message.NewMessage(n.ID, raw)
	msg.Metadata.Set("notification_type", string(n.Type))
	if err := q.pub.Publish(TopicNotifications, msg); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Agent delivers notifications over one channel (discord, webhook, push).
type Agent interface {
	// Name is the channel identifier used in routing tables and rule
	// channel lists.
	Name() string

	// Enabled reports whether the agent is configured and active.
	Enabled() bool

	// Send delivers one notification.
	Send(ctx context.Context, n *Notification) error
}

// Dispatcher consumes queued notifications, resolves their channels, and
// fans out to the matching agents. Delivery failures are logged and do
// not roll back or retry the triggering mutation; the feed is continuous
// and the next event carries fresh state.
type Dispatcher struct {
	sub   message.Subscriber
	table RoutingTable

	mu     sync.RWMutex
	agents map[string]Agent
}

// NewDispatcher creates a dispatcher over the given subscriber and
// routing table.
func NewDispatcher(sub message.Subscriber, table RoutingTable) *Dispatcher {
	if table == nil {
		table = DefaultRoutingTable()
	}
	return &Dispatcher{
		sub:    sub,
		table:  table,
		agents: make(map[string]Agent),
	}
}

// RegisterAgent adds a delivery agent.
func (d *Dispatcher) RegisterAgent(agent Agent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents[agent.Name()] = agent
	logging.Info().Str("agent", agent.Name()).Msg("registered notification agent")
}

// Serve consumes the notification topic until the context is canceled.
// Designed to run under suture supervision.
func (d *Dispatcher) Serve(ctx context.Context) error {
	msgs, err := d.sub.Subscribe(ctx, TopicNotifications)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicNotifications, err)
	}

	logging.Info().Msg("notification dispatcher started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			d.handle(ctx, msg)
			msg.Ack()
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg *message.Message) {
	var n Notification
	if err := json.Unmarshal(msg.Payload, &n); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("message_id", msg.UUID).Msg("malformed notification dropped")
		return
	}

	channels := ResolveChannels(d.table, &n)
	if len(channels) == 0 {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, ch := range channels {
		agent, ok := d.agents[ch]
		if !ok {
			logging.Ctx(ctx).Warn().Str("channel", ch).Str("notification_id", n.ID).Msg("no agent for channel")
			continue
		}
		if !agent.Enabled() {
			continue
		}
		if err := agent.Send(ctx, &n); err != nil {
			logging.Ctx(ctx).Error().Err(err).
				Str("agent", agent.Name()).
				Str("notification_id", n.ID).
				Msg("notification delivery failed")
		}
	}
}
