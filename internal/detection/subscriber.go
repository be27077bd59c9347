// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package detection

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/sentineldesk/sentineldesk/internal/audit"
	"github.com/sentineldesk/sentineldesk/internal/logging"
)

// Subscriber feeds the engine from the audit event bus. It implements
// suture.Service; the supervisor restarts it on failure.
type Subscriber struct {
	engine     *Engine
	subscriber message.Subscriber
}

// NewSubscriber creates the bus consumer.
func NewSubscriber(engine *Engine, subscriber message.Subscriber) *Subscriber {
	return &Subscriber{
		engine:     engine,
		subscriber: subscriber,
	}
}

// Serve consumes audit events until the context is canceled. Malformed
// messages are acked and dropped; losing one bus message is acceptable
// because the periodic sweep re-reads the persisted stream.
func (s *Subscriber) Serve(ctx context.Context) error {
	messages, err := s.subscriber.Subscribe(ctx, audit.Topic)
	if err != nil {
		return err
	}
	logging.Info().Str("topic", audit.Topic).Msg("detection subscriber started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return ctx.Err()
			}
			s.handle(ctx, msg)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, msg *message.Message) {
	defer msg.Ack()

	var event audit.Event
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		logging.Err(err).Str("message_uuid", msg.UUID).Msg("dropping malformed audit message")
		return
	}
	s.engine.Process(ctx, &event)
}

// Sweeper periodically re-evaluates the trailing audit window as a safety
// net behind the synchronous bus path. It implements suture.Service.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	window   time.Duration
}

// NewSweeper creates the periodic evaluator.
func NewSweeper(engine *Engine, interval, window time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &Sweeper{
		engine:   engine,
		interval: interval,
		window:   window,
	}
}

// Serve runs the sweep loop until the context is canceled.
func (s *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logging.Info().Dur("interval", s.interval).Dur("window", s.window).Msg("detection sweeper started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.engine.Evaluate(ctx, s.window); err != nil {
				logging.Err(err).Msg("detection sweep failed")
			}
		}
	}
}
