// Package amqp bridges the engine's change events across processes: the
// write path publishes aggregate-changed and resync-request messages, and
// the resync worker consumes the request queue.
package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

type Client struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	eventsQueue  string
	resyncQueue  string
}

func NewClient(url, exchangeName, eventsQueue, resyncQueue string) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	client := &Client{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		eventsQueue:  eventsQueue,
		resyncQueue:  resyncQueue,
	}

	if err := client.setup(); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queues: %w", err)
	}

	return client, nil
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	for _, queue := range []string{c.eventsQueue, c.resyncQueue} {
		_, err = c.channel.QueueDeclare(
			queue, // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}

		// routing key mirrors the queue name on a direct exchange
		err = c.channel.QueueBind(queue, queue, c.exchangeName, false, nil)
		if err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}

	return nil
}

// PublishAggregateChanged tells other processes that derived aggregates moved.
func (c *Client) PublishAggregateChanged(ctx context.Context, kind, userID, entryID string, leaderboardIDs []string) error {
	msg := NewAggregateChangedMessage(kind, userID, entryID, leaderboardIDs)
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := c.publish(ctx, c.eventsQueue, body); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Published aggregate changed message",
		"kind", kind,
		"user_id", userID,
		"entry_id", entryID,
		"exchange", c.exchangeName,
		"queue", c.eventsQueue)
	return nil
}

// PublishResyncRequest asks the resync worker to rebuild one leaderboard.
func (c *Client) PublishResyncRequest(ctx context.Context, leaderboardID, reason string) error {
	msg := NewResyncRequestMessage(leaderboardID, reason)
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := c.publish(ctx, c.resyncQueue, body); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Published resync request",
		"leaderboard_id", leaderboardID,
		"reason", reason,
		"queue", c.resyncQueue)
	return nil
}

func (c *Client) publish(ctx context.Context, routingKey string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := c.channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// ConsumeResyncRequests delivers resync requests to handler until ctx is
// canceled. Handler failures nack with requeue; malformed messages are
// dropped.
func (c *Client) ConsumeResyncRequests(ctx context.Context, handler func(ctx context.Context, msg *ResyncRequestMessage) error) error {
	msgs, err := c.channel.Consume(
		c.resyncQueue, // queue
		"",            // consumer
		false,         // auto-ack (we want manual ack)
		false,         // exclusive
		false,         // no-local
		false,         // no-wait
		nil,           // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming resync requests", "queue", c.resyncQueue)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}

			msg, err := ResyncRequestMessageFromJSON(delivery.Body)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to unmarshal message", "error", err)
				delivery.Nack(false, false) // reject and don't requeue
				continue
			}

			if err := handler(ctx, msg); err != nil {
				slog.ErrorContext(ctx, "Failed to handle resync request",
					"error", err,
					"leaderboard_id", msg.LeaderboardID)
				delivery.Nack(false, true) // reject and requeue
				continue
			}

			delivery.Ack(false)
		}
	}
}

func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// exponentialBackoff returns the wait before reconnect attempt n, capped
// at 30 seconds.
func exponentialBackoff(attempt int) time.Duration {
	d := time.Second << attempt
	if d > 30*time.Second || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// isConnectionError reports whether an error looks like a broken broker
// connection worth a reconnect, rather than a handler failure.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection refused", "connection closed", "eof", "channel/connection is not open", "message channel closed"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// ConsumeResyncRequestsWithRetry keeps a consumer alive across broker
// hiccups, redialing with exponential backoff. Returns only when ctx is
// canceled or a non-connection error occurs.
func ConsumeResyncRequestsWithRetry(ctx context.Context, url, exchange, eventsQueue, resyncQueue string, handler func(ctx context.Context, msg *ResyncRequestMessage) error) error {
	attempt := 0
	for {
		client, err := NewClient(url, exchange, eventsQueue, resyncQueue)
		if err == nil {
			attempt = 0
			err = client.ConsumeResyncRequests(ctx, handler)
			client.Close()
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && !isConnectionError(err) {
			return err
		}

		wait := exponentialBackoff(attempt)
		attempt++
		slog.WarnContext(ctx, "AMQP connection lost, reconnecting",
			"error", err,
			"wait", wait,
			"attempt", attempt)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
