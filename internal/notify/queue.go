package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultQueue is the queue name used when none is configured.
const DefaultQueue = "studio.email"

// publisher is the slice of *amqp.Channel the QueueSender uses.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// dialFunc opens a fresh channel and returns it with the functions that
// close it and its connection, in that order.
type dialFunc func() (publisher, []func() error, error)

var errQueueClosed = errors.New("notify: queue sender is closed")

// QueueSender publishes messages to a durable RabbitMQ queue instead of
// delivering them. The HTTP request only waits for the broker to accept the
// message.
//
// If the broker drops the connection, the next Send reconnects and retries
// the publish once before giving up.
type QueueSender struct {
	queue string
	dial  dialFunc

	mu      sync.Mutex
	ch      publisher
	closers []func() error
	closed  bool
}

// DialQueue connects to the broker at url, declares queue as durable and
// returns a sender publishing to it.
func DialQueue(url, queue string) (*QueueSender, error) {
	if queue == "" {
		queue = DefaultQueue
	}

	dial := func() (publisher, []func() error, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, nil, fmt.Errorf("notify: dialing broker: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("notify: opening channel: %w", err)
		}
		if err := DeclareQueue(ch, queue); err != nil {
			ch.Close()
			conn.Close()
			return nil, nil, err
		}
		return ch, []func() error{ch.Close, conn.Close}, nil
	}

	ch, closers, err := dial()
	if err != nil {
		return nil, err
	}
	s := newQueueSender(ch, queue, dial)
	s.closers = closers
	return s, nil
}

// newQueueSender wraps an open channel. dial may be nil, in which case a
// closed channel is not reopened.
func newQueueSender(ch publisher, queue string, dial dialFunc) *QueueSender {
	return &QueueSender{ch: ch, queue: queue, dial: dial}
}

// DeclareQueue declares queue as durable. Publisher and worker both call it,
// so whichever starts first creates the queue.
func DeclareQueue(ch *amqp.Channel, queue string) error {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("notify: declaring queue %s: %w", queue, err)
	}
	return nil
}

func (s *QueueSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify: encoding message: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errQueueClosed
	}
	if s.ch == nil {
		if err := s.reconnect(); err != nil {
			return err
		}
	}

	err = s.ch.PublishWithContext(ctx, "", s.queue, false, false, pub)
	if errors.Is(err, amqp.ErrClosed) && s.dial != nil {
		if rerr := s.reconnect(); rerr != nil {
			return rerr
		}
		err = s.ch.PublishWithContext(ctx, "", s.queue, false, false, pub)
	}
	if err != nil {
		return fmt.Errorf("notify: publishing to %s: %w", s.queue, err)
	}
	return nil
}

// reconnect drops the current channel and dials a new one. s.mu must be held.
// On failure s.ch stays nil so the next Send tries again.
func (s *QueueSender) reconnect() error {
	_ = s.closeLocked()
	if s.dial == nil {
		return fmt.Errorf("notify: publishing to %s: %w", s.queue, amqp.ErrClosed)
	}
	ch, closers, err := s.dial()
	if err != nil {
		return fmt.Errorf("notify: reconnecting: %w", err)
	}
	s.ch, s.closers = ch, closers
	return nil
}

func (s *QueueSender) closeLocked() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	s.ch, s.closers = nil, nil
	return errors.Join(errs...)
}

// Close closes the channel and the connection, in that order. Send fails
// afterwards.
func (s *QueueSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.closeLocked()
}

// Worker delivers queued messages through a Sender.
type Worker struct {
	sender Sender
	logger *slog.Logger
}

func NewWorker(sender Sender, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{sender: sender, logger: logger}
}

// Handle decodes one queued message and delivers it.
func (w *Worker) Handle(ctx context.Context, body []byte) error {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("notify: decoding message: %w", err)
	}
	if msg.To == "" {
		return errors.New("notify: message has no recipient")
	}
	return w.sender.Send(ctx, msg)
}

// Consume processes deliveries until ctx is cancelled or the channel closes.
// A message is acked after successful delivery and nacked without requeue
// otherwise, so a poison message cannot spin the worker.
func (w *Worker) Consume(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("notify: deliveries channel closed")
			}
			if err := w.Handle(ctx, d.Body); err != nil {
				w.logger.Error("email delivery failed",
					slog.Uint64("delivery_tag", d.DeliveryTag),
					slog.String("error", err.Error()),
				)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}
