package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kestrelhq/keel/internal/config"
	"github.com/kestrelhq/keel/pkg/log"
)

// AMQPSender publishes envelopes to a RabbitMQ exchange instead of POSTing
// them. Deliveries are persistent and carry the idempotency key as the
// message id so downstream consumers can dedupe redeliveries.
type AMQPSender struct {
	url        string
	exchange   string
	routingKey string
	logger     log.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPSender connects to the broker and declares the target exchange.
func NewAMQPSender(cfg config.AMQPConfig, logger log.Logger) (*AMQPSender, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("worker: amqp url is required")
	}
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	s := &AMQPSender{
		url:        cfg.URL,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger.WithComponent("amqp-sender"),
	}
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *AMQPSender) connect() error {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return fmt.Errorf("worker: dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("worker: open channel: %w", err)
	}
	if s.exchange != "" {
		if err := ch.ExchangeDeclare(s.exchange, "topic", true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return fmt.Errorf("worker: declare exchange %s: %w", s.exchange, err)
		}
	}
	s.conn = conn
	s.ch = ch
	s.logger.Info("connected to amqp broker", log.Str("exchange", s.exchange))
	return nil
}

func (s *AMQPSender) Send(ctx context.Context, env Envelope) error {
	body, err := env.Encode()
	if err != nil {
		return &SendError{Message: fmt.Sprintf("encode envelope: %v", err)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil || s.conn.IsClosed() {
		if err := s.connect(); err != nil {
			return &SendError{Message: err.Error()}
		}
	}

	err = s.ch.PublishWithContext(ctx, s.exchange, s.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.IdempotencyKey,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return &SendError{Message: fmt.Sprintf("publish to %s/%s: %v", s.exchange, s.routingKey, err)}
	}

	s.logger.Debug("published sync envelope",
		log.Str("sync_job_id", env.SyncJobID),
		log.Str("routing_key", s.routingKey))
	return nil
}

// Close tears down the channel and connection.
func (s *AMQPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
