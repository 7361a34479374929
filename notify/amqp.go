package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	authcore "github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/otp"
	amqp "github.com/rabbitmq/amqp091-go"
)

var _ authcore.Sender = (*AMQPSender)(nil)

// DefaultRoutingKey is used when AMQPConfig.RoutingKey is empty.
const DefaultRoutingKey = "auth.otp.send"

// Job is the message body consumed by the mail worker.
type Job struct {
	Email    string    `json:"email"`
	Type     otp.Type  `json:"type"`
	Code     string    `json:"code"`
	Subject  string    `json:"subject"`
	IssuedAt time.Time `json:"issued_at"`
}

// publisher is the subset of *amqp.Channel the sender uses.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPConfig selects where jobs are published.
type AMQPConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
	// Expiration drops undelivered jobs once the code would have expired
	// anyway. Zero keeps them until consumed.
	Expiration time.Duration
}

// AMQPSender publishes a [Job] per code to a topic exchange.
type AMQPSender struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	pub  publisher
	cfg  AMQPConfig
	now  func() time.Time
}

// DialAMQP connects, opens a channel and declares the exchange as a durable
// topic exchange.
func DialAMQP(cfg AMQPConfig) (*AMQPSender, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	s := newAMQPSender(ch, cfg)
	s.conn, s.ch = conn, ch
	return s, nil
}

func newAMQPSender(pub publisher, cfg AMQPConfig) *AMQPSender {
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = DefaultRoutingKey
	}
	return &AMQPSender{pub: pub, cfg: cfg, now: time.Now}
}

func (s *AMQPSender) Send(ctx context.Context, email string, typ otp.Type, code string) error {
	now := s.now().UTC()
	body, err := json.Marshal(Job{
		Email:    email,
		Type:     typ,
		Code:     code,
		Subject:  Subject(typ),
		IssuedAt: now,
	})
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    now,
		Type:         string(typ),
		Body:         body,
	}
	if s.cfg.Expiration > 0 {
		msg.Expiration = fmt.Sprintf("%d", s.cfg.Expiration.Milliseconds())
	}
	if err := s.pub.PublishWithContext(ctx, s.cfg.Exchange, s.cfg.RoutingKey, false, false, msg); err != nil {
		return fmt.Errorf("publish otp job: %w", err)
	}
	return nil
}

// Close closes the channel and connection opened by [DialAMQP].
func (s *AMQPSender) Close() error {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
