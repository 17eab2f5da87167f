// Package rabbitmq publishes catalog events to a RabbitMQ topic exchange.
package rabbitmq

import (
	"sync"
	"time"

	"github.com/go-faster/errors"
	amqp "github.com/streadway/amqp"
	"go.uber.org/zap"
)

// Client holds the RabbitMQ connection and channel.
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *zap.Logger

	// Publishes share one channel.
	mu sync.Mutex
}

// Config holds RabbitMQ connection details.
type Config struct {
	URL string
	// Exchanges are declared as durable topic exchanges on connect.
	Exchanges []string
}

// NewClient connects to RabbitMQ, opens a channel and declares the
// configured exchanges.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "connect to RabbitMQ")
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}

	for _, exchange := range cfg.Exchanges {
		err = ch.ExchangeDeclare(
			exchange,
			amqp.ExchangeTopic,
			true,  // durable
			false, // auto-deleted
			false, // internal
			false, // no-wait
			nil,
		)
		if err != nil {
			ch.Close()
			conn.Close()
			return nil, errors.Wrapf(err, "declare exchange %q", exchange)
		}
	}

	logger = logger.Named("rabbitmq")
	logger.Info("RabbitMQ client connected", zap.Strings("exchanges", cfg.Exchanges))

	return &Client{
		conn:    conn,
		channel: ch,
		logger:  logger,
	}, nil
}

// Publish sends a persistent JSON message.
func (c *Client) Publish(exchange, routingKey string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel == nil {
		return errors.New("RabbitMQ channel is not available")
	}
	err := c.channel.Publish(
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		})
	if err != nil {
		return errors.Wrapf(err, "publish %s to %s", routingKey, exchange)
	}

	c.logger.Debug("Event published", zap.String("exchange", exchange), zap.String("routing_key", routingKey))
	return nil
}

// Close closes the RabbitMQ channel and connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "close channel"))
		}
		c.channel = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "close connection"))
		}
		c.conn = nil
	}
	if len(errs) > 0 {
		return errors.Errorf("close RabbitMQ client: %v", errs)
	}
	return nil
}
