// Package broker adapts the fleet's coordination components to the
// publish/subscribe transport (NATS). It owns reconnect behavior, publish
// circuit-breaking, and broadcast rate limiting so callers only ever see
// Publish/Subscribe.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/adred-codev/frame-fleet/internal/codec"
	"github.com/adred-codev/frame-fleet/internal/metrics"
)

// Config configures the broker connection and its resiliency knobs.
type Config struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
	MaxPingsOut     int
	PingInterval    time.Duration

	// BroadcastRateLimit caps publishes per second on the broadcast topic,
	// so an echo/ready storm cannot starve detector goroutines of
	// scheduler time.
	BroadcastRateLimit rate.Limit
	BroadcastRateBurst int
}

// DefaultConfig returns sane defaults layered on top of a bare URL.
func DefaultConfig(url string) Config {
	return Config{
		URL:                url,
		MaxReconnects:      -1, // retry forever; the fleet has no global deadline
		ReconnectWait:      time.Second,
		ReconnectJitter:    200 * time.Millisecond,
		MaxPingsOut:        3,
		PingInterval:       10 * time.Second,
		BroadcastRateLimit: 200,
		BroadcastRateBurst: 400,
	}
}

// Client wraps a NATS connection with reconnect/backoff, a publish circuit
// breaker, and a broadcast-topic rate limiter.
type Client struct {
	conn    *nats.Conn
	metrics metrics.Sink
	logger  zerolog.Logger
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	cfg     Config
}

// Dial connects to the broker, retrying the initial connection attempt with
// exponential backoff capped at a few seconds.
func Dial(ctx context.Context, cfg Config, sink metrics.Sink, logger zerolog.Logger) (*Client, error) {
	c := &Client{
		metrics: sink,
		logger:  logger,
		cfg:     cfg,
		limiter: rate.NewLimiter(cfg.BroadcastRateLimit, cfg.BroadcastRateBurst),
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "broker-publish",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("broker publish breaker state change")
		},
	})

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter),
		nats.MaxPingsOutstanding(cfg.MaxPingsOut),
		nats.PingInterval(cfg.PingInterval),
		nats.ConnectHandler(c.onConnect),
		nats.DisconnectErrHandler(c.onDisconnect),
		nats.ReconnectHandler(c.onReconnect),
		nats.ErrorHandler(c.onError),
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0 // no global deadline; keep retrying until ctx is done

	var conn *nats.Conn
	connect := func() error {
		var err error
		conn, err = nats.Connect(cfg.URL, opts...)
		return err
	}
	if err := backoff.Retry(connect, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("failed to connect to broker at %s: %w", cfg.URL, err)
	}

	c.conn = conn
	c.metrics.SetBrokerConnected(true)
	return c, nil
}

func (c *Client) onConnect(conn *nats.Conn) {
	c.logger.Info().Str("url", conn.ConnectedUrl()).Msg("connected to broker")
	c.metrics.SetBrokerConnected(true)
}

func (c *Client) onDisconnect(conn *nats.Conn, err error) {
	if err != nil {
		c.logger.Warn().Err(err).Msg("disconnected from broker")
		c.metrics.RecordError("broker_disconnect")
	}
	// Recover locally; never surface transport loss upward to the caller.
	c.metrics.SetBrokerConnected(false)
}

func (c *Client) onReconnect(conn *nats.Conn) {
	c.logger.Info().Str("url", conn.ConnectedUrl()).Msg("reconnected to broker")
	c.metrics.SetBrokerConnected(true)
	c.metrics.IncrementBrokerReconnects()
}

func (c *Client) onError(conn *nats.Conn, sub *nats.Subscription, err error) {
	c.logger.Warn().Err(err).Msg("broker error")
	c.metrics.RecordError("broker_error")
}

// Publish sends data on subject. Publishes made while disconnected (or
// while the circuit breaker is open from a run of recent failures) are
// dropped rather than retried or queued.
func (c *Client) Publish(subject string, data []byte) error {
	if !c.conn.IsConnected() {
		return nil
	}
	if subject == codec.BroadcastTopic {
		_ = c.limiter.Wait(context.Background())
	}

	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.conn.Publish(subject, data)
	})
	if err != nil {
		c.metrics.RecordError("broker_publish")
		return nil // dropped, not surfaced as an error
	}
	c.metrics.RecordBrokerLatency(time.Since(start))
	return nil
}

// PublishString is a convenience wrapper for the text payloads every
// envelope in this system uses.
func (c *Client) PublishString(subject, data string) error {
	return c.Publish(subject, []byte(data))
}

// Subscribe registers handler to run for every message received on subject.
// The broker guarantees ordered, at-least-once delivery per topic, no
// guarantee across topics.
func (c *Client) Subscribe(subject string, handler func(data []byte)) error {
	_, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		start := time.Now()
		handler(msg.Data)
		c.metrics.IncrementBrokerMessages()
		c.metrics.RecordBrokerLatency(time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return nil
}

func (c *Client) IsConnected() bool { return c.conn != nil && c.conn.IsConnected() }

// Close unsubscribes everything and closes the connection. The adapter
// never buffers across reconnects, so there is nothing to flush.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
		c.metrics.SetBrokerConnected(false)
	}
}
