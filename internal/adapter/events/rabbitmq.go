package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"

	"github.com/srgjo27/travel_booking/internal/core/domain"
	"github.com/srgjo27/travel_booking/internal/core/ports"
)

const (
	DefaultExchange = "travel.bookings"

	defaultBufferSize     = 1024
	defaultDialTimeout    = 2 * time.Second
	defaultPublishTimeout = 5 * time.Second
)

var (
	ErrQueueFull       = errors.New("event queue is full")
	ErrPublisherClosed = errors.New("event publisher is closed")
)

type outgoing struct {
	routingKey string
	body       []byte
}

// RabbitPublisher publishes booking events to a durable topic exchange, routed
// by event type. Publish only enqueues; a single worker owns the connection,
// opens it on first use and reopens it after a failure. A circuit breaker
// stops dialing a broker that keeps failing.
type RabbitPublisher struct {
	url            string
	exchange       string
	dialTimeout    time.Duration
	publishTimeout time.Duration
	onError        func(routingKey string, err error)
	breaker        *gobreaker.CircuitBreaker

	mu     sync.RWMutex
	closed bool
	queue  chan outgoing
	wg     sync.WaitGroup

	// owned by the worker
	conn *amqp.Connection
	ch   *amqp.Channel
}

type Option func(*RabbitPublisher)

// WithDialTimeout bounds the TCP connect and the AMQP handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(p *RabbitPublisher) { p.dialTimeout = d }
}

func WithPublishTimeout(d time.Duration) Option {
	return func(p *RabbitPublisher) { p.publishTimeout = d }
}

func WithBufferSize(n int) Option {
	return func(p *RabbitPublisher) {
		if n > 0 {
			p.queue = make(chan outgoing, n)
		}
	}
}

// WithErrorHandler replaces the default logging of events that could not be
// delivered.
func WithErrorHandler(fn func(routingKey string, err error)) Option {
	return func(p *RabbitPublisher) { p.onError = fn }
}

var _ ports.EventPublisher = (*RabbitPublisher)(nil)

func NewRabbitPublisher(url, exchange string, opts ...Option) *RabbitPublisher {
	if exchange == "" {
		exchange = DefaultExchange
	}

	p := &RabbitPublisher{
		url:            url,
		exchange:       exchange,
		dialTimeout:    defaultDialTimeout,
		publishTimeout: defaultPublishTimeout,
		queue:          make(chan outgoing, defaultBufferSize),
		onError: func(routingKey string, err error) {
			log.Printf("rabbitmq: dropped %s event: %v", routingKey, err)
		},
	}
	for _, opt := range opts {
		opt(p)
	}

	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "rabbitmq-publisher",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("rabbitmq: breaker %s changed from %s to %s", name, from, to)
		},
	})

	p.wg.Add(1)
	go p.run()
	return p
}

// Publish hands the event to the worker and returns without touching the
// network. A full queue drops the event.
func (p *RabbitPublisher) Publish(_ context.Context, event domain.BookingEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	select {
	case p.queue <- outgoing{routingKey: string(event.Type), body: body}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *RabbitPublisher) run() {
	defer p.wg.Done()
	defer p.reset()

	for msg := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.publishTimeout)
		_, err := p.breaker.Execute(func() (interface{}, error) {
			return nil, p.publish(ctx, msg)
		})
		cancel()
		if err != nil {
			p.onError(msg.routingKey, err)
		}
	}
}

func (p *RabbitPublisher) publish(ctx context.Context, msg outgoing) error {
	if err := p.ensureChannel(); err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         msg.body,
	}

	if err := p.ch.PublishWithContext(ctx, p.exchange, msg.routingKey, false, false, pub); err != nil {
		p.reset()
		return fmt.Errorf("publish %s: %w", msg.routingKey, err)
	}
	return nil
}

func (p *RabbitPublisher) ensureChannel() error {
	if p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	p.reset()

	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Dial: amqp.DefaultDial(p.dialTimeout),
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}

	p.conn, p.ch = conn, ch
	return nil
}

func (p *RabbitPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close stops accepting events and waits for the queued ones to be sent or
// dropped.
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

// NoopPublisher drops every event. Used when no broker is configured.
type NoopPublisher struct{}

var _ ports.EventPublisher = NoopPublisher{}

func (NoopPublisher) Publish(context.Context, domain.BookingEvent) error { return nil }
