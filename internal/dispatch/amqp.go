package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// replyQueue is RabbitMQ's direct reply-to pseudo queue. Replies are only
// delivered to the channel that published the request.
const replyQueue = "amq.rabbitmq.reply-to"

var (
	ErrBrokerClosed   = errors.New("broker client closed")
	ErrConnectionLost = errors.New("broker connection lost before reply")
	ErrReplyTimeout   = errors.New("timed out waiting for reply")
	ErrUndeliverable  = errors.New("request could not be routed to a service queue")
)

// Session is a broker connection with a single channel used both to publish
// requests and to consume their replies.
type Session interface {
	Publish(ctx context.Context, queue string, msg amqp.Publishing) error
	Replies() <-chan amqp.Delivery
	Close() error
}

// Dialer opens a Session.
type Dialer func(url string) (Session, error)

// Broker performs request/reply calls over AMQP. The connection is opened on
// first use and re-opened on the next call after it is lost.
type Broker struct {
	url  string
	dial Dialer

	mu      sync.Mutex
	session Session
	lost    chan struct{}
	pending map[string]chan amqp.Delivery
	closed  bool
}

type BrokerOption func(*Broker)

// WithDialer replaces the AMQP dialer.
func WithDialer(dial Dialer) BrokerOption {
	return func(b *Broker) {
		b.dial = dial
	}
}

func NewBroker(url string, opts ...BrokerOption) *Broker {
	b := &Broker{
		url:     url,
		dial:    DialAMQP,
		pending: map[string]chan amqp.Delivery{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Call publishes req to queue with the supplied metadata headers and waits for
// the correlated reply, or until ctx is done.
func (b *Broker) Call(ctx context.Context, queue string, req Request, metadata map[string]string) (Reply, error) {
	session, lost, err := b.connect()
	if err != nil {
		return Reply{}, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Reply{}, fmt.Errorf("request encoding failed: %w", err)
	}

	id := uuid.NewString()
	replies := make(chan amqp.Delivery, 1)

	b.mu.Lock()
	b.pending[id] = replies
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	headers := amqp.Table{}
	for k, v := range metadata {
		headers[k] = v
	}

	msg := amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: id,
		ReplyTo:       replyQueue,
		Headers:       headers,
		Timestamp:     time.Now(),
		Body:          body,
	}
	if deadline, ok := ctx.Deadline(); ok {
		// the request is worthless to the service once the caller has gone
		if ttl := time.Until(deadline).Milliseconds(); ttl > 0 {
			msg.Expiration = strconv.FormatInt(ttl, 10)
		}
	}

	if err := session.Publish(ctx, queue, msg); err != nil {
		return Reply{}, fmt.Errorf("publish to %s failed: %w", queue, err)
	}

	select {
	case d := <-replies:
		if d.Type == "undeliverable" {
			return Reply{}, fmt.Errorf("%w: %s", ErrUndeliverable, queue)
		}
		var reply Reply
		if err := json.Unmarshal(d.Body, &reply); err != nil {
			return Reply{}, fmt.Errorf("reply from %s could not be decoded: %w", queue, err)
		}
		if reply.Status < 100 || reply.Status > 599 {
			return Reply{}, fmt.Errorf("reply from %s has invalid status %d", queue, reply.Status)
		}
		return reply, nil
	case <-lost:
		return Reply{}, ErrConnectionLost
	case <-ctx.Done():
		return Reply{}, fmt.Errorf("%w from %s: %w", ErrReplyTimeout, queue, ctx.Err())
	}
}

// Close shuts the current session. Calls made afterwards fail.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	if b.session == nil {
		return nil
	}
	err := b.session.Close()
	b.session = nil
	return err
}

func (b *Broker) connect() (Session, <-chan struct{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, nil, ErrBrokerClosed
	}
	if b.session != nil {
		return b.session, b.lost, nil
	}

	session, err := b.dial(b.url)
	if err != nil {
		return nil, nil, fmt.Errorf("broker connection failed: %w", err)
	}

	b.session = session
	b.lost = make(chan struct{})
	go b.receive(session, b.lost)

	log.Info().Msg("broker: connected")

	return session, b.lost, nil
}

// receive routes replies to waiting calls until the session's reply stream
// ends, then forgets the session so the next call reconnects.
func (b *Broker) receive(session Session, lost chan struct{}) {
	for d := range session.Replies() {
		b.mu.Lock()
		replies, ok := b.pending[d.CorrelationId]
		b.mu.Unlock()

		if !ok {
			log.Debug().Str("correlationID", d.CorrelationId).Msg("broker: discarding uncorrelated reply")
			continue
		}

		select {
		case replies <- d:
		default:
		}
	}

	b.mu.Lock()
	if b.session == session {
		b.session = nil
	}
	b.mu.Unlock()

	close(lost)

	log.Warn().Msg("broker: reply stream closed, reconnecting on next call")
}

// amqpSession is a Session on a real broker connection.
type amqpSession struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	replies chan amqp.Delivery
}

// DialAMQP connects to the broker and starts consuming direct replies.
// Messages returned as unroutable are surfaced as replies of type
// "undeliverable" so the waiting call fails fast.
func DialAMQP(url string) (Session, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("unable to dial amqp server: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("error getting amqp channel: %w", err)
	}

	deliveries, err := ch.Consume(replyQueue, "", true, false, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("error consuming replies: %w", err)
	}

	returns := ch.NotifyReturn(make(chan amqp.Return, 16))

	s := &amqpSession{
		conn:    conn,
		ch:      ch,
		replies: make(chan amqp.Delivery),
	}

	go s.merge(deliveries, returns)

	return s, nil
}

func (s *amqpSession) merge(deliveries <-chan amqp.Delivery, returns <-chan amqp.Return) {
	defer close(s.replies)

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			s.replies <- d
		case r, ok := <-returns:
			if !ok {
				returns = nil
				continue
			}
			s.replies <- amqp.Delivery{CorrelationId: r.CorrelationId, Type: "undeliverable"}
		}
	}
}

func (s *amqpSession) Publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	// mandatory, so a request for a queue nobody declared comes back
	return s.ch.PublishWithContext(ctx, "", queue, true, false, msg)
}

func (s *amqpSession) Replies() <-chan amqp.Delivery {
	return s.replies
}

func (s *amqpSession) Close() error {
	return errors.Join(s.ch.Close(), s.conn.Close())
}
