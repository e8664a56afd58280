package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/okian/facewatch/pkg/logger"
)

// AMQP is a RabbitMQ-backed Source and Publisher. A single connection and
// channel serve both roles; consuming starts lazily on the first Pull.
type AMQP struct {
	settings amqpSettings
	conn     *amqp.Connection
	ch       *amqp.Channel
	closed   chan *amqp.Error

	consumeOnce sync.Once
	deliveries  <-chan amqp.Delivery
	consumeErr  error

	pubMu sync.Mutex

	closeOnce sync.Once
}

// DialAMQP connects to url and declares the queue.
func DialAMQP(ctx context.Context, url string, opts ...AMQPOption) (*AMQP, error) {
	s := amqpSettings{
		queue:       "screens",
		maxPriority: defaultMaxPriority,
		priority:    true,
		prefetch:    1,
	}
	for _, opt := range opts {
		opt(&s)
	}

	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Dial:      amqp.DefaultDial(30 * time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectBroker, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: open channel: %v", ErrConnectBroker, err)
	}

	var args amqp.Table
	if s.priority {
		args = amqp.Table{"x-max-priority": int32(s.maxPriority)}
	}
	if _, err := ch.QueueDeclare(s.queue, s.durable, false, false, false, args); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: declare %s: %v", ErrConnectBroker, s.queue, err)
	}
	if err := ch.Qos(s.prefetch, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: qos: %v", ErrConnectBroker, err)
	}

	q := &AMQP{
		settings: s,
		conn:     conn,
		ch:       ch,
		closed:   conn.NotifyClose(make(chan *amqp.Error, 1)),
	}
	logger.Get().Info(ctx, "connected to broker",
		logger.String("queue", s.queue),
		logger.Bool("priority", s.priority),
		logger.Int("prefetch", s.prefetch),
	)
	return q, nil
}

// Publish sends one frame with the given priority.
func (q *AMQP) Publish(ctx context.Context, data []byte, priority uint8) error {
	if priority > q.settings.maxPriority {
		priority = q.settings.maxPriority
	}
	q.pubMu.Lock()
	defer q.pubMu.Unlock()

	err := q.ch.PublishWithContext(ctx, "", q.settings.queue, false, false, amqp.Publishing{
		ContentType:  "application/octet-stream",
		DeliveryMode: amqp.Transient,
		Priority:     priority,
		Timestamp:    time.Now(),
		Body:         data,
	})
	if errors.Is(err, amqp.ErrClosed) {
		return ErrClosed
	}
	return err
}

// Pull waits for the next broker delivery.
func (q *AMQP) Pull(ctx context.Context) (Delivery, error) {
	q.consumeOnce.Do(func() {
		q.deliveries, q.consumeErr = q.ch.Consume(q.settings.queue, "", false, false, false, false, nil)
	})
	if q.consumeErr != nil {
		return nil, fmt.Errorf("%w: consume %s: %v", ErrConnectBroker, q.settings.queue, q.consumeErr)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-q.closed:
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return nil, ErrClosed
	case d, ok := <-q.deliveries:
		if !ok {
			return nil, ErrClosed
		}
		return &amqpDelivery{d: d, frame: Frame{Data: d.Body, Priority: d.Priority, ReceivedAt: time.Now()}}, nil
	}
}

// Close closes the channel and connection. Unacknowledged deliveries are
// returned to the queue by the broker.
func (q *AMQP) Close() error {
	var err error
	q.closeOnce.Do(func() {
		_ = q.ch.Close()
		err = q.conn.Close()
		if errors.Is(err, amqp.ErrClosed) {
			err = nil
		}
	})
	return err
}

type amqpDelivery struct {
	d     amqp.Delivery
	frame Frame
}

func (d *amqpDelivery) Frame() Frame { return d.frame }

func (d *amqpDelivery) Ack() error { return d.d.Ack(false) }

func (d *amqpDelivery) Nack(requeue bool) error { return d.d.Nack(false, requeue) }
