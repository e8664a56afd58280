package queue

// Option applies a configuration option to the InMemoryQueue.
type Option func(*InMemoryQueue)

// WithCapacity sets the maximum number of waiting frames.
func WithCapacity(capacity int) Option {
	return func(q *InMemoryQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// WithMaxPriority caps frame priorities; higher values are clamped.
func WithMaxPriority(p uint8) Option {
	return func(q *InMemoryQueue) {
		q.maxPriority = p
	}
}

// AMQPOption configures an AMQP source or publisher.
type AMQPOption func(*amqpSettings)

type amqpSettings struct {
	queue       string
	maxPriority uint8
	priority    bool
	prefetch    int
	durable     bool
}

// WithQueueName sets the queue consumed from or published to.
func WithQueueName(name string) AMQPOption {
	return func(s *amqpSettings) {
		if name != "" {
			s.queue = name
		}
	}
}

// WithPriority declares the queue with x-max-priority = max. Disabling it
// declares a plain FIFO queue.
func WithPriority(enabled bool, max uint8) AMQPOption {
	return func(s *amqpSettings) {
		s.priority = enabled
		if max > 0 {
			s.maxPriority = max
		}
	}
}

// WithPrefetch bounds unacknowledged deliveries held by this consumer.
func WithPrefetch(n int) AMQPOption {
	return func(s *amqpSettings) {
		if n > 0 {
			s.prefetch = n
		}
	}
}

// WithDurable declares the queue durable. The declaration must match an
// existing queue of the same name.
func WithDurable(durable bool) AMQPOption {
	return func(s *amqpSettings) {
		s.durable = durable
	}
}
