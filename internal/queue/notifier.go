package queue

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

// Notifier wakes idle workers when a queue receives work.
type Notifier interface {
	Notify(queue string)
	Subscribe(queue string) <-chan struct{}
	Close() error
}

// LocalNotifier signals workers in the same process. Signals coalesce: a
// burst of enqueues wakes each waiting subscriber once.
type LocalNotifier struct {
	mu   sync.Mutex
	subs map[string][]chan struct{}
}

// NewLocalNotifier returns an empty notifier.
func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{subs: make(map[string][]chan struct{})}
}

func (n *LocalNotifier) Notify(queue string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs[queue] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (n *LocalNotifier) Subscribe(queue string) <-chan struct{} {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	n.subs[queue] = append(n.subs[queue], ch)
	n.mu.Unlock()
	return ch
}

func (n *LocalNotifier) Close() error { return nil }

// AMQPNotifier fans wake-ups out through a RabbitMQ fanout exchange so that
// an enqueue in one process wakes workers in every process. Local
// subscribers are also signalled directly.
type AMQPNotifier struct {
	local    *LocalNotifier
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      zerolog.Logger
	done     chan struct{}
}

// NewAMQPNotifier dials url, declares the fanout exchange and starts
// consuming from an exclusive auto-delete queue bound to it.
func NewAMQPNotifier(url, exchange string, log zerolog.Logger) (*AMQPNotifier, error) {
	if exchange == "" {
		exchange = "agent.jobs"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange, // name
		"fanout", // kind
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp exchange: %w", err)
	}
	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", exchange, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp bind: %w", err)
	}
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp consume: %w", err)
	}

	n := &AMQPNotifier{
		local:    NewLocalNotifier(),
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		log:      log.With().Str("component", "amqp_notifier").Logger(),
		done:     make(chan struct{}),
	}
	go n.consume(msgs)
	return n, nil
}

func (n *AMQPNotifier) consume(msgs <-chan amqp.Delivery) {
	defer close(n.done)
	for d := range msgs {
		n.local.Notify(string(d.Body))
	}
}

// Notify publishes the queue name; publish errors fall back to a local
// wake-up only.
func (n *AMQPNotifier) Notify(queue string) {
	err := n.ch.Publish(n.exchange, "", false, false, amqp.Publishing{
		ContentType: "text/plain",
		Body:        []byte(queue),
	})
	if err != nil {
		n.log.Warn().Err(err).Str("queue", queue).Msg("amqp publish failed")
	}
	n.local.Notify(queue)
}

func (n *AMQPNotifier) Subscribe(queue string) <-chan struct{} { return n.local.Subscribe(queue) }

// Close tears down the channel and connection and waits for the consumer.
func (n *AMQPNotifier) Close() error {
	_ = n.ch.Close()
	err := n.conn.Close()
	<-n.done
	return err
}
