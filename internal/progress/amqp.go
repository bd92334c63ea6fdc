package progress

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sadewadee/leadscope/internal/config"
	"github.com/sadewadee/leadscope/internal/domain"
)

// DefaultExchange is the topic exchange events are published to. The
// routing key is the session id.
const DefaultExchange = "leadscope.progress"

// AMQP is a bus over a RabbitMQ topic exchange. Each subscription gets an
// exclusive auto-delete queue bound to its session's routing key.
type AMQP struct {
	conn     *amqp.Connection
	mu       sync.Mutex
	pub      *amqp.Channel
	exchange string
	log      *zap.Logger
}

// NewAMQP dials RabbitMQ and declares the exchange.
func NewAMQP(cfg config.AMQPConfig) (*AMQP, error) {
	if cfg.URL == "" {
		return nil, eris.New("progress: amqp url is required")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, eris.Wrap(err, "progress: rabbitmq dial")
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, eris.Wrap(err, "progress: rabbitmq channel")
	}

	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, eris.Wrap(err, "progress: exchange declare")
	}

	return &AMQP{conn: conn, pub: ch, exchange: exchange, log: logger("amqp")}, nil
}

func (a *AMQP) Publish(ctx context.Context, ev domain.ProgressEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		a.log.Debug("encode event", zap.Error(err))
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	err = a.pub.PublishWithContext(ctx,
		a.exchange,
		ev.SessionID.String(),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Transient,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		a.log.Debug("publish event",
			zap.String("session_id", ev.SessionID.String()),
			zap.Error(err),
		)
	}
}

func (a *AMQP) Subscribe(ctx context.Context, sessionID uuid.UUID) (*Subscription, error) {
	ch, err := a.conn.Channel()
	if err != nil {
		return nil, eris.Wrap(err, "progress: rabbitmq channel")
	}

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, eris.Wrap(err, "progress: queue declare")
	}

	if err := ch.QueueBind(q.Name, sessionID.String(), a.exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, eris.Wrap(err, "progress: queue bind")
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, eris.Wrap(err, "progress: consume")
	}

	done := make(chan struct{})
	sub := newSubscription(func() {
		close(done)
		_ = ch.Close()
	})

	go func() {
		defer close(sub.events)
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				sub.Close()
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var ev domain.ProgressEvent
				if err := json.Unmarshal(d.Body, &ev); err != nil {
					a.log.Debug("decode event", zap.Error(err))
					continue
				}
				if !sub.offer(ev) {
					a.log.Debug("subscriber lagging, event dropped", zap.String("session_id", sessionID.String()))
				}
			}
		}
	}()

	return sub, nil
}

// Close closes the publishing channel and the connection.
func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pub != nil {
		_ = a.pub.Close()
	}
	return a.conn.Close()
}
