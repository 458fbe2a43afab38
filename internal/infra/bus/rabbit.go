package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"follower-radar/internal/domain"
	"follower-radar/internal/infra/metrics"
)

// Topology перечисляет очереди и обменник шины.
type Topology struct {
	Exchange    string
	FetchQueue  string
	DiffQueue   string
	NotifyQueue string
	SignupQueue string
}

// Таблица диспетчеризации вида события в ключ маршрутизации и очередь.
var (
	routingKeys = map[domain.BusEventKind]string{
		domain.BusEventFollowerChange: "follower.change",
		domain.BusEventUserSignup:     "user.signup",
	}
	kindQueue = func(top Topology) map[domain.BusEventKind]string {
		return map[domain.BusEventKind]string{
			domain.BusEventFollowerChange: top.NotifyQueue,
			domain.BusEventUserSignup:     top.SignupQueue,
		}
	}
)

// Client реализует очереди заданий и шину событий поверх RabbitMQ.
type Client struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	top  Topology

	mu        sync.Mutex
	consumers map[string]<-chan amqp.Delivery
}

// NewClient подключается к RabbitMQ и объявляет топологию.
func NewClient(url string, top Topology) (*Client, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	if err := ch.ExchangeDeclare(top.Exchange, "direct", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	for _, queue := range []string{top.FetchQueue, top.DiffQueue, top.NotifyQueue, top.SignupQueue} {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("declare queue %s: %w", queue, err)
		}
	}
	bindings := kindQueue(top)
	for kind, queue := range bindings {
		if err := ch.QueueBind(queue, routingKeys[kind], top.Exchange, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}
	return &Client{
		conn:      conn,
		ch:        ch,
		top:       top,
		consumers: make(map[string]<-chan amqp.Delivery),
	}, nil
}

// Close закрывает подключение.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) publish(ctx context.Context, exchange, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	start := time.Now()
	err = c.ch.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", key, start, err)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", key, err)
	}
	return nil
}

func (c *Client) deliveries(queue string) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.consumers[queue]; ok {
		return ch, nil
	}
	ch, err := c.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}
	c.consumers[queue] = ch
	return ch, nil
}

func (c *Client) receive(ctx context.Context, queue string) (amqp.Delivery, error) {
	deliveries, err := c.deliveries(queue)
	if err != nil {
		return amqp.Delivery{}, err
	}
	select {
	case <-ctx.Done():
		return amqp.Delivery{}, ctx.Err()
	case d, ok := <-deliveries:
		if !ok {
			return amqp.Delivery{}, fmt.Errorf("queue %s: consumer channel closed", queue)
		}
		return d, nil
	}
}

func ackFunc(d amqp.Delivery) domain.AckFunc {
	return func(success bool) error {
		if success {
			return d.Ack(false)
		}
		return d.Nack(false, true)
	}
}

type fetchQueue struct{ c *Client }

// FetchQueue возвращает очередь заданий на выгрузку.
func (c *Client) FetchQueue() domain.FetchQueue { return fetchQueue{c: c} }

func (q fetchQueue) Enqueue(ctx context.Context, job domain.FetchJob) error {
	return q.c.publish(ctx, "", q.c.top.FetchQueue, job)
}

func (q fetchQueue) Receive(ctx context.Context) (domain.FetchJob, domain.AckFunc, error) {
	d, err := q.c.receive(ctx, q.c.top.FetchQueue)
	if err != nil {
		return domain.FetchJob{}, nil, err
	}
	var job domain.FetchJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		_ = d.Ack(false) // повреждённое сообщение не вернётся в очередь
		return domain.FetchJob{}, nil, fmt.Errorf("decode fetch job: %w", err)
	}
	return job, ackFunc(d), nil
}

type diffQueue struct{ c *Client }

// DiffQueue возвращает очередь сигналов о выгрузках.
func (c *Client) DiffQueue() domain.DiffQueue { return diffQueue{c: c} }

func (q diffQueue) Enqueue(ctx context.Context, job domain.DiffJob) error {
	return q.c.publish(ctx, "", q.c.top.DiffQueue, job)
}

func (q diffQueue) Receive(ctx context.Context) (domain.DiffJob, domain.AckFunc, error) {
	d, err := q.c.receive(ctx, q.c.top.DiffQueue)
	if err != nil {
		return domain.DiffJob{}, nil, err
	}
	var job domain.DiffJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		_ = d.Ack(false)
		return domain.DiffJob{}, nil, fmt.Errorf("decode diff job: %w", err)
	}
	return job, ackFunc(d), nil
}

type eventBus struct{ c *Client }

// EventBus возвращает шину событий.
func (c *Client) EventBus() domain.EventBus { return eventBus{c: c} }

func (b eventBus) Publish(ctx context.Context, event domain.BusEvent) error {
	key, ok := routingKeys[event.Kind]
	if !ok {
		return fmt.Errorf("unknown bus event kind %q", event.Kind)
	}
	if event.SentAt.IsZero() {
		event.SentAt = time.Now().UTC()
	}
	return b.c.publish(ctx, b.c.top.Exchange, key, event)
}

func (b eventBus) Receive(ctx context.Context, kind domain.BusEventKind) (domain.BusEvent, domain.AckFunc, error) {
	queue, ok := kindQueue(b.c.top)[kind]
	if !ok {
		return domain.BusEvent{}, nil, fmt.Errorf("unknown bus event kind %q", kind)
	}
	d, err := b.c.receive(ctx, queue)
	if err != nil {
		return domain.BusEvent{}, nil, err
	}
	var event domain.BusEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		_ = d.Ack(false)
		return domain.BusEvent{}, nil, fmt.Errorf("decode bus event: %w", err)
	}
	return event, ackFunc(d), nil
}
