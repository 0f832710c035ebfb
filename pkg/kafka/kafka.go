package kafka

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

type Client struct {
	Brokers     []string
	TopicPrefix string
}

func NewClient(brokersCSV, topicPrefix string) *Client {
	brokers := []string{}
	for _, b := range strings.Split(brokersCSV, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return &Client{Brokers: brokers, TopicPrefix: topicPrefix}
}

func (c *Client) Enabled() bool {
	return len(c.Brokers) > 0
}

// Topic maps an event type to its kafka topic.
func (c *Client) Topic(eventType string) string {
	return c.TopicPrefix + eventType
}

func (c *Client) NewWriter(topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func (c *Client) NewGroupReader(topics []string, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.Brokers,
		GroupTopics: topics,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
}

var ErrDisabled = errors.New("kafka disabled")

// Publisher keeps one writer per topic.
type Publisher struct {
	client  *Client
	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

func NewPublisher(c *Client) *Publisher {
	return &Publisher{client: c, writers: make(map[string]*kafka.Writer)}
}

func (p *Publisher) writer(eventType string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.writers[eventType]
	if !ok {
		w = p.client.NewWriter(p.client.Topic(eventType))
		p.writers[eventType] = w
	}
	return w
}

func (p *Publisher) Publish(ctx context.Context, eventType, key string, payload []byte) error {
	if !p.client.Enabled() {
		return ErrDisabled
	}
	return p.writer(eventType).WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: payload, Time: time.Now().UTC()})
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for _, w := range p.writers {
		errs = append(errs, w.Close())
	}
	return errors.Join(errs...)
}

// Handler processes one message; a nil return commits its offset.
type Handler func(ctx context.Context, value []byte) error

// Consume blocks until ctx is done. A failed message is retried in place so
// its offset is never committed past an unhandled record.
func (c *Client) Consume(ctx context.Context, eventTypes []string, groupID string, retry time.Duration, h Handler) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	topics := make([]string, 0, len(eventTypes))
	for _, t := range eventTypes {
		topics = append(topics, c.Topic(t))
	}
	reader := c.NewGroupReader(topics, groupID)
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for {
			if err := h(ctx, msg.Value); err == nil {
				break
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retry):
			}
		}
		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			return err
		}
	}
}
