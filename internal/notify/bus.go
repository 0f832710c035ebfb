package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nazeru/storefront-checkout-go/pkg/contracts"
)

var ErrBusFull = errors.New("notify: bus is full")

type busMessage struct {
	eventType string
	payload   []byte
}

// Bus is an in-process queue used when no broker is configured. It is both
// a Sink and a Publisher; Run drains it into a handler.
type Bus struct {
	ch    chan busMessage
	retry time.Duration
}

func NewBus(size int, retry time.Duration) *Bus {
	return &Bus{ch: make(chan busMessage, size), retry: retry}
}

func (b *Bus) Put(ctx context.Context, ev contracts.Event, key string) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.Publish(ctx, ev.Type, key, data)
}

// Publish never blocks the caller.
func (b *Bus) Publish(_ context.Context, eventType, _ string, payload []byte) error {
	select {
	case b.ch <- busMessage{eventType: eventType, payload: payload}:
		return nil
	default:
		return ErrBusFull
	}
}

// Run delivers queued messages until ctx is done, retrying failures.
func (b *Bus) Run(ctx context.Context, h func(ctx context.Context, body []byte) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-b.ch:
			for h(ctx, m.payload) != nil {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(b.retry):
				}
			}
		}
	}
}

// Len reports queued messages.
func (b *Bus) Len() int { return len(b.ch) }
