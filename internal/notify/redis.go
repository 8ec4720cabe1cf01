package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes status events on the order's Redis channel.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev StatusEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}
	if err := p.client.Publish(ctx, Channel(ev.OrderID), string(payload)).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", Channel(ev.OrderID), err)
	}
	return nil
}

// RedisSubscriber subscribes to order channels.
type RedisSubscriber struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisSubscriber(client *redis.Client, logger *slog.Logger) *RedisSubscriber {
	return &RedisSubscriber{client: client, logger: logger}
}

// Subscribe returns once Redis has confirmed the subscription, so events published after
// it returns are not missed.
func (s *RedisSubscriber) Subscribe(ctx context.Context, orderID string) (Subscription, error) {
	ps := s.client.Subscribe(ctx, Channel(orderID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", Channel(orderID), err)
	}
	return newSubscription(ps.Channel(), ps.Close, s.logger), nil
}

// subscription pumps decoded messages into events until closed.
type subscription struct {
	events chan StatusEvent
	done   chan struct{}
	closer func() error
	once   sync.Once
	err    error
	wg     sync.WaitGroup
}

func newSubscription(in <-chan *redis.Message, closer func() error, logger *slog.Logger) *subscription {
	s := &subscription{
		events: make(chan StatusEvent),
		done:   make(chan struct{}),
		closer: closer,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.events)
		for {
			select {
			case <-s.done:
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				ev, err := DecodeEvent([]byte(msg.Payload))
				if err != nil {
					logger.Warn("dropping malformed status event", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case s.events <- ev:
				case <-s.done:
					return
				}
			}
		}
	}()
	return s
}

func (s *subscription) Events() <-chan StatusEvent { return s.events }

func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		if s.closer != nil {
			s.err = s.closer()
		}
		s.wg.Wait()
	})
	return s.err
}
