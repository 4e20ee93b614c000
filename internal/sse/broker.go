package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	redisclient "github.com/stylesync/quota-server-go/internal/redis"
)

const EventUsageUpdated = "usage_updated"

type Event struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	At   time.Time       `json:"at"`
}

// NewEvent marshals data into an event with a fresh id.
func NewEvent(eventType string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:   uuid.NewString(),
		Type: eventType,
		Data: raw,
		At:   time.Now().UTC(),
	}, nil
}

type Client struct {
	AccountID string
	Events    chan Event
	Done      chan struct{}
}

type subscription struct {
	clients map[*Client]struct{}
	cancel  context.CancelFunc
}

type Broker struct {
	redis  *redisclient.Client
	subs   map[string]*subscription // accountID -> local clients
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:  redisClient,
		subs:   make(map[string]*subscription),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (b *Broker) Subscribe(accountID string) *Client {
	client := &Client{
		AccountID: accountID,
		Events:    make(chan Event, 32),
		Done:      make(chan struct{}),
	}

	b.mu.Lock()
	sub, ok := b.subs[accountID]
	if !ok {
		ctx, cancel := context.WithCancel(b.ctx)
		sub = &subscription{clients: make(map[*Client]struct{}), cancel: cancel}
		b.subs[accountID] = sub

		// Subscribe before returning so events published right after are seen.
		pubsub := b.redis.Subscribe(ctx, redisclient.UsageChannel(accountID))
		go b.listen(ctx, accountID, pubsub.Channel(), pubsub.Close)
	}
	sub.clients[client] = struct{}{}
	clientCount := len(sub.clients)
	b.mu.Unlock()

	log.Info().
		Str("accountId", accountID).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[client.AccountID]
	if !ok {
		return
	}
	if _, ok := sub.clients[client]; !ok {
		return
	}

	delete(sub.clients, client)
	close(client.Done)

	if len(sub.clients) == 0 {
		sub.cancel()
		delete(b.subs, client.AccountID)
	}

	log.Info().
		Str("accountId", client.AccountID).
		Int("clientCount", len(sub.clients)).
		Msg("sse client unsubscribed")
}

func (b *Broker) Publish(ctx context.Context, accountID string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return b.redis.Publish(ctx, redisclient.UsageChannel(accountID), data).Err()
}

func (b *Broker) listen(ctx context.Context, accountID string, ch <-chan *redis.Message, closeFn func() error) {
	defer closeFn()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(accountID, event)
		}
	}
}

func (b *Broker) broadcast(accountID string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sub, ok := b.subs[accountID]
	if !ok {
		return
	}

	for client := range sub.clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("accountId", accountID).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		for client := range sub.clients {
			close(client.Done)
		}
	}
	b.subs = make(map[string]*subscription)
}

func (b *Broker) ClientCount(accountID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if sub, ok := b.subs[accountID]; ok {
		return len(sub.clients)
	}
	return 0
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, sub := range b.subs {
		total += len(sub.clients)
	}
	return total
}
