package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// PubSubProvider доставляет сообщения между экземплярами сервера
type PubSubProvider interface {
	// Publish публикует сообщение в указанный канал
	Publish(ctx context.Context, channel string, message []byte) error

	// Subscribe подписывается на канал; канал сообщений закрывается при отмене ctx
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)

	// Close освобождает ресурсы провайдера
	Close() error
}

const subscriberBuffer = 100

// ============================================================================
// LocalPubSub
// ============================================================================

// LocalPubSub - провайдер в пределах одного процесса
type LocalPubSub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan []byte]struct{}
	closed bool
}

// NewLocalPubSub создает локальный провайдер
func NewLocalPubSub() *LocalPubSub {
	return &LocalPubSub{subs: make(map[string]map[chan []byte]struct{})}
}

// Publish рассылает сообщение всем подписчикам канала. Переполненный подписчик теряет сообщение.
func (p *LocalPubSub) Publish(_ context.Context, channel string, message []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errors.New("local pubsub is closed")
	}
	for ch := range p.subs[channel] {
		select {
		case ch <- message:
		default:
			log.Warn().Str("component", "LocalPubSub").Str("channel", channel).
				Msg("Буфер подписчика переполнен, сообщение отброшено")
		}
	}
	return nil
}

// Subscribe подписывается на канал
func (p *LocalPubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.New("local pubsub is closed")
	}
	ch := make(chan []byte, subscriberBuffer)
	if p.subs[channel] == nil {
		p.subs[channel] = make(map[chan []byte]struct{})
	}
	p.subs[channel][ch] = struct{}{}

	go func() {
		<-ctx.Done()
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.subs[channel][ch]; ok {
			delete(p.subs[channel], ch)
			if len(p.subs[channel]) == 0 {
				delete(p.subs, channel)
			}
			close(ch)
		}
	}()
	return ch, nil
}

// Close закрывает все подписки
func (p *LocalPubSub) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	for channel, set := range p.subs {
		for ch := range set {
			close(ch)
		}
		delete(p.subs, channel)
	}
	return nil
}

// ============================================================================
// RedisPubSub
// ============================================================================

// RedisPubSub реализует PubSubProvider с использованием Redis
type RedisPubSub struct {
	client redis.UniversalClient
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[*redis.PubSub]struct{}
}

// NewRedisPubSub создает провайдер поверх существующего клиента Redis
func NewRedisPubSub(client redis.UniversalClient) (*RedisPubSub, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil for RedisPubSub")
	}

	ctx, cancelCheck := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCheck()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("provided redis client failed ping check: %w", err)
	}

	ctxPubSub, cancel := context.WithCancel(context.Background())
	log.Info().Str("component", "RedisPubSub").Msg("Провайдер Redis Pub/Sub создан")
	return &RedisPubSub{
		client: client,
		ctx:    ctxPubSub,
		cancel: cancel,
		subs:   make(map[*redis.PubSub]struct{}),
	}, nil
}

// Publish публикует сообщение в канал Redis
func (p *RedisPubSub) Publish(ctx context.Context, channel string, message []byte) error {
	if err := p.client.Publish(ctx, channel, message).Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis channel %s: %w", channel, err)
	}
	return nil
}

// Subscribe подписывается на канал Redis
func (p *RedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := p.client.Subscribe(p.ctx, channel)

	// Ждём подтверждения подписки
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to Redis channel %s: %w", channel, err)
	}

	p.mu.Lock()
	p.subs[pubsub] = struct{}{}
	p.mu.Unlock()

	logger := log.With().Str("component", "RedisPubSub").Str("channel", channel).Logger()
	logger.Debug().Msg("Подписка оформлена")

	msgCh := make(chan []byte, subscriberBuffer)
	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.subs, pubsub)
			p.mu.Unlock()
			pubsub.Close()
			close(msgCh)
			logger.Debug().Msg("Подписка закрыта")
		}()

		redisCh := pubsub.Channel()
		for {
			select {
			case msg, ok := <-redisCh:
				if !ok {
					logger.Warn().Msg("Канал Redis закрыт сервером")
					return
				}
				select {
				case msgCh <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				case <-p.ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			case <-p.ctx.Done():
				return
			}
		}
	}()

	return msgCh, nil
}

// Close останавливает все подписки. Клиент Redis закрывает владелец.
func (p *RedisPubSub) Close() error {
	p.cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for pubsub := range p.subs {
		if err := pubsub.Close(); err != nil {
			lastErr = err
		}
		delete(p.subs, pubsub)
	}
	log.Info().Str("component", "RedisPubSub").Msg("Провайдер Redis Pub/Sub закрыт")
	return lastErr
}
