package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSConfig - настройки подключения к NATS
type NATSConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// NATSPubSub реализует PubSubProvider поверх core NATS.
// Каналы транслируются в subjects как есть.
type NATSPubSub struct {
	nc *nats.Conn

	mu   sync.Mutex
	subs map[*nats.Subscription]struct{}
}

// NewNATSPubSub подключается к NATS
func NewNATSPubSub(cfg NATSConfig) (*NATSPubSub, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	opts := []nats.Option{
		nats.Name("live-trivia"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Str("component", "NATSPubSub").Msg("Соединение с NATS потеряно")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("component", "NATSPubSub").Str("url", nc.ConnectedUrl()).Msg("Соединение с NATS восстановлено")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Str("component", "NATSPubSub").Msg("Ошибка NATS")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	log.Info().Str("component", "NATSPubSub").Str("url", nc.ConnectedUrl()).Msg("Подключено к NATS")
	return &NATSPubSub{nc: nc, subs: make(map[*nats.Subscription]struct{})}, nil
}

// Publish публикует сообщение в subject
func (p *NATSPubSub) Publish(_ context.Context, channel string, message []byte) error {
	if err := p.nc.Publish(channel, message); err != nil {
		return fmt.Errorf("publish to NATS subject %s: %w", channel, err)
	}
	return nil
}

// Subscribe подписывается на subject
func (p *NATSPubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	msgCh := make(chan []byte, subscriberBuffer)
	var (
		chMu   sync.Mutex
		closed bool
	)

	sub, err := p.nc.Subscribe(channel, func(msg *nats.Msg) {
		chMu.Lock()
		defer chMu.Unlock()
		if closed {
			return
		}
		select {
		case msgCh <- msg.Data:
		default:
			log.Warn().Str("component", "NATSPubSub").Str("subject", channel).
				Msg("Буфер подписчика переполнен, сообщение отброшено")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to NATS subject %s: %w", channel, err)
	}

	p.mu.Lock()
	p.subs[sub] = struct{}{}
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		p.mu.Lock()
		delete(p.subs, sub)
		p.mu.Unlock()
		_ = sub.Unsubscribe()

		chMu.Lock()
		closed = true
		close(msgCh)
		chMu.Unlock()
	}()

	return msgCh, nil
}

// Close закрывает подписки и соединение
func (p *NATSPubSub) Close() error {
	p.mu.Lock()
	for sub := range p.subs {
		_ = sub.Unsubscribe()
		delete(p.subs, sub)
	}
	p.mu.Unlock()

	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}
