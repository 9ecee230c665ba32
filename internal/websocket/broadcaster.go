package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yourusername/live-trivia/internal/handler/dto"
)

// BroadcasterConfig - настройки рассылки
type BroadcasterConfig struct {
	ChannelPrefix  string        // Префикс каналов pub/sub
	ResendInterval time.Duration // Период повторной рассылки последнего снимка; 0 - выключено
	Retention      time.Duration // Сколько повторять снимок после последнего изменения
}

// DefaultBroadcasterConfig возвращает настройки по умолчанию
func DefaultBroadcasterConfig() BroadcasterConfig {
	return BroadcasterConfig{
		ChannelPrefix:  "trivia.",
		ResendInterval: 5 * time.Second,
		Retention:      10 * time.Minute,
	}
}

type latestFrame struct {
	data []byte
	seq  uint64
	at   time.Time
}

// directFrame - событие для одного игрока
type directFrame struct {
	PlayerID string       `json:"player_id"`
	Envelope dto.Envelope `json:"envelope"`
}

// replayable - события, последняя версия которых периодически рассылается повторно
func replayable(eventType string) bool {
	switch eventType {
	case dto.EventSessionState, dto.EventRanking, dto.EventPlayers:
		return true
	}
	return false
}

// Broadcaster публикует события сессий через PubSubProvider.
// Каждое событие получает seq, монотонный внутри сессии. Последняя версия
// снимка, таблицы лидеров и списка игроков периодически публикуется повторно;
// подписчики отбрасывают повторы отдельно по каждому типу события.
type Broadcaster struct {
	provider PubSubProvider
	config   BroadcasterConfig
	clock    clockwork.Clock

	mu     sync.Mutex
	seqs   map[uint]uint64
	latest map[uint]map[string]latestFrame

	deduped atomic.Int64
	logger  zerolog.Logger
}

// NewBroadcaster создает рассыльщик
func NewBroadcaster(provider PubSubProvider, config BroadcasterConfig, clock clockwork.Clock) *Broadcaster {
	return &Broadcaster{
		provider: provider,
		config:   config,
		clock:    clock,
		seqs:     make(map[uint]uint64),
		latest:   make(map[uint]map[string]latestFrame),
		logger:   log.With().Str("component", "Broadcaster").Logger(),
	}
}

// Channel возвращает канал сессии
func (b *Broadcaster) Channel(sessionID uint) string {
	return fmt.Sprintf("%ssession.%d", b.config.ChannelPrefix, sessionID)
}

func (b *Broadcaster) directChannel() string {
	return b.config.ChannelPrefix + "direct"
}

// nextSeq выдаёт следующий номер. Нижняя граница растёт со временем,
// поэтому после перезапуска процесса номера продолжают расти.
func (b *Broadcaster) nextSeq(sessionID uint) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	floor := uint64(b.clock.Now().UnixMilli()) * 1000
	seq := b.seqs[sessionID] + 1
	if seq < floor {
		seq = floor
	}
	b.seqs[sessionID] = seq
	return seq
}

// LastSeq возвращает последний выданный номер сессии
func (b *Broadcaster) LastSeq(sessionID uint) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seqs[sessionID]
}

// Envelope упаковывает событие с новым seq
func (b *Broadcaster) Envelope(sessionID uint, eventType string, payload interface{}) (dto.Envelope, error) {
	data, err := marshalPayload(payload)
	if err != nil {
		return dto.Envelope{}, err
	}
	return dto.Envelope{
		Type:      eventType,
		SessionID: sessionID,
		Seq:       b.nextSeq(sessionID),
		SentAt:    b.clock.Now().UnixMilli(),
		Data:      data,
	}, nil
}

// Publish рассылает событие всем подписчикам сессии
func (b *Broadcaster) Publish(ctx context.Context, sessionID uint, eventType string, payload interface{}) error {
	env, err := b.Envelope(sessionID, eventType, payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if replayable(eventType) {
		b.remember(sessionID, eventType, env.Seq, frame)
	}

	if err := b.provider.Publish(ctx, b.Channel(sessionID), frame); err != nil {
		return fmt.Errorf("publish %s to session %d: %w", eventType, sessionID, err)
	}
	b.logger.Debug().Uint("session_id", sessionID).Str("event", eventType).Uint64("seq", env.Seq).Msg("Событие разослано")
	return nil
}

// remember сохраняет кадр для повтора, если он новее уже сохранённого
func (b *Broadcaster) remember(sessionID uint, eventType string, seq uint64, frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	frames := b.latest[sessionID]
	if frames == nil {
		frames = make(map[string]latestFrame)
		b.latest[sessionID] = frames
	}
	if prev, ok := frames[eventType]; ok && prev.seq > seq {
		return
	}
	frames[eventType] = latestFrame{data: frame, seq: seq, at: b.clock.Now()}
}

// PublishDirect отправляет событие одному игроку через общий канал
func (b *Broadcaster) PublishDirect(ctx context.Context, playerID string, eventType string, payload interface{}) error {
	data, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(directFrame{
		PlayerID: playerID,
		Envelope: dto.Envelope{Type: eventType, SentAt: b.clock.Now().UnixMilli(), Data: data},
	})
	if err != nil {
		return fmt.Errorf("marshal direct frame: %w", err)
	}
	return b.provider.Publish(ctx, b.directChannel(), frame)
}

// Run повторяет последние снимки до отмены ctx
func (b *Broadcaster) Run(ctx context.Context) {
	if b.config.ResendInterval <= 0 {
		return
	}
	ticker := b.clock.NewTicker(b.config.ResendInterval)
	defer ticker.Stop()

	b.logger.Info().Dur("interval", b.config.ResendInterval).Msg("Повторная рассылка снимков запущена")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			b.resendLatest(ctx)
		}
	}
}

func (b *Broadcaster) resendLatest(ctx context.Context) {
	type pending struct {
		sessionID uint
		frame     []byte
	}
	now := b.clock.Now()
	var out []pending

	b.mu.Lock()
	for sessionID, frames := range b.latest {
		for eventType, f := range frames {
			if b.config.Retention > 0 && now.Sub(f.at) > b.config.Retention {
				delete(frames, eventType)
				continue
			}
			out = append(out, pending{sessionID: sessionID, frame: f.data})
		}
		if len(frames) == 0 {
			delete(b.latest, sessionID)
		}
	}
	b.mu.Unlock()

	for _, p := range out {
		if err := b.provider.Publish(ctx, b.Channel(p.sessionID), p.frame); err != nil {
			b.logger.Warn().Err(err).Uint("session_id", p.sessionID).Msg("Не удалось повторить кадр")
		}
	}
}

// Subscription - подписка на события одной сессии
type Subscription struct {
	sessionID uint
	cancel    context.CancelFunc
	done      chan struct{}
	lastSeq   atomic.Uint64
}

// Close отменяет подписку без ожидания
func (s *Subscription) Close() {
	s.cancel()
}

// Wait ждёт завершения доставки
func (s *Subscription) Wait() {
	<-s.done
}

// LastSeq возвращает наибольший номер доставленного события
func (s *Subscription) LastSeq() uint64 {
	return s.lastSeq.Load()
}

// Subscribe подписывается на события сессии. onEnvelope вызывается
// последовательно из одной горутины. Кадр отбрасывается, если уже доставлен
// кадр того же типа с seq не меньше; типы между собой не упорядочиваются.
func (b *Broadcaster) Subscribe(ctx context.Context, sessionID uint, onEnvelope func(dto.Envelope)) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	ch, err := b.provider.Subscribe(subCtx, b.Channel(sessionID))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to session %d: %w", sessionID, err)
	}

	sub := &Subscription{sessionID: sessionID, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		lastByType := make(map[string]uint64)
		for frame := range ch {
			var env dto.Envelope
			if err := json.Unmarshal(frame, &env); err != nil {
				b.logger.Warn().Err(err).Uint("session_id", sessionID).Msg("Некорректный кадр, пропускаем")
				continue
			}
			if env.Seq <= lastByType[env.Type] {
				b.deduped.Add(1)
				continue
			}
			lastByType[env.Type] = env.Seq
			if env.Seq > sub.lastSeq.Load() {
				sub.lastSeq.Store(env.Seq)
			}
			onEnvelope(env)
		}
	}()
	return sub, nil
}

// SubscribeDirect подписывается на события отдельных игроков
func (b *Broadcaster) SubscribeDirect(ctx context.Context, onFrame func(playerID string, env dto.Envelope)) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	ch, err := b.provider.Subscribe(subCtx, b.directChannel())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to direct channel: %w", err)
	}

	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for frame := range ch {
			var df directFrame
			if err := json.Unmarshal(frame, &df); err != nil {
				b.logger.Warn().Err(err).Msg("Некорректный адресный кадр, пропускаем")
				continue
			}
			onFrame(df.PlayerID, df.Envelope)
		}
	}()
	return sub, nil
}

// Deduplicated возвращает число отброшенных повторов
func (b *Broadcaster) Deduplicated() int64 {
	return b.deduped.Load()
}

func marshalPayload(payload interface{}) (json.RawMessage, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}
