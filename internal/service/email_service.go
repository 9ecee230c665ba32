package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog/log"
)

// Attachment - вложение письма
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Mailer отправляет служебные письма операторам
type Mailer interface {
	Send(ctx context.Context, to []string, subject, text string, attachments ...Attachment) error
}

type idempotencyKeyCtx struct{}

// WithIdempotencyKey привязывает ключ идемпотентности к отправке письма
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyCtx{}, strings.TrimSpace(key))
}

// IdempotencyKeyFrom возвращает ключ идемпотентности из контекста
func IdempotencyKeyFrom(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKeyCtx{}).(string)
	return key
}

// NoopMailer используется, когда отправка писем не настроена
type NoopMailer struct{}

func (NoopMailer) Send(_ context.Context, to []string, subject, _ string, attachments ...Attachment) error {
	log.Debug().Str("component", "Mailer").Strs("to", to).Str("subject", subject).
		Int("attachments", len(attachments)).Msg("noop: письмо не отправлено")
	return nil
}

// ResendMailer отправляет письма через Resend REST API
type ResendMailer struct {
	from   string
	client *resend.Client
}

// NewResendMailer создает отправителя писем
func NewResendMailer(apiKey, from string) (*ResendMailer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend api key is required")
	}
	if from == "" {
		return nil, fmt.Errorf("email from is required")
	}
	return &ResendMailer{
		from:   from,
		client: resend.NewClient(apiKey),
	}, nil
}

// Send отправляет письмо с повтором при лимитах и сетевых ошибках
func (s *ResendMailer) Send(ctx context.Context, to []string, subject, text string, attachments ...Attachment) error {
	if len(to) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}

	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      to,
		Subject: subject,
		Text:    text,
	}
	for _, a := range attachments {
		params.Attachments = append(params.Attachments, &resend.Attachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Content:     a.Content,
		})
	}

	options := &resend.SendEmailOptions{}
	if key := IdempotencyKeyFrom(ctx); key != "" {
		options.IdempotencyKey = key
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		_, err := s.client.Emails.SendWithOptions(ctx, params, options)
		if err == nil {
			return nil
		}
		lastErr = err

		if wait, ok := resendRetryDelay(err, attempt); ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
				continue
			}
		}
		return fmt.Errorf("resend send failed: %w", err)
	}
	return fmt.Errorf("resend send failed after retries: %w", lastErr)
}

func resendRetryDelay(err error, attempt int) (time.Duration, bool) {
	var rateLimitErr *resend.RateLimitError
	if errors.As(err, &rateLimitErr) {
		if seconds, convErr := strconv.Atoi(strings.TrimSpace(rateLimitErr.RetryAfter)); convErr == nil && seconds > 0 {
			if seconds > 30 {
				seconds = 30
			}
			return time.Duration(seconds) * time.Second, true
		}
		return time.Duration(attempt+1) * time.Second, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return time.Duration(attempt+1) * 500 * time.Millisecond, true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "temporar") {
		return time.Duration(attempt+1) * 500 * time.Millisecond, true
	}
	return 0, false
}
