package line

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"

	"line-relay/internal/logctx"
)

// maxTextRunes is the Messaging API limit for one text message.
const maxTextRunes = 5000

// replyAPI is the subset of *messaging_api.MessagingApiAPI used by Dispatcher.
type replyAPI interface {
	ReplyMessage(req *messaging_api.ReplyMessageRequest) (*messaging_api.ReplyMessageResponse, error)
}

// Dispatcher sends one text reply per reply token.
type Dispatcher struct {
	api      replyAPI
	attempts int
	delay    time.Duration
}

type Option func(*Dispatcher)

// WithRetry sets how many times a failed reply is attempted in total, and
// the pause between attempts.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(d *Dispatcher) {
		if attempts > 0 {
			d.attempts = attempts
		}
		if delay >= 0 {
			d.delay = delay
		}
	}
}

func NewDispatcher(api replyAPI, opts ...Option) (*Dispatcher, error) {
	if api == nil {
		return nil, errors.New("line: api must not be nil")
	}
	d := &Dispatcher{api: api, attempts: 1}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// NewMessagingDispatcher builds a Dispatcher on the LINE Messaging API client.
func NewMessagingDispatcher(channelToken string, opts ...Option) (*Dispatcher, error) {
	channelToken = strings.TrimSpace(channelToken)
	if channelToken == "" {
		return nil, errors.New("line: channel access token must not be empty")
	}
	api, err := messaging_api.NewMessagingApiAPI(channelToken)
	if err != nil {
		return nil, fmt.Errorf("line: create messaging client: %w", err)
	}
	return NewDispatcher(api, opts...)
}

func (d *Dispatcher) Reply(ctx context.Context, replyToken, text string) error {
	if strings.TrimSpace(replyToken) == "" {
		return errors.New("line: reply token is empty")
	}
	req := &messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages: []messaging_api.MessageInterface{
			messaging_api.TextMessage{Text: clampText(text)},
		},
	}

	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("line: reply: %w", err)
		}
		if _, err := d.api.ReplyMessage(req); err != nil {
			lastErr = err
			if attempt < d.attempts {
				logctx.From(ctx).Warn("reply attempt failed", "attempt", attempt, "err", err)
				if err := sleep(ctx, d.delay); err != nil {
					return fmt.Errorf("line: reply: %w", err)
				}
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("line: reply failed after %d attempt(s): %w", d.attempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func clampText(text string) string {
	runes := []rune(text)
	if len(runes) <= maxTextRunes {
		return text
	}
	return string(runes[:maxTextRunes])
}
