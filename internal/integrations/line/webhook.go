package line

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"

	"line-relay/internal/domain"
	"line-relay/internal/logctx"
)

// ErrInvalidSignature is returned when X-Line-Signature does not match the body.
var ErrInvalidSignature = errors.New("line: invalid signature")

// ParseWebhook verifies and decodes a webhook request. Only text message
// events are returned; everything else is skipped.
func ParseWebhook(ctx context.Context, channelSecret string, r *http.Request) ([]domain.InboundMessage, error) {
	cb, err := webhook.ParseRequest(channelSecret, r)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			return nil, ErrInvalidSignature
		}
		return nil, fmt.Errorf("line: parse webhook: %w", err)
	}

	log := logctx.From(ctx)
	msgs := make([]domain.InboundMessage, 0, len(cb.Events))
	for _, ev := range cb.Events {
		msg, ok := inboundMessage(ev)
		if !ok {
			log.Debug("skipping webhook event", "type", fmt.Sprintf("%T", ev))
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func inboundMessage(ev webhook.EventInterface) (domain.InboundMessage, bool) {
	var me webhook.MessageEvent
	switch e := ev.(type) {
	case webhook.MessageEvent:
		me = e
	case *webhook.MessageEvent:
		if e == nil {
			return domain.InboundMessage{}, false
		}
		me = *e
	default:
		return domain.InboundMessage{}, false
	}

	var text string
	switch m := me.Message.(type) {
	case webhook.TextMessageContent:
		text = m.Text
	case *webhook.TextMessageContent:
		if m == nil {
			return domain.InboundMessage{}, false
		}
		text = m.Text
	default:
		return domain.InboundMessage{}, false
	}

	return domain.InboundMessage{
		Source:     source(me.Source),
		Text:       text,
		ReplyToken: me.ReplyToken,
	}, true
}

// source maps the event origin. An origin the relay does not know yields a
// zero Source, which resolves to the unknown session.
func source(src webhook.SourceInterface) domain.Source {
	switch s := src.(type) {
	case webhook.UserSource:
		return domain.Source{Kind: domain.SourceUser, UserID: s.UserId}
	case *webhook.UserSource:
		if s != nil {
			return domain.Source{Kind: domain.SourceUser, UserID: s.UserId}
		}
	case webhook.GroupSource:
		return domain.Source{Kind: domain.SourceGroup, GroupID: s.GroupId, UserID: s.UserId}
	case *webhook.GroupSource:
		if s != nil {
			return domain.Source{Kind: domain.SourceGroup, GroupID: s.GroupId, UserID: s.UserId}
		}
	case webhook.RoomSource:
		return domain.Source{Kind: domain.SourceRoom, RoomID: s.RoomId, UserID: s.UserId}
	case *webhook.RoomSource:
		if s != nil {
			return domain.Source{Kind: domain.SourceRoom, RoomID: s.RoomId, UserID: s.UserId}
		}
	}
	return domain.Source{}
}
