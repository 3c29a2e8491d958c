package usecase

import (
	"context"
	"errors"

	"line-relay/internal/domain"
	"line-relay/internal/logctx"
	"line-relay/internal/session"
)

type MessageGate interface {
	Admit(kind domain.SourceKind, text string) (string, bool)
}

type ReplyProducer interface {
	ProduceReply(ctx context.Context, sessionKey, userText string) Reply
}

// Replier sends text back through the reply channel of an inbound event.
type Replier interface {
	Reply(ctx context.Context, replyToken, text string) error
}

type RelayService struct {
	gate    MessageGate
	replies ReplyProducer
	replier Replier
}

type RelayResult struct {
	SessionKey string
	Suppressed bool
	Reply      Reply
}

func NewRelayService(gate MessageGate, replies ReplyProducer, replier Replier) (*RelayService, error) {
	if gate == nil {
		return nil, errors.New("usecase: message gate must not be nil")
	}
	if replies == nil {
		return nil, errors.New("usecase: reply producer must not be nil")
	}
	if replier == nil {
		return nil, errors.New("usecase: replier must not be nil")
	}
	return &RelayService{gate: gate, replies: replies, replier: replier}, nil
}

// HandleMessage runs one inbound message through the pipeline. A suppressed
// message produces no reply and touches no history. The only error returned
// is a failed dispatch.
func (r *RelayService) HandleMessage(ctx context.Context, msg domain.InboundMessage) (RelayResult, error) {
	key := session.Key(msg.Source)
	logger := logctx.From(ctx).With("session", key, "source", string(msg.Source.Kind))

	text, ok := r.gate.Admit(msg.Source.Kind, msg.Text)
	if !ok {
		logger.Debug("message suppressed by mention gate")
		return RelayResult{SessionKey: key, Suppressed: true}, nil
	}

	reply := r.replies.ProduceReply(logctx.With(ctx, logger), key, text)
	result := RelayResult{SessionKey: key, Reply: reply}

	if err := r.replier.Reply(ctx, msg.ReplyToken, reply.Text); err != nil {
		e := newError(ErrorUpstream, "reply_dispatch_error", err)
		logger.Error("reply dispatch failed", "code", e.Code, "reason", e.Reason, "err", err)
		return result, e
	}
	logger.Info("reply dispatched", "outcome", string(reply.Outcome))
	return result, nil
}
