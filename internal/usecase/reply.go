package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"line-relay/internal/domain"
	"line-relay/internal/logctx"
)

const (
	ClearCommand = "!清空"
	ClearedText  = "對話歷史紀錄已經清空！"
	FillerText   = "我在這裡 (˶˙ᵕ˙˶)"
	FallbackText = "嗚…Danny 出了點狀況，再跟我說一次吧！"

	defaultMaxTurns          = 20
	defaultGenerationTimeout = 30 * time.Second
	defaultStoreTimeout      = 5 * time.Second
)

// HistoryStore persists the turn history of each session. Put overwrites the
// whole history; there is no partial update.
type HistoryStore interface {
	Get(ctx context.Context, sessionKey string) (domain.History, bool, error)
	Put(ctx context.Context, sessionKey string, history domain.History) error
	Delete(ctx context.Context, sessionKey string) error
}

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.Turn) (domain.Completion, error)
}

// Outcome records how a reply was produced.
type Outcome string

const (
	OutcomeGenerated Outcome = "generated"
	OutcomeFiller    Outcome = "filler"
	OutcomeFallback  Outcome = "fallback"
	OutcomeCleared   Outcome = "cleared"
)

type Reply struct {
	Text    string
	Outcome Outcome
}

type ReplyConfig struct {
	Persona           string
	Model             string
	MaxTurns          int
	GenerationTimeout time.Duration
	StoreTimeout      time.Duration
}

// ReplyService owns the conversation protocol: it reads a session's history,
// asks the backend for the next assistant turn and commits the exchange.
// Exchanges on the same session are serialized.
type ReplyService struct {
	llm               LLMClient
	store             HistoryStore
	persona           string
	model             string
	maxTurns          int
	generationTimeout time.Duration
	storeTimeout      time.Duration
	locks             *sessionLocks
}

func NewReplyService(llm LLMClient, store HistoryStore, cfg ReplyConfig) (*ReplyService, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: history store must not be nil")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("usecase: model must not be empty")
	}
	if strings.TrimSpace(cfg.Persona) == "" {
		cfg.Persona = DefaultPersona
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = defaultGenerationTimeout
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	return &ReplyService{
		llm:               llm,
		store:             store,
		persona:           cfg.Persona,
		model:             cfg.Model,
		maxTurns:          cfg.MaxTurns,
		generationTimeout: cfg.GenerationTimeout,
		storeTimeout:      cfg.StoreTimeout,
		locks:             newSessionLocks(),
	}, nil
}

// ProduceReply returns the reply to userText within sessionKey. It never
// fails: backend problems yield FallbackText and leave the history as it was.
func (s *ReplyService) ProduceReply(ctx context.Context, sessionKey, userText string) Reply {
	logger := logctx.From(ctx).With("session", sessionKey)

	unlock := s.locks.lock(sessionKey)
	defer unlock()

	if strings.TrimSpace(userText) == ClearCommand {
		return s.clear(ctx, logger, sessionKey)
	}

	history := s.load(ctx, logger, sessionKey)

	completion, genErr := s.generate(ctx, buildPromptMessages(s.persona, history, userText))
	if genErr != nil {
		logger.Error("generation failed", "code", genErr.Code, "reason", genErr.Reason, "err", genErr.Err)
		return Reply{Text: FallbackText, Outcome: OutcomeFallback}
	}

	reply := Reply{Outcome: OutcomeGenerated}
	text, ok := completion.Text()
	reply.Text = strings.TrimSpace(text)
	if !ok || reply.Text == "" {
		reply = Reply{Text: FillerText, Outcome: OutcomeFiller}
	}

	updated := history.Append(
		domain.Turn{Role: domain.RoleUser, Content: userText},
		domain.Turn{Role: domain.RoleAssistant, Content: reply.Text},
	).Truncate(s.maxTurns)
	s.save(ctx, logger, sessionKey, updated)

	return reply
}

func (s *ReplyService) generate(ctx context.Context, messages []domain.Turn) (domain.Completion, *Error) {
	ctx, cancel := context.WithTimeout(ctx, s.generationTimeout)
	defer cancel()

	completion, err := s.llm.Chat(ctx, s.model, messages)
	if err != nil {
		return domain.Completion{}, classifyGenerationError(err)
	}
	return completion, nil
}

// load returns the stored history, or an empty one when the store is
// unreachable.
func (s *ReplyService) load(ctx context.Context, logger *slog.Logger, sessionKey string) domain.History {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	history, found, err := s.store.Get(ctx, sessionKey)
	if err != nil {
		e := newError(ErrorInternal, "history_load_error", err)
		logger.Warn("history load failed, continuing without history", "code", e.Code, "reason", e.Reason, "err", err)
		return domain.History{}
	}
	if !found {
		return domain.History{}
	}
	return history
}

func (s *ReplyService) save(ctx context.Context, logger *slog.Logger, sessionKey string, history domain.History) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if err := s.store.Put(ctx, sessionKey, history); err != nil {
		e := newError(ErrorInternal, "history_write_error", err)
		logger.Warn("history write failed", "code", e.Code, "reason", e.Reason, "err", err)
	}
}

func (s *ReplyService) clear(ctx context.Context, logger *slog.Logger, sessionKey string) Reply {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if err := s.store.Delete(ctx, sessionKey); err != nil {
		e := newError(ErrorInternal, "history_clear_error", err)
		logger.Error("history clear failed", "code", e.Code, "reason", e.Reason, "err", err)
		return Reply{Text: FallbackText, Outcome: OutcomeFallback}
	}
	logger.Info("history cleared")
	return Reply{Text: ClearedText, Outcome: OutcomeCleared}
}
