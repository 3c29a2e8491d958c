package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"line-relay/internal/domain"
	"line-relay/internal/integrations/line"
	"line-relay/internal/logctx"
	"line-relay/internal/usecase"
)

const (
	correlationHeader    = "X-Correlation-Id"
	defaultMaxConcurrent = 8
	maxBodyBytes         = 1 << 20
)

// Relay runs one inbound message through the pipeline.
type Relay interface {
	HandleMessage(ctx context.Context, msg domain.InboundMessage) (usecase.RelayResult, error)
}

// Handler serves the LINE webhook, as a Lambda proxy integration or over
// plain HTTP.
type Handler struct {
	relay         Relay
	channelSecret string
	maxConcurrent int
}

type statusResponse struct {
	Status string `json:"status"`
	Events int    `json:"events"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Option func(*Handler)

// WithMaxConcurrentEvents bounds how many events of one request are handled
// at the same time.
func WithMaxConcurrentEvents(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxConcurrent = n
		}
	}
}

func NewHandler(relay Relay, channelSecret string, opts ...Option) (*Handler, error) {
	if relay == nil {
		return nil, errors.New("handler: relay must not be nil")
	}
	if strings.TrimSpace(channelSecret) == "" {
		return nil, errors.New("handler: channel secret must not be empty")
	}
	h := &Handler{relay: relay, channelSecret: channelSecret, maxConcurrent: defaultMaxConcurrent}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle is the API Gateway proxy entry point.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	if !strings.EqualFold(event.HTTPMethod, http.MethodPost) {
		return jsonResponse(http.StatusMethodNotAllowed, correlationID, errorResponse{Error: "method_not_allowed"}), nil
	}

	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return jsonResponse(http.StatusBadRequest, correlationID, errorResponse{Error: "invalid_body"}), nil
		}
		body = decoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/callback", bytes.NewReader(body))
	if err != nil {
		return jsonResponse(http.StatusInternalServerError, correlationID, errorResponse{Error: "internal_error"}), nil
	}
	for k, v := range event.Headers {
		req.Header.Set(k, v)
	}

	status, payload := h.callback(ctx, correlationID, req)
	return jsonResponse(status, correlationID, payload), nil
}

// Routes returns the HTTP surface: the webhook and a liveness probe.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /callback", h.serveCallback)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
	})
	return mux
}

func (h *Handler) serveCallback(w http.ResponseWriter, r *http.Request) {
	correlationID := r.Header.Get(correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	status, payload := h.callback(r.Context(), correlationID, r)
	w.Header().Set(correlationHeader, correlationID)
	writeJSON(w, status, payload)
}

// callback verifies the request, then relays every text event. Per-event
// failures are logged by the relay and do not change the status.
func (h *Handler) callback(ctx context.Context, correlationID string, r *http.Request) (int, any) {
	logger := logctx.From(ctx).With("correlation_id", correlationID)
	ctx = logctx.With(ctx, logger)

	msgs, err := line.ParseWebhook(ctx, h.channelSecret, r)
	if err != nil {
		if errors.Is(err, line.ErrInvalidSignature) {
			logger.Warn("webhook rejected", "reason", "invalid_signature")
			return http.StatusBadRequest, errorResponse{Error: "invalid_signature"}
		}
		logger.Warn("webhook rejected", "reason", "invalid_body", "err", err)
		return http.StatusBadRequest, errorResponse{Error: "invalid_body"}
	}

	var g errgroup.Group
	g.SetLimit(h.maxConcurrent)
	for _, msg := range msgs {
		g.Go(func() error {
			// Errors are already logged with their code by the relay.
			_, _ = h.relay.HandleMessage(ctx, msg)
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("webhook processed", "events", len(msgs))
	return http.StatusOK, statusResponse{Status: "ok", Events: len(msgs)}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func jsonResponse(status int, correlationID string, payload any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal response", "err", err)
		body = []byte(`{"error":"internal_error"}`)
		status = http.StatusInternalServerError
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(body),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
