package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"line-relay/internal/domain"
)

const firebaseTimeout = 10 * time.Second

// FirebaseStatusError is a non-2xx response from the Realtime Database.
type FirebaseStatusError struct {
	StatusCode int
	Method     string
	Body       string
}

func (e *FirebaseStatusError) Error() string {
	return fmt.Sprintf("repository: firebase %s returned status %d: %s", e.Method, e.StatusCode, e.Body)
}

func (e *FirebaseStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// FirebaseStore keeps histories in a Firebase Realtime Database through its
// REST API, one JSON array per session under /chat/{session}.
type FirebaseStore struct {
	baseURL    string
	auth       string
	httpClient *http.Client
}

type FirebaseOption func(*FirebaseStore)

// WithFirebaseAuth sets the database secret or ID token sent as ?auth=.
func WithFirebaseAuth(auth string) FirebaseOption {
	return func(s *FirebaseStore) {
		s.auth = strings.TrimSpace(auth)
	}
}

func WithFirebaseHTTPClient(c *http.Client) FirebaseOption {
	return func(s *FirebaseStore) {
		if c != nil {
			s.httpClient = c
		}
	}
}

func NewFirebaseStore(baseURL string, opts ...FirebaseOption) (*FirebaseStore, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("repository: firebase url must not be empty")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("repository: invalid firebase url: %w", err)
	}
	s := &FirebaseStore{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: firebaseTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *FirebaseStore) recordURL(sessionKey string) string {
	u := s.baseURL + "/chat/" + url.PathEscape(sessionKey) + ".json"
	if s.auth != "" {
		u += "?auth=" + url.QueryEscape(s.auth)
	}
	return u
}

func (s *FirebaseStore) Get(ctx context.Context, sessionKey string) (domain.History, bool, error) {
	raw, err := s.do(ctx, http.MethodGet, sessionKey, nil)
	if err != nil {
		return nil, false, fmt.Errorf("repository: Get: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false, nil
	}

	var turns []*domain.Turn
	if err := json.Unmarshal(raw, &turns); err != nil {
		return nil, false, fmt.Errorf("repository: Get decode: %w", err)
	}
	history := make(domain.History, 0, len(turns))
	for _, t := range turns {
		// Sparse arrays come back with null holes.
		if t != nil {
			history = append(history, *t)
		}
	}
	return history, true, nil
}

func (s *FirebaseStore) Put(ctx context.Context, sessionKey string, history domain.History) error {
	if history == nil {
		history = domain.History{}
	}
	body, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("repository: Put marshal: %w", err)
	}
	if _, err := s.do(ctx, http.MethodPut, sessionKey, body); err != nil {
		return fmt.Errorf("repository: Put: %w", err)
	}
	return nil
}

func (s *FirebaseStore) Delete(ctx context.Context, sessionKey string) error {
	if _, err := s.do(ctx, http.MethodDelete, sessionKey, nil); err != nil {
		return fmt.Errorf("repository: Delete: %w", err)
	}
	return nil
}

func (s *FirebaseStore) do(ctx context.Context, method, sessionKey string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.recordURL(sessionKey), reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &FirebaseStatusError{StatusCode: res.StatusCode, Method: method, Body: string(buf)}
	}
	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
