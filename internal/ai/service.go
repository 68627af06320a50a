// Package ai proxies chat questions to third-party text-completion backends.
package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"casper-chat/internal/apperrors"
	"casper-chat/internal/config"
	"casper-chat/internal/database"
	"casper-chat/internal/models"
	"casper-chat/internal/observability"
	"casper-chat/pkg/logger"
)

const (
	// Unavailable is the reply when every backend failed.
	Unavailable = "Sorry, CASPER AI is not responding right now."

	BackendNone    = "none"
	BackendSpecial = "special"

	defaultSessionID = "default"
	maxQuestionRunes = 2000
	maxBodyBytes     = 1 << 20
)

var tracer = otel.Tracer("casper-chat/ai")

type Reply struct {
	Text    string `json:"text"`
	Backend string `json:"backend"`
}

type Service struct {
	baseURL  string
	backends []config.AIBackend
	timeout  time.Duration
	client   *http.Client
	store    database.ConversationRepository
}

func NewService(cfg config.AIConfig, store database.ConversationRepository, client *http.Client) *Service {
	if client == nil {
		client = &http.Client{}
	}
	return &Service{
		baseURL:  cfg.BaseURL,
		backends: cfg.Backends,
		timeout:  cfg.Timeout,
		client:   client,
		store:    store,
	}
}

// Ask answers text. It never fails: when no backend produces an answer the
// reply is Unavailable with backend "none".
func (s *Service) Ask(ctx context.Context, text, preferred string) Reply {
	if answer, ok := SpecialAnswer(text); ok {
		return Reply{Text: answer, Backend: BackendSpecial}
	}

	for _, backend := range s.order(preferred) {
		answer, err := s.attempt(ctx, backend, text)
		if err == nil {
			return Reply{Text: answer, Backend: backend.Name}
		}
		logger.Warn("AI backend %s failed: %v", backend.Name, err)
	}

	logger.Error("All AI backends failed")
	return Reply{Text: Unavailable, Backend: BackendNone}
}

// order returns the configured backends with preferred moved to the front.
func (s *Service) order(preferred string) []config.AIBackend {
	ordered := make([]config.AIBackend, 0, len(s.backends))
	for _, b := range s.backends {
		if preferred != "" && strings.EqualFold(b.Name, preferred) {
			ordered = append(ordered, b)
		}
	}
	for _, b := range s.backends {
		if preferred == "" || !strings.EqualFold(b.Name, preferred) {
			ordered = append(ordered, b)
		}
	}
	return ordered
}

func (s *Service) attempt(ctx context.Context, backend config.AIBackend, text string) (answer string, err error) {
	ctx, span := tracer.Start(ctx, "ai.attempt", trace.WithAttributes(attribute.String("ai.backend", backend.Name)))
	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "failure"
			if errors.Is(err, context.DeadlineExceeded) {
				outcome = "timeout"
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.ObserveAIAttempt(backend.Name, outcome, time.Since(start))
		span.End()
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/%s?%s=%s", s.baseURL, url.PathEscape(backend.Name), url.QueryEscape(backend.QueryParam), url.QueryEscape(text))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}

	answer, ok := ExtractAnswer(body)
	if !ok {
		return "", fmt.Errorf("no answer in response body")
	}
	return answer, nil
}

// Chat asks on behalf of username and appends the exchange to the
// (username, sessionID) conversation.
func (s *Service) Chat(ctx context.Context, username, sessionID, text, preferred string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, apperrors.Validation("message is required")
	}
	if len([]rune(text)) > maxQuestionRunes {
		return Reply{}, apperrors.Validation("message must be at most %d characters", maxQuestionRunes)
	}
	if sessionID == "" {
		sessionID = defaultSessionID
	}

	asked := time.Now().UTC()
	reply := s.Ask(ctx, text, preferred)

	err := s.store.AppendTurns(ctx, username, sessionID,
		models.AITurn{Role: models.RoleUser, Text: text, CreatedAt: asked},
		models.AITurn{Role: models.RoleAI, Text: reply.Text, Backend: reply.Backend, CreatedAt: time.Now().UTC()},
	)
	if err != nil {
		return reply, apperrors.Store("append ai turns", err)
	}
	return reply, nil
}

func (s *Service) History(ctx context.Context, username, sessionID string) (*models.AIConversation, error) {
	if sessionID == "" {
		sessionID = defaultSessionID
	}
	conv, err := s.store.GetConversation(ctx, username, sessionID)
	if err != nil {
		return nil, apperrors.Store("get conversation", err)
	}
	return conv, nil
}

// Backends lists the configured backend names in fallback order.
func (s *Service) Backends() []string {
	names := make([]string, 0, len(s.backends))
	for _, b := range s.backends {
		names = append(names, b.Name)
	}
	return names
}
