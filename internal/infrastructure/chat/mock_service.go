package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ChatService posts a message to a chat gateway (WhatsApp and similar).
type ChatService interface {
	SendChat(ctx context.Context, to, text string) (messageID string, err error)
}

// ================================================
// MOCK CHAT SERVICE (for development)
// ================================================

type MockChatService struct{}

func NewMockChatService() *MockChatService {
	return &MockChatService{}
}

func (s *MockChatService) SendChat(ctx context.Context, to, text string) (string, error) {
	log.Info().
		Str("to", to).
		Str("text", text).
		Msg("[MOCK] Chat message sent successfully")

	return fmt.Sprintf("mock-chat-%s", uuid.NewString()), nil
}

// ================================================
// WEBHOOK CHAT SERVICE
// ================================================

// WebhookChatService posts {"to","text"} as JSON to a gateway URL and reads
// the message id from the "id" field of the response.
type WebhookChatService struct {
	url    string
	token  string
	client *http.Client
}

func NewWebhookChatService(url, token string) *WebhookChatService {
	return &WebhookChatService{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type chatRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type chatResponse struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

func (s *WebhookChatService) SendChat(ctx context.Context, to, text string) (string, error) {
	payload, err := json.Marshal(chatRequest{To: to, Text: text})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat gateway request: %w", err)
	}
	defer resp.Body.Close()

	var body chatResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode >= 300 {
		if body.Error == "" {
			body.Error = resp.Status
		}
		return "", fmt.Errorf("chat gateway rejected message: %s", body.Error)
	}
	return body.ID, nil
}
